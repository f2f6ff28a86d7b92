package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"SERVICE_NAME":     "test-service",
				"INITIAL_BALANCE":  "5000",
				"SETTLEMENT_DELAY": "30s",
				"KAFKA_BROKERS":    "k1:9092,k2:9092",
			},
			wantErr: false,
		},
		{
			name: "invalid alpha",
			envVars: map[string]string{
				"MOVING_AVERAGE_ALPHA": "1.5",
			},
			wantErr: true,
		},
		{
			name: "negative balance",
			envVars: map[string]string{
				"INITIAL_BALANCE": "-100",
			},
			wantErr: true,
		},
		{
			name: "invalid default fee",
			envVars: map[string]string{
				"DEFAULT_MAKER_FEE": "1.0",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set environment variables
			for key, value := range tt.envVars {
				if err := os.Setenv(key, value); err != nil {
					t.Fatalf("failed to set environment variable %s: %v", key, err)
				}
			}
			defer func() {
				// Clean up environment variables
				for key := range tt.envVars {
					if err := os.Unsetenv(key); err != nil {
						t.Logf("failed to unset environment variable %s: %v", key, err)
					}
				}
			}()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cfg.ServiceName == "" {
					t.Error("ServiceName should not be empty")
				}
				if cfg.InitialBalance <= 0 {
					t.Error("InitialBalance should be positive")
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.InitialBalance != 10000 {
		t.Errorf("InitialBalance = %v, want 10000", cfg.InitialBalance)
	}
	if cfg.SettlementDelay != 300*time.Second {
		t.Errorf("SettlementDelay = %v, want 300s", cfg.SettlementDelay)
	}
	if cfg.InactivityWindow != 7*24*time.Hour {
		t.Errorf("InactivityWindow = %v, want 168h", cfg.InactivityWindow)
	}
	if cfg.SnapshotWindow != 7 {
		t.Errorf("SnapshotWindow = %v, want 7", cfg.SnapshotWindow)
	}
	if cfg.DefaultMakerFee != 0.002 {
		t.Errorf("DefaultMakerFee = %v, want 0.002", cfg.DefaultMakerFee)
	}
	if cfg.ExchangeCap != 15 {
		t.Errorf("ExchangeCap = %v, want 15", cfg.ExchangeCap)
	}
}

func TestGetEnvSlice(t *testing.T) {
	if err := os.Setenv("TEST_SLICE", "a:1, b:2 ,c:3"); err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Unsetenv("TEST_SLICE")
	}()

	got := getEnvSlice("TEST_SLICE", nil)
	want := []string{"a:1", "b:2", "c:3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := &Config{
		ServiceName:        "test",
		InitialBalance:     10000,
		MovingAverageAlpha: 0.1,
		SnapshotWindow:     7,
		ExchangeCap:        15,
		WorkerPoolSize:     4,
		DefaultMakerFee:    0.002,
		SettlementDelay:    300 * time.Second,
	}

	if err := cfg.validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.WorkerPoolSize = 0
	if err := cfg.validate(); err == nil {
		t.Error("zero worker pool size accepted")
	}
}
