// Package influx provides InfluxDB client and time-series operations for the
// validator. It records settlement outcomes, scan cycle results, and weight
// emissions for operational dashboards.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Arbitrage metrics

// WriteRequestMetric writes an arbitrage request outcome
func (c *Client) WriteRequestMetric(hotkey, pair string, statusCode int, amount float64) {
	tags := map[string]string{
		"hotkey": hotkey,
		"pair":   pair,
		"status": fmt.Sprintf("%d", statusCode),
	}

	fields := map[string]interface{}{
		"amount": amount,
		"count":  1,
	}

	point := write.NewPoint("requests", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteSettlementMetric writes a completed settlement
func (c *Client) WriteSettlementMetric(hotkey, pair string, amount, proceeds, profit float64) {
	tags := map[string]string{
		"hotkey": hotkey,
		"pair":   pair,
	}

	fields := map[string]interface{}{
		"amount":   amount,
		"proceeds": proceeds,
		"profit":   profit,
		"count":    1,
	}

	point := write.NewPoint("settlements", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteScanMetric writes a scan cycle summary
func (c *Client) WriteScanMetric(observations, candidates int, duration time.Duration) {
	fields := map[string]interface{}{
		"observations": observations,
		"candidates":   candidates,
		"duration_ms":  duration.Milliseconds(),
	}

	point := write.NewPoint("scans", map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteEmissionMetric writes a weight emission attempt
func (c *Client) WriteEmissionMetric(step int64, positions int, success bool) {
	tags := map[string]string{
		"success": fmt.Sprintf("%t", success),
	}

	fields := map[string]interface{}{
		"step":      step,
		"positions": positions,
		"count":     1,
	}

	point := write.NewPoint("emissions", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteRollupMetric writes a daily rollup summary
func (c *Client) WriteRollupMetric(snapshots, pruned int) {
	fields := map[string]interface{}{
		"snapshots": snapshots,
		"pruned":    pruned,
	}

	point := write.NewPoint("rollups", map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// Query methods

// GetSettlementProfitHistory retrieves aggregate settlement profit over a
// recent window, bucketed hourly.
func (c *Client) GetSettlementProfitHistory(ctx context.Context, duration time.Duration) ([]ProfitPoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "settlements")
		|> filter(fn: (r) => r._field == "profit")
		|> aggregateWindow(every: 1h, fn: sum, createEmpty: false)
		|> group()
	`, c.bucket, duration.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []ProfitPoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, ProfitPoint{
				Time:   record.Time(),
				Profit: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// ProfitPoint represents aggregate settlement profit at a point in time
type ProfitPoint struct {
	Time   time.Time `json:"time"`
	Profit float64   `json:"profit"`
}
