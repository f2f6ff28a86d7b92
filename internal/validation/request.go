// Package validation provides request validation for the arbitrage ledger.
// It checks inbound arbitrage requests before any balance is touched.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/arbnet/arbnet/internal/messaging"
)

// RequestValidator validates inbound arbitrage requests
type RequestValidator struct {
	maxTimeSkew time.Duration
}

// NewRequestValidator creates a new request validator
func NewRequestValidator(maxTimeSkew time.Duration) *RequestValidator {
	return &RequestValidator{maxTimeSkew: maxTimeSkew}
}

// ValidateRequest checks every field of an arbitrage request. The fraction
// check comes last so its message reaches callers verbatim when everything
// else is well formed.
func (v *RequestValidator) ValidateRequest(req *messaging.ArbitrageRequest) error {
	if err := v.validateBasicFields(req); err != nil {
		return err
	}

	if err := v.validateTime(req); err != nil {
		return err
	}

	if req.Fraction < 0 || req.Fraction > 1 {
		return fmt.Errorf("Amount percentage must be between 0 and 1")
	}

	return nil
}

// validateBasicFields checks that all required fields are present and valid
func (v *RequestValidator) validateBasicFields(req *messaging.ArbitrageRequest) error {
	if req.MinerHotkey == "" {
		return fmt.Errorf("miner hotkey is required")
	}

	if req.Pair == "" {
		return fmt.Errorf("trading pair is required")
	}

	if !strings.Contains(req.Pair, "/") {
		return fmt.Errorf("trading pair must be of the form BASE/QUOTE")
	}

	if req.ExchangeFrom == "" {
		return fmt.Errorf("source exchange is required")
	}

	if req.ExchangeTo == "" {
		return fmt.Errorf("target exchange is required")
	}

	if req.ExchangeFrom == req.ExchangeTo {
		return fmt.Errorf("source and target exchange must differ")
	}

	return nil
}

// validateTime rejects requests submitted too far from the validator's clock.
// A zero timestamp passes: not every gateway stamps submissions.
func (v *RequestValidator) validateTime(req *messaging.ArbitrageRequest) error {
	if req.SubmittedAt.IsZero() || v.maxTimeSkew <= 0 {
		return nil
	}

	skew := time.Since(req.SubmittedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxTimeSkew {
		return fmt.Errorf("request timestamp outside allowed skew of %s", v.maxTimeSkew)
	}

	return nil
}
