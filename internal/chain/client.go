// Package chain talks to the external peer registry: reading the
// position-indexed key list, filtering weights through consensus constraints,
// and submitting the final weight vector.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arbnet/arbnet/pkg/errors"
	"github.com/arbnet/arbnet/pkg/log"
	"github.com/arbnet/arbnet/pkg/retry"
)

// Client is the external registry collaborator. Transport, retry policy, and
// finality live behind this interface; callers only construct payloads.
type Client interface {
	// Registry returns the position-indexed peer key list.
	Registry(ctx context.Context) ([]string, error)

	// ProcessWeights applies the network's constraint filter to raw weights
	// and returns the surviving (position, weight) pairs.
	ProcessWeights(ctx context.Context, positions []int, raw []float64) ([]int, []float64, error)

	// SubmitWeights submits quantized weights for the given positions.
	SubmitWeights(ctx context.Context, positions []int, weights []uint16) error
}

// HTTPClient is a minimal JSON implementation of Client.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	retryConfig *retry.Config
	logger      *log.Logger
}

// NewHTTPClient creates a registry client against the given endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *log.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: timeout},
		retryConfig: retry.ChainConfig(),
		logger:      logger.WithComponent("chain"),
	}
}

type registryResponse struct {
	Hotkeys []string `json:"hotkeys"`
}

// Registry implements Client.
func (c *HTTPClient) Registry(ctx context.Context) ([]string, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]string, error) {
		var resp registryResponse
		if err := c.getJSON(ctx, c.endpoint+"/registry", &resp); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeChain, "registry",
				"failed to fetch registry")
		}
		return resp.Hotkeys, nil
	})
}

type processWeightsRequest struct {
	Positions []int     `json:"positions"`
	Weights   []float64 `json:"weights"`
}

type processWeightsResponse struct {
	Positions []int     `json:"positions"`
	Weights   []float64 `json:"weights"`
}

// ProcessWeights implements Client.
func (c *HTTPClient) ProcessWeights(ctx context.Context, positions []int, raw []float64) ([]int, []float64, error) {
	req := processWeightsRequest{Positions: positions, Weights: raw}

	var resp processWeightsResponse
	if err := c.postJSON(ctx, c.endpoint+"/weights/process", req, &resp); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeChain, "process_weights",
			"failed to apply weight constraints")
	}

	return resp.Positions, resp.Weights, nil
}

type submitWeightsRequest struct {
	Positions []int    `json:"positions"`
	Weights   []uint16 `json:"weights"`
}

// SubmitWeights implements Client.
func (c *HTTPClient) SubmitWeights(ctx context.Context, positions []int, weights []uint16) error {
	req := submitWeightsRequest{Positions: positions, Weights: weights}

	return retry.Do(ctx, c.retryConfig, func() error {
		if err := c.postJSON(ctx, c.endpoint+"/weights", req, nil); err != nil {
			return errors.Wrap(err, errors.ErrorTypeEmission, "submit_weights",
				"failed to submit weights")
		}
		return nil
	})
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req, dest)
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, dest)
}

func (c *HTTPClient) do(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
