// Package weights converts the score vector into the quantized weight vector
// submitted to the chain each epoch.
package weights

import (
	"context"
	"math"

	"github.com/arbnet/arbnet/internal/chain"
	"github.com/arbnet/arbnet/internal/database/influx"
	"github.com/arbnet/arbnet/pkg/errors"
	"github.com/arbnet/arbnet/pkg/log"
)

// maxWeight is the fixed-point ceiling for quantized weights.
const maxWeight = math.MaxUint16

// ScoreSource provides the current score vector and step counter.
type ScoreSource interface {
	Snapshot() ([]float64, uint64)
}

// Emitter normalizes, filters, quantizes, and submits weights
type Emitter struct {
	chain  chain.Client
	scores ScoreSource
	influx *influx.Client
	logger *log.Logger
}

// NewEmitter creates a weight emitter.
func NewEmitter(chainClient chain.Client, scores ScoreSource, influxClient *influx.Client, logger *log.Logger) *Emitter {
	return &Emitter{
		chain:  chainClient,
		scores: scores,
		influx: influxClient,
		logger: logger.WithComponent("weights"),
	}
}

// Emit runs one emission cycle. Failures are reported but never fatal: the
// next epoch retries with fresh scores.
func (e *Emitter) Emit(ctx context.Context) error {
	values, step := e.scores.Snapshot()
	if len(values) == 0 {
		e.logger.Warn("empty score vector, skipping emission")
		return nil
	}

	raw := Normalize(values, e.logger)

	positions := make([]int, len(raw))
	for i := range positions {
		positions[i] = i
	}

	procPositions, procWeights, err := e.chain.ProcessWeights(ctx, positions, raw)
	if err != nil {
		e.recordEmission(step, 0, false)
		return errors.Wrap(err, errors.ErrorTypeEmission, "emit_weights",
			"constraint filter failed")
	}

	quantPositions, quantWeights := Quantize(procPositions, procWeights)
	if len(quantPositions) == 0 {
		e.logger.Warn("all weights quantized to zero, skipping submission", "step", step)
		return nil
	}

	if err := e.chain.SubmitWeights(ctx, quantPositions, quantWeights); err != nil {
		e.recordEmission(step, len(quantPositions), false)
		return errors.Wrap(err, errors.ErrorTypeEmission, "emit_weights",
			"weight submission failed")
	}

	e.recordEmission(step, len(quantPositions), true)
	return nil
}

func (e *Emitter) recordEmission(step uint64, positions int, success bool) {
	e.logger.LogWeightEmission(positions, step, success)
	if e.influx != nil {
		e.influx.WriteEmissionMetric(int64(step), positions, success)
	}
}

// Normalize L1-normalizes the score vector. NaN entries draw a warning and a
// zero or NaN norm is substituted with one, so an all-zero vector normalizes
// to all zeros instead of dividing by zero.
func Normalize(values []float64, logger *log.Logger) []float64 {
	scores := append([]float64(nil), values...)

	for i, v := range scores {
		if math.IsNaN(v) {
			logger.Warn("NaN score entry", "position", i)
			scores[i] = 0
		}
	}

	var norm float64
	for _, v := range scores {
		norm += math.Abs(v)
	}

	if norm == 0 || math.IsNaN(norm) {
		norm = 1
	}

	for i := range scores {
		scores[i] /= norm
	}

	return scores
}

// Quantize converts float weights to uint16 fixed-point scaled against the
// largest weight, preserving relative order and dropping zero entries.
func Quantize(positions []int, weights []float64) ([]int, []uint16) {
	var maxW float64
	for _, w := range weights {
		if w > maxW {
			maxW = w
		}
	}
	if maxW <= 0 {
		return nil, nil
	}

	outPositions := make([]int, 0, len(weights))
	outWeights := make([]uint16, 0, len(weights))
	for i, w := range weights {
		q := uint16(math.Round(w / maxW * maxWeight))
		if q == 0 {
			continue
		}
		outPositions = append(outPositions, positions[i])
		outWeights = append(outWeights, q)
	}

	return outPositions, outWeights
}
