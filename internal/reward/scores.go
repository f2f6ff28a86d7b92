package reward

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/arbnet/arbnet/pkg/errors"
	"github.com/arbnet/arbnet/pkg/log"
)

// Scores is the moving-average score vector, position-aligned with the
// registry. It persists atomically across restarts together with the key list
// it was aligned to and a step counter.
type Scores struct {
	mu      sync.Mutex
	values  []float64
	hotkeys []string
	step    uint64
	alpha   float64
	path    string
	logger  *log.Logger
}

type scoreState struct {
	Step    uint64    `json:"step"`
	Scores  []float64 `json:"scores"`
	Hotkeys []string  `json:"hotkeys"`
}

// NewScores creates an empty score vector persisted at path.
func NewScores(alpha float64, path string, logger *log.Logger) *Scores {
	return &Scores{
		alpha:  alpha,
		path:   path,
		logger: logger.WithComponent("scores"),
	}
}

// Update folds a reward batch into the vector: rewards scatter to their
// registry positions, then the whole vector moves toward the scattered values
// by the moving-average factor. NaN rewards count as zero. An empty batch is a
// no-op and applies no decay.
func (s *Scores) Update(rewards []float64, positions []int) error {
	if len(rewards) == 0 || len(positions) == 0 {
		s.logger.Warn("empty reward batch, scores unchanged")
		return nil
	}
	if len(rewards) != len(positions) {
		return errors.New(errors.ErrorTypeAggregation, "update_scores",
			"rewards and positions length mismatch").
			WithContext("rewards", len(rewards)).
			WithContext("positions", len(positions))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scattered := make([]float64, len(s.values))
	for i, pos := range positions {
		if pos < 0 || pos >= len(s.values) {
			return errors.New(errors.ErrorTypeAggregation, "update_scores",
				"reward position outside score vector").
				WithContext("position", pos).
				WithContext("size", len(s.values))
		}

		reward := rewards[i]
		if math.IsNaN(reward) {
			s.logger.Warn("NaN reward, treating as zero", "position", pos)
			reward = 0
		}
		scattered[pos] = reward
	}

	for i := range s.values {
		s.values[i] = s.alpha*scattered[i] + (1-s.alpha)*s.values[i]
	}
	s.step++

	s.logger.Debug("scores updated", "step", s.step, "rewards", len(rewards))
	return nil
}

// Resync realigns the vector with a fresh registry snapshot: positions whose
// occupant key changed reset to zero, and the vector grows with zeros when the
// registry grew. Surviving keys keep their scores by position.
func (s *Scores) Resync(registryKeys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pos := 0; pos < len(s.hotkeys) && pos < len(registryKeys); pos++ {
		if s.hotkeys[pos] != registryKeys[pos] {
			s.values[pos] = 0
		}
	}

	if len(registryKeys) != len(s.values) {
		resized := make([]float64, len(registryKeys))
		copy(resized, s.values)
		s.values = resized
	}

	s.hotkeys = append([]string(nil), registryKeys...)
}

// Snapshot returns a copy of the vector and the current step.
func (s *Scores) Snapshot() ([]float64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := append([]float64(nil), s.values...)
	return values, s.step
}

// Save writes the state atomically via a temp file and rename.
func (s *Scores) Save() error {
	s.mu.Lock()
	state := scoreState{
		Step:    s.step,
		Scores:  append([]float64(nil), s.values...),
		Hotkeys: append([]string(nil), s.hotkeys...),
	}
	s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "save_scores",
			"failed to marshal score state")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "save_scores",
			"failed to create temp state file")
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "save_scores",
			"failed to write state file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "save_scores",
			"failed to close state file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "save_scores",
			"failed to replace state file")
	}

	s.logger.Info("score state saved", "path", s.path, "step", state.Step)
	return nil
}

// Load reads persisted state. A missing or corrupt file starts from zero
// rather than failing: the vector rebuilds from live snapshots over time.
func (s *Scores) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warn("failed to read score state, starting fresh")
		}
		return
	}

	var state scoreState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.WithError(err).Warn("corrupt score state, starting fresh", "path", s.path)
		return
	}
	if len(state.Scores) != len(state.Hotkeys) {
		s.logger.Warn("inconsistent score state, starting fresh",
			"scores", len(state.Scores), "hotkeys", len(state.Hotkeys))
		return
	}

	s.mu.Lock()
	s.step = state.Step
	s.values = state.Scores
	s.hotkeys = state.Hotkeys
	s.mu.Unlock()

	s.logger.Info("score state loaded", "path", s.path, "step", state.Step, "size", len(state.Scores))
}
