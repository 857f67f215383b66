// Package integrity turns pre-reduced behavioural signals into a bounded
// human-probability score and a difficulty multiplier. Scoring is pure: the
// same signals and parameters always produce the same result.
package integrity

import (
	"fmt"

	"finova/core/fixed"
	"finova/core/params"
	"finova/core/types"
)

// ErrSignalOutOfRange is returned when a sub-score lies outside [0, 1].
var ErrSignalOutOfRange = fmt.Errorf("integrity: %w: signal outside [0, 1]", types.ErrInvalidInput)

// smoothingNew is the weight given to the latest observation when a previous
// score is available.
var smoothingNew = fixed.FromBps(7_000)

// AccountSignals are long-lived properties of the account.
type AccountSignals struct {
	DeviceConsistency   fixed.Ratio `json:"deviceConsistency"`
	SocialGraphValidity fixed.Ratio `json:"socialGraphValidity"`
	LifetimeRewards     fixed.Micro `json:"lifetimeRewards"`
	// PreviousScore is the last published human probability, zero when none.
	PreviousScore fixed.Ratio `json:"previousScore"`
}

// BehaviorSignals describe the session that produced the activity.
type BehaviorSignals struct {
	TimingNaturalness fixed.Ratio `json:"timingNaturalness"`
	ContentUniqueness fixed.Ratio `json:"contentUniqueness"`
	Suspicion         fixed.Ratio `json:"suspicion"`
}

// Result is the scorer output consumed by the reward coordinator.
type Result struct {
	HumanProbability fixed.Ratio `json:"humanProbability"`
	Difficulty       fixed.Ratio `json:"difficulty"`
	// Rejected marks a human probability below the configured floor. It is an
	// outcome, not an error: callers decide between zeroing and review.
	Rejected bool `json:"rejected"`
}

// Scorer evaluates signals against one integrity configuration.
type Scorer struct {
	cfg params.Integrity
}

// NewScorer validates the weights and returns a scorer.
func NewScorer(cfg params.Integrity) (*Scorer, error) {
	if cfg.Weights.Sum() != fixed.BpsDenominator {
		return nil, fmt.Errorf("integrity: weights must sum to %d", fixed.BpsDenominator)
	}
	if cfg.LifetimeDivisor == 0 {
		return nil, fmt.Errorf("integrity: lifetime divisor must be positive")
	}
	return &Scorer{cfg: cfg}, nil
}

// Score combines the weighted sub-scores, clamps the result to
// [MinScore, 1] and derives the difficulty multiplier.
func (s *Scorer) Score(account AccountSignals, behavior BehaviorSignals) (Result, error) {
	signals := []struct {
		name  string
		value fixed.Ratio
	}{
		{"device", account.DeviceConsistency},
		{"social", account.SocialGraphValidity},
		{"previous", account.PreviousScore},
		{"timing", behavior.TimingNaturalness},
		{"content", behavior.ContentUniqueness},
		{"suspicion", behavior.Suspicion},
	}
	for _, signal := range signals {
		if signal.value > fixed.One {
			return Result{}, fmt.Errorf("%w: %s=%s", ErrSignalOutOfRange, signal.name, signal.value)
		}
	}

	w := s.cfg.Weights
	human := fixed.Mul(account.DeviceConsistency, fixed.FromBps(uint64(w.Device)))
	human = fixed.Add(human, fixed.Mul(behavior.TimingNaturalness, fixed.FromBps(uint64(w.Timing))))
	human = fixed.Add(human, fixed.Mul(account.SocialGraphValidity, fixed.FromBps(uint64(w.Social))))
	human = fixed.Add(human, fixed.Mul(behavior.ContentUniqueness, fixed.FromBps(uint64(w.Content))))
	if account.PreviousScore > 0 {
		human = Smooth(account.PreviousScore, human)
	}
	human = fixed.Clamp(human, s.cfg.MinScore, fixed.One)

	return Result{
		HumanProbability: human,
		Difficulty:       s.difficulty(account.LifetimeRewards, behavior.Suspicion),
		Rejected:         human < s.cfg.Floor,
	}, nil
}

// difficulty = 1 + lifetime/divisor + suspicion*weight.
func (s *Scorer) difficulty(lifetime fixed.Micro, suspicion fixed.Ratio) fixed.Ratio {
	growth := fixed.FromFraction(uint64(lifetime), uint64(s.cfg.LifetimeDivisor))
	return fixed.Add(fixed.Add(fixed.One, growth), fixed.Mul(suspicion, s.cfg.SuspicionWeight))
}

// Smooth blends a new observation with the previous score, weighting the new
// value at 70%.
func Smooth(previous, current fixed.Ratio) fixed.Ratio {
	return fixed.Add(fixed.Mul(current, smoothingNew), fixed.Mul(previous, fixed.Sub(fixed.One, smoothingNew)))
}
