package integrity

import (
	"fmt"
	"math"

	"finova/core/fixed"
	"finova/core/types"
)

// Model is an opaque scoring capability, typically a machine-learning
// classifier hosted elsewhere. The engine never inspects how it scores.
type Model[In any] interface {
	Score(In) float64
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc[In any] func(In) float64

// Score implements Model.
func (f ModelFunc[In]) Score(in In) float64 { return f(in) }

// Bound evaluates m and converts its output into a Ratio clamped to [lo, hi].
// Non-finite outputs are rejected as invalid input.
func Bound[In any](m Model[In], in In, lo, hi fixed.Ratio) (fixed.Ratio, error) {
	if m == nil {
		return 0, types.InvalidInputf("integrity: nil model")
	}
	if lo > hi {
		return 0, fmt.Errorf("integrity: bound %s exceeds %s", lo, hi)
	}
	raw := m.Score(in)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, types.InvalidInputf("integrity: model produced %v", raw)
	}
	if raw <= 0 {
		return lo, nil
	}
	value, err := fixed.FromFloat(raw)
	if err != nil {
		return 0, types.InvalidInputf("integrity: %v", err)
	}
	return fixed.Clamp(value, lo, hi), nil
}

// EngagementQuality is the fallback content-quality model for events that
// arrive without an external score. Events with no engagement score a
// neutral 1.0; weighted engagement (likes, comments x2, shares x3) lifts the
// score logarithmically, reaching 2.0 at ten thousand weighted interactions.
var EngagementQuality Model[types.ActivityEvent] = ModelFunc[types.ActivityEvent](func(e types.ActivityEvent) float64 {
	weighted := float64(e.Engagement.Likes) + 2*float64(e.Engagement.Comments) + 3*float64(e.Engagement.Shares)
	return 1 + math.Log10(1+weighted)/4
})

// EventQuality resolves the quality score of e: the supplied score when
// present, otherwise m's score bounded to the accepted quality range.
func EventQuality(m Model[types.ActivityEvent], e types.ActivityEvent) (fixed.Ratio, error) {
	if e.Quality != 0 {
		return e.Quality, nil
	}
	return Bound(m, e, types.MinQuality, types.MaxQuality)
}
