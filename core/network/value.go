package network

import (
	"time"

	"finova/core/fixed"
	"finova/core/params"
)

const day = 24 * time.Hour

// Status classifies a referral by recency of activity.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusChurned  Status = "churned"
)

// StatusOf classifies a member last active at lastActive as of asOf. Members
// that never acted count from their join time.
func StatusOf(cfg params.Network, asOf, joined, lastActive time.Time) Status {
	ref := lastActive
	if ref.IsZero() {
		ref = joined
	}
	idle := asOf.Sub(ref)
	switch {
	case idle <= cfg.ActiveWindow:
		return StatusActive
	case idle <= cfg.ChurnWindow:
		return StatusInactive
	default:
		return StatusChurned
	}
}

// TimeDecay = max(floor, exp(-days_since_join / horizon)).
func TimeDecay(cfg params.Network, asOf, joined time.Time) fixed.Ratio {
	var days uint64
	if age := asOf.Sub(joined); age > 0 {
		days = uint64(age / day)
	}
	decay := fixed.ExpNeg(fixed.FromFraction(days, cfg.DecayHorizonDays))
	return fixed.Max(cfg.DecayFloor, decay)
}

// DepthFactor returns the dampening applied to activity at a referral depth
// before time decay. Depth 1 is undampened.
func DepthFactor(cfg params.Network, depth int) fixed.Ratio {
	switch depth {
	case 1:
		return fixed.One
	case 2:
		return cfg.Level2Factor
	case 3:
		return cfg.Level3Factor
	default:
		return 0
	}
}

// Referral is one member of an account's network as seen from that account.
type Referral struct {
	Depth        int
	Activity     uint64
	Level        uint32
	JoinedAt     time.Time
	LastActiveAt time.Time
}

// Valuation is the full derivation of a network value.
type Valuation struct {
	Direct       fixed.Ratio
	Indirect     fixed.Ratio
	Size         uint32
	DirectCount  uint32
	DirectActive uint32
	ActiveCount  uint32
	Quality      fixed.Ratio
	Bonus        fixed.Ratio
	Regression   fixed.Ratio
	Value        uint64
}

// Evaluate computes the network value of an account from its members up to
// the maximum referral depth:
//
//	direct   = Σ depth-1 activity × time decay
//	indirect = Σ depth-2 activity × L2 + Σ depth-3 activity × L3
//	value    = (direct + indirect) × quality bonus × regression
func Evaluate(cfg params.Network, asOf time.Time, members []Referral) Valuation {
	var (
		v          Valuation
		l2, l3     uint64
		levelTotal uint64
	)
	for _, m := range members {
		switch m.Depth {
		case 1:
			v.DirectCount++
			v.Direct = fixed.Add(v.Direct, fixed.Mul(fixed.FromInt(m.Activity), TimeDecay(cfg, asOf, m.JoinedAt)))
		case 2:
			l2 += m.Activity
		case 3:
			l3 += m.Activity
		default:
			continue
		}
		v.Size++
		levelTotal += uint64(m.Level)
		if StatusOf(cfg, asOf, m.JoinedAt, m.LastActiveAt) == StatusActive {
			v.ActiveCount++
			if m.Depth == 1 {
				v.DirectActive++
			}
		}
	}
	v.Indirect = fixed.Add(
		fixed.Mul(fixed.FromInt(l2), cfg.Level2Factor),
		fixed.Mul(fixed.FromInt(l3), cfg.Level3Factor),
	)

	retention := fixed.One
	var levelScore, activeRatio, retained fixed.Ratio
	if v.Size > 0 {
		retained = fixed.FromFraction(uint64(v.ActiveCount), uint64(v.Size))
		retention = retained
		levelScore = fixed.FromFraction(levelTotal, uint64(v.Size)*100)
	}
	if v.DirectCount > 0 {
		activeRatio = fixed.FromFraction(uint64(v.DirectActive), uint64(v.DirectCount))
	}

	diversity := fixed.Min(cfg.DiversityCap, fixed.Add(fixed.One, fixed.Log10(fixed.FromInt(uint64(v.Size)+1))))
	levelFactor := fixed.Add(fixed.One, levelScore)
	v.Bonus = fixed.Mul(fixed.Mul(diversity, levelFactor), retention)

	v.Quality = fixed.Add(
		fixed.Add(fixed.Mul(activeRatio, fixed.FromBps(4_000)), fixed.Mul(retained, fixed.FromBps(4_000))),
		fixed.Mul(fixed.Min(levelScore, fixed.One), fixed.FromBps(2_000)),
	)
	exponent := fixed.Mul(fixed.Mul(cfg.RegressionR, fixed.FromInt(uint64(v.Size))), v.Quality)
	v.Regression = fixed.Max(cfg.RegressionFloor, fixed.ExpNeg(exponent))

	summed := fixed.Add(v.Direct, v.Indirect)
	v.Value = fixed.Mul(fixed.Mul(summed, v.Bonus), v.Regression).Floor()
	return v
}
