// Package params defines the explicit, versioned parameter snapshot every
// reward computation is evaluated against. A snapshot is refreshed once per
// epoch and never mutated in place.
package params

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"finova/core/fixed"
	"finova/core/types"
)

// PhaseID names a network lifecycle stage.
type PhaseID string

const (
	PhaseFinizen   PhaseID = "finizen"
	PhaseGrowth    PhaseID = "growth"
	PhaseMaturity  PhaseID = "maturity"
	PhaseStability PhaseID = "stability"
)

// ErrUnknownPhase is returned when a phase is not present in the table.
var ErrUnknownPhase = fmt.Errorf("params: %w: unknown phase", types.ErrInvalidInput)

// Phase holds the base mining parameters of a lifecycle stage.
type Phase struct {
	ID           PhaseID     `json:"id"`
	MinUsers     uint64      `json:"minUsers"`
	BaseRate     fixed.Micro `json:"baseRate"`
	BonusCeiling fixed.Ratio `json:"bonusCeiling"`
	MaxDaily     fixed.Micro `json:"maxDaily"`
}

// MaxHourly is the largest hourly rate compatible with the daily cap.
func (p Phase) MaxHourly() fixed.Micro {
	return p.MaxDaily / 24
}

// Mining configures the anti-whale rate model.
type Mining struct {
	RegressionK    fixed.Ratio   `json:"regressionK"`
	ReferralStep   fixed.Ratio   `json:"referralStep"`
	ReferralCap    fixed.Ratio   `json:"referralCap"`
	KYCBonus       fixed.Ratio   `json:"kycBonus"`
	NonKYCBonus    fixed.Ratio   `json:"nonKycBonus"`
	PioneerDivisor uint64        `json:"pioneerDivisor"`
	ActiveWindow   time.Duration `json:"activeWindow"`
}

// Progression configures XP growth.
type Progression struct {
	StreakStep fixed.Ratio `json:"streakStep"`
	MaxStreak  fixed.Ratio `json:"maxStreak"`
	LevelDecay fixed.Ratio `json:"levelDecay"`
}

// Network configures referral-network valuation.
type Network struct {
	Level2Factor     fixed.Ratio   `json:"level2Factor"`
	Level3Factor     fixed.Ratio   `json:"level3Factor"`
	DecayFloor       fixed.Ratio   `json:"decayFloor"`
	DecayHorizonDays uint64        `json:"decayHorizonDays"`
	RegressionR      fixed.Ratio   `json:"regressionR"`
	RegressionFloor  fixed.Ratio   `json:"regressionFloor"`
	DiversityCap     fixed.Ratio   `json:"diversityCap"`
	ActiveWindow     time.Duration `json:"activeWindow"`
	ChurnWindow      time.Duration `json:"churnWindow"`
}

// Reward configures the coordinator.
type Reward struct {
	PenaltyWeight fixed.Ratio   `json:"penaltyWeight"`
	Cooldown      time.Duration `json:"cooldown"`
	CycleLength   time.Duration `json:"cycleLength"`
	ActivityShare fixed.Ratio   `json:"activityShare"`
}

// IntegrityWeights are basis point weights that must sum to 10_000.
type IntegrityWeights struct {
	Device  uint32 `json:"device"`
	Timing  uint32 `json:"timing"`
	Social  uint32 `json:"social"`
	Content uint32 `json:"content"`
}

// Sum returns the total weight.
func (w IntegrityWeights) Sum() uint64 {
	return uint64(w.Device) + uint64(w.Timing) + uint64(w.Social) + uint64(w.Content)
}

// Integrity configures the behavioural scorer.
type Integrity struct {
	Floor           fixed.Ratio      `json:"floor"`
	MinScore        fixed.Ratio      `json:"minScore"`
	Weights         IntegrityWeights `json:"weights"`
	LifetimeDivisor fixed.Micro      `json:"lifetimeDivisor"`
	SuspicionWeight fixed.Ratio      `json:"suspicionWeight"`
}

// NetworkParameters is the complete input context shared by all engines for
// one epoch.
type NetworkParameters struct {
	Version     uint64      `json:"version"`
	Epoch       uint64      `json:"epoch"`
	TotalUsers  uint64      `json:"totalUsers"`
	Phase       PhaseID     `json:"phase"`
	Phases      []Phase     `json:"phases"`
	Mining      Mining      `json:"mining"`
	Progression Progression `json:"progression"`
	Network     Network     `json:"network"`
	Reward      Reward      `json:"reward"`
	Integrity   Integrity   `json:"integrity"`
}

// AsOf returns the reference instant used for time decay.
func (p *NetworkParameters) AsOf() time.Time {
	return types.EpochStart(p.Epoch)
}

// Lookup returns the phase with the given identifier.
func (p *NetworkParameters) Lookup(id PhaseID) (Phase, error) {
	for _, phase := range p.Phases {
		if phase.ID == id {
			return phase, nil
		}
	}
	return Phase{}, fmt.Errorf("%w %q", ErrUnknownPhase, id)
}

// Active returns the phase currently in force.
func (p *NetworkParameters) Active() (Phase, error) {
	return p.Lookup(p.Phase)
}

// PhaseFor returns the phase whose user threshold covers users. Phases must be
// sorted ascending by MinUsers, which Validate enforces.
func (p *NetworkParameters) PhaseFor(users uint64) (Phase, error) {
	idx := sort.Search(len(p.Phases), func(i int) bool {
		return p.Phases[i].MinUsers > users
	})
	if idx == 0 {
		return Phase{}, fmt.Errorf("%w for %d users", ErrUnknownPhase, users)
	}
	return p.Phases[idx-1], nil
}

// Advance produces the snapshot for the next epoch. The phase follows the user
// count and the version is bumped so cached results keyed on it expire.
func (p *NetworkParameters) Advance(epoch, totalUsers uint64) (*NetworkParameters, error) {
	if epoch < p.Epoch {
		return nil, fmt.Errorf("params: epoch %d precedes current %d", epoch, p.Epoch)
	}
	phase, err := p.PhaseFor(totalUsers)
	if err != nil {
		return nil, err
	}
	next := p.Clone()
	next.Version = p.Version + 1
	next.Epoch = epoch
	next.TotalUsers = totalUsers
	next.Phase = phase.ID
	return next, nil
}

// Clone returns a deep copy of the parameters.
func (p *NetworkParameters) Clone() *NetworkParameters {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Phases = append([]Phase(nil), p.Phases...)
	return &clone
}

// Validate ensures the parameter set is internally consistent.
func (p *NetworkParameters) Validate() error {
	if p == nil {
		return errors.New("params: nil parameters")
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("params: at least one phase required")
	}
	if p.Phases[0].MinUsers != 0 {
		return fmt.Errorf("params: first phase must start at zero users")
	}
	seen := make(map[PhaseID]struct{}, len(p.Phases))
	for i, phase := range p.Phases {
		if phase.ID == "" {
			return fmt.Errorf("params: phase %d missing id", i)
		}
		if _, dup := seen[phase.ID]; dup {
			return fmt.Errorf("params: duplicate phase %q", phase.ID)
		}
		seen[phase.ID] = struct{}{}
		if i > 0 && phase.MinUsers <= p.Phases[i-1].MinUsers {
			return fmt.Errorf("params: phase %q threshold must exceed %q", phase.ID, p.Phases[i-1].ID)
		}
		if phase.BaseRate == 0 {
			return fmt.Errorf("params: phase %q base rate must be positive", phase.ID)
		}
		if phase.BonusCeiling < fixed.One {
			return fmt.Errorf("params: phase %q bonus ceiling must be at least 1", phase.ID)
		}
		if phase.MaxDaily < 24 {
			return fmt.Errorf("params: phase %q max daily too small", phase.ID)
		}
	}
	if _, err := p.Active(); err != nil {
		return err
	}
	if err := p.Mining.validate(); err != nil {
		return err
	}
	if err := p.Progression.validate(); err != nil {
		return err
	}
	if err := p.Network.validate(); err != nil {
		return err
	}
	if err := p.Reward.validate(); err != nil {
		return err
	}
	return p.Integrity.validate()
}

func (m Mining) validate() error {
	if m.ReferralCap < fixed.One {
		return fmt.Errorf("params: referral cap must be at least 1")
	}
	if m.KYCBonus == 0 || m.NonKYCBonus == 0 {
		return fmt.Errorf("params: security bonuses must be positive")
	}
	if m.PioneerDivisor == 0 {
		return fmt.Errorf("params: pioneer divisor must be positive")
	}
	if m.ActiveWindow <= 0 {
		return fmt.Errorf("params: mining active window must be positive")
	}
	return nil
}

func (p Progression) validate() error {
	if p.MaxStreak < fixed.One {
		return fmt.Errorf("params: max streak must be at least 1")
	}
	return nil
}

func (n Network) validate() error {
	if n.Level2Factor > fixed.One || n.Level3Factor > n.Level2Factor {
		return fmt.Errorf("params: indirect factors must attenuate with depth")
	}
	if n.DecayFloor == 0 || n.DecayFloor > fixed.One {
		return fmt.Errorf("params: decay floor must be within (0, 1]")
	}
	if n.DecayHorizonDays == 0 {
		return fmt.Errorf("params: decay horizon must be positive")
	}
	if n.RegressionFloor == 0 || n.RegressionFloor > fixed.One {
		return fmt.Errorf("params: regression floor must be within (0, 1]")
	}
	if n.DiversityCap < fixed.One {
		return fmt.Errorf("params: diversity cap must be at least 1")
	}
	if n.ActiveWindow <= 0 || n.ChurnWindow < n.ActiveWindow {
		return fmt.Errorf("params: churn window must cover the active window")
	}
	return nil
}

func (r Reward) validate() error {
	if r.PenaltyWeight > fixed.One {
		return fmt.Errorf("params: penalty weight must not exceed 1")
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("params: cooldown must not be negative")
	}
	if r.CycleLength <= 0 || r.CycleLength%time.Second != 0 {
		return fmt.Errorf("params: cycle length must be a positive whole number of seconds")
	}
	return nil
}

func (i Integrity) validate() error {
	if i.Weights.Sum() != fixed.BpsDenominator {
		return fmt.Errorf("params: integrity weights must sum to %d, got %d", fixed.BpsDenominator, i.Weights.Sum())
	}
	if i.MinScore == 0 || i.MinScore > fixed.One {
		return fmt.Errorf("params: integrity min score must be within (0, 1]")
	}
	if i.Floor > fixed.One {
		return fmt.Errorf("params: integrity floor must not exceed 1")
	}
	if i.LifetimeDivisor == 0 {
		return fmt.Errorf("params: lifetime divisor must be positive")
	}
	return nil
}
