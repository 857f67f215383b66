package config

import (
	"fmt"
	"time"

	"finova/core/fixed"
	"finova/core/params"
)

// ToParameters converts the file form into a validated parameter snapshot.
func (c *Params) ToParameters() (*params.NetworkParameters, error) {
	d := &decoder{}
	p := &params.NetworkParameters{
		Version:    c.Version,
		Epoch:      c.Epoch,
		TotalUsers: c.TotalUsers,
		Phase:      params.PhaseID(c.Phase),
	}
	for i, ph := range c.Phases {
		p.Phases = append(p.Phases, params.Phase{
			ID:           params.PhaseID(ph.ID),
			MinUsers:     ph.MinUsers,
			BaseRate:     d.micro(fmt.Sprintf("phases[%d].BaseRate", i), ph.BaseRate),
			BonusCeiling: d.ratio(fmt.Sprintf("phases[%d].BonusCeiling", i), ph.BonusCeiling),
			MaxDaily:     d.micro(fmt.Sprintf("phases[%d].MaxDaily", i), ph.MaxDaily),
		})
	}
	p.Mining = params.Mining{
		RegressionK:    d.ratio("mining.RegressionK", c.Mining.RegressionK),
		ReferralStep:   d.ratio("mining.ReferralStep", c.Mining.ReferralStep),
		ReferralCap:    d.ratio("mining.ReferralCap", c.Mining.ReferralCap),
		KYCBonus:       d.ratio("mining.KYCBonus", c.Mining.KYCBonus),
		NonKYCBonus:    d.ratio("mining.NonKYCBonus", c.Mining.NonKYCBonus),
		PioneerDivisor: c.Mining.PioneerDivisor,
		ActiveWindow:   d.duration("mining.ActiveWindow", c.Mining.ActiveWindow),
	}
	p.Progression = params.Progression{
		StreakStep: d.ratio("progression.StreakStep", c.Progression.StreakStep),
		MaxStreak:  d.ratio("progression.MaxStreak", c.Progression.MaxStreak),
		LevelDecay: d.ratio("progression.LevelDecay", c.Progression.LevelDecay),
	}
	p.Network = params.Network{
		Level2Factor:     d.ratio("network.Level2Factor", c.Network.Level2Factor),
		Level3Factor:     d.ratio("network.Level3Factor", c.Network.Level3Factor),
		DecayFloor:       d.ratio("network.DecayFloor", c.Network.DecayFloor),
		DecayHorizonDays: c.Network.DecayHorizonDays,
		RegressionR:      d.ratio("network.RegressionR", c.Network.RegressionR),
		RegressionFloor:  d.ratio("network.RegressionFloor", c.Network.RegressionFloor),
		DiversityCap:     d.ratio("network.DiversityCap", c.Network.DiversityCap),
		ActiveWindow:     d.duration("network.ActiveWindow", c.Network.ActiveWindow),
		ChurnWindow:      d.duration("network.ChurnWindow", c.Network.ChurnWindow),
	}
	p.Reward = params.Reward{
		PenaltyWeight: d.ratio("reward.PenaltyWeight", c.Reward.PenaltyWeight),
		Cooldown:      d.duration("reward.Cooldown", c.Reward.Cooldown),
		CycleLength:   d.duration("reward.CycleLength", c.Reward.CycleLength),
		ActivityShare: d.ratio("reward.ActivityShare", c.Reward.ActivityShare),
	}
	p.Integrity = params.Integrity{
		Floor:           d.ratio("integrity.Floor", c.Integrity.Floor),
		MinScore:        d.ratio("integrity.MinScore", c.Integrity.MinScore),
		LifetimeDivisor: d.micro("integrity.LifetimeDivisor", c.Integrity.LifetimeDivisor),
		SuspicionWeight: d.ratio("integrity.SuspicionWeight", c.Integrity.SuspicionWeight),
		Weights: params.IntegrityWeights{
			Device:  c.Integrity.Weights.Device,
			Timing:  c.Integrity.Weights.Timing,
			Social:  c.Integrity.Weights.Social,
			Content: c.Integrity.Weights.Content,
		},
	}
	if d.err != nil {
		return nil, d.err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FromParameters renders p in file form.
func FromParameters(p *params.NetworkParameters) *Params {
	c := &Params{
		Version:    p.Version,
		Epoch:      p.Epoch,
		TotalUsers: p.TotalUsers,
		Phase:      string(p.Phase),
		Mining: Mining{
			RegressionK:    p.Mining.RegressionK.String(),
			ReferralStep:   p.Mining.ReferralStep.String(),
			ReferralCap:    p.Mining.ReferralCap.String(),
			KYCBonus:       p.Mining.KYCBonus.String(),
			NonKYCBonus:    p.Mining.NonKYCBonus.String(),
			PioneerDivisor: p.Mining.PioneerDivisor,
			ActiveWindow:   p.Mining.ActiveWindow.String(),
		},
		Progression: Progression{
			StreakStep: p.Progression.StreakStep.String(),
			MaxStreak:  p.Progression.MaxStreak.String(),
			LevelDecay: p.Progression.LevelDecay.String(),
		},
		Network: Network{
			Level2Factor:     p.Network.Level2Factor.String(),
			Level3Factor:     p.Network.Level3Factor.String(),
			DecayFloor:       p.Network.DecayFloor.String(),
			DecayHorizonDays: p.Network.DecayHorizonDays,
			RegressionR:      p.Network.RegressionR.String(),
			RegressionFloor:  p.Network.RegressionFloor.String(),
			DiversityCap:     p.Network.DiversityCap.String(),
			ActiveWindow:     p.Network.ActiveWindow.String(),
			ChurnWindow:      p.Network.ChurnWindow.String(),
		},
		Reward: Reward{
			PenaltyWeight: p.Reward.PenaltyWeight.String(),
			Cooldown:      p.Reward.Cooldown.String(),
			CycleLength:   p.Reward.CycleLength.String(),
			ActivityShare: p.Reward.ActivityShare.String(),
		},
		Integrity: Integrity{
			Floor:           p.Integrity.Floor.String(),
			MinScore:        p.Integrity.MinScore.String(),
			LifetimeDivisor: p.Integrity.LifetimeDivisor.String(),
			SuspicionWeight: p.Integrity.SuspicionWeight.String(),
			Weights: IntegrityWeights{
				Device:  p.Integrity.Weights.Device,
				Timing:  p.Integrity.Weights.Timing,
				Social:  p.Integrity.Weights.Social,
				Content: p.Integrity.Weights.Content,
			},
		},
	}
	for _, ph := range p.Phases {
		c.Phases = append(c.Phases, Phase{
			ID:           string(ph.ID),
			MinUsers:     ph.MinUsers,
			BaseRate:     ph.BaseRate.String(),
			BonusCeiling: ph.BonusCeiling.String(),
			MaxDaily:     ph.MaxDaily.String(),
		})
	}
	return c
}

// decoder keeps the first conversion error so ToParameters reads as a flat
// mapping.
type decoder struct {
	err error
}

func (d *decoder) ratio(field, raw string) fixed.Ratio {
	if d.err != nil {
		return 0
	}
	r, err := fixed.Parse(raw)
	if err != nil {
		d.err = fmt.Errorf("invalid %s: %w", field, err)
	}
	return r
}

func (d *decoder) micro(field, raw string) fixed.Micro {
	r := d.ratio(field, raw)
	return fixed.Micro(fixed.ScaleInt(uint64(fixed.MicroPerUnit), r))
}

func (d *decoder) duration(field, raw string) time.Duration {
	if d.err != nil {
		return 0
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		d.err = fmt.Errorf("invalid %s: %w", field, err)
		return 0
	}
	if v < 0 {
		d.err = fmt.Errorf("invalid %s: negative duration", field)
	}
	return v
}
