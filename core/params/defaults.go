package params

import (
	"time"

	"finova/core/fixed"
)

const day = 24 * time.Hour

// DefaultPhases returns the canonical lifecycle table.
func DefaultPhases() []Phase {
	return []Phase{
		{ID: PhaseFinizen, MinUsers: 0, BaseRate: 100_000, BonusCeiling: fixed.FromBps(20_000), MaxDaily: 4_800_000},
		{ID: PhaseGrowth, MinUsers: 100_000, BaseRate: 50_000, BonusCeiling: fixed.FromBps(15_000), MaxDaily: 1_800_000},
		{ID: PhaseMaturity, MinUsers: 1_000_000, BaseRate: 25_000, BonusCeiling: fixed.FromBps(12_000), MaxDaily: 720_000},
		{ID: PhaseStability, MinUsers: 10_000_000, BaseRate: 10_000, BonusCeiling: fixed.One, MaxDaily: 240_000},
	}
}

// DefaultParameters returns the reference parameter set at epoch zero.
func DefaultParameters() *NetworkParameters {
	return &NetworkParameters{
		Version: 1,
		Phase:   PhaseFinizen,
		Phases:  DefaultPhases(),
		Mining: Mining{
			RegressionK:    fixed.MustParse("0.001"),
			ReferralStep:   fixed.MustParse("0.1"),
			ReferralCap:    fixed.MustParse("3.5"),
			KYCBonus:       fixed.MustParse("1.2"),
			NonKYCBonus:    fixed.MustParse("0.8"),
			PioneerDivisor: 1_000_000,
			ActiveWindow:   30 * day,
		},
		Progression: Progression{
			StreakStep: fixed.MustParse("0.1"),
			MaxStreak:  fixed.MustParse("3.0"),
			LevelDecay: fixed.MustParse("0.01"),
		},
		Network: Network{
			Level2Factor:     fixed.MustParse("0.3"),
			Level3Factor:     fixed.MustParse("0.1"),
			DecayFloor:       fixed.MustParse("0.1"),
			DecayHorizonDays: 365,
			RegressionR:      fixed.MustParse("0.0001"),
			RegressionFloor:  fixed.MustParse("0.1"),
			DiversityCap:     fixed.MustParse("2.0"),
			ActiveWindow:     30 * day,
			ChurnWindow:      90 * day,
		},
		Reward: Reward{
			PenaltyWeight: fixed.MustParse("0.05"),
			Cooldown:      time.Hour,
			CycleLength:   time.Hour,
			ActivityShare: fixed.One,
		},
		Integrity: Integrity{
			Floor:           fixed.MustParse("0.3"),
			MinScore:        fixed.MustParse("0.1"),
			Weights:         IntegrityWeights{Device: 2_500, Timing: 3_000, Social: 2_500, Content: 2_000},
			LifetimeDivisor: 1_000 * fixed.MicroPerUnit,
			SuspicionWeight: fixed.FromInt(2),
		},
	}
}
