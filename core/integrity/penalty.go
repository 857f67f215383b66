package integrity

import (
	"time"

	"finova/core/fixed"
)

// PenaltyClass grades an integrity outcome for cooldown purposes.
type PenaltyClass uint8

const (
	PenaltyNone PenaltyClass = iota
	PenaltyIntensive
	PenaltySuspicious
	PenaltyBot
)

var (
	suspiciousThreshold = fixed.FromBps(5_000)
	intensiveDifficulty = fixed.FromInt(3)
)

type penaltyRule struct {
	class    PenaltyClass
	name     string
	cooldown time.Duration
}

var penaltyRules = []penaltyRule{
	{PenaltyNone, "none", 0},
	{PenaltyIntensive, "intensive", time.Hour},
	{PenaltySuspicious, "suspicious", 24 * time.Hour},
	{PenaltyBot, "bot", 7 * 24 * time.Hour},
}

// Classify grades a scoring result. Rejection dominates suspicion, which
// dominates sustained high difficulty.
func Classify(result Result, suspicion fixed.Ratio) PenaltyClass {
	switch {
	case result.Rejected:
		return PenaltyBot
	case suspicion >= suspiciousThreshold:
		return PenaltySuspicious
	case result.Difficulty >= intensiveDifficulty:
		return PenaltyIntensive
	default:
		return PenaltyNone
	}
}

// Cooldown is the minimum pause imposed before the next reward cycle.
func (c PenaltyClass) Cooldown() time.Duration {
	if int(c) >= len(penaltyRules) {
		return 0
	}
	return penaltyRules[c].cooldown
}

func (c PenaltyClass) String() string {
	if int(c) >= len(penaltyRules) {
		return "unknown"
	}
	return penaltyRules[c].name
}
