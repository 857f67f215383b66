package types

import (
	"time"

	"finova/core/fixed"
)

// SecondsPerEpoch is the length of a reward epoch (one UTC day).
const SecondsPerEpoch = 86_400

// EpochOf returns the epoch containing t.
func EpochOf(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix / SecondsPerEpoch)
}

// EpochStart returns the first instant of the epoch.
func EpochStart(epoch uint64) time.Time {
	return time.Unix(int64(epoch*SecondsPerEpoch), 0).UTC()
}

// RewardStatus summarises the outcome of a reward computation.
type RewardStatus string

const (
	RewardGranted  RewardStatus = "granted"
	RewardRejected RewardStatus = "integrity_rejected"
	RewardCooldown RewardStatus = "cooldown"
)

// Flags annotate a record with the non-fatal conditions that shaped it.
type Flags uint32

const (
	FlagCapped Flags = 1 << iota
	FlagRateCapped
	FlagIntegrityRejected
	FlagCooldown
	FlagActivityLimit
	FlagDifficultyPenalized
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCapped, "capped"},
	{FlagRateCapped, "rate_capped"},
	{FlagIntegrityRejected, "integrity_rejected"},
	{FlagCooldown, "cooldown"},
	{FlagActivityLimit, "activity_limit"},
	{FlagDifficultyPenalized, "difficulty_penalized"},
}

// Has reports whether every bit in f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Names lists the set flags in declaration order.
func (f Flags) Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, entry := range flagNames {
		if f.Has(entry.flag) {
			names = append(names, entry.name)
		}
	}
	return names
}

// Breakdown records every multiplier applied while building a record.
type Breakdown struct {
	BaseRate        fixed.Micro `json:"baseRate"`
	Pioneer         fixed.Ratio `json:"pioneer"`
	Referral        fixed.Ratio `json:"referral"`
	Security        fixed.Ratio `json:"security"`
	Regression      fixed.Ratio `json:"regression"`
	HourlyRate      fixed.Micro `json:"hourlyRate"`
	LevelMultiplier fixed.Ratio `json:"levelMultiplier"`
	TierBonus       fixed.Ratio `json:"tierBonus"`

	BaseXP           uint64      `json:"baseXp"`
	Platform         fixed.Ratio `json:"platform"`
	Quality          fixed.Ratio `json:"quality"`
	Streak           fixed.Ratio `json:"streak"`
	LevelProgression fixed.Ratio `json:"levelProgression"`

	HumanProbability fixed.Ratio `json:"humanProbability"`
	Difficulty       fixed.Ratio `json:"difficulty"`
	Penalty          fixed.Ratio `json:"penalty"`
}

// RewardRecord is the immutable output of one reward cycle.
type RewardRecord struct {
	ID             string       `json:"id"`
	Account        AccountID    `json:"account"`
	EventID        string       `json:"eventId"`
	Activity       ActivityType `json:"activity"`
	Epoch          uint64       `json:"epoch"`
	ParamsVersion  uint64       `json:"paramsVersion"`
	Status         RewardStatus `json:"status"`
	FinAmount      fixed.Micro  `json:"finAmount"`
	XPAmount       uint64       `json:"xpAmount"`
	RPAmount       uint64       `json:"rpAmount"`
	Breakdown      Breakdown    `json:"breakdown"`
	Flags          Flags        `json:"flags"`
	IssuedAt       int64        `json:"issuedAt"`
	NextEligibleAt int64        `json:"nextEligibleAt,omitempty"`
	Checksum       string       `json:"checksum"`
}

// DailyTotals are the rolling per-epoch totals the coordinator enforces caps
// against. A value for an older epoch is treated as empty.
type DailyTotals struct {
	Epoch  uint64                  `json:"epoch"`
	Fin    fixed.Micro             `json:"fin"`
	XP     uint64                  `json:"xp"`
	Counts map[ActivityType]uint32 `json:"counts,omitempty"`
}

// ForEpoch returns the totals applicable to epoch.
func (d DailyTotals) ForEpoch(epoch uint64) DailyTotals {
	if d.Epoch != epoch {
		return DailyTotals{Epoch: epoch}
	}
	counts := make(map[ActivityType]uint32, len(d.Counts))
	for k, v := range d.Counts {
		counts[k] = v
	}
	d.Counts = counts
	return d
}

// Count returns how many activities of kind were rewarded this epoch.
func (d DailyTotals) Count(kind ActivityType) uint32 {
	if d.Counts == nil {
		return 0
	}
	return d.Counts[kind]
}

// Apply folds a granted record into the totals.
func (d *DailyTotals) Apply(record RewardRecord) {
	if d == nil || record.Status != RewardGranted {
		return
	}
	if d.Epoch != record.Epoch {
		*d = DailyTotals{Epoch: record.Epoch}
	}
	d.Fin += record.FinAmount
	d.XP += record.XPAmount
	if record.Flags.Has(FlagActivityLimit) {
		return
	}
	if d.Counts == nil {
		d.Counts = make(map[ActivityType]uint32)
	}
	d.Counts[record.Activity]++
}
