package events

import (
	"strconv"
	"strings"

	"finova/core/fixed"
	"finova/core/types"
)

const (
	TypeLevelChange        = "progression.level_change"
	TypeNetworkValueUpdate = "network.value_update"
	TypeRewardEmitted      = "reward.emitted"
)

// LevelChange is emitted when an account's cumulative XP moves it across a
// level boundary.
type LevelChange struct {
	Account       types.AccountID
	Epoch         uint64
	XPTotal       uint64
	PreviousLevel uint32
	Level         uint32
	PreviousTier  string
	Tier          string
	Multiplier    fixed.Ratio
}

// TierChanged reports whether the change crossed a tier boundary.
func (e LevelChange) TierChanged() bool { return e.PreviousTier != e.Tier }

// EventType implements the Event interface.
func (LevelChange) EventType() string { return TypeLevelChange }

// Event converts the level change to the generic representation.
func (e LevelChange) Event() *types.Event {
	return &types.Event{
		Type: TypeLevelChange,
		Attributes: map[string]string{
			"account":        string(e.Account),
			"epoch":          strconv.FormatUint(e.Epoch, 10),
			"xp_total":       strconv.FormatUint(e.XPTotal, 10),
			"previous_level": strconv.FormatUint(uint64(e.PreviousLevel), 10),
			"level":          strconv.FormatUint(uint64(e.Level), 10),
			"previous_tier":  e.PreviousTier,
			"tier":           e.Tier,
			"tier_changed":   strconv.FormatBool(e.TierChanged()),
			"multiplier":     e.Multiplier.String(),
		},
	}
}

// NetworkValueUpdate is emitted for each ancestor whose cached network value
// was recomputed after a member's activity.
type NetworkValueUpdate struct {
	Account       types.AccountID
	Source        types.AccountID
	Depth         uint8
	Delta         uint64
	PreviousValue uint64
	Value         uint64
	Tier          string
	Epoch         uint64
	Version       uint64
}

// EventType implements the Event interface.
func (NetworkValueUpdate) EventType() string { return TypeNetworkValueUpdate }

// Event converts the update to the generic representation.
func (e NetworkValueUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeNetworkValueUpdate,
		Attributes: map[string]string{
			"account":        string(e.Account),
			"source":         string(e.Source),
			"depth":          strconv.FormatUint(uint64(e.Depth), 10),
			"delta":          strconv.FormatUint(e.Delta, 10),
			"previous_value": strconv.FormatUint(e.PreviousValue, 10),
			"value":          strconv.FormatUint(e.Value, 10),
			"tier":           e.Tier,
			"epoch":          strconv.FormatUint(e.Epoch, 10),
			"version":        strconv.FormatUint(e.Version, 10),
		},
	}
}

// RewardEmitted announces a committed reward record.
type RewardEmitted struct {
	Record types.RewardRecord
}

// EventType implements the Event interface.
func (RewardEmitted) EventType() string { return TypeRewardEmitted }

// Event converts the record summary to the generic representation.
func (e RewardEmitted) Event() *types.Event {
	r := e.Record
	return &types.Event{
		Type: TypeRewardEmitted,
		Attributes: map[string]string{
			"id":       r.ID,
			"account":  string(r.Account),
			"event_id": r.EventID,
			"epoch":    strconv.FormatUint(r.Epoch, 10),
			"status":   string(r.Status),
			"fin":      r.FinAmount.String(),
			"xp":       strconv.FormatUint(r.XPAmount, 10),
			"rp":       strconv.FormatUint(r.RPAmount, 10),
			"flags":    strings.Join(r.Flags.Names(), ","),
			"checksum": r.Checksum,
		},
	}
}
