// Package reward composes the integrity, mining, progression and network
// engines into one immutable reward record per cycle.
package reward

import (
	"fmt"
	"time"

	"finova/core/events"
	"finova/core/fixed"
	"finova/core/integrity"
	"finova/core/mining"
	"finova/core/network"
	"finova/core/params"
	"finova/core/progression"
	"finova/core/types"
)

// Signals bundles the pre-reduced anti-bot telemetry for one event.
type Signals struct {
	Account  integrity.AccountSignals  `json:"account"`
	Behavior integrity.BehaviorSignals `json:"behavior"`
}

// Input is everything a reward computation reads. The coordinator never
// consults anything else, which is what makes Compute reproducible.
type Input struct {
	Account types.Account
	Event   types.ActivityEvent
	Signals Signals
	Network network.View
	Totals  types.DailyTotals
	Epoch   uint64
}

// Outcome is the result of one cycle. LevelChange is set when the XP gain
// crossed a level boundary.
type Outcome struct {
	Record      types.RewardRecord
	LevelChange *events.LevelChange
}

// Coordinator evaluates reward cycles against one parameter snapshot.
type Coordinator struct {
	params *params.NetworkParameters
	scorer *integrity.Scorer
	rates  *mining.Model
	xp     *progression.Engine
}

// NewCoordinator validates p and wires the engines. A nil progression engine
// uses the default catalogue and level table.
func NewCoordinator(p *params.NetworkParameters, xp *progression.Engine) (*Coordinator, error) {
	if p == nil {
		return nil, fmt.Errorf("reward: parameters required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	scorer, err := integrity.NewScorer(p.Integrity)
	if err != nil {
		return nil, err
	}
	rates, err := mining.NewModel(p)
	if err != nil {
		return nil, err
	}
	if xp == nil {
		if xp, err = progression.NewEngine(p.Progression, nil, nil); err != nil {
			return nil, err
		}
	}
	return &Coordinator{params: p, scorer: scorer, rates: rates, xp: xp}, nil
}

// Params returns the snapshot the coordinator is bound to.
func (c *Coordinator) Params() *params.NetworkParameters { return c.params }

// Progression exposes the XP engine.
func (c *Coordinator) Progression() *progression.Engine { return c.xp }

// Compute runs one reward cycle. Structural problems are returned as errors.
// Cooldowns, integrity rejections, activity limits and caps are reported on
// the record. Identical inputs always produce an identical record.
func (c *Coordinator) Compute(in Input) (Outcome, error) {
	if err := c.validate(in); err != nil {
		return Outcome{}, err
	}
	now := in.Event.Timestamp.UTC()
	record := types.RewardRecord{
		Account:       in.Account.ID,
		EventID:       in.Event.ID,
		Activity:      in.Event.Type,
		Epoch:         in.Epoch,
		ParamsVersion: c.params.Version,
		IssuedAt:      now.Unix(),
	}

	if next, waiting := c.cooldown(in.Account, now); waiting {
		record.Status = types.RewardCooldown
		record.Flags |= types.FlagCooldown
		record.NextEligibleAt = next.Unix()
		return c.seal(record, nil)
	}

	score, err := c.scorer.Score(in.Signals.Account, in.Signals.Behavior)
	if err != nil {
		return Outcome{}, err
	}
	record.Breakdown.HumanProbability = score.HumanProbability
	record.Breakdown.Difficulty = score.Difficulty
	if score.Rejected {
		record.Status = types.RewardRejected
		record.Flags |= types.FlagIntegrityRejected
		penalty := integrity.Classify(score, in.Signals.Behavior.Suspicion)
		record.NextEligibleAt = now.Add(penalty.Cooldown()).Unix()
		return c.seal(record, nil)
	}

	phase, err := c.params.Active()
	if err != nil {
		return Outcome{}, fmt.Errorf("reward: %w", err)
	}
	rate, err := c.rates.HourlyRate(in.Account, phase.ID, in.Network.ActiveReferrals)
	if err != nil {
		return Outcome{}, err
	}
	xp, xb, err := c.xp.XPGain(in.Event, in.Account)
	if err != nil {
		return Outcome{}, err
	}
	level := c.xp.Levels().Resolve(in.Account.XPTotal)
	tierBonus := in.Network.Tier.MiningBonus

	b := &record.Breakdown
	b.BaseRate, b.Pioneer, b.Referral, b.Security, b.Regression = rate.BaseRate, rate.Pioneer, rate.Referral, rate.Security, rate.Regression
	b.HourlyRate = rate.PerHour
	b.LevelMultiplier = level.Multiplier
	b.TierBonus = tierBonus
	b.BaseXP, b.Platform, b.Quality, b.Streak, b.LevelProgression = xb.BaseXP, xb.Platform, xb.Quality, xb.Streak, xb.LevelProgression
	if rate.Capped {
		record.Flags |= types.FlagRateCapped
	}

	fin := fixed.MulMicro(rate.PerHour, fixed.FromFraction(uint64(c.params.Reward.CycleLength/time.Second), 3_600))
	fin = fixed.MulMicro(fin, level.Multiplier)
	fin = fixed.MulMicro(fin, fixed.Add(fixed.One, tierBonus))

	totals := in.Totals.ForEpoch(in.Epoch)
	if limit, limited := c.xp.Catalog().DailyLimit(in.Event.Type); limited && totals.Count(in.Event.Type) >= limit {
		xp = 0
		record.Flags |= types.FlagActivityLimit
	}
	rp := fixed.ScaleInt(xp, c.params.Reward.ActivityShare)

	penalty := fixed.Sub(fixed.One, fixed.Mul(score.Difficulty, c.params.Reward.PenaltyWeight))
	b.Penalty = penalty
	if score.Difficulty > fixed.One {
		record.Flags |= types.FlagDifficultyPenalized
	}
	fin = fixed.MulMicro(fin, penalty)
	xp = fixed.ScaleInt(xp, penalty)
	rp = fixed.ScaleInt(rp, penalty)

	headroom := fixed.Micro(0)
	if totals.Fin < phase.MaxDaily {
		headroom = phase.MaxDaily - totals.Fin
	}
	if fin > headroom {
		fin = headroom
		record.Flags |= types.FlagCapped
	}

	record.Status = types.RewardGranted
	record.FinAmount = fin
	record.XPAmount = xp
	record.RPAmount = rp
	record.NextEligibleAt = now.Add(c.params.Reward.Cooldown).Unix()

	var change *events.LevelChange
	if xp > 0 {
		change = c.xp.Levels().DetectLevelChange(in.Account.ID, in.Epoch, in.Account.XPTotal, in.Account.XPTotal+xp)
	}
	return c.seal(record, change)
}

func (c *Coordinator) validate(in Input) error {
	if err := in.Account.Validate(); err != nil {
		return err
	}
	if err := in.Event.Validate(); err != nil {
		return err
	}
	if in.Event.Account != in.Account.ID {
		return types.InvalidInputf("reward: event %s belongs to %s, not %s", in.Event.ID, in.Event.Account, in.Account.ID)
	}
	if got := types.EpochOf(in.Event.Timestamp); got != in.Epoch {
		return types.InvalidInputf("reward: event %s falls in epoch %d, not %d", in.Event.ID, got, in.Epoch)
	}
	if in.Epoch < c.params.Epoch {
		return types.InvalidInputf("reward: epoch %d precedes parameters epoch %d", in.Epoch, c.params.Epoch)
	}
	if in.Event.Timestamp.Before(in.Account.CreatedAt) {
		return types.InvalidInputf("reward: event %s precedes account creation", in.Event.ID)
	}
	if in.Network.Snapshot.Account != "" && in.Network.Snapshot.Account != in.Account.ID {
		return types.InvalidInputf("reward: network view belongs to %s", in.Network.Snapshot.Account)
	}
	return nil
}

// cooldown returns the next eligible instant when the account may not be
// rewarded at now.
func (c *Coordinator) cooldown(account types.Account, now time.Time) (time.Time, bool) {
	var next time.Time
	if !account.LastRewardAt.IsZero() {
		next = account.LastRewardAt.Add(c.params.Reward.Cooldown)
	}
	if account.PenaltyUntil.After(next) {
		next = account.PenaltyUntil
	}
	if now.Before(next) {
		return next.UTC(), true
	}
	return time.Time{}, false
}

func (c *Coordinator) seal(record types.RewardRecord, change *events.LevelChange) (Outcome, error) {
	sealed, err := Seal(record)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: sealed, LevelChange: change}, nil
}
