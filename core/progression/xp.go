// Package progression converts activity events into experience points and
// resolves levels and tiers from cumulative XP.
package progression

import (
	"fmt"

	"finova/core/fixed"
	"finova/core/params"
	"finova/core/types"
)

// Breakdown lists the factors that produced an XP gain.
type Breakdown struct {
	BaseXP           uint64      `json:"baseXp"`
	Platform         fixed.Ratio `json:"platform"`
	Quality          fixed.Ratio `json:"quality"`
	Streak           fixed.Ratio `json:"streak"`
	LevelProgression fixed.Ratio `json:"levelProgression"`
}

// Engine evaluates XP gains. It does not enforce daily limits; the reward
// coordinator owns how often an activity may pay out.
type Engine struct {
	cfg     params.Progression
	catalog *Catalog
	levels  *LevelTable
}

// NewEngine wires an engine from its parts. Nil catalogue or table fall back to
// the defaults.
func NewEngine(cfg params.Progression, catalog *Catalog, levels *LevelTable) (*Engine, error) {
	if cfg.MaxStreak < fixed.One {
		return nil, fmt.Errorf("progression: max streak must be at least 1")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if levels == nil {
		levels = DefaultLevelTable()
	}
	return &Engine{cfg: cfg, catalog: catalog, levels: levels}, nil
}

// Catalog exposes the activity catalogue.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Levels exposes the level table.
func (e *Engine) Levels() *LevelTable { return e.levels }

// XPGain returns base × platform × quality × streak × level progression,
// truncated to whole points.
func (e *Engine) XPGain(activity types.ActivityEvent, account types.Account) (uint64, Breakdown, error) {
	if activity.Quality < types.MinQuality || activity.Quality > types.MaxQuality {
		return 0, Breakdown{}, types.InvalidInputf("progression: quality %s out of range", activity.Quality)
	}
	base, err := e.catalog.BaseXP(activity.Type)
	if err != nil {
		return 0, Breakdown{}, err
	}
	breakdown := Breakdown{
		BaseXP:           base,
		Platform:         e.catalog.PlatformMultiplier(activity.Platform),
		Quality:          activity.Quality,
		Streak:           StreakBonus(e.cfg, account.StreakDays),
		LevelProgression: LevelProgression(e.cfg, account.Level),
	}
	xp := fixed.FromInt(base)
	for _, factor := range []fixed.Ratio{breakdown.Platform, breakdown.Quality, breakdown.Streak, breakdown.LevelProgression} {
		xp = fixed.Mul(xp, factor)
	}
	return xp.Floor(), breakdown, nil
}

// StreakBonus = min(max_streak, 1 + step × days).
func StreakBonus(cfg params.Progression, days uint32) fixed.Ratio {
	bonus := fixed.Add(fixed.One, fixed.Mul(cfg.StreakStep, fixed.FromInt(uint64(days))))
	return fixed.Min(bonus, cfg.MaxStreak)
}

// LevelProgression = exp(-c × level).
func LevelProgression(cfg params.Progression, level uint32) fixed.Ratio {
	return fixed.ExpNeg(fixed.Mul(cfg.LevelDecay, fixed.FromInt(uint64(level))))
}
