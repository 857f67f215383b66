package progression

import (
	"fmt"
	"sort"

	"finova/core/events"
	"finova/core/fixed"
	"finova/core/types"
)

// LevelRow is one entry of the level table: the cumulative XP at which a level
// starts together with its tier and mining multiplier.
type LevelRow struct {
	MinXP      uint64      `json:"minXp"`
	Level      uint32      `json:"level"`
	Tier       string      `json:"tier"`
	Multiplier fixed.Ratio `json:"multiplier"`
}

// TierBand describes a tier as a contiguous run of levels. The XP span of a band
// ends where the next band starts; the last band grows by StepXP per level.
type TierBand struct {
	Name       string
	MinXP      uint64
	FirstLevel uint32
	LastLevel  uint32
	MinMult    fixed.Ratio
	MaxMult    fixed.Ratio
	StepXP     uint64
}

// DefaultBands returns the Bronze to Mythic progression.
func DefaultBands() []TierBand {
	return []TierBand{
		{Name: "bronze", MinXP: 0, FirstLevel: 1, LastLevel: 10, MinMult: fixed.One, MaxMult: fixed.MustParse("1.2")},
		{Name: "silver", MinXP: 1_000, FirstLevel: 11, LastLevel: 25, MinMult: fixed.MustParse("1.3"), MaxMult: fixed.MustParse("1.8")},
		{Name: "gold", MinXP: 5_000, FirstLevel: 26, LastLevel: 50, MinMult: fixed.MustParse("1.9"), MaxMult: fixed.MustParse("2.5")},
		{Name: "platinum", MinXP: 20_000, FirstLevel: 51, LastLevel: 75, MinMult: fixed.MustParse("2.6"), MaxMult: fixed.MustParse("3.2")},
		{Name: "diamond", MinXP: 50_000, FirstLevel: 76, LastLevel: 100, MinMult: fixed.MustParse("3.3"), MaxMult: fixed.MustParse("4.0")},
		{Name: "mythic", MinXP: 100_000, FirstLevel: 101, LastLevel: 150, MinMult: fixed.MustParse("4.1"), MaxMult: fixed.MustParse("5.0"), StepXP: 5_000},
	}
}

// LevelTable resolves cumulative XP with a single ordered search.
type LevelTable struct {
	rows []LevelRow
}

// NewLevelTable expands bands into one row per level and verifies the result
// is strictly monotonic.
func NewLevelTable(bands []TierBand) (*LevelTable, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("progression: at least one tier band required")
	}
	if bands[0].MinXP != 0 {
		return nil, fmt.Errorf("progression: first band must start at zero xp")
	}
	var rows []LevelRow
	for i, band := range bands {
		if band.LastLevel < band.FirstLevel {
			return nil, fmt.Errorf("progression: band %s has no levels", band.Name)
		}
		if band.MaxMult < band.MinMult {
			return nil, fmt.Errorf("progression: band %s multiplier decreases", band.Name)
		}
		count := uint64(band.LastLevel-band.FirstLevel) + 1
		var span uint64
		if i+1 < len(bands) {
			if bands[i+1].MinXP <= band.MinXP {
				return nil, fmt.Errorf("progression: band %s must start above %s", bands[i+1].Name, band.Name)
			}
			span = bands[i+1].MinXP - band.MinXP
		} else {
			if band.StepXP == 0 {
				return nil, fmt.Errorf("progression: final band %s needs a step", band.Name)
			}
			span = band.StepXP * count
		}
		for j := uint64(0); j < count; j++ {
			mult := band.MinMult
			if count > 1 {
				spread := fixed.Sub(band.MaxMult, band.MinMult)
				mult = fixed.Add(mult, fixed.Mul(spread, fixed.FromFraction(j, count-1)))
			}
			rows = append(rows, LevelRow{
				MinXP:      band.MinXP + span*j/count,
				Level:      band.FirstLevel + uint32(j),
				Tier:       band.Name,
				Multiplier: mult,
			})
		}
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].MinXP <= rows[i-1].MinXP || rows[i].Level != rows[i-1].Level+1 {
			return nil, fmt.Errorf("progression: level table not monotonic at level %d", rows[i].Level)
		}
	}
	return &LevelTable{rows: rows}, nil
}

// DefaultLevelTable returns the table built from DefaultBands.
func DefaultLevelTable() *LevelTable {
	table, err := NewLevelTable(DefaultBands())
	if err != nil {
		panic(err)
	}
	return table
}

// Resolve returns the row covering xp.
func (t *LevelTable) Resolve(xp uint64) LevelRow {
	idx := sort.Search(len(t.rows), func(i int) bool {
		return t.rows[i].MinXP > xp
	})
	if idx == 0 {
		return t.rows[0]
	}
	return t.rows[idx-1]
}

// Rows returns a copy of the expanded table.
func (t *LevelTable) Rows() []LevelRow {
	return append([]LevelRow(nil), t.rows...)
}

// DetectLevelChange compares the rows before and after an XP gain and returns
// a LevelChange when the level moved.
func (t *LevelTable) DetectLevelChange(account types.AccountID, epoch, before, after uint64) *events.LevelChange {
	prev := t.Resolve(before)
	next := t.Resolve(after)
	if prev.Level == next.Level {
		return nil
	}
	return &events.LevelChange{
		Account:       account,
		Epoch:         epoch,
		XPTotal:       after,
		PreviousLevel: prev.Level,
		Level:         next.Level,
		PreviousTier:  prev.Tier,
		Tier:          next.Tier,
		Multiplier:    next.Multiplier,
	}
}
