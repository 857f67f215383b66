package network

import (
	"fmt"
	"sort"

	"finova/core/fixed"
	"finova/core/types"
)

// Tier is one rung of the referral-points ladder.
type Tier struct {
	Name        string
	MinRP       uint64
	MiningBonus fixed.Ratio
	// Commission is the settlement share paid to the account for activity at
	// referral depth 1..3.
	Commission [types.MaxReferralLevel]fixed.Ratio
	// DirectCap limits direct referrals; zero means unlimited.
	DirectCap uint32
}

// CommissionAt returns the commission for a referral depth.
func (t Tier) CommissionAt(depth int) fixed.Ratio {
	if depth < 1 || depth > types.MaxReferralLevel {
		return 0
	}
	return t.Commission[depth-1]
}

// AllowsDirect reports whether an account holding count direct referrals may
// accept another one.
func (t Tier) AllowsDirect(count uint32) bool {
	return t.DirectCap == 0 || count < t.DirectCap
}

func pct(p uint64) fixed.Ratio { return fixed.FromFraction(p, 100) }

// DefaultTiers returns the Explorer to Ambassador ladder.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "explorer", MinRP: 0, MiningBonus: 0, Commission: [3]fixed.Ratio{pct(10), 0, 0}, DirectCap: 10},
		{Name: "connector", MinRP: 1_000, MiningBonus: pct(20), Commission: [3]fixed.Ratio{pct(15), pct(5), 0}, DirectCap: 25},
		{Name: "influencer", MinRP: 5_000, MiningBonus: pct(50), Commission: [3]fixed.Ratio{pct(20), pct(8), pct(3)}, DirectCap: 50},
		{Name: "leader", MinRP: 15_000, MiningBonus: pct(100), Commission: [3]fixed.Ratio{pct(25), pct(10), pct(5)}, DirectCap: 100},
		{Name: "ambassador", MinRP: 50_000, MiningBonus: pct(200), Commission: [3]fixed.Ratio{pct(30), pct(15), pct(8)}},
	}
}

// TierTable resolves referral points to a tier with one ordered search.
type TierTable struct {
	tiers []Tier
}

// NewTierTable validates that thresholds start at zero and strictly increase.
func NewTierTable(tiers []Tier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("network: at least one tier required")
	}
	if tiers[0].MinRP != 0 {
		return nil, fmt.Errorf("network: first tier must start at zero rp")
	}
	seen := make(map[string]struct{}, len(tiers))
	for i, tier := range tiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("network: tier %d missing name", i)
		}
		if _, dup := seen[tier.Name]; dup {
			return nil, fmt.Errorf("network: duplicate tier %s", tier.Name)
		}
		seen[tier.Name] = struct{}{}
		if i > 0 && tier.MinRP <= tiers[i-1].MinRP {
			return nil, fmt.Errorf("network: tier %s threshold must exceed %s", tier.Name, tiers[i-1].Name)
		}
	}
	return &TierTable{tiers: append([]Tier(nil), tiers...)}, nil
}

// DefaultTierTable returns the table built from DefaultTiers.
func DefaultTierTable() *TierTable {
	table, err := NewTierTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return table
}

// Resolve returns the highest tier whose threshold is at most rp.
func (t *TierTable) Resolve(rp uint64) Tier {
	idx := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinRP > rp
	})
	if idx == 0 {
		return t.tiers[0]
	}
	return t.tiers[idx-1]
}

// Lookup finds a tier by name.
func (t *TierTable) Lookup(name string) (Tier, bool) {
	for _, tier := range t.tiers {
		if tier.Name == name {
			return tier, true
		}
	}
	return Tier{}, false
}

// Tiers returns a copy of the ladder.
func (t *TierTable) Tiers() []Tier {
	return append([]Tier(nil), t.tiers...)
}
