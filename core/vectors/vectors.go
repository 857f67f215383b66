// Package vectors publishes the reference test vectors every implementation of
// the reward engines must reproduce, and evaluates them against this one.
package vectors

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"finova/core/fixed"
	"finova/core/integrity"
	"finova/core/mining"
	"finova/core/network"
	"finova/core/params"
	"finova/core/progression"
	"finova/core/reward"
	"finova/core/types"
)

//go:embed testdata/vectors.yaml
var published []byte

// Raw returns the published YAML document.
func Raw() []byte { return append([]byte(nil), published...) }

// RateVector pins one hourly rate.
type RateVector struct {
	Name      string         `yaml:"name"`
	Phase     params.PhaseID `yaml:"phase"`
	KYC       bool           `yaml:"kyc"`
	Holdings  uint64         `yaml:"holdings"`
	Referrals uint32         `yaml:"referrals"`
	Raw       uint64         `yaml:"raw"`
	PerHour   uint64         `yaml:"perHour"`
	Capped    bool           `yaml:"capped"`
}

// XPVector pins one XP gain.
type XPVector struct {
	Name     string             `yaml:"name"`
	Activity types.ActivityType `yaml:"activity"`
	Platform types.Platform     `yaml:"platform"`
	Quality  string             `yaml:"quality"`
	Streak   uint32             `yaml:"streak"`
	Level    uint32             `yaml:"level"`
	XP       uint64             `yaml:"xp"`
}

// LevelVector pins one level table lookup.
type LevelVector struct {
	XP    uint64 `yaml:"xp"`
	Level uint32 `yaml:"level"`
	Tier  string `yaml:"tier"`
}

// TierVector pins one referral tier lookup.
type TierVector struct {
	RP   uint64 `yaml:"rp"`
	Tier string `yaml:"tier"`
}

// NetworkVector pins the deltas a contribution propagates along a chain.
type NetworkVector struct {
	Name   string            `yaml:"name"`
	Chain  []string          `yaml:"chain"`
	Source string            `yaml:"source"`
	Points uint64            `yaml:"points"`
	Deltas map[string]uint64 `yaml:"deltas"`
}

// RewardVector pins one coordinator outcome for a fresh, unverified account.
type RewardVector struct {
	Name      string             `yaml:"name"`
	Activity  types.ActivityType `yaml:"activity"`
	Platform  types.Platform     `yaml:"platform"`
	Quality   string             `yaml:"quality"`
	Lifetime  uint64             `yaml:"lifetime"`
	Suspicion string             `yaml:"suspicion"`
	Spent     uint64             `yaml:"spent"`
	Fin       uint64             `yaml:"fin"`
	XP        uint64             `yaml:"xp"`
	RP        uint64             `yaml:"rp"`
	Flags     []string           `yaml:"flags"`
}

// Set is the full vector document.
type Set struct {
	Rate    []RateVector    `yaml:"rate"`
	XP      []XPVector      `yaml:"xp"`
	Level   []LevelVector   `yaml:"level"`
	Tier    []TierVector    `yaml:"tier"`
	Network []NetworkVector `yaml:"network"`
	Reward  []RewardVector  `yaml:"reward"`
}

// Load parses the published vectors.
func Load() (*Set, error) {
	return Parse(published)
}

// Parse decodes a vector document.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	return &set, nil
}

// Result is the outcome of one vector.
type Result struct {
	Suite string
	Name  string
	Got   string
	Want  string
	Err   error
}

// Passed reports whether the vector reproduced.
func (r Result) Passed() bool { return r.Err == nil && r.Got == r.Want }

// Run evaluates every vector in set against the default parameters.
func Run(ctx context.Context, set *Set) ([]Result, error) {
	p := params.DefaultParameters()
	p.Epoch = referenceEpoch
	rates, err := mining.NewModel(p)
	if err != nil {
		return nil, err
	}
	xp, err := progression.NewEngine(p.Progression, nil, nil)
	if err != nil {
		return nil, err
	}
	coordinator, err := reward.NewCoordinator(p, xp)
	if err != nil {
		return nil, err
	}
	tiers := network.DefaultTierTable()

	var results []Result
	for _, v := range set.Rate {
		account := types.Account{ID: "vector", KYCVerified: v.KYC, Holdings: fixed.Micro(v.Holdings)}
		rate, err := rates.HourlyRate(account, v.Phase, v.Referrals)
		results = append(results, Result{
			Suite: "rate", Name: v.Name, Err: err,
			Got:  fmt.Sprintf("raw=%d perHour=%d capped=%t", rate.Raw, rate.PerHour, rate.Capped),
			Want: fmt.Sprintf("raw=%d perHour=%d capped=%t", v.Raw, v.PerHour, v.Capped),
		})
	}
	for _, v := range set.XP {
		res := Result{Suite: "xp", Name: v.Name, Want: fmt.Sprint(v.XP)}
		quality, err := fixed.Parse(v.Quality)
		if err == nil {
			var gain uint64
			event := types.ActivityEvent{ID: v.Name, Account: "vector", Type: v.Activity, Platform: v.Platform, Quality: quality}
			gain, _, err = xp.XPGain(event, types.Account{StreakDays: v.Streak, Level: v.Level})
			res.Got = fmt.Sprint(gain)
		}
		res.Err = err
		results = append(results, res)
	}
	for _, v := range set.Level {
		row := xp.Levels().Resolve(v.XP)
		results = append(results, Result{
			Suite: "level", Name: fmt.Sprintf("xp %d", v.XP),
			Got:  fmt.Sprintf("%d/%s", row.Level, row.Tier),
			Want: fmt.Sprintf("%d/%s", v.Level, v.Tier),
		})
	}
	for _, v := range set.Tier {
		results = append(results, Result{
			Suite: "tier", Name: fmt.Sprintf("rp %d", v.RP),
			Got: tiers.Resolve(v.RP).Name, Want: v.Tier,
		})
	}
	for _, v := range set.Network {
		got, err := runNetwork(ctx, p, v)
		results = append(results, Result{Suite: "network", Name: v.Name, Got: got, Want: formatDeltas(v.Deltas), Err: err})
	}
	for _, v := range set.Reward {
		got, err := runReward(coordinator, v)
		want := fmt.Sprintf("fin=%d xp=%d rp=%d flags=%s", v.Fin, v.XP, v.RP, strings.Join(v.Flags, ","))
		results = append(results, Result{Suite: "reward", Name: v.Name, Got: got, Want: want, Err: err})
	}
	return results, nil
}

const referenceEpoch = 20_000

func runNetwork(ctx context.Context, p *params.NetworkParameters, v NetworkVector) (string, error) {
	g := network.New()
	for i := 1; i < len(v.Chain); i++ {
		edge := types.ReferralEdge{
			Referrer:  types.AccountID(v.Chain[i-1]),
			Referee:   types.AccountID(v.Chain[i]),
			CreatedAt: p.AsOf(),
			Level:     1,
		}
		if _, err := g.AddEdge(ctx, edge); err != nil {
			return "", err
		}
	}
	updates, err := g.Propagate(ctx, network.Contribution{Account: types.AccountID(v.Source), Points: v.Points, At: p.AsOf()}, p)
	if err != nil {
		return "", err
	}
	deltas := make(map[string]uint64, len(updates))
	for _, u := range updates {
		deltas[string(u.Account)] = u.Delta
	}
	return formatDeltas(deltas), nil
}

func runReward(c *reward.Coordinator, v RewardVector) (string, error) {
	quality, err := fixed.Parse(v.Quality)
	if err != nil {
		return "", err
	}
	var suspicion fixed.Ratio
	if v.Suspicion != "" {
		if suspicion, err = fixed.Parse(v.Suspicion); err != nil {
			return "", err
		}
	}
	at := types.EpochStart(referenceEpoch).Add(time.Hour)
	in := reward.Input{
		Account: types.Account{ID: "vector", CreatedAt: types.EpochStart(referenceEpoch - 1)},
		Event: types.ActivityEvent{
			ID: v.Name, Account: "vector", Type: v.Activity, Platform: v.Platform, Quality: quality, Timestamp: at,
		},
		Signals: reward.Signals{
			Account: integrity.AccountSignals{
				DeviceConsistency: fixed.One, SocialGraphValidity: fixed.One, LifetimeRewards: fixed.Micro(v.Lifetime),
			},
			Behavior: integrity.BehaviorSignals{TimingNaturalness: fixed.One, ContentUniqueness: fixed.One, Suspicion: suspicion},
		},
		Network: network.View{Tier: network.DefaultTierTable().Resolve(0)},
		Totals:  types.DailyTotals{Epoch: referenceEpoch, Fin: fixed.Micro(v.Spent)},
		Epoch:   referenceEpoch,
	}
	out, err := c.Compute(in)
	if err != nil {
		return "", err
	}
	r := out.Record
	return fmt.Sprintf("fin=%d xp=%d rp=%d flags=%s", r.FinAmount, r.XPAmount, r.RPAmount, strings.Join(r.Flags.Names(), ",")), nil
}

func formatDeltas(deltas map[string]uint64) string {
	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, deltas[k]))
	}
	return strings.Join(parts, " ")
}
