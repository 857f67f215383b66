package reward

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"finova/core/fixed"
	"finova/core/integrity"
	"finova/core/network"
	"finova/core/params"
	"finova/core/types"
)

const testEpoch = 19_800

var (
	epochStart = types.EpochStart(testEpoch)
	eventTime  = epochStart.Add(10 * time.Hour)
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	p := params.DefaultParameters()
	p.Epoch = testEpoch
	c, err := NewCoordinator(p, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func honest() Signals {
	return Signals{
		Account:  integrity.AccountSignals{DeviceConsistency: fixed.One, SocialGraphValidity: fixed.One},
		Behavior: integrity.BehaviorSignals{TimingNaturalness: fixed.One, ContentUniqueness: fixed.One},
	}
}

func baseInput() Input {
	return Input{
		Account: types.Account{ID: "alice", CreatedAt: epochStart.Add(-48 * time.Hour)},
		Event: types.ActivityEvent{
			ID:        "evt-1",
			Account:   "alice",
			Type:      types.ActivityOriginalPost,
			Platform:  types.PlatformApp,
			Quality:   fixed.One,
			Timestamp: eventTime,
		},
		Signals: honest(),
		Network: network.View{Tier: network.DefaultTierTable().Resolve(0)},
		Epoch:   testEpoch,
	}
}

func TestComputeGranted(t *testing.T) {
	out, err := newCoordinator(t).Compute(baseInput())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	r := out.Record
	if r.Status != types.RewardGranted {
		t.Fatalf("unexpected status %s", r.Status)
	}
	if r.FinAmount != 152_000 || r.XPAmount != 47 || r.RPAmount != 47 {
		t.Fatalf("unexpected amounts fin=%s xp=%d rp=%d", r.FinAmount, r.XPAmount, r.RPAmount)
	}
	if r.Breakdown.HourlyRate != 160_000 || r.Breakdown.Penalty != fixed.MustParse("0.95") {
		t.Fatalf("unexpected breakdown %+v", r.Breakdown)
	}
	if r.Flags != 0 {
		t.Fatalf("unexpected flags %v", r.Flags.Names())
	}
	if r.NextEligibleAt != eventTime.Add(time.Hour).Unix() {
		t.Fatalf("unexpected next eligible %d", r.NextEligibleAt)
	}
	if r.ID == "" || r.Checksum == "" {
		t.Fatalf("record not sealed")
	}
	if out.LevelChange != nil {
		t.Fatalf("unexpected level change %+v", out.LevelChange)
	}
}

func TestComputeDeterministic(t *testing.T) {
	c := newCoordinator(t)
	in := baseInput()
	in.Account.XPTotal = 2_500
	in.Account.StreakDays = 4
	in.Network.ActiveReferrals = 3
	first, err := c.Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := newCoordinator(t).Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("outcomes differ:\n%+v\n%+v", first, second)
	}
	a, err := Encode(first.Record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, _ := Encode(second.Record)
	if !bytes.Equal(a, b) {
		t.Fatalf("encodings differ")
	}
	decoded, err := Decode(a)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, first.Record) {
		t.Fatalf("decoded record differs")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	out, err := newCoordinator(t).Compute(baseInput())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	tampered := out.Record
	tampered.FinAmount++
	if err := Verify(tampered); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestComputeCooldown(t *testing.T) {
	c := newCoordinator(t)
	in := baseInput()
	in.Account.LastRewardAt = eventTime.Add(-30 * time.Minute)
	out, err := c.Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	r := out.Record
	if r.Status != types.RewardCooldown || !r.Flags.Has(types.FlagCooldown) {
		t.Fatalf("expected cooldown, got %s %v", r.Status, r.Flags.Names())
	}
	if r.FinAmount != 0 || r.XPAmount != 0 || r.NextEligibleAt != eventTime.Add(30*time.Minute).Unix() {
		t.Fatalf("unexpected cooldown record %+v", r)
	}

	in = baseInput()
	in.Account.PenaltyUntil = eventTime.Add(24 * time.Hour)
	out, err = c.Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Record.Status != types.RewardCooldown || out.Record.NextEligibleAt != in.Account.PenaltyUntil.Unix() {
		t.Fatalf("expected penalty cooldown, got %+v", out.Record)
	}
}

func TestComputeIntegrityRejected(t *testing.T) {
	in := baseInput()
	low := fixed.MustParse("0.1")
	in.Signals = Signals{
		Account:  integrity.AccountSignals{DeviceConsistency: low, SocialGraphValidity: low},
		Behavior: integrity.BehaviorSignals{TimingNaturalness: low, ContentUniqueness: low},
	}
	out, err := newCoordinator(t).Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	r := out.Record
	if r.Status != types.RewardRejected || !r.Flags.Has(types.FlagIntegrityRejected) {
		t.Fatalf("expected rejection, got %s", r.Status)
	}
	if r.FinAmount != 0 || r.XPAmount != 0 || r.RPAmount != 0 {
		t.Fatalf("rejected record carries value: %+v", r)
	}
	if r.NextEligibleAt != eventTime.Add(7*24*time.Hour).Unix() {
		t.Fatalf("unexpected review cooldown %d", r.NextEligibleAt)
	}
}

func TestComputeDailyCap(t *testing.T) {
	c := newCoordinator(t)
	in := baseInput()
	in.Totals = types.DailyTotals{Epoch: testEpoch, Fin: 4_700_000}
	out, err := c.Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Record.FinAmount != 100_000 || !out.Record.Flags.Has(types.FlagCapped) {
		t.Fatalf("expected truncation to headroom, got %s %v", out.Record.FinAmount, out.Record.Flags.Names())
	}
	if out.Record.XPAmount == 0 {
		t.Fatalf("cap must not affect xp")
	}

	in.Totals = types.DailyTotals{Epoch: testEpoch - 1, Fin: 4_800_000}
	out, _ = c.Compute(in)
	if out.Record.Flags.Has(types.FlagCapped) {
		t.Fatalf("previous epoch totals must not count")
	}
}

func TestDailyFinNeverExceedsPhaseCap(t *testing.T) {
	c := newCoordinator(t)
	phase, _ := c.Params().Active()
	in := baseInput()
	in.Account.KYCVerified = true
	in.Account.XPTotal = 1 << 30
	in.Network = network.View{Tier: network.DefaultTierTable().Resolve(1 << 20), ActiveReferrals: 30}
	in.Event.Timestamp = epochStart

	var totals types.DailyTotals
	for i := 0; i < 24; i++ {
		in.Event.ID = fmt.Sprintf("evt-%d", i)
		in.Totals = totals
		out, err := c.Compute(in)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if out.Record.Status != types.RewardGranted {
			t.Fatalf("cycle %d: status %s", i, out.Record.Status)
		}
		totals.Apply(out.Record)
		if totals.Fin > phase.MaxDaily {
			t.Fatalf("cycle %d: daily total %s exceeds %s", i, totals.Fin, phase.MaxDaily)
		}
		in.Account.LastRewardAt = in.Event.Timestamp
		in.Event.Timestamp = in.Event.Timestamp.Add(time.Hour)
	}
	if totals.Fin != phase.MaxDaily {
		t.Fatalf("expected the cap to be reached, got %s", totals.Fin)
	}
}

func TestComputeActivityLimit(t *testing.T) {
	in := baseInput()
	in.Event.Type = types.ActivityDailyLogin
	in.Totals = types.DailyTotals{Epoch: testEpoch, Counts: map[types.ActivityType]uint32{types.ActivityDailyLogin: 1}}
	out, err := newCoordinator(t).Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	r := out.Record
	if !r.Flags.Has(types.FlagActivityLimit) || r.XPAmount != 0 || r.RPAmount != 0 {
		t.Fatalf("expected activity limit, got %+v", r)
	}
	if r.FinAmount == 0 {
		t.Fatalf("mining continues past activity limits")
	}
}

func TestComputeDifficultyPenalty(t *testing.T) {
	in := baseInput()
	in.Signals.Account.LifetimeRewards = 2_000 * fixed.MicroPerUnit
	in.Signals.Behavior.Suspicion = fixed.MustParse("0.25")
	out, err := newCoordinator(t).Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	r := out.Record
	// difficulty = 1 + 2 + 0.5 = 3.5, penalty = 1 - 3.5*0.05
	if r.Breakdown.Difficulty != fixed.MustParse("3.5") || r.Breakdown.Penalty != fixed.MustParse("0.825") {
		t.Fatalf("unexpected penalty %s/%s", r.Breakdown.Difficulty, r.Breakdown.Penalty)
	}
	if !r.Flags.Has(types.FlagDifficultyPenalized) || r.FinAmount != 132_000 || r.XPAmount != 41 {
		t.Fatalf("unexpected penalised record fin=%s xp=%d", r.FinAmount, r.XPAmount)
	}

	in.Signals.Account.LifetimeRewards = 100_000 * fixed.MicroPerUnit
	out, _ = newCoordinator(t).Compute(in)
	if out.Record.FinAmount != 0 || out.Record.XPAmount != 0 || out.Record.Status != types.RewardGranted {
		t.Fatalf("penalty must floor at zero: %+v", out.Record)
	}
}

func TestComputeLevelChange(t *testing.T) {
	in := baseInput()
	in.Account.XPTotal = 980
	out, err := newCoordinator(t).Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Record.FinAmount != 182_400 {
		t.Fatalf("expected level multiplier 1.2 to apply, got %s", out.Record.FinAmount)
	}
	change := out.LevelChange
	if change == nil || change.Level != 11 || change.Tier != "silver" || !change.TierChanged() {
		t.Fatalf("unexpected level change %+v", change)
	}
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	c := newCoordinator(t)
	cases := map[string]func(*Input){
		"foreign event":   func(in *Input) { in.Event.Account = "bob" },
		"wrong epoch":     func(in *Input) { in.Epoch = testEpoch + 1 },
		"quality":         func(in *Input) { in.Event.Quality = fixed.MustParse("0.4") },
		"unknown type":    func(in *Input) { in.Event.Type = "levitate" },
		"signal range":    func(in *Input) { in.Signals.Behavior.Suspicion = fixed.FromInt(2) },
		"foreign network": func(in *Input) { in.Network.Snapshot.Account = "bob" },
		"before creation": func(in *Input) { in.Account.CreatedAt = eventTime.Add(time.Hour) },
	}
	for name, mutate := range cases {
		in := baseInput()
		mutate(&in)
		if _, err := c.Compute(in); !errors.Is(err, types.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}
