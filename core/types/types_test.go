package types

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestAccountIDValidate(t *testing.T) {
	valid := []AccountID{"alice", "user-01", "acct:42", "a.b_c"}
	for _, id := range valid {
		if err := id.Validate(); err != nil {
			t.Fatalf("%q: unexpected error %v", id, err)
		}
	}
	invalid := []AccountID{"", " alice", "bob smith", "eve/1", AccountID(make([]byte, 65))}
	for _, id := range invalid {
		if err := id.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected invalid input, got %v", id, err)
		}
	}
}

func TestReferralEdgeRejectsSelfReferral(t *testing.T) {
	edge := ReferralEdge{Referrer: "alice", Referee: "alice", CreatedAt: time.Unix(1, 0)}
	if err := edge.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestFlagsNames(t *testing.T) {
	flags := FlagCapped | FlagDifficultyPenalized
	if !flags.Has(FlagCapped) || flags.Has(FlagCooldown) {
		t.Fatalf("unexpected Has result for %b", flags)
	}
	want := []string{"capped", "difficulty_penalized"}
	if got := flags.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := Flags(0).Names(); len(got) != 0 {
		t.Fatalf("expected no names, got %v", got)
	}
}

func TestEpochBoundaries(t *testing.T) {
	start := EpochStart(19_000)
	if EpochOf(start) != 19_000 {
		t.Fatalf("epoch start maps to wrong epoch")
	}
	if EpochOf(start.Add(-time.Second)) != 18_999 {
		t.Fatalf("previous second should belong to previous epoch")
	}
	if EpochOf(time.Unix(-5, 0)) != 0 {
		t.Fatalf("negative time should clamp to epoch zero")
	}
}

func TestDailyTotalsApply(t *testing.T) {
	var totals DailyTotals
	totals.Apply(RewardRecord{Epoch: 7, Status: RewardGranted, Activity: ActivityLike, FinAmount: 1_000, XPAmount: 5})
	totals.Apply(RewardRecord{Epoch: 7, Status: RewardGranted, Activity: ActivityLike, FinAmount: 500, XPAmount: 0, Flags: FlagActivityLimit})
	totals.Apply(RewardRecord{Epoch: 7, Status: RewardCooldown, Activity: ActivityLike, FinAmount: 9_999})
	if totals.Fin != 1_500 || totals.XP != 5 || totals.Count(ActivityLike) != 1 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	snapshot := totals.ForEpoch(7)
	snapshot.Counts[ActivityLike] = 99
	if totals.Count(ActivityLike) != 1 {
		t.Fatalf("ForEpoch must copy counts")
	}
	if fresh := totals.ForEpoch(8); fresh.Fin != 0 || fresh.Count(ActivityLike) != 0 || fresh.Epoch != 8 {
		t.Fatalf("stale totals leaked into new epoch: %+v", fresh)
	}

	totals.Apply(RewardRecord{Epoch: 8, Status: RewardGranted, Activity: ActivityShare, FinAmount: 10})
	if totals.Epoch != 8 || totals.Fin != 10 || totals.Count(ActivityLike) != 0 {
		t.Fatalf("epoch rollover not applied: %+v", totals)
	}
}
