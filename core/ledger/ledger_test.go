package ledger

import (
	"errors"
	"fmt"
	"testing"

	"finova/core/fixed"
	"finova/core/reward"
	"finova/core/types"
	"finova/storage"
)

func sealed(t *testing.T, account types.AccountID, event string, epoch uint64, fin fixed.Micro, status types.RewardStatus) types.RewardRecord {
	t.Helper()
	record, err := reward.Seal(types.RewardRecord{
		Account:   account,
		EventID:   event,
		Activity:  types.ActivityLike,
		Epoch:     epoch,
		Status:    status,
		FinAmount: fin,
		XPAmount:  5,
		IssuedAt:  int64(epoch * types.SecondsPerEpoch),
	})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return record
}

func TestAppendAndGet(t *testing.T) {
	l := New(storage.NewMemDB())
	record := sealed(t, "alice", "evt-1", 10, 1_000, types.RewardGranted)
	if err := l.Append(record); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, ok, err := l.Get(record.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != record {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	byEvent, ok, _ := l.ByEvent("alice", "evt-1")
	if !ok || byEvent.ID != record.ID {
		t.Fatalf("event index missing")
	}
	if _, ok, _ := l.Get("missing"); ok {
		t.Fatalf("unexpected record")
	}
}

func TestAppendRejectsDuplicatesAndTampering(t *testing.T) {
	l := New(storage.NewMemDB())
	record := sealed(t, "alice", "evt-1", 10, 1_000, types.RewardGranted)
	if err := l.Append(record); err != nil {
		t.Fatalf("append: %v", err)
	}
	again := sealed(t, "alice", "evt-1", 10, 2_000, types.RewardGranted)
	if err := l.Append(again); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	tampered := sealed(t, "alice", "evt-2", 10, 1_000, types.RewardGranted)
	tampered.FinAmount = 9_999
	if err := l.Append(tampered); !errors.Is(err, reward.ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestListFiltersAndPages(t *testing.T) {
	l := New(storage.NewMemDB())
	for i := 0; i < 5; i++ {
		if err := l.Append(sealed(t, "alice", fmt.Sprintf("a-%d", i), 10, 100, types.RewardGranted)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Append(sealed(t, "alice", "a-late", 11, 100, types.RewardGranted)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(sealed(t, "bob", "b-0", 10, 0, types.RewardCooldown)); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, next, err := l.List(Filter{})
	if err != nil || len(all) != 7 || next != "" {
		t.Fatalf("list all: %d %q %v", len(all), next, err)
	}
	if all[len(all)-1].Epoch != 11 {
		t.Fatalf("records not ordered by epoch")
	}

	epoch := uint64(10)
	page, next, err := l.List(Filter{Epoch: &epoch, Limit: 4})
	if err != nil || len(page) != 4 || next == "" {
		t.Fatalf("first page: %d %q %v", len(page), next, err)
	}
	rest, next, _ := l.List(Filter{Epoch: &epoch, Limit: 4, Cursor: next})
	if len(rest) != 2 || next != "" {
		t.Fatalf("second page: %d %q", len(rest), next)
	}
	seen := map[string]bool{}
	for _, record := range append(page, rest...) {
		if seen[record.ID] {
			t.Fatalf("record %s returned twice", record.ID)
		}
		seen[record.ID] = true
	}

	cooldowns, _, _ := l.List(Filter{Status: types.RewardCooldown})
	if len(cooldowns) != 1 || cooldowns[0].Account != "bob" {
		t.Fatalf("status filter: %+v", cooldowns)
	}
	alice, _, _ := l.List(Filter{Account: "alice", Epoch: &epoch})
	if len(alice) != 5 {
		t.Fatalf("account filter: %d", len(alice))
	}
	if _, _, err := l.List(Filter{Cursor: "x"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected invalid cursor error, got %v", err)
	}
	// A cursor from one listing cannot be replayed against another prefix.
	_, accountCursor, _ := l.List(Filter{Account: "alice", Limit: 1})
	if _, _, err := l.List(Filter{Epoch: &epoch, Cursor: accountCursor}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected foreign cursor rejected, got %v", err)
	}
}

func TestListPagesWithStatusFilter(t *testing.T) {
	l := New(storage.NewMemDB())
	for i := 0; i < 6; i++ {
		status := types.RewardGranted
		if i%2 == 1 {
			status = types.RewardRejected
		}
		if err := l.Append(sealed(t, "alice", fmt.Sprintf("e-%d", i), 10, 100, status)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var (
		cursor string
		pages  int
		got    int
	)
	for {
		page, next, err := l.List(Filter{Account: "alice", Status: types.RewardRejected, Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, record := range page {
			if record.Status != types.RewardRejected {
				t.Fatalf("unexpected status %s", record.Status)
			}
		}
		got += len(page)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}
	if got != 3 || pages != 2 {
		t.Fatalf("expected 3 records over 2 pages, got %d over %d", got, pages)
	}
}

func TestStandingTracksGrantsAndPenalties(t *testing.T) {
	l := New(storage.NewMemDB())
	empty, err := l.Standing("alice")
	if err != nil || !empty.LastRewardAt.IsZero() || !empty.PenaltyUntil.IsZero() {
		t.Fatalf("expected zero standing, got %+v %v", empty, err)
	}

	granted := sealed(t, "alice", "e-1", 10, 100, types.RewardGranted)
	if err := l.Append(granted); err != nil {
		t.Fatalf("append: %v", err)
	}
	rejected, err := reward.Seal(types.RewardRecord{
		Account:        "alice",
		EventID:        "e-2",
		Activity:       types.ActivityLike,
		Epoch:          10,
		Status:         types.RewardRejected,
		IssuedAt:       granted.IssuedAt + 60,
		NextEligibleAt: granted.IssuedAt + 86_400,
	})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := l.Append(rejected); err != nil {
		t.Fatalf("append: %v", err)
	}
	// An older grant arriving late must not move the standing backwards.
	older := sealed(t, "alice", "e-0", 9, 100, types.RewardGranted)
	if err := l.Append(older); err != nil {
		t.Fatalf("append: %v", err)
	}

	standing, err := l.Standing("alice")
	if err != nil {
		t.Fatalf("standing: %v", err)
	}
	if standing.LastRewardAt.Unix() != granted.IssuedAt {
		t.Fatalf("last reward %v, want %d", standing.LastRewardAt, granted.IssuedAt)
	}
	if standing.PenaltyUntil.Unix() != rejected.NextEligibleAt {
		t.Fatalf("penalty until %v, want %d", standing.PenaltyUntil, rejected.NextEligibleAt)
	}
	if other, _ := l.Standing("bob"); !other.LastRewardAt.IsZero() {
		t.Fatalf("standing leaked across accounts: %+v", other)
	}
}

func TestDailyTotals(t *testing.T) {
	l := New(storage.NewMemDB())
	for i, status := range []types.RewardStatus{types.RewardGranted, types.RewardGranted, types.RewardRejected} {
		if err := l.Append(sealed(t, "alice", fmt.Sprintf("e-%d", i), 10, 1_000, status)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	totals, err := l.DailyTotals("alice", 10)
	if err != nil {
		t.Fatalf("daily totals: %v", err)
	}
	if totals.Fin != 2_000 || totals.XP != 10 || totals.Count(types.ActivityLike) != 2 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	empty, _ := l.DailyTotals("alice", 11)
	if empty.Fin != 0 || empty.Epoch != 11 {
		t.Fatalf("unexpected totals for empty epoch %+v", empty)
	}
}
