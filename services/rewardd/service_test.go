package rewardd

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"finova/core/events"
	"finova/core/fixed"
	"finova/core/integrity"
	"finova/core/ledger"
	"finova/core/network"
	"finova/core/params"
	"finova/core/reward"
	"finova/core/types"
	"finova/services/rewardd/audit"
	"finova/storage"
)

const testEpoch = 19_800

var (
	epochStart = types.EpochStart(testEpoch)
	eventTime  = epochStart.Add(10 * time.Hour)
)

func testParams() *params.NetworkParameters {
	p := params.DefaultParameters()
	p.Epoch = testEpoch
	return p
}

func newTestQueue(t *testing.T) *audit.Queue {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, audit.AutoMigrate(db))
	return audit.NewQueue(db)
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(testParams(), ledger.New(storage.NewMemDB()), network.New(), opts...)
	require.NoError(t, err)
	return svc
}

func honestSignals() reward.Signals {
	return reward.Signals{
		Account:  integrity.AccountSignals{DeviceConsistency: fixed.One, SocialGraphValidity: fixed.One},
		Behavior: integrity.BehaviorSignals{TimingNaturalness: fixed.One, ContentUniqueness: fixed.One},
	}
}

func submission(account types.AccountID, eventID string) Submission {
	return Submission{
		Account: types.Account{ID: account, CreatedAt: epochStart.Add(-48 * time.Hour)},
		Event: types.ActivityEvent{
			ID:        eventID,
			Account:   account,
			Type:      types.ActivityOriginalPost,
			Platform:  types.PlatformApp,
			Quality:   fixed.One,
			Timestamp: eventTime,
		},
		Signals: honestSignals(),
	}
}

func TestSubmitGrantsAndAppends(t *testing.T) {
	rec := &events.Recorder{}
	svc := newTestService(t, WithEmitter(rec))

	res, err := svc.Submit(context.Background(), submission("alice", "evt-1"))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, types.RewardGranted, res.Record.Status)
	require.Equal(t, fixed.Micro(152_000), res.Record.FinAmount)
	require.Equal(t, uint64(47), res.Record.XPAmount)
	require.NoError(t, res.PropagationErr)

	stored, ok, err := svc.Ledger().Get(res.Record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.Record, stored)
	require.True(t, svc.Graph().Has("alice"))

	emitted := rec.Events()
	require.NotEmpty(t, emitted)
	require.Equal(t, events.TypeRewardEmitted, emitted[0].EventType())
}

func TestSubmitIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	first, err := svc.Submit(ctx, submission("alice", "evt-1"))
	require.NoError(t, err)

	again, err := svc.Submit(ctx, submission("alice", "evt-1"))
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, first.Record.ID, again.Record.ID)

	records, _, err := svc.Ledger().List(ledger.Filter{Account: "alice"})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestSubmitDuplicateAfterRestart(t *testing.T) {
	l := ledger.New(storage.NewMemDB())
	g := network.New()
	first, err := NewService(testParams(), l, g)
	require.NoError(t, err)
	res, err := first.Submit(context.Background(), submission("alice", "evt-1"))
	require.NoError(t, err)

	// A fresh service has an empty replay filter and must fall back to the
	// ledger's event index.
	second, err := NewService(testParams(), l, g)
	require.NoError(t, err)
	again, err := second.Submit(context.Background(), submission("alice", "evt-1"))
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, res.Record.ID, again.Record.ID)
}

func TestCooldownOutcomeIsNotStored(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	early := submission("alice", "evt-1")
	early.Account.LastRewardAt = eventTime.Add(-10 * time.Minute)
	res, err := svc.Submit(ctx, early)
	require.NoError(t, err)
	require.Equal(t, types.RewardCooldown, res.Record.Status)
	require.Equal(t, eventTime.Add(50*time.Minute).Unix(), res.Record.NextEligibleAt)

	_, ok, err := svc.Ledger().ByEvent("alice", "evt-1")
	require.NoError(t, err)
	require.False(t, ok)

	// The same event retried once the caller is eligible is a fresh grant.
	retry := submission("alice", "evt-1")
	retry.Account.LastRewardAt = eventTime.Add(-2 * time.Hour)
	res, err = svc.Submit(ctx, retry)
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, types.RewardGranted, res.Record.Status)
	require.Equal(t, fixed.Micro(152_000), res.Record.FinAmount)
}

func TestSubmitAppliesLedgerCooldown(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, submission("alice", "evt-1"))
	require.NoError(t, err)
	require.Equal(t, types.RewardGranted, first.Record.Status)

	// The caller omits LastRewardAt; the ledger still remembers the grant.
	next := submission("alice", "evt-2")
	next.Event.Timestamp = eventTime.Add(time.Minute)
	res, err := svc.Submit(ctx, next)
	require.NoError(t, err)
	require.Equal(t, types.RewardCooldown, res.Record.Status)
	require.Equal(t, eventTime.Add(time.Hour).Unix(), res.Record.NextEligibleAt)
	require.Zero(t, res.Record.FinAmount)

	later := submission("alice", "evt-3")
	later.Event.Timestamp = eventTime.Add(2 * time.Hour)
	res, err = svc.Submit(ctx, later)
	require.NoError(t, err)
	require.Equal(t, types.RewardGranted, res.Record.Status)
}

func TestSubmitAppliesLedgerPenalty(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	bot := submission("mallory", "evt-1")
	low := fixed.MustParse("0.1")
	bot.Signals = reward.Signals{
		Account:  integrity.AccountSignals{DeviceConsistency: low, SocialGraphValidity: low},
		Behavior: integrity.BehaviorSignals{TimingNaturalness: low, ContentUniqueness: low},
	}
	rejected, err := svc.Submit(ctx, bot)
	require.NoError(t, err)
	require.Equal(t, types.RewardRejected, rejected.Record.Status)
	require.Greater(t, rejected.Record.NextEligibleAt, eventTime.Add(2*time.Hour).Unix())

	honest := submission("mallory", "evt-2")
	honest.Event.Timestamp = eventTime.Add(2 * time.Hour)
	res, err := svc.Submit(ctx, honest)
	require.NoError(t, err)
	require.Equal(t, types.RewardCooldown, res.Record.Status)
	require.Equal(t, rejected.Record.NextEligibleAt, res.Record.NextEligibleAt)
}

func TestSubmitScoresUnratedEvents(t *testing.T) {
	svc := newTestService(t)
	sub := submission("alice", "evt-1")
	sub.Event.Quality = 0
	res, err := svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, types.RewardGranted, res.Record.Status)
	require.Equal(t, fixed.One, res.Record.Breakdown.Quality)
	require.Equal(t, fixed.Micro(152_000), res.Record.FinAmount)

	boosted := submission("bob", "evt-1")
	boosted.Event.Quality = 0
	boosted.Event.Engagement = types.Engagement{Likes: 500, Shares: 200}
	res, err = svc.Submit(context.Background(), boosted)
	require.NoError(t, err)
	require.Greater(t, res.Record.Breakdown.Quality, fixed.One)
	require.LessOrEqual(t, res.Record.Breakdown.Quality, types.MaxQuality)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)
	sub := submission("alice", "evt-1")
	sub.Account.CreatedAt = time.Time{}
	_, err := svc.Submit(context.Background(), sub)
	require.ErrorIs(t, err, types.ErrInvalidInput)

	sub = submission("alice", "evt-2")
	sub.Event.Account = "bob"
	_, err = svc.Submit(context.Background(), sub)
	require.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSubmitPropagatesToReferrer(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	created, err := svc.AddReferral(ctx, types.ReferralEdge{Referrer: "bob", Referee: "alice", CreatedAt: epochStart, Level: 1})
	require.NoError(t, err)
	require.True(t, created)

	res, err := svc.Submit(ctx, submission("alice", "evt-1"))
	require.NoError(t, err)
	require.NoError(t, res.PropagationErr)
	require.Len(t, res.Updates, 1)
	require.Equal(t, types.AccountID("bob"), res.Updates[0].Account)
	require.Equal(t, res.Record.RPAmount, res.Updates[0].Delta)

	snap, err := svc.Graph().Snapshot("bob")
	require.NoError(t, err)
	require.Equal(t, fixed.FromInt(res.Record.RPAmount), snap.Direct)
}

func TestAddReferralRejectsCycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	at := epochStart
	_, err := svc.AddReferral(ctx, types.ReferralEdge{Referrer: "a", Referee: "b", CreatedAt: at, Level: 1})
	require.NoError(t, err)
	_, err = svc.AddReferral(ctx, types.ReferralEdge{Referrer: "b", Referee: "a", CreatedAt: at, Level: 1})
	require.ErrorIs(t, err, types.ErrCycleDetected)
}

func TestRejectedRecordsAreQueued(t *testing.T) {
	queue := newTestQueue(t)
	svc := newTestService(t, WithReviewQueue(queue))
	sub := submission("mallory", "evt-1")
	low := fixed.MustParse("0.1")
	sub.Signals = reward.Signals{
		Account:  integrity.AccountSignals{DeviceConsistency: low, SocialGraphValidity: low},
		Behavior: integrity.BehaviorSignals{TimingNaturalness: low, ContentUniqueness: low},
	}
	res, err := svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, types.RewardRejected, res.Record.Status)
	require.Empty(t, res.Updates)

	pending, err := queue.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, res.Record.ID, pending[0].RecordID)
}

func TestSetParamsSwapsFingerprint(t *testing.T) {
	svc := newTestService(t)
	_, before := svc.Params()
	next, err := testParams().Advance(testEpoch+1, 10)
	require.NoError(t, err)
	require.NoError(t, svc.SetParams(next))
	p, after := svc.Params()
	require.Equal(t, uint64(testEpoch+1), p.Epoch)
	require.NotEqual(t, before, after)
}
