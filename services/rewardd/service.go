package rewardd

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finova/core/events"
	"finova/core/integrity"
	"finova/core/ledger"
	"finova/core/network"
	"finova/core/params"
	"finova/core/reward"
	"finova/core/types"
	"finova/observability"
	"finova/observability/logging"
	"finova/observability/metrics"
	telemetry "finova/observability/otel"
	"finova/services/rewardd/audit"
)

const accountLockStripes = 64

// Submission is one activity to reward together with the caller's view of
// the account and its integrity signals.
type Submission struct {
	Account types.Account
	Event   types.ActivityEvent
	Signals reward.Signals
}

// Result is the outcome of a submission. Duplicate is set when the event was
// already rewarded and Record is the stored record. Cooldown records are
// returned but never stored. PropagationErr reports a failed network update;
// the record itself is committed regardless.
type Result struct {
	Record         types.RewardRecord
	Duplicate      bool
	LevelChange    *events.LevelChange
	Updates        []events.NetworkValueUpdate
	PropagationErr error
}

type engineState struct {
	params      *params.NetworkParameters
	coordinator *reward.Coordinator
	fingerprint string
}

// Service owns the reward pipeline: compute, append, review and propagate.
type Service struct {
	logger  *slog.Logger
	ledger  *ledger.Ledger
	graph   *network.Graph
	reviews *audit.Queue
	emitter events.Emitter
	replay  *replayFilter
	quality integrity.Model[types.ActivityEvent]
	tracer  trace.Tracer
	issued  metric.Int64Counter

	state atomic.Pointer[engineState]
	locks [accountLockStripes]sync.Mutex
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReviewQueue enables the integrity review queue.
func WithReviewQueue(q *audit.Queue) Option {
	return func(s *Service) { s.reviews = q }
}

// WithEmitter adds an event sink next to the metrics emitter.
func WithEmitter(e events.Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = events.Fanout{s.emitter, e}
		}
	}
}

// WithReplayFilter replaces the default replay filter sizing.
func WithReplayFilter(cfg DedupeConfig) Option {
	return func(s *Service) {
		if f, err := newReplayFilter(cfg.ExpectedEvents, cfg.FalsePositiveRate, cfg.RecentSize); err == nil {
			s.replay = f
		}
	}
}

// WithQualityModel replaces the model that scores events submitted without a
// quality score.
func WithQualityModel(m integrity.Model[types.ActivityEvent]) Option {
	return func(s *Service) {
		if m != nil {
			s.quality = m
		}
	}
}

// NewService wires a service around p.
func NewService(p *params.NetworkParameters, l *ledger.Ledger, g *network.Graph, opts ...Option) (*Service, error) {
	if l == nil || g == nil {
		return nil, fmt.Errorf("rewardd: ledger and graph required")
	}
	replay, err := newReplayFilter(100_000, 0.001, 4_096)
	if err != nil {
		return nil, err
	}
	s := &Service{
		logger:  slog.Default(),
		ledger:  l,
		graph:   g,
		emitter: observability.Events(),
		replay:  replay,
		quality: integrity.EngagementQuality,
		tracer:  telemetry.Tracer("finova/rewardd"),
	}
	// Instrument errors leave a nil counter, which Submit skips.
	s.issued, _ = telemetry.Meter("finova/rewardd").Int64Counter("finova.rewards.issued",
		metric.WithDescription("FIN issued by granted or capped records."),
		metric.WithUnit("uFIN"))
	for _, opt := range opts {
		opt(s)
	}
	if err := s.SetParams(p); err != nil {
		return nil, err
	}
	return s, nil
}

// Params returns the active parameter snapshot and its fingerprint.
func (s *Service) Params() (*params.NetworkParameters, string) {
	st := s.state.Load()
	return st.params, st.fingerprint
}

// SetParams swaps the active parameter snapshot.
func (s *Service) SetParams(p *params.NetworkParameters) error {
	coordinator, err := reward.NewCoordinator(p, nil)
	if err != nil {
		return err
	}
	fingerprint, err := p.Fingerprint()
	if err != nil {
		return err
	}
	s.state.Store(&engineState{params: p, coordinator: coordinator, fingerprint: fingerprint})
	metrics.Rewards().SetParams(p.Epoch, p.Version)
	s.logger.Info("parameters activated",
		slog.Uint64("epoch", p.Epoch),
		slog.Uint64("version", p.Version),
		slog.String("phase", string(p.Phase)),
		slog.String("fingerprint", fingerprint))
	return nil
}

// Graph exposes the referral forest.
func (s *Service) Graph() *network.Graph { return s.graph }

// Ledger exposes the record ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Reviews exposes the review queue, which may be nil.
func (s *Service) Reviews() *audit.Queue { return s.reviews }

// AddReferral records a referral edge.
func (s *Service) AddReferral(ctx context.Context, edge types.ReferralEdge) (bool, error) {
	created, err := s.graph.AddEdge(ctx, edge)
	if err != nil {
		if errors.Is(err, types.ErrCycleDetected) {
			s.logger.Warn("referral rejected",
				slog.String("reason", "cycle"),
				logging.Account(string(edge.Referrer)),
				logging.MaskField("referee", string(edge.Referee)))
		}
		return false, err
	}
	return created, nil
}

// NetworkView returns the cached network view of id.
func (s *Service) NetworkView(id types.AccountID, asOf time.Time) (network.View, error) {
	p, _ := s.Params()
	return s.graph.View(id, asOf, p.Mining.ActiveWindow)
}

// Submit rewards one activity. Events are processed at most once per
// account; submissions for one account are serialised so daily totals stay
// consistent. The caller's LastRewardAt and PenaltyUntil only ever tighten
// what the ledger already records for the account.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "rewardd.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("activity", string(sub.Event.Type)))

	if err := sub.Account.Validate(); err != nil {
		return Result{}, err
	}
	quality, err := integrity.EventQuality(s.quality, sub.Event)
	if err != nil {
		return Result{}, err
	}
	sub.Event.Quality = quality
	id := sub.Account.ID
	unlock := s.lock(id)
	defer unlock()

	if existing, ok, err := s.replayed(id, sub.Event.ID); err != nil {
		return Result{}, err
	} else if ok {
		return Result{Record: existing, Duplicate: true}, nil
	}

	standing, err := s.ledger.Standing(id)
	if err != nil {
		return Result{}, err
	}
	account := sub.Account
	if standing.LastRewardAt.After(account.LastRewardAt) {
		account.LastRewardAt = standing.LastRewardAt
	}
	if standing.PenaltyUntil.After(account.PenaltyUntil) {
		account.PenaltyUntil = standing.PenaltyUntil
	}

	st := s.state.Load()
	if _, err := s.graph.Register(ctx, id, sub.Account.CreatedAt); err != nil {
		return Result{}, err
	}
	view, err := s.graph.View(id, sub.Event.Timestamp, st.params.Mining.ActiveWindow)
	if err != nil {
		return Result{}, err
	}
	epoch := types.EpochOf(sub.Event.Timestamp)
	totals, err := s.ledger.DailyTotals(id, epoch)
	if err != nil {
		return Result{}, err
	}
	outcome, err := st.coordinator.Compute(reward.Input{
		Account: account,
		Event:   sub.Event,
		Signals: sub.Signals,
		Network: view,
		Totals:  totals,
		Epoch:   epoch,
	})
	if err != nil {
		return Result{}, err
	}
	record := outcome.Record
	if record.Status == types.RewardCooldown {
		// Nothing is owed yet; the same event may be resubmitted once
		// NextEligibleAt has passed.
		metrics.Rewards().ObserveRecord(string(record.Status), record.Flags.Names(), 0, 0)
		span.SetAttributes(attribute.String("status", string(record.Status)))
		return Result{Record: record}, nil
	}
	if err := s.ledger.Append(record); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			if existing, ok, lookupErr := s.ledger.ByEvent(id, sub.Event.ID); lookupErr == nil && ok {
				return Result{Record: existing, Duplicate: true}, nil
			}
		}
		return Result{}, err
	}
	s.replay.remember(id, sub.Event.ID, record.ID)

	metrics.Rewards().ObserveRecord(string(record.Status), record.Flags.Names(), uint64(record.FinAmount), record.XPAmount)
	if s.issued != nil && record.FinAmount > 0 {
		s.issued.Add(ctx, int64(record.FinAmount), metric.WithAttributes(
			attribute.String("activity", string(sub.Event.Type)),
			attribute.String("status", string(record.Status)),
		))
	}
	s.emitter.Emit(events.RewardEmitted{Record: record})
	if outcome.LevelChange != nil {
		s.emitter.Emit(*outcome.LevelChange)
	}
	s.review(ctx, record)

	result := Result{Record: record, LevelChange: outcome.LevelChange}
	if record.RPAmount > 0 {
		level := sub.Account.Level
		if outcome.LevelChange != nil {
			level = outcome.LevelChange.Level
		}
		result.Updates, result.PropagationErr = s.propagate(ctx, network.Contribution{
			Account: id,
			Points:  record.RPAmount,
			Level:   level,
			At:      sub.Event.Timestamp,
		}, st.params)
	}
	span.SetAttributes(attribute.String("status", string(record.Status)))
	return result, nil
}

func (s *Service) propagate(ctx context.Context, c network.Contribution, p *params.NetworkParameters) ([]events.NetworkValueUpdate, error) {
	ctx, span := s.tracer.Start(ctx, "network.Propagate")
	defer span.End()
	updates, err := s.graph.Propagate(ctx, c, p)
	if err != nil {
		outcome := "error"
		if errors.Is(err, types.ErrStaleSnapshot) {
			outcome = "stale"
			metrics.Rewards().ObserveStale()
		}
		metrics.Rewards().ObservePropagation(outcome)
		span.RecordError(err)
		s.logger.Error("network propagation failed", logging.Account(string(c.Account)), slog.Any("error", err))
		return nil, err
	}
	metrics.Rewards().ObservePropagation("ok")
	for _, u := range updates {
		s.emitter.Emit(u)
	}
	return updates, nil
}

func (s *Service) review(ctx context.Context, record types.RewardRecord) {
	if s.reviews == nil || !audit.NeedsReview(record) {
		return
	}
	if err := s.reviews.Enqueue(ctx, record); err != nil {
		s.logger.Error("enqueue review failed", slog.String("record", record.ID), slog.Any("error", err))
		return
	}
	if n, err := s.reviews.Count(ctx); err == nil {
		metrics.Rewards().SetReviewQueue(int(n))
	}
}

// replayed reports whether eventID was already rewarded for account.
func (s *Service) replayed(account types.AccountID, eventID string) (types.RewardRecord, bool, error) {
	recordID, maybe := s.replay.lookup(account, eventID)
	if !maybe {
		return types.RewardRecord{}, false, nil
	}
	if recordID != "" {
		return s.ledger.Get(recordID)
	}
	return s.ledger.ByEvent(account, eventID)
}

func (s *Service) lock(id types.AccountID) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%accountLockStripes]
	mu.Lock()
	return mu.Unlock
}
