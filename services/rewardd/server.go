package rewardd

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finova/config"
	"finova/core/ledger"
	"finova/core/network"
	"finova/core/types"
	"finova/observability"
	"finova/observability/metrics"
	"finova/services/rewardd/audit"
)

const maxBodyBytes = 1 << 20

var (
	errRateLimited      = errors.New("rate limit exceeded")
	errReviewsDisabled  = errors.New("review queue not configured")
	errMalformedRequest = errors.New("malformed request body")
)

// Server exposes the reward service over HTTP.
type Server struct {
	svc     *Service
	logger  *slog.Logger
	limiter *rateLimiter
	auth    *authenticator
	hub     *Hub
	router  http.Handler
}

// ServerOption customises the HTTP surface.
type ServerOption func(*Server)

// WithAuth protects write and review routes with HMAC bearer tokens.
func WithAuth(cfg AuthConfig) ServerOption {
	return func(s *Server) {
		s.auth = newAuthenticator(cfg, s.logger)
	}
}

// WithEventStream serves hub at /v1/events.
func WithEventStream(hub *Hub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

// NewServer builds the HTTP router around svc.
func NewServer(svc *Service, limits RateLimitConfig, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger, limiter: newRateLimiter(limits)}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = newAuthenticator(AuthConfig{}, s.logger)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observeRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.With(s.limiter.middleware("referrals"), s.auth.require("referrals", ScopeWrite)).Post("/referrals", s.AddReferral)
		api.With(s.limiter.middleware("rewards"), s.auth.require("rewards", ScopeWrite)).Post("/rewards", s.SubmitReward)
		api.Get("/rewards", s.ListRewards)
		api.Get("/rewards/{id}", s.GetReward)
		api.Get("/accounts/{id}/network", s.GetNetwork)
		api.Get("/params", s.GetParams)
		api.Get("/tiers", s.ListTiers)
		api.With(s.auth.require("review", ScopeReview)).Get("/review", s.ListReviews)
		api.With(s.limiter.middleware("review"), s.auth.require("review", ScopeReview)).Post("/review/{id}", s.ResolveReview)
		if s.hub != nil {
			api.Handle("/events", s.hub)
		}
	})

	return otelhttp.NewHandler(r, "rewardd")
}

// AddReferral links a referee to its referrer.
func (s *Server) AddReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	edge, err := req.edge()
	if err != nil {
		s.fail(w, err)
		return
	}
	created, err := s.svc.AddReferral(r.Context(), edge)
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"referrer": edge.Referrer, "referee": edge.Referee, "created": created})
}

// SubmitReward computes and records the reward for one activity.
func (s *Server) SubmitReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := req.submission()
	if err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.Submit(r.Context(), sub)
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusCreated
	switch {
	case res.Duplicate:
		status = http.StatusOK
	case res.Record.Status == types.RewardCooldown:
		status = http.StatusOK
		if wait := res.Record.NextEligibleAt - res.Record.IssuedAt; wait > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(wait, 10))
		}
	}
	writeJSON(w, status, newRewardResponse(res))
}

// ListRewards pages through ledger records.
func (s *Server) ListRewards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		Account: types.AccountID(strings.TrimSpace(q.Get("account"))),
		Status:  types.RewardStatus(strings.TrimSpace(q.Get("status"))),
		Cursor:  q.Get("cursor"),
	}
	if raw := q.Get("epoch"); raw != "" {
		epoch, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("epoch must be an unsigned integer"))
			return
		}
		filter.Epoch = &epoch
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 1000"))
			return
		}
		filter.Limit = limit
	}
	records, next, err := s.svc.Ledger().List(filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "next": next})
}

// GetReward returns one record by ID.
func (s *Server) GetReward(w http.ResponseWriter, r *http.Request) {
	record, ok, err := s.svc.Ledger().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("record not found"))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type networkResponse struct {
	Snapshot        types.NetworkSnapshot `json:"snapshot"`
	Tier            string                `json:"tier"`
	MiningBonus     string                `json:"miningBonus"`
	ActiveReferrals uint32                `json:"activeReferrals"`
}

// GetNetwork returns the network view of one account.
func (s *Server) GetNetwork(w http.ResponseWriter, r *http.Request) {
	id := types.AccountID(chi.URLParam(r, "id"))
	if err := id.Validate(); err != nil {
		s.fail(w, err)
		return
	}
	view, err := s.svc.NetworkView(id, time.Now())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, networkResponse{
		Snapshot:        view.Snapshot,
		Tier:            view.Tier.Name,
		MiningBonus:     view.Tier.MiningBonus.String(),
		ActiveReferrals: view.ActiveReferrals,
	})
}

type tierResponse struct {
	Name        string    `json:"name"`
	MinRP       uint64    `json:"minRp"`
	MiningBonus string    `json:"miningBonus"`
	Commission  [3]string `json:"commission"`
	DirectCap   uint32    `json:"directCap,omitempty"`
}

// ListTiers returns the referral tier ladder, including the per-depth
// commission rates settlement applies.
func (s *Server) ListTiers(w http.ResponseWriter, _ *http.Request) {
	ladder := s.svc.Graph().Tiers().Tiers()
	out := make([]tierResponse, 0, len(ladder))
	for _, tier := range ladder {
		row := tierResponse{Name: tier.Name, MinRP: tier.MinRP, MiningBonus: tier.MiningBonus.String(), DirectCap: tier.DirectCap}
		for depth := 1; depth <= len(row.Commission); depth++ {
			row.Commission[depth-1] = tier.CommissionAt(depth).String()
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}

// GetParams returns the active parameter snapshot.
func (s *Server) GetParams(w http.ResponseWriter, _ *http.Request) {
	p, fingerprint := s.svc.Params()
	writeJSON(w, http.StatusOK, map[string]any{
		"fingerprint": fingerprint,
		"epoch":       p.Epoch,
		"version":     p.Version,
		"phase":       p.Phase,
		"params":      config.FromParameters(p),
	})
}

// ListReviews returns open review items.
func (s *Server) ListReviews(w http.ResponseWriter, r *http.Request) {
	queue := s.svc.Reviews()
	if queue == nil {
		writeError(w, http.StatusNotFound, errReviewsDisabled)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be positive"))
			return
		}
		limit = parsed
	}
	items, err := queue.Pending(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": items})
}

type resolveRequest struct {
	Reviewer string `json:"reviewer"`
	Decision string `json:"decision"`
	Confirm  bool   `json:"confirm"`
}

// ResolveReview records a reviewer decision.
func (s *Server) ResolveReview(w http.ResponseWriter, r *http.Request) {
	queue := s.svc.Reviews()
	if queue == nil {
		writeError(w, http.StatusNotFound, errReviewsDisabled)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid review id"))
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if principal, ok := principalFrom(r.Context()); ok {
		req.Reviewer = principal.Subject
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		writeError(w, http.StatusBadRequest, errors.New("reviewer required"))
		return
	}
	review, err := queue.Resolve(r.Context(), id, strings.TrimSpace(req.Reviewer), strings.TrimSpace(req.Decision), req.Confirm)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, audit.ErrResolved):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.fail(w, err)
		return
	}
	if n, err := queue.Count(r.Context()); err == nil {
		metrics.Rewards().SetReviewQueue(int(n))
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
		err = errors.New(http.StatusText(status))
	}
	writeError(w, status, err)
}

// statusFor maps domain errors to HTTP statuses. The specific network errors
// wrap ErrInvalidInput so they are checked first.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrCycleDetected),
		errors.Is(err, types.ErrStaleSnapshot),
		errors.Is(err, network.ErrAlreadyReferred),
		errors.Is(err, network.ErrDirectLimit):
		return http.StatusConflict
	case errors.Is(err, network.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(route, r.Method, status, time.Since(start))
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errMalformedRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		message = strings.TrimSpace(err.Error())
	}
	writeJSON(w, status, map[string]string{"error": message})
}
