package rewardd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finova/core/network"
	"finova/core/types"
	"finova/services/rewardd/audit"
)

func newTestServer(t *testing.T, opts ...Option) (*Service, http.Handler) {
	t.Helper()
	svc := newTestService(t, opts...)
	srv := NewServer(svc, RateLimitConfig{RequestsPerMinute: 6_000, Burst: 100}, nil)
	return svc, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func rewardBody(account, eventID, quality, signal string) string {
	return fmt.Sprintf(`{
		"account": {"id": %q, "created_at": %q},
		"event": {"id": %q, "type": "original_post", "platform": "app", "quality": %q, "timestamp": %q},
		"signals": {"device_consistency": %q, "timing_naturalness": %q, "social_graph_validity": %q, "content_uniqueness": %q}
	}`, account, epochStart.Add(-48*time.Hour).Format(time.RFC3339), eventID, quality, eventTime.Format(time.RFC3339),
		signal, signal, signal, signal)
}

type rewardReply struct {
	Record    types.RewardRecord `json:"record"`
	Flags     []string           `json:"flags"`
	Fin       string             `json:"fin"`
	Duplicate bool               `json:"duplicate"`
	Error     string             `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRewardLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"bob","referee":"alice","created_at":"2024-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"bob","referee":"alice","created_at":"2024-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/rewards", rewardBody("alice", "evt-1", "1.0", "1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[rewardReply](t, rec)
	require.Equal(t, types.RewardGranted, first.Record.Status)
	require.Equal(t, "0.152000", first.Fin)
	require.False(t, first.Duplicate)

	rec = do(t, h, http.MethodPost, "/v1/rewards", rewardBody("alice", "evt-1", "1.0", "1"))
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[rewardReply](t, rec)
	require.True(t, again.Duplicate)
	require.Equal(t, first.Record.ID, again.Record.ID)

	rec = do(t, h, http.MethodGet, "/v1/rewards?account=alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Records []types.RewardRecord `json:"records"`
		Next    string               `json:"next"`
	}](t, rec)
	require.Len(t, page.Records, 1)
	require.Empty(t, page.Next)

	rec = do(t, h, http.MethodGet, "/v1/rewards/"+first.Record.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/rewards/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/accounts/bob/network", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[networkResponse](t, rec)
	require.Equal(t, types.AccountID("bob"), view.Snapshot.Account)
	require.Positive(t, view.Snapshot.Value)
	require.NotEmpty(t, view.Tier)
}

func TestRewardCooldownIsNotCreated(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/v1/rewards", rewardBody("alice", "evt-1", "1.0", "1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/rewards", rewardBody("alice", "evt-2", "1.0", "1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "3600", rec.Header().Get("Retry-After"))
	reply := decode[rewardReply](t, rec)
	require.Equal(t, types.RewardCooldown, reply.Record.Status)
	require.False(t, reply.Duplicate)

	rec = do(t, h, http.MethodGet, "/v1/rewards?account=alice", "")
	page := decode[struct {
		Records []types.RewardRecord `json:"records"`
	}](t, rec)
	require.Len(t, page.Records, 1)
}

func TestReferralErrors(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"a","referee":"b"}`).Code)

	rec := do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"b","referee":"a"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"c","referee":"b"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"a","referee":"a"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"bad id","referee":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRewardValidation(t *testing.T) {
	_, h := newTestServer(t)
	cases := map[string]string{
		"bad quality":   rewardBody("alice", "evt-1", "abc", "1"),
		"quality range": rewardBody("alice", "evt-2", "9", "1"),
		"unknown field": `{"account":{"id":"alice"},"extra":true}`,
		"not json":      `{`,
	}
	for name, body := range cases {
		rec := do(t, h, http.MethodPost, "/v1/rewards", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.NotEmpty(t, decode[rewardReply](t, rec).Error, name)
	}

	rec := do(t, h, http.MethodGet, "/v1/rewards?epoch=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/rewards?cursor=zz", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNetworkUnknownAccount(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/accounts/ghost/network", "").Code)
}

func TestParamsEndpoint(t *testing.T) {
	svc, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/v1/params", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	_, fingerprint := svc.Params()
	require.Equal(t, fingerprint, body["fingerprint"])
	require.EqualValues(t, testEpoch, body["epoch"])
}

func TestTiersEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/v1/tiers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Tiers []tierResponse `json:"tiers"`
	}](t, rec)
	require.Len(t, body.Tiers, 5)
	require.Equal(t, "explorer", body.Tiers[0].Name)
	require.Equal(t, uint64(50_000), body.Tiers[4].MinRP)
	require.NotEqual(t, body.Tiers[0].Commission[0], body.Tiers[4].Commission[0])
}

func TestReviewEndpoints(t *testing.T) {
	_, h := newTestServer(t, WithReviewQueue(newTestQueue(t)))
	rec := do(t, h, http.MethodPost, "/v1/rewards", rewardBody("mallory", "evt-1", "1.0", "0.1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, types.RewardRejected, decode[rewardReply](t, rec).Record.Status)

	rec = do(t, h, http.MethodGet, "/v1/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Reviews []audit.Review `json:"reviews"`
	}](t, rec)
	require.Len(t, list.Reviews, 1)
	id := list.Reviews[0].ID.String()

	rec = do(t, h, http.MethodPost, "/v1/review/"+id, `{"reviewer":"ops","decision":"bot farm","confirm":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, audit.StateConfirmed, decode[audit.Review](t, rec).State)

	rec = do(t, h, http.MethodPost, "/v1/review/"+id, `{"reviewer":"ops","confirm":false}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/review/not-a-uuid", `{"reviewer":"ops"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewDisabled(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/review", "").Code)
}

func TestRateLimitThrottles(t *testing.T) {
	svc := newTestService(t)
	h := NewServer(svc, RateLimitConfig{RequestsPerMinute: 1, Burst: 1}, nil).Handler()
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"a","referee":"b"}`).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/v1/referrals", `{"referrer":"a","referee":"c"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{network.ErrCycleDetected, http.StatusConflict},
		{network.ErrStaleSnapshot, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", network.ErrAlreadyReferred), http.StatusConflict},
		{network.ErrUnknownAccount, http.StatusNotFound},
		{types.InvalidInputf("bad"), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
