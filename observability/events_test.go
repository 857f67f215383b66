package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"finova/core/events"
	"finova/core/types"
)

func TestEventsEmitterCounts(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeRewardEmitted))
	fan := events.Fanout{m, &events.Recorder{}}
	fan.Emit(events.RewardEmitted{Record: types.RewardRecord{Account: "alice"}})
	if got := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeRewardEmitted)); got != before+1 {
		t.Fatalf("expected one more event, got %v from %v", got, before)
	}
	m.RecordEvent("  ")
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("blank type should count as unknown")
	}
}

func TestAPIObserve(t *testing.T) {
	m := API()
	m.Observe("/v1/rewards", "POST", 409, 0)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("/v1/rewards", "POST", "409")); got != 1 {
		t.Fatalf("error count: %v", got)
	}
	m.RecordThrottle("", "")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified")); got != 1 {
		t.Fatalf("throttle count: %v", got)
	}
}
