package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRewardMetrics(t *testing.T) {
	m := Rewards()
	if Rewards() != m {
		t.Fatalf("expected singleton registry")
	}
	m.ObserveRecord("granted", []string{"capped"}, 1_500, 20)
	m.ObserveRecord("cooldown", nil, 0, 0)
	if got := testutil.ToFloat64(m.records.WithLabelValues("granted")); got != 1 {
		t.Fatalf("granted records: %v", got)
	}
	if got := testutil.ToFloat64(m.flags.WithLabelValues("capped")); got != 1 {
		t.Fatalf("capped flags: %v", got)
	}
	if got := testutil.ToFloat64(m.finIssued); got != 1_500 {
		t.Fatalf("fin issued: %v", got)
	}
	m.SetParams(20_000, 7)
	if got := testutil.ToFloat64(m.paramsVer); got != 7 {
		t.Fatalf("params version: %v", got)
	}
	var nilMetrics *RewardMetrics
	nilMetrics.ObserveRecord("granted", nil, 1, 1)
}
