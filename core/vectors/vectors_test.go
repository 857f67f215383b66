package vectors

import (
	"context"
	"testing"
)

func TestPublishedVectors(t *testing.T) {
	set, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(set.Rate) == 0 || len(set.XP) == 0 || len(set.Network) == 0 || len(set.Reward) == 0 {
		t.Fatalf("vector suites missing: %+v", set)
	}
	results, err := Run(context.Background(), set)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range results {
		if !r.Passed() {
			t.Errorf("%s/%s: got %q want %q (err %v)", r.Suite, r.Name, r.Got, r.Want, r.Err)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse([]byte("rate: [unterminated")); err == nil {
		t.Fatalf("expected parse error")
	}
}
