package rewardd

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"

	"finova/core/types"
)

// replayFilter answers "was this event already rewarded?" without a ledger
// read for the common case. The bloom filter rules out unseen events; the LRU
// remembers the record ids of recent ones. A bloom hit that misses the LRU
// still has to be confirmed against the ledger.
type replayFilter struct {
	mu     sync.RWMutex
	seen   *bloom.BloomFilter
	recent *lru.Cache[string, string]
}

func newReplayFilter(expected uint, fpRate float64, recentSize int) (*replayFilter, error) {
	recent, err := lru.New[string, string](recentSize)
	if err != nil {
		return nil, err
	}
	return &replayFilter{
		seen:   bloom.NewWithEstimates(expected, fpRate),
		recent: recent,
	}, nil
}

func replayKey(account types.AccountID, eventID string) string {
	return string(account) + "/" + eventID
}

// lookup returns the record id when the event is known to be rewarded and
// maybe=true when the ledger must be consulted.
func (f *replayFilter) lookup(account types.AccountID, eventID string) (id string, maybe bool) {
	key := replayKey(account, eventID)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.seen.TestString(key) {
		return "", false
	}
	if id, ok := f.recent.Get(key); ok {
		return id, true
	}
	return "", true
}

func (f *replayFilter) remember(account types.AccountID, eventID, recordID string) {
	key := replayKey(account, eventID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen.AddString(key)
	f.recent.Add(key, recordID)
}
