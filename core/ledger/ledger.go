// Package ledger is the append-only store of sealed reward records.
package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"finova/core/reward"
	"finova/core/types"
	"finova/storage"
)

const (
	recordKeyFormat   = "rewards/ledger/%020d/%s"
	idKeyFormat       = "rewards/id/%s"
	eventKeyFormat    = "rewards/event/%s/%s"
	accountKeyPrefix  = "rewards/account/%s/"
	accountKeyFormat  = accountKeyPrefix + "%020d/%s"
	epochKeyPrefix    = "rewards/ledger/%020d/"
	ledgerKeyPrefix   = "rewards/ledger/"
	standingKeyFormat = "rewards/standing/%s"

	defaultPageLimit = 200
)

var (
	// ErrDuplicate is returned when a record for the same account event was
	// already appended.
	ErrDuplicate = errors.New("ledger: record already exists")
	// ErrNotInitialised guards against zero-value ledgers.
	ErrNotInitialised = errors.New("ledger: not initialised")
)

// Ledger persists sealed records. Records are immutable once appended.
type Ledger struct {
	db storage.Database
	mu sync.RWMutex
}

// New constructs a ledger on top of db.
func New(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// Append verifies and stores a record together with its indexes in one
// batch.
func (l *Ledger) Append(record types.RewardRecord) error {
	if l == nil || l.db == nil {
		return ErrNotInitialised
	}
	if err := reward.Verify(record); err != nil {
		return err
	}
	encoded, err := reward.Encode(record)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	eventKey := []byte(fmt.Sprintf(eventKeyFormat, record.Account, record.EventID))
	exists, err := l.db.Has(eventKey)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, record.Account, record.EventID)
	}
	recordKey := []byte(fmt.Sprintf(recordKeyFormat, record.Epoch, record.ID))
	batch := new(storage.Batch)
	batch.Put(recordKey, encoded)
	batch.Put([]byte(fmt.Sprintf(idKeyFormat, record.ID)), recordKey)
	batch.Put(eventKey, recordKey)
	batch.Put([]byte(fmt.Sprintf(accountKeyFormat, record.Account, record.Epoch, record.ID)), recordKey)
	if err := l.advanceStanding(batch, record); err != nil {
		return err
	}
	return l.db.Write(batch)
}

// Get returns the record with the given ID.
func (l *Ledger) Get(id string) (types.RewardRecord, bool, error) {
	if l == nil || l.db == nil {
		return types.RewardRecord{}, false, ErrNotInitialised
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolve([]byte(fmt.Sprintf(idKeyFormat, id)))
}

// ByEvent returns the record produced for an account's event.
func (l *Ledger) ByEvent(account types.AccountID, eventID string) (types.RewardRecord, bool, error) {
	if l == nil || l.db == nil {
		return types.RewardRecord{}, false, ErrNotInitialised
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolve([]byte(fmt.Sprintf(eventKeyFormat, account, eventID)))
}

func (l *Ledger) resolve(indexKey []byte) (types.RewardRecord, bool, error) {
	recordKey, err := l.db.Get(indexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return types.RewardRecord{}, false, nil
	}
	if err != nil {
		return types.RewardRecord{}, false, err
	}
	data, err := l.db.Get(recordKey)
	if err != nil {
		return types.RewardRecord{}, false, fmt.Errorf("ledger: dangling index %s: %w", indexKey, err)
	}
	record, err := reward.Decode(data)
	if err != nil {
		return types.RewardRecord{}, false, err
	}
	return record, true, nil
}

// Filter narrows List results.
type Filter struct {
	Epoch   *uint64
	Account types.AccountID
	Status  types.RewardStatus
	Cursor  string
	Limit   int
}

var errPageFull = errors.New("ledger: page full")

// List returns records matching filter ordered by epoch then ID, with the
// cursor of the next page. The cursor is the hex-encoded store key of the
// last record returned, so each page seeks straight past it.
func (l *Ledger) List(filter Filter) ([]types.RewardRecord, string, error) {
	if l == nil || l.db == nil {
		return nil, "", ErrNotInitialised
	}
	var (
		prefix   string
		indirect bool
	)
	switch {
	case filter.Account != "":
		prefix, indirect = fmt.Sprintf(accountKeyPrefix, filter.Account), true
		if filter.Epoch != nil {
			prefix += fmt.Sprintf("%020d/", *filter.Epoch)
		}
	case filter.Epoch != nil:
		prefix = fmt.Sprintf(epochKeyPrefix, *filter.Epoch)
	default:
		prefix = ledgerKeyPrefix
	}
	var start []byte
	if filter.Cursor != "" {
		last, err := hex.DecodeString(filter.Cursor)
		if err != nil || !bytes.HasPrefix(last, []byte(prefix)) {
			return nil, "", types.InvalidInputf("ledger: invalid cursor %q", filter.Cursor)
		}
		start = append(last, 0)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]types.RewardRecord, 0, min(limit, defaultPageLimit))
	var lastKey []byte
	next := ""
	err := l.db.IterateFrom([]byte(prefix), start, func(key, value []byte) error {
		data := value
		if indirect {
			var err error
			if data, err = l.db.Get(value); err != nil {
				return fmt.Errorf("ledger: dangling index %s: %w", key, err)
			}
		}
		record, err := reward.Decode(data)
		if err != nil {
			return err
		}
		if filter.Status != "" && record.Status != filter.Status {
			return nil
		}
		if len(records) == limit {
			next = hex.EncodeToString(lastKey)
			return errPageFull
		}
		records = append(records, record)
		lastKey = key
		return nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		return nil, "", err
	}
	return records, next, nil
}

// DailyTotals folds the account's records for epoch into rolling totals.
func (l *Ledger) DailyTotals(account types.AccountID, epoch uint64) (types.DailyTotals, error) {
	if l == nil || l.db == nil {
		return types.DailyTotals{}, ErrNotInitialised
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	totals := types.DailyTotals{Epoch: epoch}
	prefix := fmt.Sprintf(accountKeyPrefix+"%020d/", account, epoch)
	err := l.db.Iterate([]byte(prefix), func(key, recordKey []byte) error {
		data, err := l.db.Get(recordKey)
		if err != nil {
			return fmt.Errorf("ledger: dangling index %s: %w", key, err)
		}
		record, err := reward.Decode(data)
		if err != nil {
			return err
		}
		totals.Apply(record)
		return nil
	})
	if err != nil {
		return types.DailyTotals{}, err
	}
	return totals, nil
}

// Standing is the reward timing the ledger has recorded for an account: the
// issue time of its latest granted record and the end of its latest
// integrity penalty.
type Standing struct {
	LastRewardAt time.Time
	PenaltyUntil time.Time
}

// Standing returns the recorded timing for account. Accounts without records
// have a zero standing.
func (l *Ledger) Standing(account types.AccountID) (Standing, error) {
	if l == nil || l.db == nil {
		return Standing{}, ErrNotInitialised
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	last, penalty, err := l.standing(account)
	if err != nil {
		return Standing{}, err
	}
	return Standing{LastRewardAt: unixTime(last), PenaltyUntil: unixTime(penalty)}, nil
}

type rlpStanding struct {
	LastRewardAt uint64
	PenaltyUntil uint64
}

func (l *Ledger) standing(account types.AccountID) (lastReward, penaltyUntil int64, err error) {
	data, err := l.db.Get([]byte(fmt.Sprintf(standingKeyFormat, account)))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	var raw rlpStanding
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return 0, 0, fmt.Errorf("ledger: decode standing for %s: %w", account, err)
	}
	return int64(raw.LastRewardAt), int64(raw.PenaltyUntil), nil
}

// advanceStanding queues the standing update implied by record, if any.
func (l *Ledger) advanceStanding(batch *storage.Batch, record types.RewardRecord) error {
	last, penalty, err := l.standing(record.Account)
	if err != nil {
		return err
	}
	changed := false
	switch record.Status {
	case types.RewardGranted:
		if record.IssuedAt > last {
			last, changed = record.IssuedAt, true
		}
	case types.RewardRejected:
		if record.NextEligibleAt > penalty {
			penalty, changed = record.NextEligibleAt, true
		}
	}
	if !changed {
		return nil
	}
	buf, err := rlp.EncodeToBytes(rlpStanding{LastRewardAt: uint64(last), PenaltyUntil: uint64(penalty)})
	if err != nil {
		return err
	}
	batch.Put([]byte(fmt.Sprintf(standingKeyFormat, record.Account)), buf)
	return nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
