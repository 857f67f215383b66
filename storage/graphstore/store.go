// Package graphstore persists the referral forest and its cached network
// snapshots in a bbolt file, fronted by an LRU of decoded snapshots.
package graphstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"finova/core/network"
	"finova/core/types"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketMembers   = []byte("members")
	bucketOrder     = []byte("member_order")
)

// DefaultCacheSize bounds the decoded snapshot cache.
const DefaultCacheSize = 4096

type memberRecord struct {
	Seq          uint64 `json:"seq"`
	network.Registration
}

// Store implements network.Store on top of bbolt.
type Store struct {
	db    *bolt.DB
	cache *lru.Cache[types.AccountID, *types.NetworkSnapshot]
}

var _ network.Store = (*Store)(nil)

// Open creates or opens the store at path. cacheSize <= 0 selects
// DefaultCacheSize.
func Open(path string, cacheSize int, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[types.AccountID, *types.NetworkSnapshot](cacheSize)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketMembers, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

// Close releases the bolt handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements network.SnapshotStore. Missing accounts are omitted.
func (s *Store) Load(ctx context.Context, ids []types.AccountID) (map[types.AccountID]*types.NetworkSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[types.AccountID]*types.NetworkSnapshot, len(ids))
	var misses []types.AccountID
	for _, id := range ids {
		if snap, ok := s.cache.Get(id); ok {
			out[id] = snap.Clone()
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		for _, id := range misses {
			raw := bucket.Get([]byte(id))
			if raw == nil {
				continue
			}
			snap, err := decodeSnapshot(raw)
			if err != nil {
				return fmt.Errorf("graphstore: decode %s: %w", id, err)
			}
			s.cache.Add(id, snap)
			out[id] = snap.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Commit implements network.SnapshotStore. The version check and the writes
// run inside one bolt transaction.
func (s *Store) Commit(ctx context.Context, batch []*types.NetworkSnapshot, expected map[types.AccountID]uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		for _, snap := range batch {
			var current uint64
			if raw := bucket.Get([]byte(snap.Account)); raw != nil {
				existing, err := decodeSnapshot(raw)
				if err != nil {
					return fmt.Errorf("graphstore: decode %s: %w", snap.Account, err)
				}
				current = existing.Version
			}
			if current != expected[snap.Account] {
				return fmt.Errorf("%w: %s at version %d, expected %d", network.ErrStaleSnapshot, snap.Account, current, expected[snap.Account])
			}
		}
		for _, snap := range batch {
			encoded, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(snap.Account), encoded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, network.ErrStaleSnapshot) {
			for _, snap := range batch {
				s.cache.Remove(snap.Account)
			}
		}
		return err
	}
	for _, snap := range batch {
		s.cache.Add(snap.Account, snap.Clone())
	}
	return nil
}

// PutRegistration implements network.MemberStore. Re-registering keeps the
// original position.
func (s *Store) PutRegistration(ctx context.Context, reg network.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		members := tx.Bucket(bucketMembers)
		order := tx.Bucket(bucketOrder)
		rec := memberRecord{Registration: reg}
		if raw := members.Get([]byte(reg.Account)); raw != nil {
			var existing memberRecord
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			rec.Seq = existing.Seq
		} else {
			seq, err := order.NextSequence()
			if err != nil {
				return err
			}
			rec.Seq = seq
			if err := order.Put(seqKey(seq), []byte(reg.Account)); err != nil {
				return err
			}
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return members.Put([]byte(reg.Account), encoded)
	})
}

// Registrations implements network.MemberStore.
func (s *Store) Registrations(ctx context.Context) ([]network.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var regs []network.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		members := tx.Bucket(bucketMembers)
		return tx.Bucket(bucketOrder).ForEach(func(_, account []byte) error {
			raw := members.Get(account)
			if raw == nil {
				return fmt.Errorf("graphstore: member %s missing", account)
			}
			var rec memberRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			regs = append(regs, rec.Registration)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// Snapshots returns the number of persisted snapshots.
func (s *Store) Snapshots() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSnapshots).Stats().KeyN
		return nil
	})
	return n, err
}

func decodeSnapshot(raw []byte) (*types.NetworkSnapshot, error) {
	var snap types.NetworkSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}
