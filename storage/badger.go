package storage

import (
	"bytes"
	"errors"

	"github.com/dgraph-io/badger"
)

// BadgerDB is a persistent key-value store backed by Badger.
type BadgerDB struct {
	db *badger.DB
}

// NewBadgerDB opens (or creates) a Badger database in dir.
func NewBadgerDB(dir string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Put(key []byte, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BadgerDB) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Write applies the batch in a single transaction.
func (b *BadgerDB) Write(batch *Batch) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return b.IterateFrom(prefix, nil, fn)
}

func (b *BadgerDB) IterateFrom(prefix, start []byte, fn func(key, value []byte) error) error {
	seek := prefix
	if bytes.Compare(start, prefix) > 0 {
		seek = start
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerDB) Close() {
	_ = b.db.Close()
}
