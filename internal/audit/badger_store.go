// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package audit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage.
const (
	entryKeyPrefix = "audit:"
	suspKeyPrefix  = "susp:"
)

// BadgerStore implements Store using BadgerDB for durable storage.
// Entry keys embed an inverted timestamp so Badger's natural ascending
// key order yields entries most-recent-first without sorting.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger-backed audit store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// entryKey builds "audit:<inverted-ts>:<id>".
func entryKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", entryKeyPrefix, math.MaxInt64-ts.UnixNano(), id))
}

// suspKey builds "susp:<client>\x00<inverted-ts>:<id>". The per-client
// prefix makes CountSuspicious a single prefix scan. The NUL terminator
// cannot occur in an address string, so keys that extend each other
// (IPv6 contains ':') never share a scan prefix.
func suspKey(clientKey string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d:%s", suspKeyPrefix, clientKey, math.MaxInt64-ts.UnixNano(), id))
}

// Append persists an audit entry.
func (s *BadgerStore) Append(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(entry.Timestamp, entry.ID), data); err != nil {
			return fmt.Errorf("set audit entry: %w", err)
		}
		if entry.Suspicious {
			if err := txn.Set(suspKey(entry.ClientKey, entry.Timestamp, entry.ID), nil); err != nil {
				return fmt.Errorf("set suspicious index: %w", err)
			}
		}
		return nil
	})
}

// Query retrieves entries matching the filter, most-recent-first.
func (s *BadgerStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	var results []Entry
	skipped := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode audit entry: %w", err)
			}

			if !filter.matches(&entry) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			results = append(results, entry)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Count returns the number of retained entries.
func (s *BadgerStore) Count(ctx context.Context) (int64, error) {
	return s.countPrefix([]byte(entryKeyPrefix))
}

// CountSuspicious returns the suspicious-entry count for a client key.
func (s *BadgerStore) CountSuspicious(ctx context.Context, clientKey string) (int, error) {
	n, err := s.countPrefix([]byte(suspKeyPrefix + clientKey + "\x00"))
	return int(n), err
}

// countPrefix counts keys under a prefix without loading values.
func (s *BadgerStore) countPrefix(prefix []byte) (int64, error) {
	var count int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// PurgeAll removes every entry and the suspicious index.
func (s *BadgerStore) PurgeAll(ctx context.Context) error {
	if err := s.db.DropPrefix([]byte(entryKeyPrefix), []byte(suspKeyPrefix)); err != nil {
		return fmt.Errorf("purge audit store: %w", err)
	}
	return nil
}

// CleanupExpired removes entries older than the cutoff. Expired entries
// sort after the cutoff key because keys embed an inverted timestamp.
func (s *BadgerStore) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	var entryKeys [][]byte
	var suspKeys [][]byte

	cutoff := []byte(fmt.Sprintf("%s%020d", entryKeyPrefix, math.MaxInt64-before.UnixNano()))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(cutoff); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode audit entry: %w", err)
			}
			if !entry.Timestamp.Before(before) {
				continue
			}
			entryKeys = append(entryKeys, it.Item().KeyCopy(nil))
			if entry.Suspicious {
				suspKeys = append(suspKeys, suspKey(entry.ClientKey, entry.Timestamp, entry.ID))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(entryKeys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range append(entryKeys, suspKeys...) {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete expired entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush expired deletes: %w", err)
	}

	return len(entryKeys), nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
