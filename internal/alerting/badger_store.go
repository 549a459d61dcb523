// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const alertKeyPrefix = "alert:"

// BadgerStore implements Store using BadgerDB for durable storage. Alerts
// survive restarts, which keeps escalation state consistent across deploys.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// NewBadgerStore wraps an already-open BadgerDB handle. The caller retains
// ownership of the handle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens (or creates) a BadgerDB at path and wraps it. An
// empty path opens an in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

func (s *BadgerStore) Save(ctx context.Context, alert *SecurityAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(alertKeyPrefix+alert.ID), data)
	})
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	var alert SecurityAlert
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		})
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *BadgerStore) Update(ctx context.Context, alert *SecurityAlert) error {
	if _, err := s.Get(ctx, alert.ID); err != nil {
		return err
	}
	return s.Save(ctx, alert)
}

func (s *BadgerStore) List(ctx context.Context, f Filter) ([]*SecurityAlert, error) {
	var out []*SecurityAlert
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(alertKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var alert SecurityAlert
				if err := json.Unmarshal(val, &alert); err != nil {
					return nil // skip corrupt records
				}
				if f.matches(&alert) {
					out = append(out, &alert)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *BadgerStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(alertKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var alert SecurityAlert
				if err := json.Unmarshal(val, &alert); err != nil {
					return nil
				}
				if alert.Timestamp.Before(cutoff) {
					expired = append(expired, alert.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan alerts: %w", err)
	}

	removed := 0
	for _, id := range expired {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(alertKeyPrefix + id))
		})
		if err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// Close closes the underlying database if this store opened it.
func (s *BadgerStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
