// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces escalation records inside the database. The key
// embeds a nanosecond timestamp so lexicographic order is chronological.
const keyPrefix = "escalation/"

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerSink persists escalation records in an embedded BadgerDB so the
// review queue survives a restart. Records are written synchronously; a
// record accepted by Submit is durable.
//
// Safe for concurrent use.
type BadgerSink struct {
	db *badger.DB
}

// OpenBadgerSink opens (or creates) a sink at the given directory.
func OpenBadgerSink(path string) (*BadgerSink, error) {
	if path == "" {
		return nil, errors.New("path is required for a persistent escalation sink")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create escalation directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open escalation database: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// OpenInMemoryBadgerSink opens a non-persistent sink for tests.
func OpenInMemoryBadgerSink() (*BadgerSink, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory escalation database: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

// Submit implements Sink.
func (s *BadgerSink) Submit(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation record: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d/%s", keyPrefix, record.CreatedAt.UnixNano(), record.ID))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to persist escalation record: %w", err)
	}

	slog.Info("Escalation record queued for review",
		"record_id", record.ID,
		"reason", string(record.Reason),
	)
	return nil
}

// List implements Sink, returning up to limit records newest first.
func (s *BadgerSink) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the end of the prefix range.
		seek := append([]byte(keyPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(keyPrefix)) && len(records) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to unmarshal escalation record: %w", err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Len returns the number of stored records. Used by tests and the health
// endpoint.
func (s *BadgerSink) Len() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
