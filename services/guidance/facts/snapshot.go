// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// snapshotFile is the parsed form of a fact snapshot YAML file.
type snapshotFile struct {
	Facts []Fact `yaml:"facts"`
}

// SnapshotStore serves facts from a YAML snapshot file written by the
// ingestion pipeline. The file is reloaded when it changes on disk, so a
// snapshot refresh never requires a service restart.
//
// # Thread Safety
//
// Safe for concurrent use. Lookups read an immutable table that is swapped
// atomically on reload; readers see either the old or new snapshot, never a
// partial one.
type SnapshotStore struct {
	path    string
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	table map[string]Fact
}

// NewSnapshotStore loads the snapshot at path and starts watching it for
// changes. The returned store must be closed with Close.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	s := &SnapshotStore{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch snapshot file %s: %w", path, err)
	}
	s.watcher = watcher

	go s.watch()

	return s, nil
}

// Lookup implements Store.
func (s *SnapshotStore) Lookup(_ context.Context, kind AssertionKind, subject string) (Fact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fact, ok := s.table[factKey(kind, subject)]
	return fact, ok, nil
}

// Len returns the number of facts currently loaded.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// Close stops the file watcher.
func (s *SnapshotStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// reload parses the snapshot file and swaps the lookup table. A parse
// failure leaves the previous table in place.
func (s *SnapshotStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read fact snapshot %s: %w", s.path, err)
	}

	var file snapshotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse fact snapshot %s: %w", s.path, err)
	}

	table := make(map[string]Fact, len(file.Facts))
	for _, f := range file.Facts {
		table[factKey(f.Kind, f.Subject)] = f
	}

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()

	slog.Info("Loaded fact snapshot", "path", s.path, "facts", len(table))
	return nil
}

// watch reloads the snapshot on write events until the watcher closes.
func (s *SnapshotStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				slog.Warn("Fact snapshot reload failed, keeping previous snapshot",
					"path", s.path,
					"error", err)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Fact snapshot watcher error", "error", err)
		}
	}
}
