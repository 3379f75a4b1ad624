// Package statestore provides durable named-blob persistence with atomic
// replace and crash recovery.
//
// Each Store owns one JSON blob under the data directory. Writes stage to a
// temporary file, fsync, then install via atomic rename, so a crash mid-write
// never leaves a half-written blob visible. On a successful load the primary
// blob is opportunistically copied to a .bak file; if a later load finds the
// primary missing or unparseable it falls back to that backup, then to the
// caller-supplied default. Load failures are logged, never surfaced.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"log/slog"
)

// Store persists one named value of type T.
type Store[T any] struct {
	name     string
	dir      string
	logger   *slog.Logger
	validate func(*T) // optional; sanitizes loaded data

	mu    sync.Mutex
	value T
	has   bool
	dirty bool
}

// New creates a store for the named blob under dir. The validate callback,
// when non-nil, runs on every loaded value (primary or backup) so callers can
// clamp out-of-bounds fields and truncate oversized rings.
func New[T any](dir, name string, logger *slog.Logger, validate func(*T)) *Store[T] {
	return &Store[T]{name: name, dir: dir, logger: logger, validate: validate}
}

// Name returns the logical blob name.
func (s *Store[T]) Name() string { return s.name }

func (s *Store[T]) path() string       { return filepath.Join(s.dir, s.name+".json") }
func (s *Store[T]) backupPath() string { return s.path() + ".bak" }

// Load reads the blob, falling back to the backup and then to def. The loaded
// value becomes the store's current value.
func (s *Store[T]) Load(def T) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, err := s.read(s.path()); err == nil {
		// Primary is good: refresh the last-known-good backup.
		if data, rerr := os.ReadFile(s.path()); rerr == nil {
			if werr := os.WriteFile(s.backupPath(), data, 0o600); werr != nil {
				s.logger.Warn("statestore: backup refresh failed", "name", s.name, "error", werr)
			}
		}
		s.value, s.has = v, true
		return v
	} else if !os.IsNotExist(err) {
		s.logger.Warn("statestore: primary blob unreadable, trying backup", "name", s.name, "error", err)
	}

	if v, err := s.read(s.backupPath()); err == nil {
		s.logger.Warn("statestore: recovered from backup", "name", s.name)
		s.value, s.has, s.dirty = v, true, true
		return v
	}

	s.value, s.has = def, true
	return def
}

func (s *Store[T]) read(path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("statestore: parse %s: %w", path, err)
	}
	if s.validate != nil {
		s.validate(&v)
	}
	return v, nil
}

// Set replaces the current value and marks the store dirty. The value is not
// written until the next Flush (manual, or via the Manager's flush loop).
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	s.value, s.has, s.dirty = v, true, true
	s.mu.Unlock()
}

// Get returns the current value. Load must have been called first.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Flush writes the current value if dirty. Idempotent: a clean store is a
// no-op, so the periodic flush loop and the shutdown path can both call it
// without double-writing.
func (s *Store[T]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || !s.has {
		return nil
	}

	data, err := json.Marshal(s.value)
	if err != nil {
		return fmt.Errorf("statestore: marshal %s: %w", s.name, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("statestore: create directory: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("statestore: write tmp %s: %w", s.name, err)
	}

	// Sync the temp file before rename for crash safety.
	f, err := os.Open(tmp) //nolint:gosec // path is constructed from s.dir
	if err != nil {
		return fmt.Errorf("statestore: open tmp for sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("statestore: sync tmp: %w", err)
	}
	_ = f.Close()

	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("statestore: rename %s: %w", s.name, err)
	}

	s.dirty = false
	return nil
}

// Dirty reports whether the store has unflushed changes.
func (s *Store[T]) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
