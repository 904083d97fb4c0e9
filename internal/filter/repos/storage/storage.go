// Package storage persists the whole rule-service state as one JSON
// document per profile, with versioned load-time migrations driven by the
// service layer and debounced, crash-safe writes.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haukened/rr-filter/internal/filter/common/clock"
	"github.com/haukened/rr-filter/internal/filter/common/log"
)

const (
	// StateFileName is the document's file name inside the profile dir.
	StateFileName = "AdBlockState"

	// saveDebounce coalesces every mutation since the previous write into
	// one disk write.
	saveDebounce = 2 * time.Second
)

// SnapshotFunc collects the current in-memory state into a Document. It is
// called at write time, so all mutations inside the debounce window fold
// into one snapshot.
type SnapshotFunc func() Document

// LoadResult is what Load hands back. A missing or unreadable file yields
// the zero document with FirstRun set; callers treat that as a fresh
// profile, not an error.
type LoadResult struct {
	Doc      Document
	FirstRun bool
}

// Store owns the persisted document's path, the debounce timer, and the
// one-time startup backup.
type Store struct {
	path      string
	scheduler clock.Scheduler
	logger    log.Logger

	mu       sync.Mutex
	snapshot SnapshotFunc
	pending  clock.Timer

	backupOnce sync.Once
}

// Options configures a Store.
type Options struct {
	// Dir is the profile directory holding the document.
	Dir       string
	Scheduler clock.Scheduler
	Logger    log.Logger
}

// New constructs a Store. The snapshot provider is wired separately because
// the services that produce it are built after the store.
func New(opts Options) *Store {
	if opts.Scheduler == nil {
		opts.Scheduler = clock.RealScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Store{
		path:      filepath.Join(opts.Dir, StateFileName),
		scheduler: opts.Scheduler,
		logger:    opts.Logger,
	}
}

// SetSnapshotProvider wires the function that collects state at write time.
func (s *Store) SetSnapshotProvider(fn SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = fn
}

// Path returns the document's full path.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the persisted document. Any failure - missing
// file, unreadable file, bad JSON - yields an all-defaults result marked as
// a first run; the worst outcome of a broken state file is a fresh profile.
func (s *Store) Load() LoadResult {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(map[string]any{
				"path":  s.path,
				"error": err.Error(),
			}, "state file unreadable, starting fresh")
		}
		return LoadResult{FirstRun: true}
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn(map[string]any{
			"path":  s.path,
			"error": err.Error(),
		}, "state file corrupt, starting fresh")
		return LoadResult{FirstRun: true}
	}
	return LoadResult{Doc: doc}
}

// ScheduleSave arms the debounce timer. Repeated calls inside the window
// coalesce into the write already scheduled.
func (s *Store) ScheduleSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return
	}
	s.pending = s.scheduler.AfterFunc(saveDebounce, func() {
		s.mu.Lock()
		s.pending = nil
		fn := s.snapshot
		s.mu.Unlock()
		s.write(fn)
	})
}

// Flush forces any pending debounced write to complete synchronously.
// Called on shutdown before teardown completes.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.pending.Stop()
	s.pending = nil
	fn := s.snapshot
	s.mu.Unlock()
	s.write(fn)
}

// write serializes a snapshot and replaces the document on disk. A failed
// cycle is logged and skipped; the next mutation schedules a retry.
func (s *Store) write(fn SnapshotFunc) {
	if fn == nil {
		return
	}
	doc := fn()
	doc.Version = CurrentVersion

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.logger.Error(map[string]any{"error": err.Error()}, "state serialize failed, skipping write")
		return
	}

	s.backupOnce.Do(s.backupExisting)

	if err := replaceFile(s.path, raw); err != nil {
		s.logger.Error(map[string]any{
			"path":  s.path,
			"error": err.Error(),
		}, "state write failed, skipping cycle")
		return
	}
	s.logger.Debug(map[string]any{"path": s.path, "bytes": len(raw)}, "state written")
}

// backupExisting copies the previous document to a .bak sibling, once per
// process, before the first write overwrites it.
func (s *Store) backupExisting() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	bak := s.path + ".bak"
	if err := os.WriteFile(bak, raw, 0o600); err != nil {
		s.logger.Warn(map[string]any{
			"path":  bak,
			"error": err.Error(),
		}, "state backup failed")
	}
}

// replaceFile writes to a temp file in the same directory and atomically
// renames it over the target, so a crash mid-write never truncates the
// previous document.
func replaceFile(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
