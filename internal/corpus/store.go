// Package corpus implements the Corpus Store (C1): an immutable in-memory
// view of the property snapshot the match engine reads, with an atomic swap
// operation and file-backed backup of the outgoing snapshot.
//
// Grounded on internal/identity/ca.go's load-or-create disk persistence and
// internal/resolver/cache.go's mutex-guarded swap; unlike the resolver cache
// (many small mutable entries), the store here swaps one immutable value at
// a time so readers never observe a torn snapshot.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
	"go.uber.org/zap"
)

// ErrNoSnapshot is returned by Current when the store has never been
// initialized with a snapshot.
var ErrNoSnapshot = errors.New("corpus: no current snapshot")

// Store holds the current Snapshot behind an atomic pointer so Current never
// blocks on a concurrent Swap, and a concurrent Swap never affects a reader
// mid-iteration (the reader already holds its own *Snapshot value).
type Store struct {
	current   atomic.Pointer[propertymodel.Snapshot]
	backupDir string
	logger    *zap.Logger
}

// New creates a Store that archives outgoing snapshots under backupDir.
// If snapshotPath names an existing file, it is loaded as the initial
// current snapshot; otherwise the store starts empty and Current returns
// ErrNoSnapshot until the first Swap.
func New(snapshotPath, backupDir string, logger *zap.Logger) (*Store, error) {
	s := &Store{backupDir: backupDir, logger: logger}

	if snapshotPath == "" {
		return s, nil
	}
	snap, err := loadSnapshotFile(snapshotPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("corpus: no snapshot file found at startup, serving no-corpus", zap.String("path", snapshotPath))
			return s, nil
		}
		return nil, fmt.Errorf("corpus: load initial snapshot: %w", err)
	}
	s.current.Store(snap)
	return s, nil
}

// Current returns the active snapshot. Non-blocking: it is a single atomic
// pointer load, so it never waits on a writer performing Swap.
func (s *Store) Current() (*propertymodel.Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// Swap atomically installs next as the current snapshot and archives the
// previously-current snapshot (if any) to backupDir, keyed by its timestamp.
// The swap itself is a single atomic pointer store: any reader that already
// holds the old *Snapshot continues to observe it in full; any reader that
// calls Current afterward observes next in full. No partial snapshot is ever
// visible.
func (s *Store) Swap(next *propertymodel.Snapshot) error {
	if next == nil {
		return fmt.Errorf("corpus: cannot swap in a nil snapshot")
	}

	prev := s.current.Swap(next)

	if prev != nil && s.backupDir != "" {
		if err := s.archive(prev); err != nil {
			// The swap has already happened; a failed backup is logged but
			// does not roll back the swap, since the new snapshot is valid
			// and readers are already depending on it.
			s.logger.Warn("corpus: failed to archive outgoing snapshot", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) archive(snap *propertymodel.Snapshot) error {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("snapshot-%d.json", snap.Timestamp.UnixNano())
	path := filepath.Join(s.backupDir, name)
	return writeSnapshotFile(path, snap)
}

// onDiskSnapshot is the JSON wire shape for a persisted snapshot file.
type onDiskSnapshot struct {
	Timestamp  time.Time                  `json:"timestamp"`
	Properties []propertymodel.Property   `json:"properties"`
}

func loadSnapshotFile(path string) (*propertymodel.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d onDiskSnapshot
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot file %s: %w", path, err)
	}
	return &propertymodel.Snapshot{Properties: d.Properties, Timestamp: d.Timestamp}, nil
}

func writeSnapshotFile(path string, snap *propertymodel.Snapshot) error {
	d := onDiskSnapshot{Timestamp: snap.Timestamp, Properties: snap.Properties}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteActive persists the current snapshot to path.
func (s *Store) WriteActive(path string) error {
	snap, err := s.Current()
	if err != nil {
		return err
	}
	return writeSnapshotFile(path, snap)
}

// LoadSnapshotFile exposes the file loader for callers (e.g. the corpus
// reload HTTP handler) that need to read a snapshot file independent of a
// Store instance.
func LoadSnapshotFile(path string) (*propertymodel.Snapshot, error) {
	return loadSnapshotFile(path)
}
