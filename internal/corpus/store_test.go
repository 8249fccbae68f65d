package corpus

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
	"go.uber.org/zap"
)

func TestStoreNoCorpusUntilFirstSwap(t *testing.T) {
	s, err := New("", t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Current(); err != ErrNoSnapshot {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestStoreSwapAndBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := New("", filepath.Join(dir, "backups"), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := &propertymodel.Snapshot{
		Timestamp:  time.Unix(1000, 0).UTC(),
		Properties: []propertymodel.Property{{StreetAddress: "1 First St", PostalCode: "90001"}},
	}
	if err := s.Swap(first); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	got, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(got.Properties) != 1 || got.Properties[0].StreetAddress != "1 First St" {
		t.Fatalf("unexpected snapshot contents: %+v", got)
	}

	second := &propertymodel.Snapshot{
		Timestamp:  time.Unix(2000, 0).UTC(),
		Properties: []propertymodel.Property{{StreetAddress: "2 Second St", PostalCode: "90002"}},
	}
	if err := s.Swap(second); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	got, err = s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got.Properties[0].StreetAddress != "2 Second St" {
		t.Fatalf("swap did not install new snapshot: %+v", got)
	}

	backupPath := filepath.Join(dir, "backups", "snapshot-1000000000000.json")
	archived, err := LoadSnapshotFile(backupPath)
	if err != nil {
		t.Fatalf("expected archived backup file to exist: %v", err)
	}
	if archived.Properties[0].StreetAddress != "1 First St" {
		t.Fatalf("archived snapshot has wrong contents: %+v", archived)
	}
}

// TestStoreNoTornReads verifies that a reader holding an old *Snapshot
// continues to observe only that snapshot's properties even after a
// concurrent Swap installs a new one.
func TestStoreNoTornReads(t *testing.T) {
	s, err := New("", t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first := &propertymodel.Snapshot{
		Timestamp:  time.Unix(1, 0),
		Properties: []propertymodel.Property{{StreetAddress: "A"}, {StreetAddress: "B"}},
	}
	if err := s.Swap(first); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	reader, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	second := &propertymodel.Snapshot{
		Timestamp:  time.Unix(2, 0),
		Properties: []propertymodel.Property{{StreetAddress: "C"}},
	}
	if err := s.Swap(second); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	if len(reader.Properties) != 2 || reader.Properties[0].StreetAddress != "A" || reader.Properties[1].StreetAddress != "B" {
		t.Fatalf("reader's snapshot mutated after concurrent swap: %+v", reader.Properties)
	}
}
