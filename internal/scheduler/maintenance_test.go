package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"taskpulse/internal/types"
)

type mockDedupPruner struct {
	pruned    int64
	gotCutoff time.Time
	err       error
}

func (m *mockDedupPruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.gotCutoff = cutoff
	if m.err != nil {
		return 0, m.err
	}
	return m.pruned, nil
}

type mockDeadLetterArchiver struct {
	entries    []types.DeadLetterEntry
	purgeCalls int
	listErr    error
	purgeErr   error
}

func (m *mockDeadLetterArchiver) ResolvedBefore(_ context.Context, _ time.Time) ([]types.DeadLetterEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.entries, nil
}

func (m *mockDeadLetterArchiver) PurgeResolvedBefore(_ context.Context, _ time.Time) (int64, error) {
	m.purgeCalls++
	if m.purgeErr != nil {
		return 0, m.purgeErr
	}
	return int64(len(m.entries)), nil
}

func resolvedEntry(id string, at time.Time) types.DeadLetterEntry {
	return types.DeadLetterEntry{
		ID:            id,
		OriginalEvent: []byte(`{"event_id":"` + id + `"}`),
		Topic:         "task-due-soon",
		LastError:     "notifier down",
		RetryCount:    3,
		FirstFailedAt: at,
		LastAttemptAt: at,
		Resolved:      true,
	}
}

func testMaintenanceConfig(dir string) MaintenanceConfig {
	return MaintenanceConfig{
		DedupTTL:     72 * time.Hour,
		ArchiveAfter: 30 * 24 * time.Hour,
		ArchiveDir:   dir,
	}
}

func TestMaintenance_PrunesDedupWindow(t *testing.T) {
	pruner := &mockDedupPruner{pruned: 42}
	archiver := &mockDeadLetterArchiver{}
	m := NewMaintenance(pruner, archiver, testMaintenanceConfig(t.TempDir()), discardLogger())

	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	result, err := m.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.DedupRowsPruned != 42 {
		t.Errorf("expected 42 pruned rows, got %d", result.DedupRowsPruned)
	}
	if want := now.Add(-72 * time.Hour); !pruner.gotCutoff.Equal(want) {
		t.Errorf("dedup cutoff: expected %v, got %v", want, pruner.gotCutoff)
	}
}

func TestMaintenance_ArchivesAndPurgesDeadLetters(t *testing.T) {
	old := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	archiver := &mockDeadLetterArchiver{entries: []types.DeadLetterEntry{
		resolvedEntry("dlq_a", old),
		resolvedEntry("dlq_b", old),
	}}
	dir := t.TempDir()
	m := NewMaintenance(&mockDedupPruner{}, archiver, testMaintenanceConfig(dir), discardLogger())

	result, err := m.Run(context.Background(), time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.DeadLettersPurged != 2 {
		t.Errorf("expected 2 purged, got %d", result.DeadLettersPurged)
	}
	if archiver.purgeCalls != 1 {
		t.Errorf("expected 1 purge call, got %d", archiver.purgeCalls)
	}
	if result.ArchiveFile == "" {
		t.Fatal("expected an archive file path")
	}

	// The export must round-trip: gzip JSON lines with every entry.
	f, err := os.Open(result.ArchiveFile)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("failed to open gzip stream: %v", err)
	}
	defer zr.Close()

	var ids []string
	scanner := bufio.NewScanner(zr)
	for scanner.Scan() {
		var e types.DeadLetterEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad archive line: %v", err)
		}
		ids = append(ids, e.ID)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading archive: %v", err)
	}

	if len(ids) != 2 || ids[0] != "dlq_a" || ids[1] != "dlq_b" {
		t.Errorf("archive ids: expected [dlq_a dlq_b], got %v", ids)
	}
}

func TestMaintenance_NoResolvedEntriesNoArchive(t *testing.T) {
	archiver := &mockDeadLetterArchiver{}
	m := NewMaintenance(&mockDedupPruner{}, archiver, testMaintenanceConfig(t.TempDir()), discardLogger())

	result, err := m.Run(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ArchiveFile != "" {
		t.Errorf("expected no archive file, got %s", result.ArchiveFile)
	}
	if archiver.purgeCalls != 0 {
		t.Errorf("expected no purge without entries, got %d calls", archiver.purgeCalls)
	}
}

func TestMaintenance_HalvesFailIndependently(t *testing.T) {
	// A dedup-prune failure must not stop the dead-letter half, and the
	// error must still surface.
	old := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	pruner := &mockDedupPruner{err: fmt.Errorf("db down")}
	archiver := &mockDeadLetterArchiver{entries: []types.DeadLetterEntry{
		resolvedEntry("dlq_a", old),
	}}
	m := NewMaintenance(pruner, archiver, testMaintenanceConfig(t.TempDir()), discardLogger())

	_, err := m.Run(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected the prune error to surface")
	}
	if archiver.purgeCalls != 1 {
		t.Errorf("dead-letter half should still run, purge calls: %d", archiver.purgeCalls)
	}
}

func TestMaintenance_PurgeFailureKeepsArchive(t *testing.T) {
	old := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	archiver := &mockDeadLetterArchiver{
		entries:  []types.DeadLetterEntry{resolvedEntry("dlq_a", old)},
		purgeErr: fmt.Errorf("db down"),
	}
	dir := t.TempDir()
	m := NewMaintenance(&mockDedupPruner{}, archiver, testMaintenanceConfig(dir), discardLogger())

	_, err := m.Run(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected the purge error to surface")
	}

	// Export happened before the failed purge: entries are never lost.
	files, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("reading archive dir: %v", readErr)
	}
	if len(files) != 1 {
		t.Errorf("expected the archive file to exist, found %d files", len(files))
	}
}
