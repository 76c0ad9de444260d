package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/types"
)

// DedupPruner prunes the processed-events dedup window.
type DedupPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeadLetterArchiver reads and purges resolved dead-letter entries.
type DeadLetterArchiver interface {
	ResolvedBefore(ctx context.Context, cutoff time.Time) ([]types.DeadLetterEntry, error)
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceConfig bounds the two retention windows.
type MaintenanceConfig struct {
	// DedupTTL is how long processed-event ids are kept. Must exceed the
	// broker's maximum redelivery window or pruned ids lose their dedup
	// protection.
	DedupTTL time.Duration
	// ArchiveAfter is how long resolved dead letters stay queryable before
	// being exported and purged.
	ArchiveAfter time.Duration
	// ArchiveDir is where gzip exports are written.
	ArchiveDir string
}

// MaintenanceResult summarizes one maintenance run.
type MaintenanceResult struct {
	DedupRowsPruned   int64
	DeadLettersPurged int64
	ArchiveFile       string
}

// Maintenance keeps the dedup and dead-letter stores bounded. Runs on the
// same periodic trigger as the recurrence processor; both halves are
// independent and run concurrently.
type Maintenance struct {
	dedup       DedupPruner
	deadLetters DeadLetterArchiver
	cfg         MaintenanceConfig
	logger      *slog.Logger
}

// NewMaintenance creates the maintenance job.
func NewMaintenance(dedup DedupPruner, deadLetters DeadLetterArchiver, cfg MaintenanceConfig, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		dedup:       dedup,
		deadLetters: deadLetters,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run executes one maintenance pass. The two halves fail independently; the
// first error is returned after both complete.
func (m *Maintenance) Run(ctx context.Context, now time.Time) (MaintenanceResult, error) {
	var result MaintenanceResult

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cutoff := now.Add(-m.cfg.DedupTTL)
		pruned, err := m.dedup.DeleteOlderThan(gCtx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning processed events: %w", err)
		}
		result.DedupRowsPruned = pruned
		m.logger.InfoContext(gCtx, "pruned processed events",
			"rows", pruned,
			"cutoff", cutoff.Format(time.RFC3339),
		)
		return nil
	})

	g.Go(func() error {
		cutoff := now.Add(-m.cfg.ArchiveAfter)
		file, purged, err := m.archiveDeadLetters(gCtx, cutoff, now)
		if err != nil {
			return fmt.Errorf("archiving dead letters: %w", err)
		}
		result.DeadLettersPurged = purged
		result.ArchiveFile = file
		return nil
	})

	err := g.Wait()
	return result, err
}

// archiveDeadLetters exports resolved entries older than cutoff to a gzip
// JSON-lines file, then purges them. Export happens before purge so a purge
// failure costs duplicate archive lines, never lost entries.
func (m *Maintenance) archiveDeadLetters(ctx context.Context, cutoff, now time.Time) (string, int64, error) {
	entries, err := m.deadLetters.ResolvedBefore(ctx, cutoff)
	if err != nil {
		return "", 0, err
	}
	if len(entries) == 0 {
		return "", 0, nil
	}

	path := filepath.Join(m.cfg.ArchiveDir,
		fmt.Sprintf("dead-letters-%s.jsonl.gz", now.UTC().Format("20060102T150405Z")))
	if err := writeArchive(path, entries); err != nil {
		return "", 0, err
	}

	purged, err := m.deadLetters.PurgeResolvedBefore(ctx, cutoff)
	if err != nil {
		return path, 0, err
	}

	m.logger.InfoContext(ctx, "archived resolved dead letters",
		"entries", len(entries),
		"purged", purged,
		"archive", path,
	)
	return path, purged, nil
}

// writeArchive writes entries as gzip-compressed JSON lines.
func writeArchive(path string, entries []types.DeadLetterEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			zw.Close()
			return fmt.Errorf("encoding archive entry %s: %w", entries[i].ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return f.Sync()
}
