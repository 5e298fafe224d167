// Package backup takes point-in-time snapshots of the sqlite memory store
// and prunes old ones with a tiered keep policy. Snapshots use VACUUM INTO,
// which is consistent under WAL mode.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// KeepPolicy says how many snapshots to keep per age tier. Snapshots older
// than a year are always pruned.
type KeepPolicy struct {
	// Hourly keeps snapshots under 24 hours old (default: 24).
	Hourly int

	// Daily keeps snapshots 1-7 days old (default: 7).
	Daily int

	// Weekly keeps snapshots 7-30 days old (default: 4).
	Weekly int

	// Monthly keeps snapshots 30-365 days old (default: 12).
	Monthly int
}

// DefaultKeepPolicy returns the standard tiered policy.
func DefaultKeepPolicy() KeepPolicy {
	return KeepPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	Path      string
	CreatedAt time.Time
	Size      int64
}

// Snapshotter snapshots one sqlite database into a directory.
type Snapshotter struct {
	dbPath string
	dir    string
	keep   KeepPolicy
}

// NewSnapshotter creates a snapshotter for dbPath writing into dir.
func NewSnapshotter(dbPath, dir string, keep KeepPolicy) (*Snapshotter, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: create snapshot directory: %w", err)
	}
	if keep == (KeepPolicy{}) {
		keep = DefaultKeepPolicy()
	}
	return &Snapshotter{dbPath: dbPath, dir: dir, keep: keep}, nil
}

// Create takes one snapshot, verifies it and prunes old snapshots per the
// keep policy. The snapshot file is named by its creation time.
func (s *Snapshotter) Create(ctx context.Context) (*SnapshotInfo, error) {
	now := time.Now().UTC()
	dest := filepath.Join(s.dir, fmt.Sprintf("memories-%s.db", now.Format("20060102-150405")))

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", s.dbPath))
	if err != nil {
		return nil, fmt.Errorf("backup: open source database: %w", err)
	}
	defer src.Close()
	if err := src.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("backup: ping source database: %w", err)
	}

	if _, err := src.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("backup: snapshot database: %w", err)
	}
	if err := verifySnapshot(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("backup: stat snapshot: %w", err)
	}
	if err := s.Prune(); err != nil {
		return nil, err
	}
	return &SnapshotInfo{Path: dest, CreatedAt: now, Size: stat.Size()}, nil
}

// Restore verifies a snapshot and copies it over targetPath. The target
// database must not be open.
func (s *Snapshotter) Restore(ctx context.Context, snapshotPath, targetPath string) error {
	if err := verifySnapshot(ctx, snapshotPath); err != nil {
		return err
	}
	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: read snapshot: %w", err)
	}
	if err := os.WriteFile(targetPath, data, 0o600); err != nil {
		return fmt.Errorf("backup: write target database: %w", err)
	}
	return verifySnapshot(ctx, targetPath)
}

// List returns the snapshots in the directory, newest first.
func (s *Snapshotter) List() ([]SnapshotInfo, error) {
	return listSnapshots(s.dir)
}

// verifySnapshot runs sqlite's integrity check against a snapshot file.
func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: open snapshot %s: %w", path, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: snapshot %s failed integrity check: %s", path, result)
	}
	return nil
}

func listSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read snapshot directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}
	sortSnapshotsNewestFirst(snapshots)
	return snapshots, nil
}
