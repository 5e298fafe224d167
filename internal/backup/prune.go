package backup

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// Prune deletes snapshots exceeding the keep policy. Each snapshot lands in
// one age tier; within a tier the newest N survive. Snapshots older than a
// year are always deleted.
func (s *Snapshotter) Prune() error {
	snapshots, err := listSnapshots(s.dir)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	now := time.Now()
	var hourly, daily, weekly, monthly []SnapshotInfo
	var doomed []string

	for _, snap := range snapshots {
		age := now.Sub(snap.CreatedAt)
		switch {
		case age < 24*time.Hour:
			hourly = append(hourly, snap)
		case age < 7*24*time.Hour:
			daily = append(daily, snap)
		case age < 30*24*time.Hour:
			weekly = append(weekly, snap)
		case age < 365*24*time.Hour:
			monthly = append(monthly, snap)
		default:
			doomed = append(doomed, snap.Path)
		}
	}

	doomed = append(doomed, overflow(hourly, s.keep.Hourly)...)
	doomed = append(doomed, overflow(daily, s.keep.Daily)...)
	doomed = append(doomed, overflow(weekly, s.keep.Weekly)...)
	doomed = append(doomed, overflow(monthly, s.keep.Monthly)...)

	var lastErr error
	for _, path := range doomed {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: prune snapshots: %w", lastErr)
	}
	return nil
}

// overflow returns the paths past the first keep entries of a tier. Tiers
// are already newest-first.
func overflow(tier []SnapshotInfo, keep int) []string {
	if len(tier) <= keep {
		return nil
	}
	paths := make([]string, 0, len(tier)-keep)
	for _, snap := range tier[keep:] {
		paths = append(paths, snap.Path)
	}
	return paths
}

func sortSnapshotsNewestFirst(snapshots []SnapshotInfo) {
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
}
