package workspace

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"time"
)

// SweepReport counts what a sweep removed
type SweepReport struct {
	Removed   []string
	Artifacts []string
	Skipped   int
}

// Sweep removes uploads, results and stored artifacts older than the retention period.
// Entries that are in use are skipped. Errors are logged per entry and never stop the sweep.
func (w *Workspace) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	cutoff := w.now().Add(-w.retention)

	for _, dir := range []string{w.uploadsDir, w.outputsDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Warn("sweep: listing failed", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			if e.Name() == KeepFile {
				continue
			}
			if w.InUse(e.Name()) {
				report.Skipped++
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			full := filepath.Join(dir, e.Name())
			if err := os.RemoveAll(full); err != nil {
				w.logger.Warn("sweep: remove failed", "path", full, "error", err)
				continue
			}
			w.logger.Info("sweep: removed expired entry", "path", full)
			report.Removed = append(report.Removed, full)
		}
	}

	report.Artifacts = w.sweepArtifacts(ctx, cutoff, &report)
	return report
}

func (w *Workspace) sweepArtifacts(ctx context.Context, cutoff time.Time, report *SweepReport) []string {
	if w.artifacts == nil {
		return nil
	}

	paths, err := w.artifacts.List(ctx, "epubs/")
	if err != nil {
		w.logger.Warn("sweep: listing artifacts failed", "error", err)
		return nil
	}

	var removed []string
	for _, p := range paths {
		// epubs/<resultID>/<file>
		id := path.Base(path.Dir(p))
		if w.InUse(id) {
			report.Skipped++
			continue
		}
		meta, err := w.artifacts.Stat(ctx, p)
		if err != nil {
			w.logger.Warn("sweep: stat artifact failed", "path", p, "error", err)
			continue
		}
		if !meta.LastModified.Before(cutoff) {
			continue
		}
		if err := w.artifacts.Delete(ctx, p); err != nil {
			w.logger.Warn("sweep: delete artifact failed", "path", p, "error", err)
			continue
		}
		w.logger.Info("sweep: removed expired artifact", "path", p)
		removed = append(removed, p)
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled
func (w *Workspace) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			report := w.Sweep(ctx)
			w.logger.Debug("sweep finished", "removed", len(report.Removed), "artifacts", len(report.Artifacts), "skipped", report.Skipped)
		}
	}
}
