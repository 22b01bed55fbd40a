// Package worker holds background loops that run alongside a play session.
// SnapshotWorker is adapted from the teacher's SnapshotGenerationWorker
// (internal/worker/snapshot.go): same immediate-then-ticker loop and the
// same graceful-shutdown-is-not-a-failure handling, narrowed from "call
// GenerateSnapshot on one sqlite-backed store" to "call internal/session.Save
// on the one active session this process is playing."
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Saver persists the current session state. internal/session.Save, bound
// to one *session.Session and a destination path, satisfies this.
type Saver interface {
	Save(ctx context.Context) error
}

// SnapshotWorker periodically saves the active session to disk.
type SnapshotWorker struct {
	saver    Saver
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotWorker creates a worker that saves via saver on every interval.
func NewSnapshotWorker(saver Saver, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		saver:    saver,
		interval: interval,
		logger:   slog.Default().With("component", "worker", "worker", "snapshot"),
	}
}

// Run starts the worker loop: an immediate save, then one every interval,
// until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	w.logger.Info("worker started", "action", "worker_started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.save(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "action", "worker_stopped", "reason", "context_cancelled")
			return
		case <-ticker.C:
			w.save(ctx)
		}
	}
}

func (w *SnapshotWorker) save(ctx context.Context) {
	w.logger.Info("snapshot save started", "action", "snapshot_start")
	if err := w.saver.Save(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("snapshot save failed", "action", "snapshot_failed", "error", err)
		return
	}
	w.logger.Info("snapshot save completed", "action", "snapshot_complete")
}
