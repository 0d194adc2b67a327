package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mirrormate/backend/storage"
)

const reaperInterval = 5 * time.Minute

// SessionExpirer is the store surface the reaper needs. It returns the
// staged artifact paths of the sessions it expired.
type SessionExpirer interface {
	ExpireQueuedSessions(ctx context.Context, olderThan time.Time) ([]string, error)
}

// QueuedSessionReaper periodically fails sessions that were created but
// never finalized, so abandoned uploads don't sit in queued forever.
// Claimed (processing) sessions are never touched. Artifacts the
// expired sessions had staged are deleted along with them.
type QueuedSessionReaper struct {
	store     SessionExpirer
	videos    storage.VideoStorage
	queuedTTL time.Duration
	cancel    context.CancelFunc
}

func NewQueuedSessionReaper(store SessionExpirer, videos storage.VideoStorage, queuedTTL time.Duration) *QueuedSessionReaper {
	if queuedTTL <= 0 {
		queuedTTL = 30 * time.Minute
	}
	return &QueuedSessionReaper{
		store:     store,
		videos:    videos,
		queuedTTL: queuedTTL,
	}
}

// Start launches the background sweep loop.
func (r *QueuedSessionReaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	slog.Info("Queued session reaper started", "queued_ttl", r.queuedTTL)
}

// Stop halts the sweep loop.
func (r *QueuedSessionReaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *QueuedSessionReaper) run(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep expires one batch of stale queued sessions and deletes any
// artifacts they had staged. Deletion is best-effort; a leaked artifact
// is logged, never re-read.
func (r *QueuedSessionReaper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.queuedTTL)
	paths, err := r.store.ExpireQueuedSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Session reaper sweep failed", "error", err)
		return
	}
	for _, path := range paths {
		if err := r.videos.Delete(ctx, path); err != nil {
			slog.Error("Failed to delete expired session artifact", "error", err, "path", path)
		}
	}
	if len(paths) > 0 {
		slog.Info("Deleted artifacts of expired sessions", "count", len(paths), "cutoff", cutoff)
	}
}
