package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mirrormate/backend/models"
	"github.com/mirrormate/backend/storage"
)

// AnalysisWorker runs the analysis pipeline for one session: claim,
// fetch artifact, enforce the provider ceiling, invoke the provider,
// persist the report, mark terminal state, clean up. A worker run is
// not resumable; a failed run marks the session error, and retry means
// a new session.
//
// Invocation is fire-and-forget from the finalize handler, so a retried
// finalize can race a second run. The atomic claim (queued ->
// processing) decides ownership: losers abort without output.
type AnalysisWorker struct {
	store         SessionStore
	videos        storage.VideoStorage
	provider      AnalysisProvider
	maxVideoBytes int64
}

func NewAnalysisWorker(store SessionStore, videos storage.VideoStorage, provider AnalysisProvider, maxVideoSizeMB float64) *AnalysisWorker {
	if maxVideoSizeMB <= 0 {
		maxVideoSizeMB = 20
	}
	return &AnalysisWorker{
		store:         store,
		videos:        videos,
		provider:      provider,
		maxVideoBytes: int64(maxVideoSizeMB * 1024 * 1024),
	}
}

// Run executes the pipeline to completion or failure. It never
// propagates an error past its own boundary: failures become a
// terminal error state on the session, best-effort.
func (w *AnalysisWorker) Run(ctx context.Context, sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Analysis worker panicked", "session_id", sessionID, "panic", r)
		}
	}()

	slog.Info("Analysis worker started", "session_id", sessionID, "provider", w.provider.Name())

	session, err := w.store.GetSession(ctx, sessionID)
	if err != nil {
		w.fail(ctx, sessionID, "", err)
		return
	}

	// Claim before doing any work. A ConflictError means another run
	// owns this session (or it is already terminal): abort silently
	// rather than overwriting a newer result.
	if err := w.store.ClaimSession(ctx, sessionID); err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			slog.Info("Session already claimed, aborting duplicate run", "session_id", sessionID)
			return
		}
		w.fail(ctx, sessionID, session.VideoPath, err)
		return
	}

	w.progress(ctx, sessionID, 0.1)

	if session.VideoPath == "" {
		w.fail(ctx, sessionID, "", &models.ArtifactMissingError{Path: "(unbound)"})
		return
	}

	video, err := w.videos.Read(ctx, session.VideoPath)
	if err != nil {
		w.fail(ctx, sessionID, session.VideoPath, err)
		return
	}

	// Worker-side defense: the client degrades to fit, but client
	// policy is not trusted.
	if int64(len(video)) > w.maxVideoBytes {
		w.fail(ctx, sessionID, session.VideoPath, &models.PayloadTooLargeError{SizeBytes: int64(len(video)), MaxBytes: w.maxVideoBytes})
		return
	}

	w.progress(ctx, sessionID, 0.2)

	payload, err := w.provider.AnalyzeVideo(ctx, video, "video/mp4", func(p float64) {
		w.progress(ctx, sessionID, p)
	})
	if err != nil {
		w.fail(ctx, sessionID, session.VideoPath, err)
		return
	}

	w.progress(ctx, sessionID, 0.9)

	if err := w.store.UpsertReport(ctx, payload.toReport(sessionID)); err != nil {
		w.fail(ctx, sessionID, session.VideoPath, err)
		return
	}

	if err := w.store.MarkComplete(ctx, sessionID); err != nil {
		// Losing here means another run already finished the session.
		slog.Error("Failed to mark session complete", "error", err, "session_id", sessionID)
		return
	}

	w.deleteArtifact(ctx, sessionID, session.VideoPath)

	slog.Info("Analysis complete", "session_id", sessionID)
}

// progress writes advisory telemetry; stale writes after a terminal
// transition are expected under race and ignored.
func (w *AnalysisWorker) progress(ctx context.Context, sessionID string, value float64) {
	if err := w.store.UpdateProgress(ctx, sessionID, value); err != nil {
		var stale *models.StaleStateError
		if !errors.As(err, &stale) {
			slog.Warn("Failed to update progress", "error", err, "session_id", sessionID)
		}
	}
}

// fail marks the session error with a human-readable detail, then
// deletes the staged artifact — the worker owns that deletion on both
// terminal paths. If the transition itself fails the session already
// belongs to another run and cleanup is left to it; the worker is
// invoked fire-and-forget and never raises.
func (w *AnalysisWorker) fail(ctx context.Context, sessionID, videoPath string, cause error) {
	slog.Error("Analysis failed", "error", cause, "session_id", sessionID)
	if err := w.store.MarkError(ctx, sessionID, cause.Error()); err != nil {
		slog.Error("Failed to mark session error", "error", err, "session_id", sessionID)
		return
	}
	w.deleteArtifact(ctx, sessionID, videoPath)
}

// deleteArtifact removes the staged video once the session is terminal.
// Failure is logged only; the artifact is never read again.
func (w *AnalysisWorker) deleteArtifact(ctx context.Context, sessionID, path string) {
	if path == "" {
		return
	}
	if err := w.videos.Delete(ctx, path); err != nil {
		slog.Error("Failed to delete staged artifact", "error", err, "session_id", sessionID, "path", path)
	}
}
