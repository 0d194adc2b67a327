package services

import (
	"context"
	"errors"
	"testing"

	"github.com/mirrormate/backend/models"
)

func newQueuedSession(t *testing.T, store *fakeSessionStore) *models.Session {
	t.Helper()
	deviceID := "device-1"
	session := &models.Session{DeviceID: &deviceID}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}

func TestUpsertReportOverwrites(t *testing.T) {
	store := newFakeSessionStore()
	session := newQueuedSession(t, store)

	first := &models.AnalysisReport{SessionID: session.ID, ConfidenceScore: 40, Feedback: "first attempt"}
	if err := store.UpsertReport(context.Background(), first); err != nil {
		t.Fatalf("first UpsertReport failed: %v", err)
	}
	second := &models.AnalysisReport{SessionID: session.ID, ConfidenceScore: 85, Feedback: "second attempt"}
	if err := store.UpsertReport(context.Background(), second); err != nil {
		t.Fatalf("second UpsertReport failed: %v", err)
	}

	got, err := store.GetReport(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got.ConfidenceScore != 85 || got.Feedback != "second attempt" {
		t.Errorf("stored report = (%d, %q), expected the second payload", got.ConfidenceScore, got.Feedback)
	}
	if len(store.reports) != 1 {
		t.Errorf("report rows = %d, expected exactly one per session", len(store.reports))
	}
}

func TestForwardOnlyTransitions(t *testing.T) {
	ctx := context.Background()

	assertConflict := func(t *testing.T, err error, op string) {
		t.Helper()
		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			t.Errorf("%s = %v, expected ConflictError", op, err)
		}
	}

	t.Run("queued cannot complete directly", func(t *testing.T) {
		store := newFakeSessionStore()
		session := newQueuedSession(t, store)
		assertConflict(t, store.MarkComplete(ctx, session.ID), "MarkComplete on queued")
	})

	t.Run("complete is terminal", func(t *testing.T) {
		store := newFakeSessionStore()
		session := newQueuedSession(t, store)
		if err := store.ClaimSession(ctx, session.ID); err != nil {
			t.Fatalf("ClaimSession failed: %v", err)
		}
		if err := store.MarkComplete(ctx, session.ID); err != nil {
			t.Fatalf("MarkComplete failed: %v", err)
		}
		assertConflict(t, store.MarkError(ctx, session.ID, "late failure"), "MarkError after complete")
		assertConflict(t, store.MarkComplete(ctx, session.ID), "MarkComplete after complete")
		assertConflict(t, store.ClaimSession(ctx, session.ID), "ClaimSession after complete")
	})

	t.Run("error is terminal", func(t *testing.T) {
		store := newFakeSessionStore()
		session := newQueuedSession(t, store)
		if err := store.MarkError(ctx, session.ID, "upload never arrived"); err != nil {
			t.Fatalf("MarkError failed: %v", err)
		}
		assertConflict(t, store.MarkError(ctx, session.ID, "again"), "MarkError after error")
		assertConflict(t, store.ClaimSession(ctx, session.ID), "ClaimSession after error")
	})
}

func TestProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := newFakeSessionStore()
	session := newQueuedSession(t, store)
	if err := store.ClaimSession(ctx, session.ID); err != nil {
		t.Fatalf("ClaimSession failed: %v", err)
	}

	if err := store.UpdateProgress(ctx, session.ID, 0.6); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	err := store.UpdateProgress(ctx, session.ID, 0.2)
	var stale *models.StaleStateError
	if !errors.As(err, &stale) {
		t.Errorf("backwards progress write = %v, expected StaleStateError", err)
	}

	got, _ := store.GetSession(ctx, session.ID)
	if got.Progress != 0.6 {
		t.Errorf("progress = %v, expected the higher value to stand", got.Progress)
	}
}
