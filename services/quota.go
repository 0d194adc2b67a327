package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mirrormate/backend/models"
)

// QuotaService enforces the daily analysis allowance per subject (user
// or anonymous device). Like the rate limiter it fails open: an
// unreachable store allows the analysis rather than denying a
// legitimate user over an operational fault.
type QuotaService struct {
	store      QuotaStore
	dailyLimit int
}

func NewQuotaService(store QuotaStore, dailyLimit int) *QuotaService {
	if dailyLimit <= 0 {
		dailyLimit = 1
	}
	return &QuotaService{store: store, dailyLimit: dailyLimit}
}

func todayString() string {
	return time.Now().Format("2006-01-02")
}

// CanAnalyzeToday reports whether the subject may start another
// analysis today. Exempt subjects (premium entitlement) are always
// allowed. A record from a previous calendar day means the allowance
// has reset.
func (q *QuotaService) CanAnalyzeToday(ctx context.Context, subjectID string, isExempt bool) bool {
	if isExempt {
		slog.Info("Quota exempt subject, unlimited allowance", "subject_id", subjectID)
		return true
	}

	quota, err := q.store.GetQuota(ctx, subjectID)
	if err != nil {
		slog.Error("Quota check failed, failing open", "error", err, "subject_id", subjectID)
		return true
	}
	if quota == nil {
		slog.Info("No quota record, first use", "subject_id", subjectID)
		return true
	}

	if quota.LastAnalysisDate == todayString() {
		allowed := quota.DailyCount < q.dailyLimit
		slog.Info("Quota check", "subject_id", subjectID, "used", quota.DailyCount, "limit", q.dailyLimit, "allowed", allowed)
		return allowed
	}

	// A record from another day means the allowance has reset.
	slog.Info("New day, quota reset", "subject_id", subjectID)
	return true
}

// MarkUsed records one consumption: same-day consumptions increment the
// count, a consumption on a new day resets it to 1 and advances the
// date. Failures are logged; the caller's analysis proceeds regardless.
func (q *QuotaService) MarkUsed(ctx context.Context, subjectID string) error {
	today := todayString()

	quota, err := q.store.GetQuota(ctx, subjectID)
	if err != nil {
		slog.Error("Failed to load quota record for consumption", "error", err, "subject_id", subjectID)
		return err
	}

	if quota == nil {
		quota = &models.UserQuota{SubjectID: subjectID, LastAnalysisDate: today, DailyCount: 1}
	} else if quota.LastAnalysisDate == today {
		quota.DailyCount++
	} else {
		quota.LastAnalysisDate = today
		quota.DailyCount = 1
	}

	if err := q.store.UpsertQuota(ctx, quota); err != nil {
		slog.Error("Failed to save quota record", "error", err, "subject_id", subjectID)
		return err
	}

	slog.Info("Quota consumed", "subject_id", subjectID, "count_today", quota.DailyCount)
	return nil
}
