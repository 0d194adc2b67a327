package services

import (
	"context"
	"log/slog"
	"time"
)

// RateLimitConfig describes one gated action: at most Limit events per
// subject within the trailing Window.
type RateLimitConfig struct {
	Action string
	Limit  int
	Window time.Duration
}

// Predefined rate limit configurations, tuned per deployment.
var (
	RateLimitInitSession    = RateLimitConfig{Action: "init_session", Limit: 10, Window: 60 * time.Minute}
	RateLimitUploadVideo    = RateLimitConfig{Action: "upload_video", Limit: 5, Window: 60 * time.Minute}
	RateLimitAnalysis       = RateLimitConfig{Action: "analysis", Limit: 3, Window: 60 * time.Minute}
	RateLimitCheckout       = RateLimitConfig{Action: "checkout", Limit: 5, Window: 60 * time.Minute}
	RateLimitCustomerPortal = RateLimitConfig{Action: "customer_portal", Limit: 3, Window: 60 * time.Minute}
)

// RateLimiter gates how often a subject may perform an action, counting
// events in a sliding window. The limiter fails open: when the store is
// unreachable it allows the request rather than blocking legitimate
// traffic.
type RateLimiter struct {
	store RateLimitStore
}

func NewRateLimiter(store RateLimitStore) *RateLimiter {
	return &RateLimiter{store: store}
}

// Allow returns true iff the subject has performed the action fewer
// than limit times within the trailing window. Store errors allow.
func (l *RateLimiter) Allow(ctx context.Context, subjectID, action string, limit int, window time.Duration) bool {
	windowStart := time.Now().Add(-window)
	count, err := l.store.CountRateLimitEvents(ctx, subjectID, action, windowStart)
	if err != nil {
		slog.Error("Rate limit check failed, failing open", "error", err, "subject_id", subjectID, "action", action)
		return true
	}
	slog.Info("Rate limit check", "subject_id", subjectID, "action", action, "count", count, "limit", limit)
	return count < int64(limit)
}

// Record appends one event. Failure to record is logged and swallowed;
// it never blocks the caller's primary operation.
func (l *RateLimiter) Record(ctx context.Context, subjectID, action string) {
	if err := l.store.InsertRateLimitEvent(ctx, subjectID, action); err != nil {
		slog.Error("Failed to record rate limit event", "error", err, "subject_id", subjectID, "action", action)
	}
}

// CheckAndRecord composes Allow and Record: the event is recorded only
// when allowed. The returned remaining count reflects the log after
// recording, floored at zero.
func (l *RateLimiter) CheckAndRecord(ctx context.Context, subjectID string, config RateLimitConfig) (bool, int) {
	allowed := l.Allow(ctx, subjectID, config.Action, config.Limit, config.Window)
	if allowed {
		l.Record(ctx, subjectID, config.Action)
	}

	windowStart := time.Now().Add(-config.Window)
	count, err := l.store.CountRateLimitEvents(ctx, subjectID, config.Action, windowStart)
	if err != nil {
		count = 0
	}

	remaining := config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}
