package services

import (
	"context"
	"time"

	"github.com/mirrormate/backend/models"
)

// Store interfaces consumed by the services. The GORM repository
// satisfies all of them; tests substitute hand-written fakes.

// SessionStore is the durable record of a session's identity, state and
// output. All transition methods enforce the forward-only invariant.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	BindVideoPath(ctx context.Context, id, path string) error
	UpdateProgress(ctx context.Context, id string, value float64) error
	ClaimSession(ctx context.Context, id string) error
	MarkComplete(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, detail string) error
	UpsertReport(ctx context.Context, report *models.AnalysisReport) error
	GetReport(ctx context.Context, sessionID string) (*models.AnalysisReport, error)
}

// RateLimitStore is the append-only event log behind the sliding-window
// limiter.
type RateLimitStore interface {
	CountRateLimitEvents(ctx context.Context, subjectID, action string, since time.Time) (int64, error)
	InsertRateLimitEvent(ctx context.Context, subjectID, action string) error
}

// QuotaStore holds per-subject daily allowance records.
type QuotaStore interface {
	GetQuota(ctx context.Context, subjectID string) (*models.UserQuota, error)
	UpsertQuota(ctx context.Context, quota *models.UserQuota) error
}

// UserStore backs the authentication service.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteAllUserTokens(ctx context.Context, userID string) error
}
