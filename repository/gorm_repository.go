package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mirrormate/backend/models"
)

// pgUniqueViolation is the Postgres error code for unique constraint violations.
const pgUniqueViolation = "23505"

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Session{},
		&models.AnalysisReport{},
		&models.RateLimitEvent{},
		&models.UserQuota{},
	)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Session operations

// CreateSession allocates a fresh session in the queued state. Exactly
// one of UserID or DeviceID must be set.
func (r *GORMRepository) CreateSession(ctx context.Context, session *models.Session) error {
	hasUser := session.UserID != nil && *session.UserID != ""
	hasDevice := session.DeviceID != nil && *session.DeviceID != ""
	if hasUser == hasDevice {
		return &models.ValidationError{Detail: "session requires exactly one of a user or a device reference"}
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Status = models.SessionQueued
	session.Progress = 0

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("Failed to create session", "error", err)
		return err
	}
	slog.Info("Session created", "session_id", session.ID, "subject", session.Subject())
	return nil
}

func (r *GORMRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Entity: "session", ID: id}
		}
		slog.Error("Failed to get session", "error", err, "session_id", id)
		return nil, err
	}
	return &session, nil
}

// BindVideoPath binds the staging location to a session. The path is a
// single idempotent write: a second bind fails with ConflictError.
func (r *GORMRepository) BindVideoPath(ctx context.Context, id, path string) error {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND (video_path IS NULL OR video_path = '' OR video_path = ?)", id, path).
		Update("video_path", path)
	if result.Error != nil {
		slog.Error("Failed to bind video path", "error", result.Error, "session_id", id)
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return &models.ConflictError{Detail: "video path already bound for session " + id}
	}
	return nil
}

// UpdateProgress writes advisory progress telemetry. Writes against a
// terminal session, and writes that would move progress backwards, are
// rejected with StaleStateError; they are not state transitions and
// never resurrect a finished session.
func (r *GORMRepository) UpdateProgress(ctx context.Context, id string, value float64) error {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status IN ? AND progress <= ?", id, []string{models.SessionQueued, models.SessionProcessing}, value).
		Update("progress", value)
	if result.Error != nil {
		slog.Error("Failed to update progress", "error", result.Error, "session_id", id)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &models.StaleStateError{SessionID: id}
	}
	return nil
}

// ClaimSession atomically transitions queued -> processing. Exactly one
// caller wins; everyone else gets ConflictError and must abort rather
// than processing the session a second time.
func (r *GORMRepository) ClaimSession(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionQueued).
		Update("status", models.SessionProcessing)
	if result.Error != nil {
		slog.Error("Failed to claim session", "error", result.Error, "session_id", id)
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return &models.ConflictError{Detail: "session " + id + " is not queued; another run owns it"}
	}
	slog.Info("Session claimed for processing", "session_id", id)
	return nil
}

// MarkComplete transitions processing -> complete and freezes progress at 1.
func (r *GORMRepository) MarkComplete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionProcessing).
		Updates(map[string]interface{}{"status": models.SessionComplete, "progress": 1.0})
	if result.Error != nil {
		slog.Error("Failed to mark session complete", "error", result.Error, "session_id", id)
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return &models.ConflictError{Detail: "session " + id + " cannot transition to complete"}
	}
	slog.Info("Session complete", "session_id", id)
	return nil
}

// MarkError transitions any non-terminal state -> error with a
// human-readable detail. Terminal sessions are never reopened.
func (r *GORMRepository) MarkError(ctx context.Context, id, detail string) error {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status NOT IN ?", id, []string{models.SessionComplete, models.SessionError}).
		Updates(map[string]interface{}{"status": models.SessionError, "error_message": detail})
	if result.Error != nil {
		slog.Error("Failed to mark session error", "error", result.Error, "session_id", id)
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return &models.ConflictError{Detail: "session " + id + " is already terminal"}
	}
	slog.Info("Session marked error", "session_id", id, "detail", detail)
	return nil
}

// ExpireQueuedSessions marks sessions stuck in queued longer than the
// cutoff as error and returns the staged artifact paths they had bound,
// so the caller can delete the orphaned uploads. Each transition uses
// the same forward-only guard as the worker claim, so a session claimed
// mid-sweep is left alone.
func (r *GORMRepository) ExpireQueuedSessions(ctx context.Context, olderThan time.Time) ([]string, error) {
	var stale []models.Session
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.SessionQueued, olderThan).
		Find(&stale).Error
	if err != nil {
		slog.Error("Failed to list stale queued sessions", "error", err)
		return nil, err
	}

	var paths []string
	for _, session := range stale {
		result := r.db.WithContext(ctx).Model(&models.Session{}).
			Where("id = ? AND status = ?", session.ID, models.SessionQueued).
			Updates(map[string]interface{}{
				"status":        models.SessionError,
				"error_message": "session expired before upload completed",
			})
		if result.Error != nil {
			slog.Error("Failed to expire queued session", "error", result.Error, "session_id", session.ID)
			continue
		}
		if result.RowsAffected == 0 {
			continue
		}
		slog.Info("Expired stale queued session", "session_id", session.ID)
		if session.VideoPath != "" {
			paths = append(paths, session.VideoPath)
		}
	}
	return paths, nil
}

// Report operations

// UpsertReport inserts or overwrites the report keyed by session_id.
// Two racing writers leave exactly one row, matching the last payload.
func (r *GORMRepository) UpsertReport(ctx context.Context, report *models.AnalysisReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"duration_sec", "confidence_score", "impression_tags", "filler_words",
			"tone_timeline", "emotion_breakdown", "gaze_eye_contact_pct", "feedback",
			"vocal_analysis", "body_language_analysis", "strengths",
			"areas_for_improvement", "practice_exercises", "key_moments", "updated_at",
		}),
	}).Create(report).Error
	if err != nil {
		if isUniqueViolation(err) {
			return &models.ConflictError{Detail: "concurrent report write for session " + report.SessionID}
		}
		slog.Error("Failed to upsert analysis report", "error", err, "session_id", report.SessionID)
		return err
	}
	slog.Info("Analysis report saved", "session_id", report.SessionID, "confidence_score", report.ConfidenceScore)
	return nil
}

func (r *GORMRepository) GetReport(ctx context.Context, sessionID string) (*models.AnalysisReport, error) {
	var report models.AnalysisReport
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Entity: "analysis report", ID: sessionID}
		}
		slog.Error("Failed to get analysis report", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &report, nil
}

// Rate limit operations

func (r *GORMRepository) CountRateLimitEvents(ctx context.Context, subjectID, action string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RateLimitEvent{}).
		Where("subject_id = ? AND action = ? AND created_at >= ?", subjectID, action, since).
		Count(&count).Error
	if err != nil {
		slog.Error("Failed to count rate limit events", "error", err, "subject_id", subjectID, "action", action)
		return 0, &models.StorageUnavailableError{Detail: err.Error()}
	}
	return count, nil
}

func (r *GORMRepository) InsertRateLimitEvent(ctx context.Context, subjectID, action string) error {
	event := &models.RateLimitEvent{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Action:    action,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		slog.Error("Failed to record rate limit event", "error", err, "subject_id", subjectID, "action", action)
		return err
	}
	return nil
}

// Quota operations

// GetQuota returns nil without error when the subject has no record yet.
func (r *GORMRepository) GetQuota(ctx context.Context, subjectID string) (*models.UserQuota, error) {
	var quota models.UserQuota
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&quota).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get quota record", "error", err, "subject_id", subjectID)
		return nil, &models.StorageUnavailableError{Detail: err.Error()}
	}
	return &quota, nil
}

func (r *GORMRepository) UpsertQuota(ctx context.Context, quota *models.UserQuota) error {
	if quota.ID == "" {
		quota.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_analysis_date", "daily_count", "updated_at"}),
	}).Create(quota).Error
	if err != nil {
		slog.Error("Failed to upsert quota record", "error", err, "subject_id", quota.SubjectID)
		return err
	}
	return nil
}

// User operations

func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return &models.ConflictError{Detail: "email already registered"}
		}
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

// Token operations

func (r *GORMRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&refreshToken).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get refresh token", "error", err)
		return nil, err
	}
	return &refreshToken, nil
}

func (r *GORMRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) DeleteAllUserTokens(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete user refresh tokens", "error", err, "user_id", userID)
		return err
	}
	return nil
}
