package models

import (
	"time"

	"gorm.io/gorm"
)

// Session statuses. Transitions only move forward:
// queued -> processing -> complete | error.
const (
	SessionQueued     = "queued"
	SessionProcessing = "processing"
	SessionComplete   = "complete"
	SessionError      = "error"
)

// Session records one analysis attempt from creation to terminal outcome.
// It is owned either by an authenticated user or by an anonymous device,
// never both and never neither.
type Session struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       *string        `gorm:"type:uuid;index" json:"user_id,omitempty"`
	DeviceID     *string        `gorm:"size:255;index" json:"device_id,omitempty"`
	Status       string         `gorm:"not null;default:'queued';check:status IN ('queued', 'processing', 'complete', 'error')" json:"status"`
	Progress     float64        `gorm:"not null;default:0" json:"progress"`
	VideoPath    string         `gorm:"size:500" json:"video_path,omitempty"`
	DurationSec  int            `json:"duration_sec"` // client-declared hint, not authoritative
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User   *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Report *AnalysisReport `gorm:"foreignKey:SessionID;references:ID" json:"report,omitempty"`
}

// Terminal reports whether the session has reached a state with no
// further transitions.
func (s *Session) Terminal() bool {
	return s.Status == SessionComplete || s.Status == SessionError
}

// Subject returns the rate-limit/quota subject owning this session:
// the user ID when authenticated, the device ID otherwise.
func (s *Session) Subject() string {
	if s.UserID != nil && *s.UserID != "" {
		return *s.UserID
	}
	if s.DeviceID != nil {
		return *s.DeviceID
	}
	return ""
}
