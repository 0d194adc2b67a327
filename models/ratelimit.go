package models

import (
	"time"
)

// RateLimitEvent is one entry in the append-only action log consumed by
// the sliding-window limiter. Events are never updated; they simply age
// out of the trailing window.
type RateLimitEvent struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID string    `gorm:"size:255;not null;index:idx_rate_limits_subject_action" json:"subject_id"`
	Action    string    `gorm:"size:100;not null;index:idx_rate_limits_subject_action" json:"action"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName returns the table name for the RateLimitEvent model
func (RateLimitEvent) TableName() string {
	return "rate_limits"
}

// UserQuota tracks the daily analysis allowance for one subject (a user
// ID or an anonymous device ID). LastAnalysisDate is a calendar date,
// not a timestamp: a consumption on a new day resets DailyCount to 1
// instead of incrementing.
type UserQuota struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID        string    `gorm:"size:255;not null;uniqueIndex" json:"subject_id"`
	LastAnalysisDate string    `gorm:"size:10" json:"last_analysis_date"` // YYYY-MM-DD
	DailyCount       int       `gorm:"not null;default:0" json:"daily_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the table name for the UserQuota model
func (UserQuota) TableName() string {
	return "user_quotas"
}
