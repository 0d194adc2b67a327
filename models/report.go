package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AnalysisReport stores the final AI-generated behavioral analysis.
// Exactly one report exists per session; a later analysis attempt for
// the same session overwrites it (upsert keyed by session_id).
type AnalysisReport struct {
	ID                   string               `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID            string               `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	DurationSec          int                  `json:"duration_sec"`
	ConfidenceScore      int                  `gorm:"not null" json:"confidence_score"` // 0-100
	ImpressionTags       StringList           `gorm:"type:jsonb" json:"impression_tags"`
	FillerWords          FillerWordCounts     `gorm:"type:jsonb" json:"filler_words"`
	ToneTimeline         ToneTimeline         `gorm:"type:jsonb" json:"tone_timeline"`
	EmotionBreakdown     EmotionBreakdown     `gorm:"type:jsonb" json:"emotion_breakdown"`
	GazeEyeContactPct    float64              `json:"gaze_eye_contact_pct"`
	Feedback             string               `gorm:"type:text;not null" json:"feedback"`
	VocalAnalysis        VocalAnalysis        `gorm:"type:jsonb" json:"vocal_analysis"`
	BodyLanguageAnalysis BodyLanguageAnalysis `gorm:"type:jsonb" json:"body_language_analysis"`
	Strengths            StringList           `gorm:"type:jsonb" json:"strengths"`
	AreasForImprovement  StringList           `gorm:"type:jsonb" json:"areas_for_improvement"`
	PracticeExercises    StringList           `gorm:"type:jsonb" json:"practice_exercises"`
	KeyMoments           KeyMoments           `gorm:"type:jsonb" json:"key_moments"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	DeletedAt            gorm.DeletedAt       `gorm:"index" json:"-"`
}

// TonePoint is one sample of the time-ordered energy/confidence timeline.
type TonePoint struct {
	T          float64  `json:"t"`
	Energy     float64  `json:"energy"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// VocalAnalysis holds the vocal-delivery sub-scores.
type VocalAnalysis struct {
	PaceWordsPerMin    int     `json:"pace_words_per_min"`
	VolumeConsistency  float64 `json:"volume_consistency"`
	TonalVariety       float64 `json:"tonal_variety"`
	Clarity            float64 `json:"clarity"`
	PauseEffectiveness float64 `json:"pause_effectiveness"`
}

// BodyLanguageAnalysis holds the body-language sub-scores.
type BodyLanguageAnalysis struct {
	PostureScore         float64 `json:"posture_score"`
	GestureNaturalness   float64 `json:"gesture_naturalness"`
	FacialExpressiveness float64 `json:"facial_expressiveness"`
	EyeContactPct        float64 `json:"eye_contact_pct"`
	MovementPurpose      float64 `json:"movement_purpose"`
}

// KeyMoment is a timestamped annotation tagged "strength" or "improvement".
type KeyMoment struct {
	Timestamp   int    `json:"timestamp"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// JSONB column wrappers. GORM serializes these through the
// driver.Valuer / sql.Scanner pair below.

type StringList []string
type FillerWordCounts map[string]int
type EmotionBreakdown map[string]float64
type ToneTimeline []TonePoint
type KeyMoments []KeyMoment

func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonbScan(dst interface{}, src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, dst)
	case string:
		return json.Unmarshal([]byte(data), dst)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonbValue(l)
}
func (l *StringList) Scan(src interface{}) error { return jsonbScan(l, src) }

func (c FillerWordCounts) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	return jsonbValue(c)
}
func (c *FillerWordCounts) Scan(src interface{}) error { return jsonbScan(c, src) }

func (e EmotionBreakdown) Value() (driver.Value, error) {
	if e == nil {
		return "{}", nil
	}
	return jsonbValue(e)
}
func (e *EmotionBreakdown) Scan(src interface{}) error { return jsonbScan(e, src) }

func (t ToneTimeline) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return jsonbValue(t)
}
func (t *ToneTimeline) Scan(src interface{}) error { return jsonbScan(t, src) }

func (m KeyMoments) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	return jsonbValue(m)
}
func (m *KeyMoments) Scan(src interface{}) error { return jsonbScan(m, src) }

func (v VocalAnalysis) Value() (driver.Value, error) { return jsonbValue(v) }
func (v *VocalAnalysis) Scan(src interface{}) error  { return jsonbScan(v, src) }

func (b BodyLanguageAnalysis) Value() (driver.Value, error) { return jsonbValue(b) }
func (b *BodyLanguageAnalysis) Scan(src interface{}) error  { return jsonbScan(b, src) }

// TableName returns the table name for the AnalysisReport model
func (AnalysisReport) TableName() string {
	return "analysis_reports"
}
