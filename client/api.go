// Package client is the Go consumer of the analysis backend: session
// creation, video upload with fallback, status polling and report
// retrieval, plus the capture-side export pipeline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mirrormate/backend/models"
)

// FlexTime decodes timestamps in either RFC 3339 form or the
// space-separated fractional form some serializers emit. Both appear in
// live payloads, so decoding tries layouts in order.
type FlexTime struct {
	time.Time
}

var flexTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999Z07",
	"2006-01-02 15:04:05Z07:00",
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range flexTimeLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("unrecognized timestamp %q: %w", raw, lastErr)
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// InitSessionResult is the server's session-creation grant.
type InitSessionResult struct {
	SessionID   string `json:"sessionId"`
	UploadURL   string `json:"uploadUrl"`
	UploadPath  string `json:"uploadPath"`
	UploadToken string `json:"uploadToken"`
	ExpiresAt   string `json:"expiresAt"`
}

// SessionStatus is one status poll observation.
type SessionStatus struct {
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Report is the finished analysis as served by the backend.
type Report struct {
	ID                  string                       `json:"id"`
	SessionID           string                       `json:"session_id"`
	DurationSec         int                          `json:"duration_sec"`
	ConfidenceScore     float64                      `json:"confidence_score"`
	ImpressionTags      []string                     `json:"impression_tags"`
	FillerWords         map[string]int               `json:"filler_words"`
	ToneTimeline        []models.TonePoint           `json:"tone_timeline"`
	EmotionBreakdown    map[string]float64           `json:"emotion_breakdown"`
	GazeEyeContactPct   float64                      `json:"gaze_eye_contact_pct"`
	Feedback            string                       `json:"feedback"`
	VocalAnalysis       models.VocalAnalysis         `json:"vocal_analysis"`
	BodyLanguage        models.BodyLanguageAnalysis  `json:"body_language_analysis"`
	Strengths           []string                     `json:"strengths"`
	AreasForImprovement []string                     `json:"areas_for_improvement"`
	PracticeExercises   []string                     `json:"practice_exercises"`
	KeyMoments          []models.KeyMoment           `json:"key_moments"`
	CreatedAt           FlexTime                     `json:"created_at"`
}

// QuotaStatus reports today's analysis allowance.
type QuotaStatus struct {
	CanAnalyze bool `json:"can_analyze"`
	IsPremium  bool `json:"is_premium"`
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the analysis backend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string // optional bearer token
	DeviceID   string // anonymous subject identity when unauthenticated
}

func NewClient(baseURL, deviceID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		DeviceID:   deviceID,
	}
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// InitSession creates a session and returns its upload grant.
func (c *Client) InitSession(ctx context.Context, maxDurationSec int) (*InitSessionResult, error) {
	payload := map[string]any{"maxDurationSec": maxDurationSec}
	if c.AuthToken == "" {
		payload["deviceId"] = c.DeviceID
	}
	var result InitSessionResult
	if err := c.postJSON(ctx, "/api/v1/sessions", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Finalize tells the backend the upload is complete and analysis may
// start.
func (c *Client) Finalize(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/api/v1/sessions/"+sessionID+"/finalize", map[string]any{}, nil)
}

// Status fetches the session's current state and progress.
func (c *Client) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var status SessionStatus
	if err := c.getJSON(ctx, "/api/v1/sessions/"+sessionID+"/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Report fetches the finished analysis for a completed session.
func (c *Client) Report(ctx context.Context, sessionID string) (*Report, error) {
	var report Report
	if err := c.getJSON(ctx, "/api/v1/sessions/"+sessionID+"/report", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) quotaQuery() string {
	if c.AuthToken == "" && c.DeviceID != "" {
		return "?deviceId=" + c.DeviceID
	}
	return ""
}

// CanAnalyzeToday asks the backend whether the daily allowance permits
// another analysis.
func (c *Client) CanAnalyzeToday(ctx context.Context) (*QuotaStatus, error) {
	var status QuotaStatus
	if err := c.getJSON(ctx, "/api/v1/quota"+c.quotaQuery(), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ConsumeQuota records one analysis against today's allowance.
func (c *Client) ConsumeQuota(ctx context.Context) error {
	return c.postJSON(ctx, "/api/v1/quota/consume"+c.quotaQuery(), map[string]any{}, nil)
}
