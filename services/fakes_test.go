package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mirrormate/backend/models"
)

// In-memory store fakes shared across the service tests.

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	reports  map[string]*models.AnalysisReport
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*models.Session),
		reports:  make(map[string]*models.AnalysisReport),
	}
}

func (s *fakeSessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hasUser := session.UserID != nil && *session.UserID != ""
	hasDevice := session.DeviceID != nil && *session.DeviceID != ""
	if hasUser == hasDevice {
		return &models.ValidationError{Detail: "session must have exactly one owner"}
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Status = models.SessionQueued
	session.Progress = 0
	session.CreatedAt = time.Now()
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "session", ID: id}
	}
	copied := *session
	return &copied, nil
}

func (s *fakeSessionStore) BindVideoPath(ctx context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return &models.NotFoundError{Entity: "session", ID: id}
	}
	if session.VideoPath != "" && session.VideoPath != path {
		return &models.ConflictError{Detail: "video path already bound"}
	}
	session.VideoPath = path
	return nil
}

func (s *fakeSessionStore) UpdateProgress(ctx context.Context, id string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return &models.NotFoundError{Entity: "session", ID: id}
	}
	if session.Terminal() || value < session.Progress {
		return &models.StaleStateError{SessionID: id}
	}
	session.Progress = value
	return nil
}

func (s *fakeSessionStore) ClaimSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return &models.NotFoundError{Entity: "session", ID: id}
	}
	if session.Status != models.SessionQueued {
		return &models.ConflictError{Detail: "session not claimable"}
	}
	session.Status = models.SessionProcessing
	return nil
}

func (s *fakeSessionStore) MarkComplete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return &models.NotFoundError{Entity: "session", ID: id}
	}
	if session.Status != models.SessionProcessing {
		return &models.ConflictError{Detail: "session not processing"}
	}
	session.Status = models.SessionComplete
	session.Progress = 1.0
	return nil
}

func (s *fakeSessionStore) MarkError(ctx context.Context, id, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return &models.NotFoundError{Entity: "session", ID: id}
	}
	if session.Terminal() {
		return &models.ConflictError{Detail: "session already terminal"}
	}
	session.Status = models.SessionError
	session.ErrorMessage = detail
	return nil
}

func (s *fakeSessionStore) UpsertReport(ctx context.Context, report *models.AnalysisReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	s.reports[report.SessionID] = report
	return nil
}

func (s *fakeSessionStore) GetReport(ctx context.Context, sessionID string) (*models.AnalysisReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[sessionID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "report", ID: sessionID}
	}
	return report, nil
}

type rateLimitEvent struct {
	subjectID string
	action    string
	at        time.Time
}

type fakeRateLimitStore struct {
	mu     sync.Mutex
	events []rateLimitEvent
	err    error // when set, all calls fail
}

func (s *fakeRateLimitStore) CountRateLimitEvents(ctx context.Context, subjectID, action string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var count int64
	for _, e := range s.events {
		if e.subjectID == subjectID && e.action == action && e.at.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeRateLimitStore) InsertRateLimitEvent(ctx context.Context, subjectID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, rateLimitEvent{subjectID: subjectID, action: action, at: time.Now()})
	return nil
}

type fakeQuotaStore struct {
	mu     sync.Mutex
	quotas map[string]*models.UserQuota
	err    error
}

func newFakeQuotaStore() *fakeQuotaStore {
	return &fakeQuotaStore{quotas: make(map[string]*models.UserQuota)}
}

func (s *fakeQuotaStore) GetQuota(ctx context.Context, subjectID string) (*models.UserQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	quota, ok := s.quotas[subjectID]
	if !ok {
		return nil, nil
	}
	copied := *quota
	return &copied, nil
}

func (s *fakeQuotaStore) UpsertQuota(ctx context.Context, quota *models.UserQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := *quota
	s.quotas[quota.SubjectID] = &copied
	return nil
}

type fakeVideoStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeVideoStorage() *fakeVideoStorage {
	return &fakeVideoStorage{files: make(map[string][]byte)}
}

func (s *fakeVideoStorage) Save(ctx context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return nil
}

func (s *fakeVideoStorage) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, &models.ArtifactMissingError{Path: path}
	}
	return bytes.Clone(data), nil
}

func (s *fakeVideoStorage) Size(ctx context.Context, path string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return 0, &models.ArtifactMissingError{Path: path}
	}
	return int64(len(data)), nil
}

func (s *fakeVideoStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

type fakeUserStore struct {
	mu     sync.Mutex
	users  map[string]*models.User // by ID
	tokens map[string]*models.RefreshToken
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

func (s *fakeUserStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, nil
}

func (s *fakeUserStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *fakeUserStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	s.tokens[token.Token] = token
	return nil
}

func (s *fakeUserStore) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token], nil
}

func (s *fakeUserStore) DeleteRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *fakeUserStore) DeleteAllUserTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, token := range s.tokens {
		if token.UserID == userID {
			delete(s.tokens, key)
		}
	}
	return nil
}

type fakeProvider struct {
	response string // raw provider output fed through decodeReportPayload
	err      error
	calls    int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AnalyzeVideo(ctx context.Context, video []byte, mimeType string, progress func(float64)) (*ReportPayload, error) {
	p.calls++
	if progress != nil {
		progress(0.5)
	}
	if p.err != nil {
		return nil, p.err
	}
	return decodeReportPayload(p.response)
}

// validProviderJSON is a minimal response satisfying the contract.
const validProviderJSON = `{
  "durationSec": 42,
  "confidenceScore": 78,
  "impressionTags": ["confident", "engaging"],
  "fillerWords": {"um": 3, "like": 2},
  "vocalAnalysis": {"pace_words_per_min": 140, "volume_consistency": 0.8, "tonal_variety": 0.7, "clarity": 0.9, "pause_effectiveness": 0.6},
  "bodyLanguageAnalysis": {"posture_score": 0.8, "gesture_naturalness": 0.7, "facial_expressiveness": 0.6, "eye_contact_pct": 0.72, "movement_purpose": 0.5},
  "emotionBreakdown": {"joy": 0.3, "neutral": 0.4, "anxious": 0.1, "engaged": 0.15, "surprise": 0.05},
  "toneTimeline": [{"t": 0, "energy": 0.6, "confidence": 0.7}, {"t": 5, "energy": 0.7, "confidence": 0.75}],
  "strengths": ["clear articulation"],
  "areasForImprovement": ["reduce filler words"],
  "feedback": "Strong delivery overall with room to cut filler words.",
  "practiceExercises": ["record a one-minute summary daily"],
  "keyMoments": [{"timestamp": 12, "type": "strength", "description": "confident opening"}]
}`
