package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mirrormate/backend/models"
	"github.com/mirrormate/backend/storage"
)

// SessionEndpoints serves the session lifecycle: creation with a signed
// upload slot, finalize (which hands off to the analysis worker), status
// polling, report retrieval, and the daily quota gate.
type SessionEndpoints struct {
	store       SessionStore
	limiter     *RateLimiter
	quota       *QuotaService
	videos      storage.VideoStorage
	uploadToken *UploadTokenService
	authService *AuthService
	publicURL   string
	tokenTTL    time.Duration

	// runWorker dispatches one analysis run; defaults to a goroutine,
	// tests swap in a synchronous hook.
	runWorker func(sessionID string)
}

type InitSessionRequest struct {
	MaxDurationSec int    `json:"maxDurationSec"`
	DeviceID       string `json:"deviceId,omitempty"`
}

type InitSessionResponse struct {
	SessionID   string `json:"sessionId"`
	UploadURL   string `json:"uploadUrl"`
	UploadPath  string `json:"uploadPath"`
	UploadToken string `json:"uploadToken"`
	ExpiresAt   string `json:"expiresAt"`
}

type SessionStatusResponse struct {
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func NewSessionEndpoints(store SessionStore, limiter *RateLimiter, quota *QuotaService, videos storage.VideoStorage, uploadToken *UploadTokenService, authService *AuthService, worker *AnalysisWorker, publicURL string, tokenTTL time.Duration) *SessionEndpoints {
	e := &SessionEndpoints{
		store:       store,
		limiter:     limiter,
		quota:       quota,
		videos:      videos,
		uploadToken: uploadToken,
		authService: authService,
		publicURL:   publicURL,
		tokenTTL:    tokenTTL,
	}
	e.runWorker = func(sessionID string) {
		// Detached from the request: finalize returns immediately and
		// the run outlives the connection.
		go worker.Run(context.Background(), sessionID)
	}
	return e
}

func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Use(e.authService.OptionalMiddleware)
		r.Post("/", e.InitSessionHandler)
		r.Post("/{id}/finalize", e.FinalizeHandler)
		r.Get("/{id}/status", e.StatusHandler)
		r.Get("/{id}/report", e.ReportHandler)
	})
	r.Route("/quota", func(r chi.Router) {
		r.Use(e.authService.OptionalMiddleware)
		r.Get("/", e.QuotaHandler)
		r.Post("/consume", e.QuotaConsumeHandler)
	})
}

// InitSessionHandler creates a queued session, binds its storage path
// and returns a signed single-slot upload grant.
func (e *SessionEndpoints) InitSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req InitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session := &models.Session{DurationSec: req.MaxDurationSec}
	user := UserFromContext(r.Context())
	switch {
	case user != nil:
		session.UserID = &user.ID
	case req.DeviceID != "":
		session.DeviceID = &req.DeviceID
	default:
		http.Error(w, "Either authentication or a deviceId is required", http.StatusBadRequest)
		return
	}

	allowed, remaining := e.limiter.CheckAndRecord(r.Context(), session.Subject(), RateLimitInitSession)
	if !allowed {
		writeRateLimited(w, remaining)
		return
	}

	if err := e.store.CreateSession(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}

	uploadPath := session.ID + ".mp4"
	if err := e.store.BindVideoPath(r.Context(), session.ID, uploadPath); err != nil {
		writeError(w, err)
		return
	}

	token, expiresAt, err := e.uploadToken.Mint(uploadPath, e.tokenTTL)
	if err != nil {
		slog.Error("Failed to mint upload token", "error", err, "session_id", session.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	slog.Info("Session created", "session_id", session.ID, "subject_id", session.Subject())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(InitSessionResponse{
		SessionID:   session.ID,
		UploadURL:   e.publicURL + "/api/v1/uploads/" + uploadPath,
		UploadPath:  uploadPath,
		UploadToken: token,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	})
}

// FinalizeHandler verifies the artifact is staged and dispatches the
// analysis worker. It responds before the analysis finishes; callers
// learn the outcome by polling status.
func (e *SessionEndpoints) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := e.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	if session.Terminal() {
		writeError(w, &models.ConflictError{Detail: "session already finished"})
		return
	}

	if _, err := e.videos.Size(r.Context(), session.VideoPath); err != nil {
		writeError(w, &models.ConflictError{Detail: "no uploaded video for session"})
		return
	}

	allowed, remaining := e.limiter.CheckAndRecord(r.Context(), session.Subject(), RateLimitAnalysis)
	if !allowed {
		writeRateLimited(w, remaining)
		return
	}

	e.runWorker(sessionID)

	slog.Info("Session finalized, analysis dispatched", "session_id", sessionID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": models.SessionQueued})
}

func (e *SessionEndpoints) StatusHandler(w http.ResponseWriter, r *http.Request) {
	session, err := e.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SessionStatusResponse{
		Status:       session.Status,
		Progress:     session.Progress,
		ErrorMessage: session.ErrorMessage,
	})
}

func (e *SessionEndpoints) ReportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := e.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// QuotaHandler reports whether the subject may start an analysis today.
func (e *SessionEndpoints) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	subjectID, isExempt, ok := e.quotaSubject(r)
	if !ok {
		http.Error(w, "Either authentication or a deviceId is required", http.StatusBadRequest)
		return
	}

	canAnalyze := e.quota.CanAnalyzeToday(r.Context(), subjectID, isExempt)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"can_analyze": canAnalyze,
		"is_premium":  isExempt,
	})
}

// QuotaConsumeHandler records one analysis against today's allowance.
func (e *SessionEndpoints) QuotaConsumeHandler(w http.ResponseWriter, r *http.Request) {
	subjectID, isExempt, ok := e.quotaSubject(r)
	if !ok {
		http.Error(w, "Either authentication or a deviceId is required", http.StatusBadRequest)
		return
	}

	if !isExempt {
		e.quota.MarkUsed(r.Context(), subjectID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Quota recorded"})
}

func (e *SessionEndpoints) quotaSubject(r *http.Request) (subjectID string, isExempt bool, ok bool) {
	if user := UserFromContext(r.Context()); user != nil {
		return user.ID, user.Role == "premium", true
	}
	if deviceID := r.URL.Query().Get("deviceId"); deviceID != "" {
		return deviceID, false, true
	}
	return "", false, false
}

func writeRateLimited(w http.ResponseWriter, remaining int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error":     "Rate limit exceeded. Please try again later.",
		"remaining": remaining,
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		conflict   *models.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Detail, http.StatusBadRequest)
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &conflict):
		http.Error(w, conflict.Detail, http.StatusConflict)
	default:
		slog.Error("Request failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
