package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mirrormate/backend/models"
)

type endpointsFixture struct {
	router   *chi.Mux
	store    *fakeSessionStore
	videos   *fakeVideoStorage
	provider *fakeProvider
	limiter  *fakeRateLimitStore
}

// newEndpointsFixture wires the session and upload endpoints against
// in-memory fakes, with the analysis worker running synchronously so
// finalize outcomes are observable without sleeping.
func newEndpointsFixture(t *testing.T) *endpointsFixture {
	t.Helper()

	store := newFakeSessionStore()
	videos := newFakeVideoStorage()
	provider := &fakeProvider{response: validProviderJSON}
	limitStore := &fakeRateLimitStore{}
	limiter := NewRateLimiter(limitStore)
	quota := NewQuotaService(newFakeQuotaStore(), 1)
	uploadToken := NewUploadTokenService("test-secret")
	authService := NewAuthService(newFakeUserStore(), "test-secret")
	worker := NewAnalysisWorker(store, videos, provider, 20)

	endpoints := NewSessionEndpoints(store, limiter, quota, videos, uploadToken, authService, worker,
		"http://backend.test", 15*time.Minute)
	endpoints.runWorker = func(sessionID string) {
		worker.Run(context.Background(), sessionID)
	}
	uploads := NewUploadEndpoints(videos, uploadToken, authService, limiter)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		endpoints.RegisterRoutes(r)
		uploads.RegisterRoutes(r)
	})

	return &endpointsFixture{
		router:   router,
		store:    store,
		videos:   videos,
		provider: provider,
		limiter:  limitStore,
	}
}

func (f *endpointsFixture) initSession(t *testing.T) InitSessionResponse {
	t.Helper()
	body := `{"maxDurationSec": 60, "deviceId": "device-1"}`
	req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("init session returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp InitSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode init response: %v", err)
	}
	return resp
}

func TestInitSessionAnonymous(t *testing.T) {
	f := newEndpointsFixture(t)
	resp := f.initSession(t)

	if resp.SessionID == "" {
		t.Error("sessionId missing")
	}
	if resp.UploadPath != resp.SessionID+".mp4" {
		t.Errorf("uploadPath = %q, expected %q", resp.UploadPath, resp.SessionID+".mp4")
	}
	if !strings.HasSuffix(resp.UploadURL, "/api/v1/uploads/"+resp.UploadPath) {
		t.Errorf("uploadUrl = %q, expected it to target the upload route", resp.UploadURL)
	}
	if resp.UploadToken == "" {
		t.Error("uploadToken missing")
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expiresAt %q is not RFC 3339: %v", resp.ExpiresAt, err)
	}
}

func TestInitSessionRequiresOwner(t *testing.T) {
	f := newEndpointsFixture(t)

	req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(`{"maxDurationSec": 60}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected 400 for ownerless session", rec.Code)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	f := newEndpointsFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions/no-such-id/status", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

func TestFinalizeWithoutUpload(t *testing.T) {
	f := newEndpointsFixture(t)
	grant := f.initSession(t)

	req := httptest.NewRequest("POST", "/api/v1/sessions/"+grant.SessionID+"/finalize", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, expected 409 when no video is staged", rec.Code)
	}
}

func TestSignedUploadAndFinalize(t *testing.T) {
	f := newEndpointsFixture(t)
	grant := f.initSession(t)

	// Signed upload into the granted slot.
	upload := httptest.NewRequest("PUT", "/api/v1/uploads/"+grant.UploadPath, bytes.NewReader([]byte("fake video")))
	upload.Header.Set("Content-Type", "video/mp4")
	upload.Header.Set("X-Upload-Token", grant.UploadToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, upload)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body.String())
	}

	// Finalize; the fixture's worker runs synchronously.
	finalize := httptest.NewRequest("POST", "/api/v1/sessions/"+grant.SessionID+"/finalize", strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, finalize)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("finalize returned %d: %s", rec.Code, rec.Body.String())
	}

	// Status reflects the terminal state.
	status := httptest.NewRequest("GET", "/api/v1/sessions/"+grant.SessionID+"/status", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, status)
	var observed SessionStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &observed); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if observed.Status != models.SessionComplete {
		t.Fatalf("status = %q, expected complete (error: %q)", observed.Status, observed.ErrorMessage)
	}

	// Report is served with the persisted fields.
	report := httptest.NewRequest("GET", "/api/v1/sessions/"+grant.SessionID+"/report", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, report)
	if rec.Code != http.StatusOK {
		t.Fatalf("report returned %d: %s", rec.Code, rec.Body.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if decoded["confidence_score"].(float64) != 78 {
		t.Errorf("confidence_score = %v, expected 78", decoded["confidence_score"])
	}
}

func TestUploadRejectsWrongToken(t *testing.T) {
	f := newEndpointsFixture(t)
	first := f.initSession(t)
	second := f.initSession(t)

	// Token from the first grant replayed against the second slot.
	req := httptest.NewRequest("PUT", "/api/v1/uploads/"+second.UploadPath, bytes.NewReader([]byte("fake video")))
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("X-Upload-Token", first.UploadToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, expected 403 for mismatched token", rec.Code)
	}
}

func TestUploadRejectsBadContentType(t *testing.T) {
	f := newEndpointsFixture(t)
	grant := f.initSession(t)

	req := httptest.NewRequest("PUT", "/api/v1/uploads/"+grant.UploadPath, bytes.NewReader([]byte("not a video")))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Upload-Token", grant.UploadToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, expected 415", rec.Code)
	}
}

func TestInitSessionRateLimited(t *testing.T) {
	f := newEndpointsFixture(t)

	body := `{"maxDurationSec": 60, "deviceId": "device-1"}`
	var lastCode int
	for i := 0; i < RateLimitInitSession.Limit+1; i++ {
		req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, expected 429 past the limit", lastCode)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	f := newEndpointsFixture(t)

	check := func(t *testing.T) quotaStatusBody {
		req := httptest.NewRequest("GET", "/api/v1/quota?deviceId=device-1", nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("quota check returned %d: %s", rec.Code, rec.Body.String())
		}
		var status quotaStatusBody
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("failed to decode quota status: %v", err)
		}
		return status
	}

	if status := check(t); !status.CanAnalyze {
		t.Fatal("fresh device should be allowed")
	}

	consume := httptest.NewRequest("POST", "/api/v1/quota/consume?deviceId=device-1", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, consume)
	if rec.Code != http.StatusOK {
		t.Fatalf("quota consume returned %d: %s", rec.Code, rec.Body.String())
	}

	if status := check(t); status.CanAnalyze {
		t.Error("device should be denied after spending the daily allowance")
	}
}

type quotaStatusBody struct {
	CanAnalyze bool `json:"can_analyze"`
	IsPremium  bool `json:"is_premium"`
}
