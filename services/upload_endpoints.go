package services

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mirrormate/backend/storage"
)

// UploadEndpoints receives video artifacts. The primary route takes a
// signed upload token minted at session creation; the direct route is
// an authenticated fallback for clients whose signed upload failed.
type UploadEndpoints struct {
	videos      storage.VideoStorage
	uploadToken *UploadTokenService
	authService *AuthService
	limiter     *RateLimiter
}

func NewUploadEndpoints(videos storage.VideoStorage, uploadToken *UploadTokenService, authService *AuthService, limiter *RateLimiter) *UploadEndpoints {
	return &UploadEndpoints{
		videos:      videos,
		uploadToken: uploadToken,
		authService: authService,
		limiter:     limiter,
	}
}

func (e *UploadEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/uploads", func(r chi.Router) {
		r.Put("/{path}", e.SignedUploadHandler)
		r.With(e.authService.Middleware).Post("/{path}/direct", e.DirectUploadHandler)
	})
}

func allowedVideoType(contentType string) bool {
	return contentType == "video/mp4" || contentType == "video/quicktime"
}

// SignedUploadHandler stages a video under the path the token was
// minted for. Re-uploading to the same slot overwrites, so a client
// retry after a partial upload is safe.
func (e *UploadEndpoints) SignedUploadHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Upload-Token")
	}
	if token == "" {
		http.Error(w, "Missing upload token", http.StatusUnauthorized)
		return
	}

	grantedPath, err := e.uploadToken.Verify(token)
	if err != nil {
		http.Error(w, "Invalid or expired upload token", http.StatusUnauthorized)
		return
	}

	path := chi.URLParam(r, "path")
	if path != grantedPath {
		// Token is valid but for a different slot; treat as forbidden
		// rather than leaking which paths exist.
		http.Error(w, "Upload token does not match path", http.StatusForbidden)
		return
	}

	e.stageVideo(w, r, path)
}

// DirectUploadHandler is the authenticated fallback: no upload token,
// but the caller must hold an account and pays the upload rate limit.
func (e *UploadEndpoints) DirectUploadHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	allowed, remaining := e.limiter.CheckAndRecord(r.Context(), user.ID, RateLimitUploadVideo)
	if !allowed {
		writeRateLimited(w, remaining)
		return
	}

	e.stageVideo(w, r, chi.URLParam(r, "path"))
}

func (e *UploadEndpoints) stageVideo(w http.ResponseWriter, r *http.Request, path string) {
	if contentType := r.Header.Get("Content-Type"); !allowedVideoType(contentType) {
		http.Error(w, "Unsupported media type, expected video/mp4 or video/quicktime", http.StatusUnsupportedMediaType)
		return
	}

	if err := e.videos.Save(r.Context(), path, r.Body); err != nil {
		slog.Error("Failed to stage uploaded video", "error", err, "path", path)
		http.Error(w, "Failed to store video", http.StatusInternalServerError)
		return
	}

	slog.Info("Video staged", "path", path)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"path": path})
}
