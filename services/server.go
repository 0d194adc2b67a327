package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mirrormate/backend/repository"
	"github.com/mirrormate/backend/storage"
	"gorm.io/gorm"
)

// Server holds all server dependencies
type Server struct {
	config           *Config
	repo             *repository.GORMRepository
	rawDB            *gorm.DB
	videos           storage.VideoStorage
	provider         AnalysisProvider
	limiter          *RateLimiter
	quota            *QuotaService
	worker           *AnalysisWorker
	reaper           *QueuedSessionReaper
	uploadToken      *UploadTokenService
	authService      *AuthService
	authEndpoints    *AuthEndpoints
	sessionEndpoints *SessionEndpoints
	uploadEndpoints  *UploadEndpoints
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{config: config}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(repo *repository.GORMRepository, rawDB *gorm.DB) {
	s.repo = repo
	s.rawDB = rawDB
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices() error {
	if s.repo == nil {
		return fmt.Errorf("database not configured")
	}
	if s.config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret not configured")
	}

	s.videos = storage.NewLocalVideoStorage(s.config.Storage.Dir)
	slog.Info("Video storage initialized", "dir", s.config.Storage.Dir)

	switch s.config.AI.Provider {
	case "", "gemini":
		provider, err := NewGeminiProvider(s.config.AI.GeminiAPIKey)
		if err != nil {
			return fmt.Errorf("failed to initialize gemini provider: %w", err)
		}
		s.provider = provider
	case "openai":
		s.provider = NewOpenAIProvider(s.config.AI.OpenAIAPIKey)
	default:
		return fmt.Errorf("unknown analysis provider: %s", s.config.AI.Provider)
	}
	slog.Info("Analysis provider initialized", "provider", s.provider.Name())

	s.limiter = NewRateLimiter(s.repo)
	s.quota = NewQuotaService(s.repo, s.config.Session.DailyFreeLimit)
	s.worker = NewAnalysisWorker(s.repo, s.videos, s.provider, s.config.AI.MaxVideoSizeMB)
	s.uploadToken = NewUploadTokenService(s.config.JWT.Secret)
	s.reaper = NewQueuedSessionReaper(s.repo, s.videos, time.Duration(s.config.Session.QueuedTTLMin)*time.Minute)

	s.authService = NewAuthService(s.repo, s.config.JWT.Secret)
	s.authEndpoints = NewAuthEndpoints(s.authService)
	s.sessionEndpoints = NewSessionEndpoints(
		s.repo, s.limiter, s.quota, s.videos, s.uploadToken, s.authService, s.worker,
		s.config.Server.PublicURL, time.Duration(s.config.Storage.UploadTokenTTLMin)*time.Minute,
	)
	s.uploadEndpoints = NewUploadEndpoints(s.videos, s.uploadToken, s.authService, s.limiter)

	slog.Info("Services initialized")
	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health endpoint
	r.Get("/health", s.healthHandler)

	// API v1 route group
	r.Route("/api/v1", func(r chi.Router) {
		s.authEndpoints.RegisterRoutes(r)
		s.sessionEndpoints.RegisterRoutes(r)
		s.uploadEndpoints.RegisterRoutes(r)
	})

	return r
}

// Start starts the HTTP server and the background reaper
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	s.reaper.Start()
	defer s.reaper.Stop()

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.rawDB != nil {
		if sqlDB, err := s.rawDB.DB(); err == nil {
			if err := sqlDB.Ping(); err != nil {
				dbStatus = "down"
				status = "degraded"
			} else {
				dbStatus = "up"
			}
		} else {
			dbStatus = "down"
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))

	slog.Info("Health check", "status", status, "database", dbStatus)
}
