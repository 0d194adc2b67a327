package services

import (
	"log/slog"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	AI       AIConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Port      string
	PublicURL string // base URL handed to clients in upload URLs
}

type DatabaseConfig struct {
	URL          string
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
}

type AIConfig struct {
	Provider       string // "gemini" or "openai"
	GeminiAPIKey   string
	OpenAIAPIKey   string
	MaxVideoSizeMB float64
}

type JWTConfig struct {
	Secret string
}

type StorageConfig struct {
	Dir               string
	UploadTokenTTLMin int
}

type SessionConfig struct {
	QueuedTTLMin   int // sessions stuck in queued longer than this are reaped
	DailyFreeLimit int
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.public_url", "http://localhost:8080")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("ai.max_video_size_mb", "20")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("storage.dir", "./videos")
	viper.SetDefault("storage.upload_token_ttl_min", "15")
	viper.SetDefault("session.queued_ttl_min", "30")
	viper.SetDefault("session.daily_free_limit", "1")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.public_url", "SERVER_PUBLIC_URL")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("ai.provider", "ANALYSIS_PROVIDER")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("ai.max_video_size_mb", "MAX_VIDEO_SIZE_MB")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("storage.dir", "STORAGE_DIR")
	viper.BindEnv("storage.upload_token_ttl_min", "UPLOAD_TOKEN_TTL_MIN")
	viper.BindEnv("session.queued_ttl_min", "SESSION_QUEUED_TTL_MIN")
	viper.BindEnv("session.daily_free_limit", "DAILY_FREE_LIMIT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			PublicURL: viper.GetString("server.public_url"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database.url"),
			LogLevel:     viper.GetString("database.log_level"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
		},
		AI: AIConfig{
			Provider:       viper.GetString("ai.provider"),
			GeminiAPIKey:   viper.GetString("gemini.api_key"),
			OpenAIAPIKey:   viper.GetString("openai.api_key"),
			MaxVideoSizeMB: viper.GetFloat64("ai.max_video_size_mb"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Storage: StorageConfig{
			Dir:               viper.GetString("storage.dir"),
			UploadTokenTTLMin: viper.GetInt("storage.upload_token_ttl_min"),
		},
		Session: SessionConfig{
			QueuedTTLMin:   viper.GetInt("session.queued_ttl_min"),
			DailyFreeLimit: viper.GetInt("session.daily_free_limit"),
		},
	}
}
