package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv  string
	Port     string
	Database DatabaseConfig
	Remote   RemoteConfig
	Blob     BlobConfig
}

// DatabaseConfig holds local store configuration. When Driver is "sqlite"
// the store lives in a single file at Path. When Driver is "postgres",
// localhost with an empty password selects the embedded server.
type DatabaseConfig struct {
	Driver   string
	Path     string
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// RemoteConfig holds the authoritative backend API configuration
type RemoteConfig struct {
	BaseURL     string
	APISecret   string
	TimeoutSecs int
}

// BlobConfig holds remote blob storage configuration
type BlobConfig struct {
	Backend   string // gcs, http
	GCSBucket string
	UploadURL string
	// EncKey enables at-rest encryption of staged photo payloads when set
	// (64 hex chars / 32 bytes).
	EncKey string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	remoteURL := os.Getenv("REMOTE_API_URL")
	if remoteURL == "" {
		return nil, fmt.Errorf("REMOTE_API_URL is required")
	}

	apiSecret := os.Getenv("REMOTE_API_SECRET")
	if apiSecret == "" {
		return nil, fmt.Errorf("REMOTE_API_SECRET is required")
	}

	return &Config{
		NodeEnv: getEnv("NODE_ENV", "development"),
		Port:    getEnv("PORT", "3001"),
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("SQLITE_PATH", "./shelfsync.db"),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "shelfsync"),
		},
		Remote: RemoteConfig{
			BaseURL:     remoteURL,
			APISecret:   apiSecret,
			TimeoutSecs: getIntEnv("REMOTE_API_TIMEOUT", 30),
		},
		Blob: BlobConfig{
			Backend:   getEnv("BLOB_BACKEND", "http"),
			GCSBucket: os.Getenv("GCS_BUCKET"),
			UploadURL: os.Getenv("BLOB_UPLOAD_URL"),
			EncKey:    os.Getenv("BLOB_ENC_KEY"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
