package config

import (
	"encoding/json"
	"os"
	"time"
)

// SyncConfig holds synchronization tuning
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Enabled bool `json:"enabled"`

	// ============ SCHEDULING ============
	AutoSyncEnabled  bool `json:"auto_sync_enabled"`
	AutoSyncInterval int  `json:"auto_sync_interval"` // seconds
	SyncOnStartup    bool `json:"sync_on_startup"`

	// ============ LIMITS ============
	MaxRetries      int `json:"max_retries"`
	BatchSize       int `json:"batch_size"`
	ParallelWorkers int `json:"parallel_workers"`
	BackoffMinMs    int `json:"backoff_min_ms"`
	BackoffMaxMs    int `json:"backoff_max_ms"`

	// ============ RETENTION ============
	RetentionDays int `json:"retention_days"` // purge window for synced events / resolved conflicts

	// ============ IMAGES ============
	MaxImageDimension int `json:"max_image_dimension"` // px, longest side after downscale
	ImageJPEGQuality  int `json:"image_jpeg_quality"`

	// ============ ENTITIES ============
	Entities map[string]EntitySyncConfig `json:"entities"`
}

// EntitySyncConfig holds sync configuration for a specific entity type
type EntitySyncConfig struct {
	Enabled  bool `json:"enabled"`
	Priority int  `json:"priority"` // 1-10, where 10 = highest
}

// BackoffMin returns the minimum retry backoff as a duration
func (c *SyncConfig) BackoffMin() time.Duration {
	return time.Duration(c.BackoffMinMs) * time.Millisecond
}

// BackoffMax returns the maximum retry backoff as a duration
func (c *SyncConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// LoadSyncConfig loads sync configuration from a JSON file or environment
func LoadSyncConfig() *SyncConfig {
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadSyncConfigFromFile(configPath); err == nil {
			return cfg
		}
	}
	return getDefaultSyncConfig()
}

// loadSyncConfigFromFile loads sync config from JSON file
func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultSyncConfig returns default sync configuration
func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled: getBoolEnv("SYNC_ENABLED", true),

		AutoSyncEnabled:  getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval: getIntEnv("SYNC_AUTO_INTERVAL", 300),
		SyncOnStartup:    getBoolEnv("SYNC_ON_STARTUP", true),

		MaxRetries:      getIntEnv("SYNC_MAX_RETRIES", 3),
		BatchSize:       getIntEnv("SYNC_BATCH_SIZE", 100),
		ParallelWorkers: getIntEnv("SYNC_WORKERS", 2),
		BackoffMinMs:    getIntEnv("SYNC_BACKOFF_MIN_MS", 1000),
		BackoffMaxMs:    getIntEnv("SYNC_BACKOFF_MAX_MS", 60000),

		RetentionDays: getIntEnv("SYNC_RETENTION_DAYS", 30),

		MaxImageDimension: getIntEnv("SYNC_MAX_IMAGE_DIM", 1600),
		ImageJPEGQuality:  getIntEnv("SYNC_IMAGE_JPEG_QUALITY", 85),

		Entities: getDefaultEntityConfigs(),
	}
}

// getDefaultEntityConfigs returns default entity sync configs
func getDefaultEntityConfigs() map[string]EntitySyncConfig {
	return map[string]EntitySyncConfig{
		"items":      {Enabled: true, Priority: 10},
		"containers": {Enabled: true, Priority: 9},
		"categories": {Enabled: true, Priority: 8},
		"locations":  {Enabled: true, Priority: 8},
		"sources":    {Enabled: true, Priority: 6},
	}
}
