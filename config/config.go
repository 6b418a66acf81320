package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr string `yaml:"http_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// Storage
	StorageType   string `yaml:"storage_type"` // local or gcs
	StorageDir    string `yaml:"storage_dir"`
	GCSBucket     string `yaml:"gcs_bucket"`
	GCSBaseDir    string `yaml:"gcs_base_dir"`
	RecordEnabled bool   `yaml:"record_enabled"`

	// Recording
	SegmentDuration time.Duration `yaml:"segment_duration"`
	MaxSegments     int           `yaml:"max_segments"`

	// RTMP
	RTMPURL        string `yaml:"rtmp_url"` // publish destination, empty disables the RTMP output
	RTMPKey        string `yaml:"rtmp_key"`
	RTMPIngestAddr string `yaml:"rtmp_ingest_addr"` // loopback ingest listener, empty disables it

	// Output behavior
	ReconnectRetrySec   int           `yaml:"reconnect_retry_sec"`
	ReconnectMaxRetries int           `yaml:"reconnect_max_retries"`
	DelaySec            uint32        `yaml:"delay_sec"`
	DelayPreserve       bool          `yaml:"delay_preserve"`
	StopTimeout         time.Duration `yaml:"stop_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`

	// Demo capture
	GeneratorFPS        int `yaml:"generator_fps"`
	GeneratorSampleRate int `yaml:"generator_sample_rate"`
}

// Load loads configuration from environment variables with defaults, then
// overlays the YAML file named by CONFIG_FILE when set
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
		StorageType:         getEnv("STORAGE_TYPE", "local"),
		StorageDir:          getEnv("STORAGE_DIR", "./data/recordings"),
		GCSBucket:           getEnv("GCS_BUCKET", ""),
		GCSBaseDir:          getEnv("GCS_BASE_DIR", "recordings"),
		RecordEnabled:       getBoolEnv("RECORD_ENABLED", true),
		SegmentDuration:     getDurationEnv("SEGMENT_DURATION", 4*time.Second),
		MaxSegments:         getIntEnv("MAX_SEGMENTS", 0),
		RTMPURL:             getEnv("RTMP_URL", ""),
		RTMPKey:             getEnv("RTMP_KEY", ""),
		RTMPIngestAddr:      getEnv("RTMP_INGEST_ADDR", ""),
		ReconnectRetrySec:   getIntEnv("RECONNECT_RETRY_SEC", 2),
		ReconnectMaxRetries: getIntEnv("RECONNECT_MAX_RETRIES", 20),
		DelaySec:            uint32(getIntEnv("DELAY_SEC", 0)),
		DelayPreserve:       getBoolEnv("DELAY_PRESERVE", false),
		StopTimeout:         getDurationEnv("STOP_TIMEOUT", 5*time.Second),
		ShutdownTimeout:     getDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
		GeneratorFPS:        getIntEnv("GENERATOR_FPS", 30),
		GeneratorSampleRate: getIntEnv("GENERATOR_SAMPLE_RATE", 48000),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings that cannot fall back to a default
func (c *Config) Validate() error {
	switch c.StorageType {
	case "local":
		if c.StorageDir == "" {
			return fmt.Errorf("storage_dir is required for local storage")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("gcs_bucket is required for gcs storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.RTMPURL != "" && c.RTMPKey == "" {
		return fmt.Errorf("rtmp_key is required with rtmp_url")
	}
	if c.GeneratorFPS <= 0 || c.GeneratorSampleRate <= 0 {
		return fmt.Errorf("generator rates must be positive")
	}
	if c.ReconnectRetrySec < 0 || c.ReconnectMaxRetries < 0 {
		return fmt.Errorf("reconnect settings must not be negative")
	}
	return nil
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
