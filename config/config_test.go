package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StorageType != "local" || !cfg.RecordEnabled {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.ReconnectRetrySec != 2 || cfg.ReconnectMaxRetries != 20 {
		t.Errorf("Unexpected reconnect defaults %d/%d", cfg.ReconnectRetrySec, cfg.ReconnectMaxRetries)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SEGMENT_DURATION", "2s")
	t.Setenv("DELAY_SEC", "15")
	t.Setenv("DELAY_PRESERVE", "true")
	t.Setenv("MAX_SEGMENTS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SegmentDuration != 2*time.Second || cfg.DelaySec != 15 || !cfg.DelayPreserve {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.MaxSegments != 0 {
		t.Errorf("Expected an invalid value to keep the default, got %d", cfg.MaxSegments)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
http_addr: ":9090"
rtmp_url: rtmp://live.example.com/app
rtmp_key: secret
stop_timeout: 750ms
max_segments: 6
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.RTMPKey != "secret" || cfg.MaxSegments != 6 {
		t.Errorf("Expected file values, got %+v", cfg)
	}
	if cfg.StopTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms stop timeout, got %s", cfg.StopTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected keys missing from the file to keep env values, got %s", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{StorageType: "local", StorageDir: "x", GeneratorFPS: 30, GeneratorSampleRate: 48000}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "gcs without bucket", mutate: func(c *Config) { c.StorageType = "gcs" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageType = "s3" }, wantErr: true},
		{name: "url without key", mutate: func(c *Config) { c.RTMPURL = "rtmp://a/b" }, wantErr: true},
		{name: "zero fps", mutate: func(c *Config) { c.GeneratorFPS = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.ReconnectMaxRetries = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	var c Config
	if err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http_addr: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadFile(path); err == nil {
		t.Error("Expected a parse error")
	}
}
