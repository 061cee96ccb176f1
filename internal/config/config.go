// Package config holds the run configuration surface: YAML scenario files,
// CRUCIBLE_* environment overrides, and VM profile descriptors. Core packages
// never read files or environment themselves; the CLI maps this onto them.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Target   TargetConfig   `yaml:"target"`
	Run      RunConfig      `yaml:"run"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Output   OutputConfig   `yaml:"output"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

type TargetConfig struct {
	URL            string        `yaml:"url"`
	TransformPath  string        `yaml:"transform_path"`
	HealthPath     string        `yaml:"health_path"`
	SamplePath     string        `yaml:"sample_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	ForceClose     bool          `yaml:"force_close"`
	Auth           AuthConfig    `yaml:"auth"`
}

// AuthConfig selects how requests authenticate against the target.
// Mode "bearer" sends Token verbatim, "jwt" mints short-lived HS256 tokens
// from JWTSecret, "oauth2" runs the client-credentials flow against TokenURL.
type AuthConfig struct {
	Mode         string        `yaml:"mode"`
	Token        string        `yaml:"token"`
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTSubject   string        `yaml:"jwt_subject"`
	JWTTTL       time.Duration `yaml:"jwt_ttl"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
}

type RunConfig struct {
	Requests     int           `yaml:"requests"`
	Concurrency  int           `yaml:"concurrency"`
	BatchSize    int           `yaml:"batch_size"`
	Cooldown     time.Duration `yaml:"cooldown"`
	Warmup       bool          `yaml:"warmup"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	RateLimit    float64       `yaml:"rate_limit"`
	SweepLevels  []int         `yaml:"sweep_levels"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AnalysisConfig carries the degradation thresholds. MidRunDropPct is a
// percentage of first-batch throughput, not a fraction.
type AnalysisConfig struct {
	DegradationPct float64 `yaml:"degradation_pct"`
	MemoryLeakMB   float64 `yaml:"memory_leak_mb"`
	ConnLeakCount  int     `yaml:"conn_leak_count"`
	TimeWaitLimit  int     `yaml:"time_wait_limit"`
	MidRunDropPct  float64 `yaml:"mid_run_drop_pct"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type OutputConfig struct {
	Dir      string `yaml:"dir"`
	CSV      bool   `yaml:"csv"`
	Archive  bool   `yaml:"archive"`
	Outcomes bool   `yaml:"outcomes"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
	// S3Endpoint points uploads at an S3-compatible store instead of AWS.
	// The key pair is optional; the default credential chain applies when
	// it is empty.
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
}

type HistoryConfig struct {
	DSN string `yaml:"dsn"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			URL:            "http://localhost:3000",
			TransformPath:  "/transform/mt-to-mx",
			HealthPath:     "/health",
			SamplePath:     "/generate/sample",
			RequestTimeout: 30 * time.Second,
			ConnectTimeout: 2 * time.Second,
			HealthTimeout:  2 * time.Second,
			Auth:           AuthConfig{Mode: "none", JWTTTL: 5 * time.Minute},
		},
		Run: RunConfig{
			Requests:    100000,
			Concurrency: 64,
			BatchSize:   5000,
			Cooldown:    3 * time.Second,
			Warmup:      true,
			SweepLevels: []int{64, 128, 256},
		},
		Monitor: MonitorConfig{
			Interval: 2 * time.Second,
		},
		Analysis: AnalysisConfig{
			DegradationPct: 20,
			MemoryLeakMB:   100,
			ConnLeakCount:  100,
			TimeWaitLimit:  1000,
			MidRunDropPct:  10,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Output: OutputConfig{
			Dir:      "results",
			S3Region: "us-east-1",
		},
		Log: LogConfig{
			Level:      "info",
			Encoding:   "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// LoadFromFile reads a YAML scenario file over the defaults, so a partial
// file only overrides the keys it names.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var validAuthModes = map[string]bool{"none": true, "bearer": true, "jwt": true, "oauth2": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate fails fast before any batch runs.
func (c *Config) Validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("config: target.url is required")
	}
	u, err := url.Parse(c.Target.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: target.url %q is not an absolute URL", c.Target.URL)
	}
	if !validAuthModes[c.Target.Auth.Mode] {
		return fmt.Errorf("config: target.auth.mode %q is not one of none, bearer, jwt, oauth2", c.Target.Auth.Mode)
	}
	switch c.Target.Auth.Mode {
	case "bearer":
		if c.Target.Auth.Token == "" {
			return fmt.Errorf("config: target.auth.token is required for bearer mode")
		}
	case "jwt":
		if c.Target.Auth.JWTSecret == "" {
			return fmt.Errorf("config: target.auth.jwt_secret is required for jwt mode")
		}
	case "oauth2":
		if c.Target.Auth.TokenURL == "" || c.Target.Auth.ClientID == "" {
			return fmt.Errorf("config: target.auth.token_url and client_id are required for oauth2 mode")
		}
	}
	if c.Run.Requests <= 0 {
		return fmt.Errorf("config: run.requests must be positive, got %d", c.Run.Requests)
	}
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("config: run.concurrency must be positive, got %d", c.Run.Concurrency)
	}
	if c.Run.BatchSize <= 0 {
		return fmt.Errorf("config: run.batch_size must be positive, got %d", c.Run.BatchSize)
	}
	if c.Run.Cooldown < 0 {
		return fmt.Errorf("config: run.cooldown must not be negative")
	}
	if c.Run.RateLimit < 0 {
		return fmt.Errorf("config: run.rate_limit must not be negative")
	}
	for _, level := range c.Run.SweepLevels {
		if level <= 0 {
			return fmt.Errorf("config: run.sweep_levels entries must be positive, got %d", level)
		}
	}
	if c.Monitor.Interval < 500*time.Millisecond || c.Monitor.Interval > 10*time.Second {
		return fmt.Errorf("config: monitor.interval %s outside 500ms-10s", c.Monitor.Interval)
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return fmt.Errorf("config: log.encoding %q is not json or console", c.Log.Encoding)
	}
	return nil
}
