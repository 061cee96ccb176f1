package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv applies CRUCIBLE_* environment overrides on top of cfg.
// Malformed values are ignored; the CLI flags still win over everything.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CRUCIBLE_TARGET_URL"); v != "" {
		cfg.Target.URL = v
	}
	if v := os.Getenv("CRUCIBLE_AUTH_TOKEN"); v != "" {
		cfg.Target.Auth.Mode = "bearer"
		cfg.Target.Auth.Token = v
	}

	if v := os.Getenv("CRUCIBLE_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.Requests = n
		}
	}
	if v := os.Getenv("CRUCIBLE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.Concurrency = n
		}
	}
	if v := os.Getenv("CRUCIBLE_CONCURRENCY_LEVELS"); v != "" {
		if levels, err := ParseIntList(v); err == nil {
			cfg.Run.SweepLevels = levels
		}
	}
	if v := os.Getenv("CRUCIBLE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.BatchSize = n
		}
	}
	if v := os.Getenv("CRUCIBLE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.Cooldown = d
		}
	}
	if v := os.Getenv("CRUCIBLE_WARMUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Run.Warmup = b
		}
	}

	if v := os.Getenv("CRUCIBLE_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("CRUCIBLE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("CRUCIBLE_HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}
	if v := os.Getenv("CRUCIBLE_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("CRUCIBLE_S3_BUCKET"); v != "" {
		cfg.Output.S3Bucket = v
	}
	if v := os.Getenv("CRUCIBLE_S3_ENDPOINT"); v != "" {
		cfg.Output.S3Endpoint = v
	}
	if v := os.Getenv("CRUCIBLE_S3_ACCESS_KEY"); v != "" {
		cfg.Output.S3AccessKey = v
	}
	if v := os.Getenv("CRUCIBLE_S3_SECRET_KEY"); v != "" {
		cfg.Output.S3SecretKey = v
	}
	if v := os.Getenv("CRUCIBLE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// ParseIntList parses comma-separated integers such as "8,32,128".
func ParseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("config: %q is not an integer list: %w", s, err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: %q contains no integers", s)
	}
	return out, nil
}

// GetEnvOrDefault returns the environment variable value or a fallback.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
