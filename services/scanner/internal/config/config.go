package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config controls one scanner agent instance. Values come from an optional
// YAML file (SCANNER_CONFIG_FILE) with environment variables taking
// precedence, so fleet-provisioned files can still be overridden per device.
type Config struct {
	APIBase       string        `yaml:"api_base"`
	AuditID       uuid.UUID     `yaml:"-"`
	Source        string        `yaml:"source"`
	QueuePath     string        `yaml:"queue_path"`
	HTTPAddr      string        `yaml:"http_addr"`
	NATSURL       string        `yaml:"nats_url"`
	Debounce      time.Duration `yaml:"-"`
	ProbeInterval time.Duration `yaml:"-"`
	DrainSchedule string        `yaml:"drain_schedule"`

	// Raw fields unmarshalled from YAML before parsing.
	AuditIDRaw      string `yaml:"audit_id"`
	DebounceMS      int    `yaml:"debounce_ms"`
	ProbeIntervalMS int    `yaml:"probe_interval_ms"`
}

// Load resolves the agent configuration from file and environment.
func Load() (Config, error) {
	cfg := Config{
		Source:          "scanner",
		QueuePath:       "/var/lib/stocktake/scan_queue.db",
		HTTPAddr:        ":8090",
		DrainSchedule:   "@every 1m",
		DebounceMS:      300,
		ProbeIntervalMS: 15000,
	}

	if path := os.Getenv("SCANNER_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read SCANNER_CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.APIBase = getEnv("SCANNER_API_BASE", cfg.APIBase)
	cfg.AuditIDRaw = getEnv("SCANNER_AUDIT_ID", cfg.AuditIDRaw)
	cfg.Source = getEnv("SCANNER_SOURCE", cfg.Source)
	cfg.QueuePath = getEnv("SCANNER_QUEUE_PATH", cfg.QueuePath)
	cfg.HTTPAddr = getEnv("SCANNER_HTTP_ADDR", cfg.HTTPAddr)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.DrainSchedule = getEnv("SCANNER_DRAIN_SCHEDULE", cfg.DrainSchedule)
	cfg.DebounceMS = getEnvInt("SCANNER_DEBOUNCE_MS", cfg.DebounceMS)
	cfg.ProbeIntervalMS = getEnvInt("SCANNER_PROBE_INTERVAL_MS", cfg.ProbeIntervalMS)

	if cfg.APIBase == "" {
		return Config{}, fmt.Errorf("SCANNER_API_BASE is required")
	}
	if cfg.AuditIDRaw == "" {
		return Config{}, fmt.Errorf("SCANNER_AUDIT_ID is required")
	}
	auditID, err := uuid.Parse(cfg.AuditIDRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SCANNER_AUDIT_ID: %q", cfg.AuditIDRaw)
	}
	cfg.AuditID = auditID

	if cfg.DebounceMS <= 0 {
		return Config{}, fmt.Errorf("invalid SCANNER_DEBOUNCE_MS: %d", cfg.DebounceMS)
	}
	if cfg.ProbeIntervalMS <= 0 {
		return Config{}, fmt.Errorf("invalid SCANNER_PROBE_INTERVAL_MS: %d", cfg.ProbeIntervalMS)
	}
	cfg.Debounce = time.Duration(cfg.DebounceMS) * time.Millisecond
	cfg.ProbeInterval = time.Duration(cfg.ProbeIntervalMS) * time.Millisecond

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
