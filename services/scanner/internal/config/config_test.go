package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

const testAuditID = "6fa1c0de-9a31-4c0f-8a8e-27c5f1d9b204"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SCANNER_CONFIG_FILE",
		"SCANNER_API_BASE",
		"SCANNER_AUDIT_ID",
		"SCANNER_SOURCE",
		"SCANNER_QUEUE_PATH",
		"SCANNER_HTTP_ADDR",
		"NATS_URL",
		"SCANNER_DRAIN_SCHEDULE",
		"SCANNER_DEBOUNCE_MS",
		"SCANNER_PROBE_INTERVAL_MS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCANNER_API_BASE", "http://audit.local:8080")
	t.Setenv("SCANNER_AUDIT_ID", testAuditID)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AuditID != uuid.MustParse(testAuditID) {
		t.Errorf("AuditID = %s, want %s", cfg.AuditID, testAuditID)
	}
	if cfg.Source != "scanner" {
		t.Errorf("Source = %q, want %q", cfg.Source, "scanner")
	}
	if cfg.HTTPAddr != ":8090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8090")
	}
	if cfg.DrainSchedule != "@every 1m" {
		t.Errorf("DrainSchedule = %q, want %q", cfg.DrainSchedule, "@every 1m")
	}
	if cfg.Debounce != 300*time.Millisecond {
		t.Errorf("Debounce = %s, want 300ms", cfg.Debounce)
	}
	if cfg.ProbeInterval != 15*time.Second {
		t.Errorf("ProbeInterval = %s, want 15s", cfg.ProbeInterval)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("Load() without SCANNER_API_BASE should fail")
	}

	t.Setenv("SCANNER_API_BASE", "http://audit.local:8080")
	if _, err := Load(); err == nil {
		t.Fatal("Load() without SCANNER_AUDIT_ID should fail")
	}

	t.Setenv("SCANNER_AUDIT_ID", "not-a-uuid")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with malformed SCANNER_AUDIT_ID should fail")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "scanner.yaml")
	data := []byte(`api_base: http://audit.local:8080
audit_id: ` + testAuditID + `
source: backroom-gun-2
queue_path: /tmp/q.db
debounce_ms: 500
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SCANNER_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source != "backroom-gun-2" {
		t.Errorf("Source = %q, want %q", cfg.Source, "backroom-gun-2")
	}
	if cfg.QueuePath != "/tmp/q.db" {
		t.Errorf("QueuePath = %q, want %q", cfg.QueuePath, "/tmp/q.db")
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %s, want 500ms", cfg.Debounce)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "scanner.yaml")
	data := []byte(`api_base: http://file.local:8080
audit_id: ` + testAuditID + `
source: from-file
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SCANNER_CONFIG_FILE", path)
	t.Setenv("SCANNER_SOURCE", "from-env")
	t.Setenv("SCANNER_DEBOUNCE_MS", "150")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source != "from-env" {
		t.Errorf("Source = %q, want %q", cfg.Source, "from-env")
	}
	if cfg.APIBase != "http://file.local:8080" {
		t.Errorf("APIBase = %q, want file value", cfg.APIBase)
	}
	if cfg.Debounce != 150*time.Millisecond {
		t.Errorf("Debounce = %s, want 150ms", cfg.Debounce)
	}
}

func TestLoadRejectsNonPositiveDebounce(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCANNER_API_BASE", "http://audit.local:8080")
	t.Setenv("SCANNER_AUDIT_ID", testAuditID)
	t.Setenv("SCANNER_DEBOUNCE_MS", "-5")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with negative debounce should fail")
	}
}
