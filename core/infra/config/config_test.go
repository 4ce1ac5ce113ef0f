package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extstore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExtensionsDir != defaultExtensionsDir || cfg.DataDir != defaultDataDir {
		t.Fatalf("expected default dirs, got %s %s", cfg.ExtensionsDir, cfg.DataDir)
	}
	if cfg.HTTPTimeout != 15*time.Second || cfg.HTTPRetries != 3 || cfg.MaxRedirects != 3 {
		t.Fatalf("unexpected http defaults: %#v", cfg)
	}
	if cfg.AssetBaseURL != extension.DefaultAssetBaseURL {
		t.Fatalf("unexpected asset base url")
	}
	if cfg.Concurrency != 1 || cfg.KeepScratch {
		t.Fatalf("unexpected run defaults")
	}
	if cfg.RedisURL != "" || cfg.NatsURL != "" || cfg.PushgatewayURL != "" {
		t.Fatalf("integrations must be disabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
extensions_dir: /srv/store/extensions
data_dir: /srv/store/data
http_timeout: 30s
concurrency: 4
keep_scratch: true
archive:
  max_files: 100
redis_url: redis://localhost:6379/1
lock_ttl: 2m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExtensionsDir != "/srv/store/extensions" || cfg.DataDir != "/srv/store/data" {
		t.Fatalf("unexpected dirs: %#v", cfg)
	}
	if cfg.HTTPTimeout != 30*time.Second || cfg.Concurrency != 4 || !cfg.KeepScratch {
		t.Fatalf("unexpected overrides: %#v", cfg)
	}
	if cfg.Archive.MaxFiles != 100 || cfg.Archive.MaxTotalBytes != defaultMaxTotalBytes {
		t.Fatalf("expected partial archive override, got %#v", cfg.Archive)
	}
	if cfg.LockTTL != 2*time.Minute || cfg.RedisURL == "" {
		t.Fatalf("unexpected lock settings")
	}
	if cfg.BaseI18nDir != defaultBaseI18nDir {
		t.Fatalf("expected default for unset field")
	}
}

func TestLoadFileFromEnvPath(t *testing.T) {
	t.Setenv(EnvConfigPath, writeConfig(t, "data_dir: from-env-file\n"))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "from-env-file" {
		t.Fatalf("expected config path from env, got %s", cfg.DataDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "data_dir: from-file\nconcurrency: 2\n")
	t.Setenv(envDataDir, "from-env")
	t.Setenv(envConcurrency, "8")
	t.Setenv(envKeepScratch, "true")
	t.Setenv(envHTTPTimeout, "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "from-env" || cfg.Concurrency != 8 || !cfg.KeepScratch || cfg.HTTPTimeout != 5*time.Second {
		t.Fatalf("expected env overrides, got %#v", cfg)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv(envConcurrency, "many")
	t.Setenv(envHTTPTimeout, "soon")
	_, err := Load("")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), envConcurrency) || !strings.Contains(err.Error(), envHTTPTimeout) {
		t.Fatalf("expected both variables reported: %v", err)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "colour: blue\n",
		"bad duration":  "http_timeout: fast\n",
		"zero workers":  "concurrency: 0\n",
		"bad asset url": "asset_base_url: ftp://example.test\n",
		"broken yaml":   "data_dir: [\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg.Concurrency = 0
	cfg.DataDir = ""
	cfg.PushgatewayURL = "localhost:9091"
	cfg.NatsURL = "nats://localhost:4222"
	cfg.EventSubject = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"concurrency", "data_dir", "pushgateway_url", "event_subject"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}
