package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

const (
	defaultExtensionsDir = "extensions"
	defaultDataDir       = "data"
	defaultBaseI18nDir   = "i18n"
	defaultHTTPTimeout   = 15 * time.Second
	defaultHTTPRetries   = 3
	defaultMaxRedirects  = 3
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/69.0.3497.100 Safari/537.36"
	defaultConcurrency   = 1
	defaultMaxFiles      = 2048
	defaultMaxFileBytes  = 32 << 20
	defaultMaxTotalBytes = 256 << 20
	defaultLockTTL       = 5 * time.Minute
	defaultEventSubject  = "extstore.events"
	defaultMetricsJob    = "extstore_build"

	EnvConfigPath     = "EXTSTORE_CONFIG"
	envExtensionsDir  = "EXTSTORE_EXTENSIONS_DIR"
	envDataDir        = "EXTSTORE_DATA_DIR"
	envBaseI18nDir    = "EXTSTORE_BASE_I18N_DIR"
	envScratchDir     = "EXTSTORE_SCRATCH_DIR"
	envAssetBaseURL   = "EXTSTORE_ASSET_BASE_URL"
	envHTTPTimeout    = "EXTSTORE_HTTP_TIMEOUT"
	envHTTPRetries    = "EXTSTORE_HTTP_RETRIES"
	envMaxRedirects   = "EXTSTORE_MAX_REDIRECTS"
	envUserAgent      = "EXTSTORE_USER_AGENT"
	envConcurrency    = "EXTSTORE_CONCURRENCY"
	envKeepScratch    = "EXTSTORE_KEEP_SCRATCH"
	envMaxFiles       = "EXTSTORE_ARCHIVE_MAX_FILES"
	envMaxFileBytes   = "EXTSTORE_ARCHIVE_MAX_FILE_BYTES"
	envMaxTotalBytes  = "EXTSTORE_ARCHIVE_MAX_TOTAL_BYTES"
	envRedisURL       = "EXTSTORE_REDIS_URL"
	envLockTTL        = "EXTSTORE_LOCK_TTL"
	envNatsURL        = "EXTSTORE_NATS_URL"
	envEventSubject   = "EXTSTORE_EVENT_SUBJECT"
	envMetricsFile    = "EXTSTORE_METRICS_TEXTFILE"
	envPushgateway    = "EXTSTORE_PUSHGATEWAY_URL"
	envMetricsJobName = "EXTSTORE_METRICS_JOB"
)

// ArchiveLimits bounds what a single archive may unpack to.
type ArchiveLimits struct {
	MaxFiles      int   `yaml:"max_files"`
	MaxFileBytes  int64 `yaml:"max_file_bytes"`
	MaxTotalBytes int64 `yaml:"max_total_bytes"`
}

// Config holds the settings of an index build.
type Config struct {
	ExtensionsDir string `yaml:"extensions_dir"`
	DataDir       string `yaml:"data_dir"`
	BaseI18nDir   string `yaml:"base_i18n_dir"`
	ScratchDir    string `yaml:"scratch_dir"`
	AssetBaseURL  string `yaml:"asset_base_url"`

	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	HTTPRetries  int           `yaml:"http_retries"`
	MaxRedirects int           `yaml:"max_redirects"`
	UserAgent    string        `yaml:"user_agent"`

	Concurrency int           `yaml:"concurrency"`
	KeepScratch bool          `yaml:"keep_scratch"`
	Archive     ArchiveLimits `yaml:"archive"`

	// Optional integrations; empty disables them.
	RedisURL        string        `yaml:"redis_url"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	NatsURL         string        `yaml:"nats_url"`
	EventSubject    string        `yaml:"event_subject"`
	MetricsTextfile string        `yaml:"metrics_textfile"`
	PushgatewayURL  string        `yaml:"pushgateway_url"`
	MetricsJob      string        `yaml:"metrics_job"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ExtensionsDir: defaultExtensionsDir,
		DataDir:       defaultDataDir,
		BaseI18nDir:   defaultBaseI18nDir,
		ScratchDir:    filepath.Join(os.TempDir(), "extstore-scratch"),
		AssetBaseURL:  extension.DefaultAssetBaseURL,
		HTTPTimeout:   defaultHTTPTimeout,
		HTTPRetries:   defaultHTTPRetries,
		MaxRedirects:  defaultMaxRedirects,
		UserAgent:     defaultUserAgent,
		Concurrency:   defaultConcurrency,
		Archive: ArchiveLimits{
			MaxFiles:      defaultMaxFiles,
			MaxFileBytes:  defaultMaxFileBytes,
			MaxTotalBytes: defaultMaxTotalBytes,
		},
		LockTTL:      defaultLockTTL,
		EventSubject: defaultEventSubject,
		MetricsJob:   defaultMetricsJob,
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// $EXTSTORE_CONFIG when path is empty) and environment variables, in that
// order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str(envExtensionsDir, &c.ExtensionsDir)
	str(envDataDir, &c.DataDir)
	str(envBaseI18nDir, &c.BaseI18nDir)
	str(envScratchDir, &c.ScratchDir)
	str(envAssetBaseURL, &c.AssetBaseURL)
	str(envUserAgent, &c.UserAgent)
	str(envRedisURL, &c.RedisURL)
	str(envNatsURL, &c.NatsURL)
	str(envEventSubject, &c.EventSubject)
	str(envMetricsFile, &c.MetricsTextfile)
	str(envPushgateway, &c.PushgatewayURL)
	str(envMetricsJobName, &c.MetricsJob)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envDuration(envHTTPTimeout, &c.HTTPTimeout))
	collect(envDuration(envLockTTL, &c.LockTTL))
	collect(envInt(envHTTPRetries, &c.HTTPRetries))
	collect(envInt(envMaxRedirects, &c.MaxRedirects))
	collect(envInt(envConcurrency, &c.Concurrency))
	collect(envInt(envMaxFiles, &c.Archive.MaxFiles))
	collect(envInt64(envMaxFileBytes, &c.Archive.MaxFileBytes))
	collect(envInt64(envMaxTotalBytes, &c.Archive.MaxTotalBytes))
	if v := strings.TrimSpace(os.Getenv(envKeepScratch)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			collect(fmt.Errorf("%s: %w", envKeepScratch, err))
		} else {
			c.KeepScratch = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	for name, val := range map[string]string{
		"extensions_dir": c.ExtensionsDir,
		"data_dir":       c.DataDir,
		"scratch_dir":    c.ScratchDir,
	} {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if !httpURL(c.AssetBaseURL) {
		errs = append(errs, fmt.Errorf("asset_base_url must be an http(s) url: %q", c.AssetBaseURL))
	}
	if c.PushgatewayURL != "" && !httpURL(c.PushgatewayURL) {
		errs = append(errs, fmt.Errorf("pushgateway_url must be an http(s) url: %q", c.PushgatewayURL))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive"))
	}
	if c.HTTPRetries < 0 || c.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("http_retries and max_redirects must not be negative"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1"))
	}
	if c.Archive.MaxFiles < 1 || c.Archive.MaxFileBytes < 1 || c.Archive.MaxTotalBytes < 1 {
		errs = append(errs, fmt.Errorf("archive limits must be positive"))
	}
	if c.RedisURL != "" && c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("lock_ttl must be positive"))
	}
	if c.NatsURL != "" && strings.TrimSpace(c.EventSubject) == "" {
		errs = append(errs, fmt.Errorf("event_subject is required with nats_url"))
	}
	return errors.Join(errs...)
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func envDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
