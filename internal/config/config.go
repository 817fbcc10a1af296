package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Config is the process configuration, read from the environment.
type Config struct {
	// Firestore
	FirestoreProjectID      string        `koanf:"firestore_project_id"`
	FirebaseCredentialsFile string        `koanf:"firebase_credentials_file"`
	RegionsCollection       string        `koanf:"regions_collection"`
	UsersCollection         string        `koanf:"users_collection"`
	FetchTimeout            time.Duration `koanf:"fetch_timeout"`

	// Identity of the session this process acts for
	UserID string `koanf:"regionsync_user_id"`

	// Push subscription supervision
	ResubscribeBase time.Duration `koanf:"resubscribe_base"`
	ResubscribeMax  time.Duration `koanf:"resubscribe_max"`

	// Renderer bridge
	BridgeAddr           string   `koanf:"bridge_addr"`
	BridgeAllowedOrigins []string `koanf:"bridge_allowed_origins"`

	// Worker Pool
	PoolWorkers    int           `koanf:"pool_workers"`
	PoolQueueDepth int           `koanf:"pool_queue_depth"`
	PoolMaxRetries int           `koanf:"pool_max_retries"`
	PoolRetryBase  time.Duration `koanf:"pool_retry_base"`

	// Storage
	DataDir        string        `koanf:"data_dir"`
	AuditRetention time.Duration `koanf:"audit_retention"`

	// Operational
	DryRun          bool          `koanf:"dry_run"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// sanitise strips one layer of surrounding quotes left by docker --env-file.
func (c *Config) sanitise() {
	c.FirestoreProjectID = stripEnvQuotes(c.FirestoreProjectID)
	c.FirebaseCredentialsFile = stripEnvQuotes(c.FirebaseCredentialsFile)
	c.RegionsCollection = stripEnvQuotes(c.RegionsCollection)
	c.UsersCollection = stripEnvQuotes(c.UsersCollection)
	c.UserID = stripEnvQuotes(c.UserID)
	c.BridgeAddr = stripEnvQuotes(c.BridgeAddr)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.BridgeAllowedOrigins {
		c.BridgeAllowedOrigins[i] = stripEnvQuotes(s)
	}
}

// defaults is loaded before the environment.
func defaults() map[string]any {
	return map[string]any{
		"regions_collection": "regions",
		"users_collection":   "users",
		"fetch_timeout":      "15s",
		"resubscribe_base":   "1s",
		"resubscribe_max":    "2m",
		"bridge_addr":        ":8090",
		"pool_workers":       2,
		"pool_queue_depth":   256,
		"pool_max_retries":   3,
		"pool_retry_base":    "1s",
		"data_dir":           "/data",
		"audit_retention":    "720h",
		"log_level":          "info",
		"log_format":         "json",
		"metrics_enabled":    true,
		"metrics_addr":       ":9090",
		"health_addr":        ":8081",
		"janitor_interval":   "1h",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// "." as delimiter keeps env vars with "_" flat: FETCH_TIMEOUT → "fetch_timeout".
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list fields that koanf won't split automatically
	cfg.BridgeAllowedOrigins = splitCSV(k.String("bridge_allowed_origins"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.FirestoreProjectID != "", "FIRESTORE_PROJECT_ID is required")
	check(c.RegionsCollection != "", "REGIONS_COLLECTION must not be empty")
	check(c.UsersCollection != "", "USERS_COLLECTION must not be empty")
	check(c.FetchTimeout > 0, "FETCH_TIMEOUT must be > 0; got %s", c.FetchTimeout)

	check(c.ResubscribeBase > 0, "RESUBSCRIBE_BASE must be > 0; got %s", c.ResubscribeBase)
	check(c.ResubscribeMax >= c.ResubscribeBase,
		"RESUBSCRIBE_MAX (%s) must be >= RESUBSCRIBE_BASE (%s)", c.ResubscribeMax, c.ResubscribeBase)

	check(c.PoolWorkers >= 1 && c.PoolWorkers <= 64, "POOL_WORKERS must be between 1 and 64; got %d", c.PoolWorkers)
	check(c.PoolQueueDepth >= 1, "POOL_QUEUE_DEPTH must be >= 1; got %d", c.PoolQueueDepth)
	check(c.PoolMaxRetries >= 0, "POOL_MAX_RETRIES must be >= 0; got %d", c.PoolMaxRetries)

	for _, origin := range c.BridgeAllowedOrigins {
		check(validOrigin(origin), "BRIDGE_ALLOWED_ORIGINS: invalid origin %q", origin)
	}

	check(c.AuditRetention > 0, "AUDIT_RETENTION must be > 0; got %s", c.AuditRetention)
	check(c.JanitorInterval > 0, "JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)

	_, lvlErr := zerolog.ParseLevel(c.LogLevel)
	check(c.LogLevel != "" && lvlErr == nil, "LOG_LEVEL %q is not a zerolog level", c.LogLevel)
	check(c.LogFormat == "json" || c.LogFormat == "text", "LOG_FORMAT must be json or text; got %q", c.LogFormat)

	return errors.Join(errs...)
}

func validOrigin(origin string) bool {
	if origin == "*" {
		return true
	}
	for _, scheme := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(origin, scheme) && len(origin) > len(scheme) {
			return true
		}
	}
	return false
}

// fileSecretKeys may be supplied as <KEY>_FILE pointing at a file whose
// trimmed contents become the value.
var fileSecretKeys = []string{
	"regionsync_user_id",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// mapProvider feeds an in-memory map to koanf as the lowest-priority layer.
type mapProvider map[string]any

func (m mapProvider) Read() (map[string]any, error) { return m, nil }

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("mapProvider: ReadBytes unsupported")
}
