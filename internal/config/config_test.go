package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

// baseEnv sets the minimum required fields for a valid config and clears
// fields that might cause spurious validation failures between test cases.
func baseEnv(t *testing.T) {
	t.Helper()
	setEnv(t, "FIRESTORE_PROJECT_ID", "palu-network")
	for _, k := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "POOL_WORKERS", "POOL_QUEUE_DEPTH", "POOL_MAX_RETRIES",
		"RESUBSCRIBE_BASE", "RESUBSCRIBE_MAX", "FETCH_TIMEOUT", "BRIDGE_ALLOWED_ORIGINS",
		"AUDIT_RETENTION", "JANITOR_INTERVAL", "REGIONS_COLLECTION", "USERS_COLLECTION",
		"REGIONSYNC_USER_ID", "REGIONSYNC_USER_ID_FILE",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("FIRESTORE_PROJECT_ID")

	_, err := Load()
	if err == nil {
		t.Error("expected error when FIRESTORE_PROJECT_ID missing")
	}
}

func TestLoadMinimalValid(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FirestoreProjectID != "palu-network" {
		t.Errorf("FirestoreProjectID: got %q", cfg.FirestoreProjectID)
	}
}

func TestDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RegionsCollection != "regions" {
		t.Errorf("default RegionsCollection: got %q", cfg.RegionsCollection)
	}
	if cfg.UsersCollection != "users" {
		t.Errorf("default UsersCollection: got %q", cfg.UsersCollection)
	}
	if cfg.PoolWorkers != 2 {
		t.Errorf("default PoolWorkers: got %d", cfg.PoolWorkers)
	}
	if cfg.ResubscribeBase != time.Second || cfg.ResubscribeMax != 2*time.Minute {
		t.Errorf("default resubscribe backoff: got %s..%s", cfg.ResubscribeBase, cfg.ResubscribeMax)
	}
	if cfg.BridgeAddr != ":8090" {
		t.Errorf("default BridgeAddr: got %q", cfg.BridgeAddr)
	}
	if cfg.AuditRetention != 720*time.Hour {
		t.Errorf("default AuditRetention: got %s", cfg.AuditRetention)
	}
	if !cfg.MetricsEnabled {
		t.Error("default MetricsEnabled: expected true")
	}
	if len(cfg.BridgeAllowedOrigins) != 0 {
		t.Errorf("default BridgeAllowedOrigins: got %v", cfg.BridgeAllowedOrigins)
	}
}

func TestFileSecretInjection(t *testing.T) {
	baseEnv(t)
	dir := t.TempDir()
	uidFile := filepath.Join(dir, "uid.txt")
	if err := os.WriteFile(uidFile, []byte("  uid-admin-01  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	setEnv(t, "REGIONSYNC_USER_ID_FILE", uidFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with file secret: %v", err)
	}
	if cfg.UserID != "uid-admin-01" {
		t.Errorf("expected trimmed file secret, got %q", cfg.UserID)
	}
}

func TestFileSecretMissingFile(t *testing.T) {
	baseEnv(t)
	setEnv(t, "REGIONSYNC_USER_ID_FILE", filepath.Join(t.TempDir(), "absent"))

	if _, err := Load(); err == nil {
		t.Error("expected error for unreadable secret file")
	}
}

func TestAllowedOriginsParsing(t *testing.T) {
	baseEnv(t)
	setEnv(t, "BRIDGE_ALLOWED_ORIGINS", "https://map.palu.go.id, file://, 'http://localhost:5173'")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.BridgeAllowedOrigins) != 3 {
		t.Fatalf("expected 3 origins, got %v", cfg.BridgeAllowedOrigins)
	}
	if cfg.BridgeAllowedOrigins[2] != "http://localhost:5173" {
		t.Errorf("quoted origin not stripped: %q", cfg.BridgeAllowedOrigins[2])
	}
}

func TestStripEnvQuotes(t *testing.T) {
	cases := map[string]string{
		`"abc"`: "abc",
		`'abc'`: "abc",
		`"abc'`: `"abc'`,
		`a`:     "a",
		``:      "",
	}
	for in, want := range cases {
		if got := stripEnvQuotes(in); got != want {
			t.Errorf("stripEnvQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T)
		wantErr bool
	}{
		{
			name:    "valid_minimal",
			setup:   func(t *testing.T) {},
			wantErr: false,
		},
		{
			name: "invalid_log_level",
			setup: func(t *testing.T) {
				setEnv(t, "LOG_LEVEL", "invalid")
			},
			wantErr: true,
		},
		{
			name: "valid_log_format_text",
			setup: func(t *testing.T) {
				setEnv(t, "LOG_FORMAT", "text")
			},
			wantErr: false,
		},
		{
			name: "invalid_log_format",
			setup: func(t *testing.T) {
				setEnv(t, "LOG_FORMAT", "yaml")
			},
			wantErr: true,
		},
		{
			name: "invalid_pool_workers",
			setup: func(t *testing.T) {
				setEnv(t, "POOL_WORKERS", "100")
			},
			wantErr: true,
		},
		{
			name: "invalid_pool_queue_depth_zero",
			setup: func(t *testing.T) {
				setEnv(t, "POOL_QUEUE_DEPTH", "0")
			},
			wantErr: true,
		},
		{
			name: "invalid_resubscribe_max_below_base",
			setup: func(t *testing.T) {
				setEnv(t, "RESUBSCRIBE_BASE", "10s")
				setEnv(t, "RESUBSCRIBE_MAX", "5s")
			},
			wantErr: true,
		},
		{
			name: "invalid_fetch_timeout_zero",
			setup: func(t *testing.T) {
				setEnv(t, "FETCH_TIMEOUT", "0s")
			},
			wantErr: true,
		},
		{
			name: "invalid_origin",
			setup: func(t *testing.T) {
				setEnv(t, "BRIDGE_ALLOWED_ORIGINS", "ftp://host")
			},
			wantErr: true,
		},
		{
			name: "wildcard_origin",
			setup: func(t *testing.T) {
				setEnv(t, "BRIDGE_ALLOWED_ORIGINS", "*")
			},
			wantErr: false,
		},
		{
			name: "empty_regions_collection",
			setup: func(t *testing.T) {
				setEnv(t, "REGIONS_COLLECTION", `""`)
			},
			wantErr: true,
		},
		{
			name: "invalid_janitor_interval_zero",
			setup: func(t *testing.T) {
				setEnv(t, "JANITOR_INTERVAL", "0s")
			},
			wantErr: true,
		},
		{
			name: "invalid_audit_retention_zero",
			setup: func(t *testing.T) {
				setEnv(t, "AUDIT_RETENTION", "0s")
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			baseEnv(t)
			tc.setup(t)

			_, err := Load()
			if tc.wantErr && err == nil {
				t.Errorf("expected validation error, got nil")
			} else if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := &Config{
		RegionsCollection: "regions",
		UsersCollection:   "users",
		FetchTimeout:      time.Second,
		ResubscribeBase:   time.Second,
		ResubscribeMax:    time.Minute,
		PoolWorkers:       0,
		PoolQueueDepth:    1,
		AuditRetention:    time.Hour,
		JanitorInterval:   time.Hour,
		LogLevel:          "info",
		LogFormat:         "yaml",
	}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"FIRESTORE_PROJECT_ID", "POOL_WORKERS", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s; got: %v", want, err)
		}
	}
}
