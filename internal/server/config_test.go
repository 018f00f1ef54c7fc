package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "VERITAS_") {
			t.Setenv(k, "")
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":5179" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.NonceStore != StoreMemory {
		t.Errorf("NonceStore = %q", cfg.NonceStore)
	}
	if cfg.NonceTTL != 2*time.Minute {
		t.Errorf("NonceTTL = %s", cfg.NonceTTL)
	}
	if cfg.RequireNonce {
		t.Error("RequireNonce should default to false")
	}
	if cfg.AdminToken != "" {
		t.Error("AdminToken should default to empty")
	}
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "veritas.yaml")
	yaml := `
listen_addr: ":9000"
nonce_store: sqlite
db_path: /tmp/nonces.db
nonce_ttl: 90s
cors_origins: ["https://a.example", "https://b.example"]
require_nonce: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VERITAS_LISTEN_ADDR", ":9100")
	t.Setenv("VERITAS_CORS_ORIGINS", "*")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Errorf("env should override file: ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.NonceStore != StoreSQLite || cfg.DBPath != "/tmp/nonces.db" {
		t.Errorf("store = %q %q", cfg.NonceStore, cfg.DBPath)
	}
	if cfg.NonceTTL != 90*time.Second {
		t.Errorf("NonceTTL = %s", cfg.NonceTTL)
	}
	if !cfg.RequireNonce {
		t.Error("RequireNonce not read from file")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadConfig_EnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("VERITAS_NONCE_TTL", "30s")
	t.Setenv("VERITAS_REQUIRE_NONCE", "yes")
	t.Setenv("VERITAS_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("VERITAS_ADMIN_TOKEN", "0123456789abcdef")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NonceTTL != 30*time.Second || !cfg.RequireNonce {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short admin token", map[string]string{"VERITAS_ADMIN_TOKEN": "short"}},
		{"unknown store", map[string]string{"VERITAS_NONCE_STORE": "etcd"}},
		{"redis without url", map[string]string{"VERITAS_NONCE_STORE": "redis"}},
		{"bad ttl", map[string]string{"VERITAS_NONCE_TTL": "soon"}},
		{"bad bool", map[string]string{"VERITAS_REQUIRE_NONCE": "maybe"}},
		{"two credential sources", map[string]string{
			"VERITAS_CREDENTIALS_FILE":    "key.json",
			"VERITAS_STATIC_ACCESS_TOKEN": "tok",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
