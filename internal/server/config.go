package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aspect-build/veritas/internal/nonce"
	"github.com/aspect-build/veritas/internal/relay"
)

// Nonce store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds relay configuration. Values come from an optional YAML file
// and are then overridden by VERITAS_* environment variables.
type Config struct {
	ListenAddr            string        `yaml:"listen_addr"`
	NonceStore            string        `yaml:"nonce_store"`
	DBPath                string        `yaml:"db_path"`
	RedisURL              string        `yaml:"redis_url"`
	NonceTTL              time.Duration `yaml:"nonce_ttl"`
	CredentialsFile       string        `yaml:"credentials_file"`
	StaticAccessToken     string        `yaml:"static_access_token"`
	PlayIntegrityEndpoint string        `yaml:"playintegrity_endpoint"`
	RequireNonce          bool          `yaml:"require_nonce"`
	CORSOrigins           []string      `yaml:"cors_origins"`
	AdminToken            string        `yaml:"admin_token"`
	LogLevel              string        `yaml:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:            ":5179",
		NonceStore:            StoreMemory,
		DBPath:                "veritas.db",
		NonceTTL:              nonce.DefaultTTL,
		PlayIntegrityEndpoint: relay.DefaultEndpoint,
	}
}

// LoadConfig builds the relay configuration. path may be empty.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ListenAddr, "VERITAS_LISTEN_ADDR")
	setString(&c.NonceStore, "VERITAS_NONCE_STORE")
	setString(&c.DBPath, "VERITAS_DB_PATH")
	setString(&c.RedisURL, "VERITAS_REDIS_URL")
	setString(&c.CredentialsFile, "VERITAS_CREDENTIALS_FILE")
	setString(&c.StaticAccessToken, "VERITAS_STATIC_ACCESS_TOKEN")
	setString(&c.PlayIntegrityEndpoint, "VERITAS_PLAYINTEGRITY_ENDPOINT")
	setString(&c.AdminToken, "VERITAS_ADMIN_TOKEN")
	setString(&c.LogLevel, "VERITAS_LOG_LEVEL")

	if v := strings.TrimSpace(os.Getenv("VERITAS_NONCE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VERITAS_NONCE_TTL: %w", err)
		}
		c.NonceTTL = d
	}

	if v := strings.TrimSpace(strings.ToLower(os.Getenv("VERITAS_REQUIRE_NONCE"))); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			c.RequireNonce = true
		case "0", "false", "no", "off":
			c.RequireNonce = false
		default:
			return fmt.Errorf("VERITAS_REQUIRE_NONCE must be one of true/false/1/0/yes/no/on/off")
		}
	}

	if v := os.Getenv("VERITAS_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	return nil
}

func (c *Config) validate() error {
	c.NonceStore = strings.ToLower(strings.TrimSpace(c.NonceStore))
	switch c.NonceStore {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("VERITAS_REDIS_URL is required when the nonce store is redis")
		}
	default:
		return fmt.Errorf("unknown nonce store %q (expected memory|sqlite|redis)", c.NonceStore)
	}
	if c.NonceTTL <= 0 {
		return fmt.Errorf("nonce TTL must be positive, got %s", c.NonceTTL)
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		return errors.New("VERITAS_ADMIN_TOKEN must be at least 16 characters")
	}
	if c.CredentialsFile != "" && c.StaticAccessToken != "" {
		return errors.New("VERITAS_CREDENTIALS_FILE and VERITAS_STATIC_ACCESS_TOKEN are mutually exclusive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
