package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/easemob-go/auth"
	"github.com/alexjbarnes/easemob-go/transport"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Cache backends accepted by CACHE_BACKEND.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all environment-based configuration for the easemob CLI.
type Config struct {
	// Tenant, in the form org#app.
	AppKey string `env:"EASEMOB_APP_KEY"`

	// Easemob client credentials (native mode).
	ClientID     string `env:"EASEMOB_CLIENT_ID"`
	ClientSecret string `env:"EASEMOB_CLIENT_SECRET"`

	// Agora credentials (bridged mode). UserUUID may be empty for an
	// app-wide token.
	UseAgora            bool   `env:"EASEMOB_USE_AGORA" envDefault:"false"`
	AgoraAppID          string `env:"AGORA_APP_ID"`
	AgoraAppCertificate string `env:"AGORA_APP_CERTIFICATE"`
	AgoraUserUUID       string `env:"AGORA_USER_UUID"`

	// Service token lifetime in seconds.
	TokenTTL int `env:"EASEMOB_TOKEN_TTL" envDefault:"2592000"`

	// APIURI skips host discovery when set.
	APIURI string `env:"EASEMOB_API_URI"`

	ProxyHost          string        `env:"EASEMOB_PROXY_HOST"`
	ProxyPort          int           `env:"EASEMOB_PROXY_PORT" envDefault:"80"`
	ProxyUser          string        `env:"EASEMOB_PROXY_USER"`
	ProxyPass          string        `env:"EASEMOB_PROXY_PASS"`
	InsecureSkipVerify bool          `env:"EASEMOB_INSECURE_SKIP_VERIFY" envDefault:"false"`
	HTTPTimeout        time.Duration `env:"EASEMOB_HTTP_TIMEOUT" envDefault:"30s"`

	// Token cache. CacheDir and CacheBoltPath default to the user cache
	// directory when empty.
	CacheBackend  string `env:"CACHE_BACKEND" envDefault:"file"`
	CacheDir      string `env:"CACHE_DIR"`
	CacheBoltPath string `env:"CACHE_BOLT_PATH"`
	RedisURL      string `env:"REDIS_URL"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppKey == "" {
		return fmt.Errorf("EASEMOB_APP_KEY is required")
	}

	if _, err := auth.ParseAppKey(c.AppKey); err != nil {
		return fmt.Errorf("EASEMOB_APP_KEY: %w", err)
	}

	if c.UseAgora {
		if c.AgoraAppID == "" {
			return fmt.Errorf("AGORA_APP_ID is required when EASEMOB_USE_AGORA is set")
		}

		if c.AgoraAppCertificate == "" {
			return fmt.Errorf("AGORA_APP_CERTIFICATE is required when EASEMOB_USE_AGORA is set")
		}
	} else {
		if c.ClientID == "" {
			return fmt.Errorf("EASEMOB_CLIENT_ID is required unless EASEMOB_USE_AGORA is set")
		}

		if c.ClientSecret == "" {
			return fmt.Errorf("EASEMOB_CLIENT_SECRET is required unless EASEMOB_USE_AGORA is set")
		}
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("EASEMOB_TOKEN_TTL must be positive, got %d", c.TokenTTL)
	}

	switch c.CacheBackend {
	case BackendFile, BackendBolt, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q (want file, bolt, redis or memory)", c.CacheBackend)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Credential returns the credential selected by EASEMOB_USE_AGORA.
func (c *Config) Credential() auth.Credential {
	if c.UseAgora {
		return auth.BridgedCredential{
			AppID:          c.AgoraAppID,
			AppCertificate: c.AgoraAppCertificate,
			UUID:           c.AgoraUserUUID,
			Expiry:         c.TokenTTLDuration(),
		}
	}

	return auth.NativeCredential{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
}

// TokenTTLDuration returns EASEMOB_TOKEN_TTL as a duration.
func (c *Config) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Second
}

// Transport returns the transport settings.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		ProxyHost:          c.ProxyHost,
		ProxyPort:          c.ProxyPort,
		ProxyUser:          c.ProxyUser,
		ProxyPass:          c.ProxyPass,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Timeout:            c.HTTPTimeout,
	}
}

// Signing holds what offline token signing needs. It is loaded on its own
// so signing works without a tenant or network settings.
type Signing struct {
	AppID          string `env:"AGORA_APP_ID,required"`
	AppCertificate string `env:"AGORA_APP_CERTIFICATE,required"`
	UserUUID       string `env:"AGORA_USER_UUID"`
	TokenTTL       int    `env:"EASEMOB_TOKEN_TTL" envDefault:"2592000"`
}

// LoadSigning reads the Agora signing credentials from the environment.
func LoadSigning() (*Signing, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	s := &Signing{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if s.TokenTTL <= 0 {
		return nil, fmt.Errorf("validating config: EASEMOB_TOKEN_TTL must be positive, got %d", s.TokenTTL)
	}

	return s, nil
}
