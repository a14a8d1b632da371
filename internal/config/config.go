package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the web frontend's configuration, populated from environment
// variables.
type Config struct {
	App     AppConfig
	API     APIConfig
	Storage StorageConfig
	Web     WebConfig
}

type AppConfig struct {
	Environment string // development, production
	Port        string
	LogLevel    string
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
	RPS     int
}

type StorageConfig struct {
	Path string
	// Secret seals tokens at rest. Generated per process when unset outside
	// production, which logs every visitor out on restart.
	Secret          string
	SecretGenerated bool
}

type WebConfig struct {
	TemplateDir     string
	StaticDir       string
	SecureCookie    bool
	VisitorDuration time.Duration
}

// Load reads .env.local when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")

	cfg := &Config{
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("PORT", "8080"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		API: APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://localhost:8000"),
			Timeout: getEnvDuration("API_TIMEOUT", 15*time.Second),
			RPS:     getEnvInt("API_RPS", 0),
		},
		Storage: StorageConfig{
			Path:   getEnv("DB_PATH", "litrank.db"),
			Secret: os.Getenv("SESSION_SECRET"),
		},
		Web: WebConfig{
			TemplateDir:     getEnv("TEMPLATE_DIR", "web/templates"),
			StaticDir:       getEnv("STATIC_DIR", "web/static"),
			SecureCookie:    getEnvBool("SECURE_COOKIE", false),
			VisitorDuration: getEnvDuration("VISITOR_DURATION", 30*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Storage.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.Storage.Secret = secret
		cfg.Storage.SecretGenerated = true
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.RPS < 0 {
		return fmt.Errorf("API_RPS must not be negative")
	}
	if c.Web.VisitorDuration <= 0 {
		return fmt.Errorf("VISITOR_DURATION must be positive")
	}
	if c.App.Environment == "production" && c.Storage.Secret == "" {
		return fmt.Errorf("SESSION_SECRET must be set in production")
	}
	return nil
}

// InsecureCookie reports a production setup sending cookies without the
// Secure flag.
func (c *Config) InsecureCookie() bool {
	return c.App.Environment == "production" && !c.Web.SecureCookie
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.App.Port
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
