package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when Load gets an empty path.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	DevMode                bool     `yaml:"devMode"`
	AuthURL                string   `yaml:"authURL"`
	AuthAnonKey            string   `yaml:"authAnonKey"`
	DevJWTSecret           string   `yaml:"devJwtSecret"`
	FunctionsURL           string   `yaml:"functionsURL"`
	PublicBaseURL          string   `yaml:"publicBaseURL"`
	DatabaseURL            string   `yaml:"databaseURL"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	CartTTL                string   `yaml:"cartTTL"`
	DeviceCookieName       string   `yaml:"deviceCookieName"`
	DeviceCookieSecure     bool     `yaml:"deviceCookieSecure"`
	SessionIdleTTL         string   `yaml:"sessionIdleTTL"`
	MaxDevices             int      `yaml:"maxDevices"`
	Currency               string   `yaml:"currency"`
	EmailRedirectURL       string   `yaml:"emailRedirectURL"`
	FAQPath                string   `yaml:"faqPath"`
	MaxUploadBytes         int64    `yaml:"maxUploadBytes"`
	AMQPURL                string   `yaml:"amqpURL"`
	EventExchange          string   `yaml:"eventExchange"`
	ContactQueue           string   `yaml:"contactQueue"`
	CORSOrigins            []string `yaml:"corsOrigins"`
	TrustedProxyCIDRs      []string `yaml:"trustedProxyCidrs"`
	SigninRateLimitPerMin  int      `yaml:"signinRateLimitPerMinute"`
	SignupRateLimitPerMin  int      `yaml:"signupRateLimitPerMinute"`
	ContactRateLimitPerMin int      `yaml:"contactRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml), then applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("STOREFRONT_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.DevMode = b
		}
	}
	if v := os.Getenv("STOREFRONT_AUTH_URL"); v != "" {
		cfg.AuthURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_AUTH_ANON_KEY"); v != "" {
		cfg.AuthAnonKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_DEV_JWT_SECRET"); v != "" {
		cfg.DevJWTSecret = v
	}
	if v := os.Getenv("STOREFRONT_FUNCTIONS_URL"); v != "" {
		cfg.FunctionsURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STOREFRONT_CART_TTL"); v != "" {
		cfg.CartTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_DEVICE_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.DeviceCookieSecure = b
		}
	}
	if v := os.Getenv("STOREFRONT_SESSION_IDLE_TTL"); v != "" {
		cfg.SessionIdleTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_MAX_DEVICES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MaxDevices = n
		}
	}
	if v := os.Getenv("STOREFRONT_EMAIL_REDIRECT_URL"); v != "" {
		cfg.EmailRedirectURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STOREFRONT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("STOREFRONT_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("STOREFRONT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("STOREFRONT_SIGNIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SigninRateLimitPerMin = n
		}
	}
	if v := os.Getenv("STOREFRONT_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMin = n
		}
	}
	if v := os.Getenv("STOREFRONT_CONTACT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContactRateLimitPerMin = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DeviceCookieName == "" {
		cfg.DeviceCookieName = "r2p_device"
	}
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.CartTTL == "" {
		cfg.CartTTL = "720h"
	}
	if cfg.SessionIdleTTL == "" {
		cfg.SessionIdleTTL = "30m"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.MaxDevices == 0 {
		cfg.MaxDevices = 10000
	}
	if cfg.EventExchange == "" {
		cfg.EventExchange = "r2p.events"
	}
	if cfg.ContactQueue == "" {
		cfg.ContactQueue = "r2p.contact"
	}
	if cfg.PublicBaseURL == "" && cfg.Port != "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if _, err := ParseDuration("cartTTL", cfg.CartTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("sessionIdleTTL", cfg.SessionIdleTTL); err != nil {
		return err
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.MaxDevices < 0 {
		return errors.New("config: maxDevices must be >= 0")
	}
	if cfg.SigninRateLimitPerMin < 0 || cfg.SignupRateLimitPerMin < 0 || cfg.ContactRateLimitPerMin < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.DevMode {
		return nil
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return errors.New("config: authURL is required (set in config.yaml or STOREFRONT_AUTH_URL)")
	}
	if strings.TrimSpace(cfg.AuthAnonKey) == "" {
		return errors.New("config: authAnonKey is required (set in config.yaml or STOREFRONT_AUTH_ANON_KEY)")
	}
	if strings.TrimSpace(cfg.FunctionsURL) == "" {
		return errors.New("config: functionsURL is required (set in config.yaml or STOREFRONT_FUNCTIONS_URL)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for carts, sessions and rate limiting")
	}
	return nil
}

// ParseDuration parses a duration setting and names it in the error.
func ParseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
