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
	Port            string   `yaml:"port"`
	LogLevel        string   `yaml:"logLevel"`
	DevMode         bool     `yaml:"devMode"`
	DatabaseURL     string   `yaml:"databaseURL"`
	RedisAddr       string   `yaml:"redisAddr"`
	RedisPassword   string   `yaml:"redisPassword"`
	MinioEndpoint   string   `yaml:"minioEndpoint"`
	MinioAccessKey  string   `yaml:"minioAccessKey"`
	MinioSecretKey  string   `yaml:"minioSecretKey"`
	MinioBucket     string   `yaml:"minioBucket"`
	MinioUseSSL     bool     `yaml:"minioUseSSL"`
	PublicBaseURL   string   `yaml:"publicBaseURL"`
	JWTSecret       string   `yaml:"jwtSecret"`
	JWKSURL         string   `yaml:"jwksURL"`
	JWTIssuer       string   `yaml:"jwtIssuer"`
	JWTAudience     string   `yaml:"jwtAudience"`
	JWTLeeway       string   `yaml:"jwtLeeway"`
	AMQPURL         string   `yaml:"amqpURL"`
	OrderExchange   string   `yaml:"orderExchange"`
	OrderQueue      string   `yaml:"orderQueue"`
	MaxUploadBytes  int64    `yaml:"maxUploadBytes"`
	Currency        string   `yaml:"currency"`
	CommissionRate  *float64 `yaml:"commissionRate"`
	CORSOrigins     []string `yaml:"corsOrigins"`
	RateLimitPerMin int      `yaml:"rateLimitPerMinute"`
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
	// Override with environment variables
	if v := os.Getenv("FUNCTIONS_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.DevMode = b
		}
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
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("FUNCTIONS_PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("FUNCTIONS_JWKS_URL"); v != "" {
		cfg.JWKSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = strings.TrimSpace(v)
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("FUNCTIONS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("FUNCTIONS_CURRENCY"); v != "" {
		cfg.Currency = strings.TrimSpace(v)
	}
	if v := os.Getenv("FUNCTIONS_COMMISSION_RATE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.CommissionRate = &f
		}
	}
	if v := os.Getenv("FUNCTIONS_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("FUNCTIONS_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMin = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.JWTLeeway == "" {
		cfg.JWTLeeway = "30s"
	}
	if cfg.OrderExchange == "" {
		cfg.OrderExchange = "r2p.events"
	}
	if cfg.OrderQueue == "" {
		cfg.OrderQueue = "r2p.orders"
	}
	if cfg.CommissionRate == nil {
		rate := 0.10
		cfg.CommissionRate = &rate
	}
	if cfg.RateLimitPerMin == 0 {
		cfg.RateLimitPerMin = 60
	}
	if cfg.PublicBaseURL == "" && cfg.DevMode && cfg.Port != "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port + "/files"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	secret := strings.TrimSpace(cfg.JWTSecret)
	jwks := strings.TrimSpace(cfg.JWKSURL)
	if secret == "" && jwks == "" {
		return errors.New("config: jwtSecret or jwksURL is required (set in config.yaml or FUNCTIONS_JWT_SECRET / FUNCTIONS_JWKS_URL)")
	}
	if secret != "" && jwks != "" {
		return errors.New("config: set only one of jwtSecret and jwksURL")
	}
	if _, err := ParseDuration("jwtLeeway", cfg.JWTLeeway); err != nil {
		return err
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.CommissionRate != nil && (*cfg.CommissionRate < 0 || *cfg.CommissionRate > 1) {
		return fmt.Errorf("config: commissionRate must be between 0 and 1, got %v", *cfg.CommissionRate)
	}
	if cfg.RateLimitPerMin < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.DevMode {
		return nil
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml or MINIO_ACCESS_KEY)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml or MINIO_SECRET_KEY)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.PublicBaseURL == "" {
		return errors.New("config: publicBaseURL is required (set in config.yaml or FUNCTIONS_PUBLIC_BASE_URL)")
	}
	return nil
}

// ParseDuration parses a duration setting and names it in the error.
func ParseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
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
