package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when no path is given. A missing default file is not an
// error; the service then runs on defaults and environment variables.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string  `yaml:"port"`
	LogLevel                  string  `yaml:"logLevel"`
	DatabaseURL               string  `yaml:"databaseURL"`
	StoreDriver               string  `yaml:"storeDriver"`
	BulkInsert                bool    `yaml:"bulkInsert"`
	RetentionHours            int     `yaml:"retentionHours"`
	MaxRetries                int     `yaml:"maxRetries"`
	MaxRows                   int     `yaml:"maxRows"`
	SyncDelayMs               int     `yaml:"syncDelayMs"`
	RateLimiter               string  `yaml:"rateLimiter"`
	RatePerSecond             float64 `yaml:"ratePerSecond"`
	RateBurst                 int     `yaml:"rateBurst"`
	RedisAddr                 string  `yaml:"redisAddr"`
	RedisPassword             string  `yaml:"redisPassword"`
	LeaseDriver               string  `yaml:"leaseDriver"`
	LeaseTTLSeconds           int     `yaml:"leaseTtlSeconds"`
	CRMBaseURL                string  `yaml:"crmBaseURL"`
	CRMAccessToken            string  `yaml:"crmAccessToken"`
	CRMTokenURL               string  `yaml:"crmTokenURL"`
	CRMClientID               string  `yaml:"crmClientID"`
	CRMClientSecret           string  `yaml:"crmClientSecret"`
	CRMRefreshToken           string  `yaml:"crmRefreshToken"`
	FuzzyThreshold            float64 `yaml:"fuzzyThreshold"`
	PropertiesCache           string  `yaml:"propertiesCache"`
	PropertiesCacheTTLSeconds int     `yaml:"propertiesCacheTTLSeconds"`
	EnrichmentFile            string  `yaml:"enrichmentFile"`
	FileStore                 string  `yaml:"fileStore"`
	FileDir                   string  `yaml:"fileDir"`
	MinioEndpoint             string  `yaml:"minioEndpoint"`
	MinioAccessKey            string  `yaml:"minioAccessKey"`
	MinioSecretKey            string  `yaml:"minioSecretKey"`
	MinioBucket               string  `yaml:"minioBucket"`
	MinioUseSSL               bool    `yaml:"minioUseSSL"`
	ReaperIntervalSeconds     int     `yaml:"reaperIntervalSeconds"`
	BodyLimit                 string  `yaml:"bodyLimit"`
}

func defaults() FileConfig {
	return FileConfig{
		Port:                      "8080",
		LogLevel:                  "info",
		StoreDriver:               "postgres",
		BulkInsert:                true,
		RetentionHours:            72,
		MaxRetries:                3,
		MaxRows:                   50000,
		SyncDelayMs:               100,
		RateLimiter:               "fixed",
		RatePerSecond:             10,
		RateBurst:                 1,
		LeaseDriver:               "memory",
		LeaseTTLSeconds:           60,
		FuzzyThreshold:            0.8,
		PropertiesCache:           "memory",
		PropertiesCacheTTLSeconds: 900,
		FileStore:                 "database",
		FileDir:                   "./data/uploads",
		MinioBucket:               "contact-import",
		ReaperIntervalSeconds:     600,
		BodyLimit:                 "20M",
	}
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("IMPORT_STORE_DRIVER", &cfg.StoreDriver)
	setBool("IMPORT_BULK_INSERT", &cfg.BulkInsert)
	setInt("IMPORT_RETENTION_HOURS", &cfg.RetentionHours)
	setInt("IMPORT_MAX_RETRIES", &cfg.MaxRetries)
	setInt("IMPORT_MAX_ROWS", &cfg.MaxRows)
	setInt("IMPORT_SYNC_DELAY_MS", &cfg.SyncDelayMs)
	setString("IMPORT_RATE_LIMITER", &cfg.RateLimiter)
	setFloat("IMPORT_RATE_PER_SECOND", &cfg.RatePerSecond)
	setInt("IMPORT_RATE_BURST", &cfg.RateBurst)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("IMPORT_LEASE_DRIVER", &cfg.LeaseDriver)
	setInt("IMPORT_LEASE_TTL_SECONDS", &cfg.LeaseTTLSeconds)
	setString("CRM_BASE_URL", &cfg.CRMBaseURL)
	setString("CRM_ACCESS_TOKEN", &cfg.CRMAccessToken)
	setString("CRM_TOKEN_URL", &cfg.CRMTokenURL)
	setString("CRM_CLIENT_ID", &cfg.CRMClientID)
	setString("CRM_CLIENT_SECRET", &cfg.CRMClientSecret)
	setString("CRM_REFRESH_TOKEN", &cfg.CRMRefreshToken)
	setFloat("IMPORT_FUZZY_THRESHOLD", &cfg.FuzzyThreshold)
	setString("IMPORT_PROPERTIES_CACHE", &cfg.PropertiesCache)
	setInt("IMPORT_PROPERTIES_CACHE_TTL_SECONDS", &cfg.PropertiesCacheTTLSeconds)
	setString("IMPORT_ENRICHMENT_FILE", &cfg.EnrichmentFile)
	setString("IMPORT_FILE_STORE", &cfg.FileStore)
	setString("IMPORT_FILE_DIR", &cfg.FileDir)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	setInt("IMPORT_REAPER_INTERVAL_SECONDS", &cfg.ReaperIntervalSeconds)
	setString("IMPORT_BODY_LIMIT", &cfg.BodyLimit)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if !oneOf(cfg.StoreDriver, "postgres", "memory") {
		return fmt.Errorf("config: storeDriver must be postgres or memory, got %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == "postgres" && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required for storeDriver=postgres (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RetentionHours <= 0 {
		return errors.New("config: retentionHours must be > 0")
	}
	if cfg.MaxRetries <= 0 {
		return errors.New("config: maxRetries must be > 0")
	}
	if cfg.MaxRows <= 0 {
		return errors.New("config: maxRows must be > 0")
	}
	if cfg.SyncDelayMs < 0 {
		return errors.New("config: syncDelayMs must be >= 0")
	}
	if !oneOf(cfg.RateLimiter, "fixed", "token_bucket", "redis") {
		return fmt.Errorf("config: rateLimiter must be fixed, token_bucket or redis, got %q", cfg.RateLimiter)
	}
	if cfg.RateLimiter == "token_bucket" && (cfg.RatePerSecond <= 0 || cfg.RateBurst <= 0) {
		return errors.New("config: token_bucket requires ratePerSecond > 0 and rateBurst > 0")
	}
	if cfg.RateLimiter == "redis" && cfg.RatePerSecond < 1 {
		return errors.New("config: redis rate limiter requires ratePerSecond >= 1")
	}
	if !oneOf(cfg.LeaseDriver, "memory", "redis") {
		return fmt.Errorf("config: leaseDriver must be memory or redis, got %q", cfg.LeaseDriver)
	}
	if !oneOf(cfg.PropertiesCache, "memory", "redis") {
		return fmt.Errorf("config: propertiesCache must be memory or redis, got %q", cfg.PropertiesCache)
	}
	if cfg.UsesRedis() && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when a redis backend is selected (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.CRMAccessToken == "" && cfg.CRMRefreshToken == "" {
		return errors.New("config: crmAccessToken or crmRefreshToken is required")
	}
	if cfg.CRMRefreshToken != "" && (cfg.CRMClientID == "" || cfg.CRMClientSecret == "") {
		return errors.New("config: crmClientID and crmClientSecret are required with crmRefreshToken")
	}
	if cfg.FuzzyThreshold <= 0 || cfg.FuzzyThreshold > 1 {
		return errors.New("config: fuzzyThreshold must be in (0, 1]")
	}
	if !oneOf(cfg.FileStore, "database", "local", "minio", "memory") {
		return fmt.Errorf("config: fileStore must be database, local, minio or memory, got %q", cfg.FileStore)
	}
	if cfg.FileStore == "database" && cfg.StoreDriver != "postgres" {
		return errors.New("config: fileStore=database requires storeDriver=postgres")
	}
	if cfg.FileStore == "local" && strings.TrimSpace(cfg.FileDir) == "" {
		return errors.New("config: fileDir is required for fileStore=local")
	}
	if cfg.FileStore == "minio" && (cfg.MinioEndpoint == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioEndpoint and minioBucket are required for fileStore=minio")
	}
	if cfg.ReaperIntervalSeconds <= 0 {
		return errors.New("config: reaperIntervalSeconds must be > 0")
	}
	return nil
}

func (c FileConfig) UsesRedis() bool {
	return c.RateLimiter == "redis" || c.LeaseDriver == "redis" || c.PropertiesCache == "redis"
}

func (c FileConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c FileConfig) SyncDelay() time.Duration {
	return time.Duration(c.SyncDelayMs) * time.Millisecond
}

func (c FileConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

func (c FileConfig) PropertiesCacheTTL() time.Duration {
	return time.Duration(c.PropertiesCacheTTLSeconds) * time.Second
}

func (c FileConfig) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}
