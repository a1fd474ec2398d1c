// Package config centralizes how VaultShop reads its YAML config file and
// environment variables and exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for every VaultShop binary.
type Config struct {
	Address        string
	MaxUploadBytes int64
	DatabaseURL    string

	StorageBackend  string
	LocalContentDir string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	S3Region        string
	S3Bucket        string
	SignedURLTTL    time.Duration
	StorageTimeout  time.Duration
	StorageRetries  int

	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayTimeout   time.Duration
	GatewayRetries   int

	DownloadLimit     int
	EntitlementWindow time.Duration
	IntentTTL         time.Duration
	DownloadRateLimit int
	ResumeWindow      time.Duration

	JWTSecret     []byte
	SessionSecret []byte

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	WorkerConcurrency int
	MigrationWorkers  int

	LogDevelopment bool
}

// Storage backend names accepted by StorageBackend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

const (
	envPrefix = "VAULTSHOP_"

	defaultAddress         = ":8080"
	defaultMaxUploadBytes  = 512 << 20 // 512 MiB
	defaultBackend         = BackendLocal
	defaultLocalDir        = "./content"
	defaultS3Region        = "us-east-1"
	defaultSignedTTL       = time.Hour
	defaultStorageTimeout  = 10 * time.Second
	defaultStorageRetries  = 3
	defaultGatewayTimeout  = 10 * time.Second
	defaultGatewayRetries  = 3
	defaultDownloadLimit   = 10
	defaultWindow          = 365 * 24 * time.Hour
	defaultIntentTTL       = 24 * time.Hour
	defaultDownloadRate    = 30
	defaultResumeWindow    = time.Hour
	defaultRedisAddr       = "localhost:6379"
	defaultKafkaTopic      = "vaultshop.events"
	defaultWorkerCount     = 4
	defaultMigrationWorker = 4
)

// fileConfig mirrors the YAML schema; it stays separate from Config so secrets
// can arrive as strings and durations as "1h" style text.
type fileConfig struct {
	Server struct {
		Address        string `yaml:"address"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Storage struct {
		Backend  string `yaml:"backend"`
		LocalDir string `yaml:"local_dir"`
		S3       struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			UseSSL    bool   `yaml:"use_ssl"`
			Region    string `yaml:"region"`
			Bucket    string `yaml:"bucket"`
		} `yaml:"s3"`
		SignedURLTTL string `yaml:"signed_url_ttl"`
		Timeout      string `yaml:"timeout"`
		Retries      int    `yaml:"retries"`
	} `yaml:"storage"`
	Gateway struct {
		BaseURL   string `yaml:"base_url"`
		SecretKey string `yaml:"secret_key"`
		Timeout   string `yaml:"timeout"`
		Retries   int    `yaml:"retries"`
	} `yaml:"gateway"`
	Entitlement struct {
		DownloadLimit int    `yaml:"download_limit"`
		Window        string `yaml:"window"`
		IntentTTL     string `yaml:"intent_ttl"`
		RatePerMinute int    `yaml:"rate_per_minute"`
		ResumeWindow  string `yaml:"resume_window"`
	} `yaml:"entitlement"`
	Identity struct {
		JWTSecret     string `yaml:"jwt_secret"`
		SessionSecret string `yaml:"session_secret"`
	} `yaml:"identity"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Worker struct {
		Concurrency      int `yaml:"concurrency"`
		MigrationWorkers int `yaml:"migration_workers"`
	} `yaml:"worker"`
	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
}

// Load reads the YAML file named by VAULTSHOP_CONFIG (if any), then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	cfg := defaults()
	if path := readEnv(envPrefix+"CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.JWTSecret == nil {
		cfg.JWTSecret = randomSecret()
	}
	if cfg.SessionSecret == nil {
		cfg.SessionSecret = randomSecret()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Address:           defaultAddress,
		MaxUploadBytes:    defaultMaxUploadBytes,
		StorageBackend:    defaultBackend,
		LocalContentDir:   defaultLocalDir,
		S3Region:          defaultS3Region,
		SignedURLTTL:      defaultSignedTTL,
		StorageTimeout:    defaultStorageTimeout,
		StorageRetries:    defaultStorageRetries,
		GatewayTimeout:    defaultGatewayTimeout,
		GatewayRetries:    defaultGatewayRetries,
		DownloadLimit:     defaultDownloadLimit,
		EntitlementWindow: defaultWindow,
		IntentTTL:         defaultIntentTTL,
		DownloadRateLimit: defaultDownloadRate,
		ResumeWindow:      defaultResumeWindow,
		RedisAddr:         defaultRedisAddr,
		KafkaTopic:        defaultKafkaTopic,
		WorkerConcurrency: defaultWorkerCount,
		MigrationWorkers:  defaultMigrationWorker,
	}
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.Address, fc.Server.Address)
	setInt64(&c.MaxUploadBytes, fc.Server.MaxUploadBytes)
	setString(&c.DatabaseURL, fc.Database.URL)

	setString(&c.StorageBackend, fc.Storage.Backend)
	setString(&c.LocalContentDir, fc.Storage.LocalDir)
	setString(&c.S3Endpoint, fc.Storage.S3.Endpoint)
	setString(&c.S3AccessKey, fc.Storage.S3.AccessKey)
	setString(&c.S3SecretKey, fc.Storage.S3.SecretKey)
	c.S3UseSSL = c.S3UseSSL || fc.Storage.S3.UseSSL
	setString(&c.S3Region, fc.Storage.S3.Region)
	setString(&c.S3Bucket, fc.Storage.S3.Bucket)
	setInt(&c.StorageRetries, fc.Storage.Retries)

	setString(&c.GatewayBaseURL, fc.Gateway.BaseURL)
	setString(&c.GatewaySecretKey, fc.Gateway.SecretKey)
	setInt(&c.GatewayRetries, fc.Gateway.Retries)

	setInt(&c.DownloadLimit, fc.Entitlement.DownloadLimit)
	setInt(&c.DownloadRateLimit, fc.Entitlement.RatePerMinute)

	if fc.Identity.JWTSecret != "" {
		c.JWTSecret = []byte(fc.Identity.JWTSecret)
	}
	if fc.Identity.SessionSecret != "" {
		c.SessionSecret = []byte(fc.Identity.SessionSecret)
	}

	setString(&c.RedisAddr, fc.Redis.Addr)
	setString(&c.RedisPassword, fc.Redis.Password)
	setInt(&c.RedisDB, fc.Redis.DB)
	if len(fc.Kafka.Brokers) > 0 {
		c.KafkaBrokers = fc.Kafka.Brokers
	}
	setString(&c.KafkaTopic, fc.Kafka.Topic)
	setInt(&c.WorkerConcurrency, fc.Worker.Concurrency)
	setInt(&c.MigrationWorkers, fc.Worker.MigrationWorkers)
	c.LogDevelopment = c.LogDevelopment || fc.Log.Development

	durations := []struct {
		dst  *time.Duration
		raw  string
		name string
	}{
		{&c.SignedURLTTL, fc.Storage.SignedURLTTL, "storage.signed_url_ttl"},
		{&c.StorageTimeout, fc.Storage.Timeout, "storage.timeout"},
		{&c.GatewayTimeout, fc.Gateway.Timeout, "gateway.timeout"},
		{&c.EntitlementWindow, fc.Entitlement.Window, "entitlement.window"},
		{&c.IntentTTL, fc.Entitlement.IntentTTL, "entitlement.intent_ttl"},
		{&c.ResumeWindow, fc.Entitlement.ResumeWindow, "entitlement.resume_window"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Address = readEnv(envPrefix+"ADDRESS", c.Address)
	c.MaxUploadBytes = parseInt64(envPrefix+"MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.DatabaseURL = readEnv(envPrefix+"DATABASE_URL", c.DatabaseURL)

	c.StorageBackend = strings.ToLower(readEnv(envPrefix+"STORAGE_BACKEND", c.StorageBackend))
	c.LocalContentDir = readEnv(envPrefix+"LOCAL_CONTENT_DIR", c.LocalContentDir)
	c.S3Endpoint = readEnv(envPrefix+"S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = readEnv(envPrefix+"S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = readEnv(envPrefix+"S3_SECRET_KEY", c.S3SecretKey)
	c.S3UseSSL = parseBool(envPrefix+"S3_USE_SSL", c.S3UseSSL)
	c.S3Region = readEnv(envPrefix+"S3_REGION", c.S3Region)
	c.S3Bucket = readEnv(envPrefix+"S3_BUCKET", c.S3Bucket)
	c.SignedURLTTL = parseDuration(envPrefix+"SIGNED_URL_TTL", c.SignedURLTTL)
	c.StorageTimeout = parseDuration(envPrefix+"STORAGE_TIMEOUT", c.StorageTimeout)
	c.StorageRetries = parseInt(envPrefix+"STORAGE_RETRIES", c.StorageRetries)

	c.GatewayBaseURL = readEnv(envPrefix+"GATEWAY_BASE_URL", c.GatewayBaseURL)
	c.GatewaySecretKey = readEnv(envPrefix+"GATEWAY_SECRET_KEY", c.GatewaySecretKey)
	c.GatewayTimeout = parseDuration(envPrefix+"GATEWAY_TIMEOUT", c.GatewayTimeout)
	c.GatewayRetries = parseInt(envPrefix+"GATEWAY_RETRIES", c.GatewayRetries)

	c.DownloadLimit = parseInt(envPrefix+"DOWNLOAD_LIMIT", c.DownloadLimit)
	c.EntitlementWindow = parseDuration(envPrefix+"ENTITLEMENT_WINDOW", c.EntitlementWindow)
	c.IntentTTL = parseDuration(envPrefix+"INTENT_TTL", c.IntentTTL)
	c.DownloadRateLimit = parseInt(envPrefix+"DOWNLOAD_RATE_PER_MINUTE", c.DownloadRateLimit)
	c.ResumeWindow = parseDuration(envPrefix+"RESUME_WINDOW", c.ResumeWindow)

	if v := parseSecret(envPrefix + "JWT_SECRET"); v != nil {
		c.JWTSecret = v
	}
	if v := parseSecret(envPrefix + "SESSION_SECRET"); v != nil {
		c.SessionSecret = v
	}

	c.RedisAddr = readEnv(envPrefix+"REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = readEnv(envPrefix+"REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = parseInt(envPrefix+"REDIS_DB", c.RedisDB)
	if _, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		c.KafkaBrokers = parseList(envPrefix+"KAFKA_BROKERS", "")
	}
	c.KafkaTopic = readEnv(envPrefix+"KAFKA_TOPIC", c.KafkaTopic)

	c.WorkerConcurrency = parseInt(envPrefix+"WORKERS", c.WorkerConcurrency)
	c.MigrationWorkers = parseInt(envPrefix+"MIGRATION_WORKERS", c.MigrationWorkers)
	c.LogDevelopment = parseBool(envPrefix+"LOG_DEVELOPMENT", c.LogDevelopment)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.StorageBackend {
	case BackendLocal:
		if c.LocalContentDir == "" {
			problems = append(problems, "local content dir is required for the local backend")
		}
	case BackendS3:
		if c.S3Bucket == "" || c.S3Endpoint == "" {
			problems = append(problems, "s3 endpoint and bucket are required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.StorageBackend))
	}
	if c.DownloadLimit <= 0 {
		problems = append(problems, "download limit must be positive")
	}
	if c.EntitlementWindow <= 0 {
		problems = append(problems, "entitlement window must be positive")
	}
	if c.IntentTTL <= 0 {
		problems = append(problems, "intent ttl must be positive")
	}
	if c.ResumeWindow < 0 {
		problems = append(problems, "resume window must not be negative")
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = defaultSignedTTL
	}
	if c.StorageRetries < 0 || c.GatewayRetries < 0 {
		problems = append(problems, "retry counts cannot be negative")
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = defaultWorkerCount
	}
	if c.MigrationWorkers <= 0 {
		c.MigrationWorkers = defaultMigrationWorker
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// Invalid input is ignored and the default kept.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
