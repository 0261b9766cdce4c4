package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	CORS           CORSConfig
	Auth           AuthConfig
	Storage        StorageConfig
	Containers     []ContainerConfig
	Upload         UploadConfig
	Ocr            OcrConfig
	Notifications  NotificationsConfig
	Reconciliation ReconciliationConfig
	Scheduler      SchedulerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// AuthConfig secures the service-to-service API surface.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// StorageConfig locates the blob backend and tunes the lease primitive.
type StorageConfig struct {
	BlobRootDir       string
	RejectedContainer string
	LeaseTTL          time.Duration
}

// ContainerConfig maps one input container to its jurisdiction and PO boxes.
type ContainerConfig struct {
	Name                 string   `json:"name"`
	Jurisdiction         string   `json:"jurisdiction"`
	PoBoxes              []string `json:"po_boxes"`
	Enabled              bool     `json:"enabled"`
	PaymentsEnabled      bool     `json:"payments_enabled"`
	OcrDocumentType      string   `json:"ocr_document_type"`
	OcrValidationURL     string   `json:"ocr_validation_url"`
	AllowedDocumentTypes []string `json:"allowed_document_types"`
}

// UploadConfig tunes the document store push and its retry schedule.
type UploadConfig struct {
	DocumentStoreURL string
	Timeout          time.Duration
	Cooldown         time.Duration
	MaxRetries       int
	BatchSize        int
}

// OcrConfig tunes the external OCR validation client.
type OcrConfig struct {
	Timeout   time.Duration
	AuthToken string
}

// NotificationsConfig names the queues and sets the staleness window.
//
// StaleTimeout (how long a NOTIFICATION_SENT envelope may wait for an
// acknowledgement before it becomes eligible for retriggering) and
// RedeliveryTimeout (how long a received message stays locked before the
// broker hands it out again) are independent knobs; keep StaleTimeout
// comfortably larger than RedeliveryTimeout.
type NotificationsConfig struct {
	Enabled           bool
	ReadyQueue        string
	ErrorQueue        string
	ProcessedQueue    string
	StaleTimeout      time.Duration
	RedeliveryTimeout time.Duration
}

// ReconciliationConfig gates the reconciliation report endpoints.
type ReconciliationConfig struct {
	Enabled bool
}

// SchedulerConfig sets the polling cadence of the background tasks.
type SchedulerConfig struct {
	Enabled          bool
	ScanInterval     time.Duration
	UploadInterval   time.Duration
	NotifyInterval   time.Duration
	ConsumeInterval  time.Duration
	ConsumeBatchSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Auth = AuthConfig{
		JWTSecret: v.GetString("JWT_SECRET"),
		Issuer:    v.GetString("JWT_ISSUER"),
	}

	cfg.Storage = StorageConfig{
		BlobRootDir:       v.GetString("STORAGE_BLOB_ROOT"),
		RejectedContainer: v.GetString("STORAGE_REJECTED_CONTAINER"),
		LeaseTTL:          parseDuration(v.GetString("STORAGE_LEASE_TTL"), time.Minute),
	}

	containers, err := parseContainers(v.GetString("CONTAINER_MAPPINGS"))
	if err != nil {
		return nil, fmt.Errorf("parse container mappings: %w", err)
	}
	cfg.Containers = containers

	cfg.Upload = UploadConfig{
		DocumentStoreURL: v.GetString("DOCSTORE_URL"),
		Timeout:          parseDuration(v.GetString("DOCSTORE_TIMEOUT"), 30*time.Second),
		Cooldown:         parseDuration(v.GetString("UPLOAD_COOLDOWN"), 5*time.Minute),
		MaxRetries:       v.GetInt("UPLOAD_MAX_RETRIES"),
		BatchSize:        v.GetInt("UPLOAD_BATCH_SIZE"),
	}

	cfg.Ocr = OcrConfig{
		Timeout:   parseDuration(v.GetString("OCR_VALIDATION_TIMEOUT"), 10*time.Second),
		AuthToken: v.GetString("OCR_VALIDATION_TOKEN"),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:           v.GetBool("ENABLE_NOTIFICATIONS"),
		ReadyQueue:        v.GetString("QUEUE_READY"),
		ErrorQueue:        v.GetString("QUEUE_ERROR"),
		ProcessedQueue:    v.GetString("QUEUE_PROCESSED"),
		StaleTimeout:      parseDuration(v.GetString("NOTIFICATIONS_STALE_TIMEOUT"), time.Hour),
		RedeliveryTimeout: parseDuration(v.GetString("QUEUE_REDELIVERY_TIMEOUT"), 5*time.Minute),
	}

	cfg.Reconciliation = ReconciliationConfig{
		Enabled: v.GetBool("ENABLE_RECONCILIATION"),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:          v.GetBool("ENABLE_SCHEDULER"),
		ScanInterval:     parseDuration(v.GetString("SCHEDULER_SCAN_INTERVAL"), 30*time.Second),
		UploadInterval:   parseDuration(v.GetString("SCHEDULER_UPLOAD_INTERVAL"), time.Minute),
		NotifyInterval:   parseDuration(v.GetString("SCHEDULER_NOTIFY_INTERVAL"), time.Minute),
		ConsumeInterval:  parseDuration(v.GetString("SCHEDULER_CONSUME_INTERVAL"), 10*time.Second),
		ConsumeBatchSize: v.GetInt("SCHEDULER_CONSUME_BATCH"),
	}

	return cfg, nil
}

// ContainerByName resolves the mapping for one input container.
func (c *Config) ContainerByName(name string) (*ContainerConfig, bool) {
	for i := range c.Containers {
		if c.Containers[i].Name == name {
			return &c.Containers[i], true
		}
	}
	return nil, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "scan_ingest")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "scan-ingest")

	v.SetDefault("STORAGE_BLOB_ROOT", "./blobs")
	v.SetDefault("STORAGE_REJECTED_CONTAINER", "rejected")
	v.SetDefault("STORAGE_LEASE_TTL", "60s")

	v.SetDefault("CONTAINER_MAPPINGS", "")

	v.SetDefault("DOCSTORE_URL", "http://localhost:9090/documents")
	v.SetDefault("DOCSTORE_TIMEOUT", "30s")
	v.SetDefault("UPLOAD_COOLDOWN", "5m")
	v.SetDefault("UPLOAD_MAX_RETRIES", 5)
	v.SetDefault("UPLOAD_BATCH_SIZE", 50)

	v.SetDefault("OCR_VALIDATION_TIMEOUT", "10s")
	v.SetDefault("OCR_VALIDATION_TOKEN", "")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("QUEUE_READY", "envelopes-ready")
	v.SetDefault("QUEUE_ERROR", "envelopes-error")
	v.SetDefault("QUEUE_PROCESSED", "envelopes-processed")
	v.SetDefault("NOTIFICATIONS_STALE_TIMEOUT", "1h")
	v.SetDefault("QUEUE_REDELIVERY_TIMEOUT", "5m")

	v.SetDefault("ENABLE_RECONCILIATION", true)

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("SCHEDULER_SCAN_INTERVAL", "30s")
	v.SetDefault("SCHEDULER_UPLOAD_INTERVAL", "1m")
	v.SetDefault("SCHEDULER_NOTIFY_INTERVAL", "1m")
	v.SetDefault("SCHEDULER_CONSUME_INTERVAL", "10s")
	v.SetDefault("SCHEDULER_CONSUME_BATCH", 16)
}

func parseContainers(raw string) ([]ContainerConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var containers []ContainerConfig
	if err := json.Unmarshal([]byte(raw), &containers); err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Name == "" || c.Jurisdiction == "" {
			return nil, fmt.Errorf("container mapping requires name and jurisdiction")
		}
	}
	return containers, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
