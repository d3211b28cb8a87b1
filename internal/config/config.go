package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultHTTPPort        = "8080"
	defaultTemporalAddress = "localhost:7233"
	defaultTemporalNS      = "default"
	defaultTaskQueue       = "report-finalize-task-queue"
	defaultMinioEndpoint   = "localhost:9000"
	defaultMinioBucket     = "report-media"
	defaultWorkflowPrefix  = "report-finalize"
	defaultMediaWaitSec    = 15 * 60
	defaultMaxUploadBytes  = 20 * 1024 * 1024
)

// Config is the backend-of-record configuration shared by the api, worker and event-handler
// binaries.
type Config struct {
	HTTPPort          string
	PostgresDSN       string
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string
	MinioEndpoint     string
	MinioAccessKey    string
	MinioSecretKey    string
	MinioBucket       string
	MinioUseSSL       bool
	WorkflowIDPrefix  string
	MaxUploadBytes    int64
	MediaWait         time.Duration
	LogLevel          string
}

func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          getenv("HTTP_PORT", defaultHTTPPort),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		TemporalAddress:   getenv("TEMPORAL_ADDRESS", defaultTemporalAddress),
		TemporalNamespace: getenv("TEMPORAL_NAMESPACE", defaultTemporalNS),
		TemporalTaskQueue: getenv("TEMPORAL_TASK_QUEUE", defaultTaskQueue),
		MinioEndpoint:     getenv("MINIO_ENDPOINT", defaultMinioEndpoint),
		MinioAccessKey:    os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:    os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:       getenv("MINIO_BUCKET", defaultMinioBucket),
		MinioUseSSL:       getenvBool("MINIO_USE_SSL", false),
		WorkflowIDPrefix:  getenv("WORKFLOW_ID_PREFIX", defaultWorkflowPrefix),
		MaxUploadBytes:    int64(getenvInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		MediaWait:         time.Duration(getenvInt("MEDIA_WAIT_SEC", defaultMediaWaitSec)) * time.Second,
		LogLevel:          getenv("LOG_LEVEL", "info"),
	}

	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}

	return cfg, nil
}

func getenv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
