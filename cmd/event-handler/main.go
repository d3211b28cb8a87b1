package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/config"
	"field-service-reports/internal/events"
	"field-service-reports/internal/storage"
	appTemporal "field-service-reports/internal/temporal"
)

const eventTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	config.SetupLogging(cfg.LogLevel)

	store, err := storage.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer store.Close()

	minioClient, err := storage.NewMinioClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("connect minio: %v", err)
	}

	temporalClient, err := appTemporal.Dial(cfg.TemporalAddress, cfg.TemporalNamespace)
	if err != nil {
		log.Fatal(err)
	}
	defer temporalClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := events.NewMinioMediaEventSource(minioClient, cfg.MinioBucket, "", "")
	handle := events.NewMediaHandler(store, temporalClient, cfg.WorkflowIDPrefix)

	log.WithField("bucket", cfg.MinioBucket).Info("waiting for media uploads")
	err = source.Run(ctx, func(parent context.Context, event events.MediaEvent) error {
		eventCtx, cancel := context.WithTimeout(parent, eventTimeout)
		defer cancel()
		return handle(eventCtx, event)
	})
	if err != nil {
		log.Fatalf("media event stream stopped: %v", err)
	}
}
