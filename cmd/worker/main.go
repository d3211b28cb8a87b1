package main

import (
	log "github.com/sirupsen/logrus"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"field-service-reports/internal/config"
	"field-service-reports/internal/storage"
	appTemporal "field-service-reports/internal/temporal"
)

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

	temporalClient, err := appTemporal.Dial(cfg.TemporalAddress, cfg.TemporalNamespace)
	if err != nil {
		log.Fatal(err)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(appTemporal.ReportFinalizeWorkflow, workflow.RegisterOptions{Name: appTemporal.ReportFinalizeWorkflowName})
	w.RegisterActivity(&appTemporal.Activities{Store: store})

	log.WithField("task_queue", cfg.TemporalTaskQueue).Info("finalize worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker stopped: %v", err)
	}
}
