// Command agent is the on-device side of field reports. "sync" drains reports queued while
// offline; "submit" fills a report from a JSON file and submits it the way the form UI would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/config"
	"field-service-reports/internal/connectivity"
	"field-service-reports/internal/localstore"
	"field-service-reports/internal/remote"
	"field-service-reports/internal/session"
	"field-service-reports/internal/submission"
)

type runtime struct {
	cfg     config.Agent
	store   *localstore.Store
	backend *remote.Client
	monitor *connectivity.Monitor
}

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}

	store, err := localstore.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}
	defer store.Close()

	backend := remote.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	rt := &runtime{
		cfg:     cfg,
		store:   store,
		backend: backend,
		monitor: connectivity.NewMonitor(backend, store, cfg.Backend.ProbeTimeout),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := "sync"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "sync":
		err = rt.runSync(ctx)
	case "submit":
		err = rt.runSubmit(ctx, args)
	case "status":
		err = rt.runStatus(ctx)
	default:
		err = fmt.Errorf("unknown command %q (want sync, submit or status)", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func (rt *runtime) runSync(ctx context.Context) error {
	syncer := &submission.Syncer{
		Store:        rt.store,
		Backend:      rt.backend,
		Actions:      rt.backend,
		Connectivity: rt.monitor,
		Interval:     rt.cfg.Sync.Interval,
	}
	log.WithFields(log.Fields{"backend": rt.cfg.Backend.URL, "interval": rt.cfg.Sync.Interval}).Info("sync agent running")
	return syncer.Run(ctx)
}

func (rt *runtime) runStatus(ctx context.Context) error {
	pending, err := rt.monitor.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("online=%t pending=%d\n", rt.monitor.IsOnline(ctx), pending)
	return nil
}

func (rt *runtime) runSubmit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	file := fs.String("file", "", "path to the report fill file (JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	fill, err := loadFill(*file)
	if err != nil {
		return err
	}

	orch := &submission.Orchestrator{
		Connectivity: rt.monitor,
		Backend:      rt.backend,
		Actions:      rt.backend,
		Store:        rt.store,
		Reviewer:     staticReviewer{decisions: fill.FeeDecisions},
		OnTransition: func(jobID string, state submission.State) {
			log.WithFields(log.Fields{"job_id": jobID, "state": state}).Debug("submission state")
		},
	}
	sess, err := session.Open(ctx, session.Deps{
		Templates:   rt.backend,
		Store:       rt.store,
		Submitter:   orch,
		QuietPeriod: rt.cfg.Autosave.QuietPeriod,
	}, fill.Job, fill.TemplateID)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	if err := fill.apply(sess); err != nil {
		return err
	}

	res, err := sess.Submit(ctx)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, fill.Job.JobID, res)
}
