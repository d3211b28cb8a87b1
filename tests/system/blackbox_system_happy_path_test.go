//go:build system

package system_test

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.temporal.io/sdk/client"

	"field-service-reports/internal/connectivity"
	"field-service-reports/internal/domain"
	"field-service-reports/internal/localstore"
	"field-service-reports/internal/remote"
	"field-service-reports/internal/session"
	"field-service-reports/internal/submission"
)

var _ = Describe("Report submission against the real backend", Ordered, func() {
	var (
		repoRoot string
		cfg      stackConfig
	)

	BeforeAll(func() {
		if os.Getenv("RUN_BLACKBOX_SYSTEM_TEST") != "1" {
			Skip("set RUN_BLACKBOX_SYSTEM_TEST=1 to run the blackbox system test")
		}
		cfg = loadStackConfig()

		var err error
		repoRoot, err = findRepoRoot()
		Expect(err).ToNot(HaveOccurred())

		By("verifying the compose stack is running")
		Expect(requireComposeServicesRunning(repoRoot, cfg.Services)).To(Succeed())
		Expect(waitForPostgres(cfg.PostgresDSN, cfg.Preflight)).To(Succeed())
		Expect(waitForHTTPStatus(cfg.MinioReadyURL, http.StatusOK, cfg.Preflight)).To(Succeed())
		Expect(waitForHTTPStatus(cfg.APIBaseURL+"/readyz", http.StatusOK, cfg.Preflight)).To(Succeed())
		Expect(waitForWorkerPoller(cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TaskQueue, cfg.WorkerPoll)).To(Succeed())
		Expect(applyMigration(repoRoot, cfg.PostgresDSN)).To(Succeed())
	})

	It("fills, submits and finalizes a report with media and an auto-task", func() {
		ctx := context.Background()
		jobID := "sys-" + uuid.NewString()
		templateID := "sys-hvac"

		By("seeding the template and the job")
		tpl := domain.Template{
			Name:   "HVAC maintenance",
			Fields: []domain.FieldDef{{ID: "notes", Label: "Notes", Required: true}},
			Rules: []domain.AutomationRule{{
				ID:             "leak",
				Name:           "Refrigerant leak",
				Trigger:        domain.When(domain.Equals{Field: "leak_found", Value: true}),
				RequiredFields: []string{"leak_location"},
				Evidence:       map[string]domain.EvidenceSpec{"leak_photo": {MinPhotos: 1}},
				AutoActions:    []domain.AutoAction{{Type: domain.ActionCreateTask, Title: "Schedule leak repair"}},
			}},
			FeeRules: []domain.FeeRule{{
				ID: "leak-fee", Name: "Leak diagnostic", Amount: 95, AutoAdded: true,
				Trigger: domain.When(domain.Equals{Field: "leak_found", Value: true}),
			}},
		}
		Expect(putJSON(http.MethodPut, cfg.APIBaseURL+"/v1/templates/"+templateID, tpl)).To(Succeed())
		Expect(putJSON(http.MethodPut, cfg.APIBaseURL+"/v1/jobs/"+jobID, map[string]string{"template_id": templateID, "status": "in_progress"})).To(Succeed())

		By("driving a session the way the form does")
		store, err := localstore.Open(filepath.Join(GinkgoT().TempDir(), "reports.db"))
		Expect(err).ToNot(HaveOccurred())
		defer store.Close()

		backend := remote.NewClient(cfg.APIBaseURL, 10*time.Second)
		orch := &submission.Orchestrator{
			Connectivity: connectivity.NewMonitor(backend, store, 3*time.Second),
			Backend:      backend,
			Actions:      backend,
			Store:        store,
		}
		sess, err := session.Open(ctx, session.Deps{Templates: backend, Store: store, Submitter: orch, QuietPeriod: 50 * time.Millisecond},
			domain.JobContext{JobID: jobID}, templateID)
		Expect(err).ToNot(HaveOccurred())

		Expect(sess.SetField("notes", "replaced filter")).To(Succeed())
		Expect(sess.SetField("leak_found", true)).To(Succeed())
		Expect(sess.SetField("leak_location", "condenser coil")).To(Succeed())
		_, err = sess.AddPhoto(domain.Photo{FieldID: "leak_photo", FileName: "leak.jpg", ContentType: "image/jpeg", Data: []byte("\xff\xd8\xff fake jpeg")})
		Expect(err).ToNot(HaveOccurred())

		res, err := sess.Submit(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.State).To(Equal(submission.StateDone))
		Expect(res.ReportID).ToNot(BeEmpty())
		Expect(res.Audit.TasksCreated).To(HaveLen(1))
		Expect(res.AppliedFees).To(HaveLen(1))

		pending, err := store.Count(ctx, domain.ReportStatusPending)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(Equal(0))

		By("waiting for the finalize workflow")
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		Expect(err).ToNot(HaveOccurred())
		defer db.Close()

		Eventually(func() string {
			var status string
			_ = db.QueryRow(`SELECT status FROM reports WHERE id = $1`, res.ReportID).Scan(&status)
			return status
		}, cfg.Finalize, cfg.PollInterval).Should(Equal(string(domain.StoredReportFinalized)))

		states, err := fetchStringRows(db, `SELECT state FROM audit_log WHERE report_id = $1 ORDER BY seq`, res.ReportID)
		Expect(err).ToNot(HaveOccurred())
		Expect(states).To(Equal([]string{"RULE_TRIGGERED", "FEE_APPLIED", "TASK_CREATED", "FINALIZED"}))

		jobStatus, err := fetchStringRows(db, `SELECT status FROM jobs WHERE id = $1`, jobID)
		Expect(err).ToNot(HaveOccurred())
		Expect(jobStatus).To(Equal([]string{string(domain.JobStatusCompleted)}))

		By("checking the workflow history")
		temporalClient, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
		Expect(err).ToNot(HaveOccurred())
		defer temporalClient.Close()

		order, err := collectActivityOrder(ctx, temporalClient, cfg.WorkflowIDPrefix+"-"+jobID)
		Expect(err).ToNot(HaveOccurred())
		Expect(order).To(Equal(cfg.ActivityOrder))
	})
})
