package temporal

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"

	"field-service-reports/internal/domain"
)

type activityTrace struct {
	mu sync.Mutex

	startedOrder []string
	recordOut    *RecordAuditOutput
	checkIns     []CheckMediaInput
	finalizeIn   *FinalizeReportInput
}

func (t *activityTrace) started(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedOrder = append(t.startedOrder, name)
}

var _ = Describe("ReportFinalizeWorkflow", func() {
	var (
		store *fakeStore
		env   *testsuite.TestWorkflowEnvironment
		trace *activityTrace
	)

	BeforeEach(func() {
		store = newFakeStore()
		trace = &activityTrace{}
		env = newWorkflowEnv(store)

		env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, args converter.EncodedValues) {
			trace.started(info.ActivityType.Name)
			switch info.ActivityType.Name {
			case "CheckMediaActivity":
				var in CheckMediaInput
				_ = args.Get(&in)
				trace.mu.Lock()
				trace.checkIns = append(trace.checkIns, in)
				trace.mu.Unlock()
			case "FinalizeReportActivity":
				var in FinalizeReportInput
				_ = args.Get(&in)
				trace.mu.Lock()
				trace.finalizeIn = &in
				trace.mu.Unlock()
			}
		})
		env.SetOnActivityCompletedListener(func(info *activity.Info, result converter.EncodedValue, _ error) {
			if info.ActivityType.Name != "RecordAutomationAuditActivity" {
				return
			}
			var out RecordAuditOutput
			_ = result.Get(&out)
			trace.mu.Lock()
			trace.recordOut = &out
			trace.mu.Unlock()
		})
	})

	It("records the audit, waits for late media and finalizes", func() {
		store.reports["r-10"] = sampleReport("r-10", "job-10", "photo-1", "sig-1")
		store.media["job-10"] = []string{"photo-1"}

		By("delivering the signature upload event while the workflow waits")
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow(MediaReceivedSignalName, MediaReceivedSignal{MediaID: "sig-1", ObjectKey: "job-10/sig-1/signature.png"})
		}, 30*time.Second)

		env.ExecuteWorkflow(ReportFinalizeWorkflow, WorkflowInput{ReportID: "r-10", JobID: "job-10", MediaWait: 15 * time.Minute})

		Expect(env.IsWorkflowCompleted()).To(BeTrue())
		Expect(env.GetWorkflowError()).ToNot(HaveOccurred())

		var result WorkflowResult
		Expect(env.GetWorkflowResult(&result)).To(Succeed())
		Expect(result.ReportID).To(Equal("r-10"))
		Expect(result.Status).To(Equal(domain.StoredReportFinalized))
		Expect(result.MissingMedia).To(BeEmpty())
		Expect(result.FinalizedAt).To(BeTemporally("==", fixedNow))

		By("running the activities in order without a second media check")
		Expect(trace.startedOrder).To(Equal([]string{
			"RecordAutomationAuditActivity",
			"CheckMediaActivity",
			"FinalizeReportActivity",
		}))
		Expect(trace.recordOut).ToNot(BeNil())
		Expect(trace.recordOut.MediaIDs).To(ConsistOf("photo-1", "sig-1"))
		Expect(trace.checkIns).To(HaveLen(1))
		Expect(trace.checkIns[0].JobID).To(Equal("job-10"))

		By("appending FINALIZED after the automation entries")
		Expect(trace.finalizeIn).ToNot(BeNil())
		Expect(trace.finalizeIn.NextSeq).To(Equal(3))
		entries := store.log("r-10")
		Expect(entries).To(HaveLen(3))
		Expect(entries[0].State).To(Equal(domain.AuditRuleTriggered))
		Expect(entries[1].State).To(Equal(domain.AuditFeeApplied))
		Expect(entries[2].State).To(Equal(domain.AuditFinalized))
	})

	It("re-checks the media ledger when the wait runs out", func() {
		store.reports["r-11"] = sampleReport("r-11", "job-11", "photo-1")

		By("landing the object without a signal")
		env.RegisterDelayedCallback(func() {
			store.mu.Lock()
			store.media["job-11"] = []string{"photo-1"}
			store.mu.Unlock()
		}, time.Minute)

		env.ExecuteWorkflow(ReportFinalizeWorkflow, WorkflowInput{ReportID: "r-11", JobID: "job-11", MediaWait: 5 * time.Minute})

		Expect(env.IsWorkflowCompleted()).To(BeTrue())
		Expect(env.GetWorkflowError()).ToNot(HaveOccurred())

		var result WorkflowResult
		Expect(env.GetWorkflowResult(&result)).To(Succeed())
		Expect(result.MissingMedia).To(BeEmpty())
		Expect(trace.checkIns).To(HaveLen(2))
		Expect(trace.checkIns[1].MediaIDs).To(Equal([]string{"photo-1"}))
	})
})
