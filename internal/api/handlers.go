package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"field-service-reports/internal/config"
	"field-service-reports/internal/domain"
	"field-service-reports/internal/storage"
	appTemporal "field-service-reports/internal/temporal"
)

// Store is the slice of the Postgres store the handlers need.
type Store interface {
	Ping(ctx context.Context) error
	GetTemplate(ctx context.Context, templateID string) (domain.Template, error)
	UpsertTemplate(ctx context.Context, tpl domain.Template) error
	UpsertJob(ctx context.Context, jobID, templateID string, status domain.JobStatus) error
	SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error
	CreateReport(ctx context.Context, payload domain.ReportPayload) (string, error)
	GetReport(ctx context.Context, reportID string) (domain.StoredReport, error)
	ListAuditEntries(ctx context.Context, reportID string) ([]domain.AuditEntry, error)
	CreateTask(ctx context.Context, spec domain.TaskSpec) (string, error)
	CreateNotification(ctx context.Context, spec domain.NotificationSpec) (string, error)
}

type MediaStore interface {
	PutMedia(ctx context.Context, jobID, mediaID, fileName, contentType string, content []byte) (string, error)
	GetMedia(ctx context.Context, objectKey string) ([]byte, error)
	MediaURL(objectKey string) string
}

// WorkflowStarter is satisfied by client.Client.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

type Handler struct {
	cfg       config.Config
	store     Store
	blob      MediaStore
	workflows WorkflowStarter
}

type uploadResponse struct {
	URL       string `json:"url"`
	ObjectKey string `json:"object_key"`
}

type createReportResponse struct {
	ReportID   string `json:"report_id"`
	WorkflowID string `json:"workflow_id"`
}

type jobRequest struct {
	TemplateID string           `json:"template_id"`
	Status     domain.JobStatus `json:"status"`
}

type jobStatusRequest struct {
	Status domain.JobStatus `json:"status"`
}

func NewHandler(cfg config.Config, store Store, blob MediaStore, workflows WorkflowStarter) *Handler {
	return &Handler{cfg: cfg, store: store, blob: blob, workflows: workflows}
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tpl, err := h.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		log.WithError(err).WithField("template_id", templateID).Error("fetch template")
		writeError(w, http.StatusInternalServerError, "failed to fetch template")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *Handler) PutTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	var tpl domain.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	tpl.ID = templateID
	if strings.TrimSpace(tpl.Name) == "" {
		writeError(w, http.StatusBadRequest, "template name is required")
		return
	}
	if err := h.store.UpsertTemplate(r.Context(), tpl); err != nil {
		log.WithError(err).WithField("template_id", templateID).Error("store template")
		writeError(w, http.StatusInternalServerError, "failed to store template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"template_id": templateID})
}

func (h *Handler) PutJob(w http.ResponseWriter, r *http.Request, jobID string) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Status == "" {
		req.Status = domain.JobStatusScheduled
	}
	if !validJobStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid job status")
		return
	}
	if err := h.store.UpsertJob(r.Context(), jobID, req.TemplateID, req.Status); err != nil {
		log.WithError(err).WithField("job_id", jobID).Error("store job")
		writeError(w, http.StatusInternalServerError, "failed to store job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "status": req.Status})
}

func (h *Handler) SetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	var req jobStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !validJobStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid job status")
		return
	}
	if err := h.store.SetJobStatus(r.Context(), jobID, req.Status); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.WithError(err).WithField("job_id", jobID).Error("set job status")
		writeError(w, http.StatusInternalServerError, "failed to set job status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "status": req.Status})
}

// UploadMedia stores the raw request body as one media object for the job.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request, jobID, mediaID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "media body is empty")
		return
	}
	if int64(len(body)) > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "media exceeds size limit")
		return
	}

	fileName := r.URL.Query().Get("filename")
	if fileName == "" {
		fileName = mediaID
	}
	kind := domain.MediaKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != domain.MediaPhoto && kind != domain.MediaSignature {
		writeError(w, http.StatusBadRequest, "invalid media kind")
		return
	}

	objectKey, err := h.blob.PutMedia(ctx, jobID, mediaID, fileName, r.Header.Get("Content-Type"), body)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"job_id": jobID, "media_id": mediaID}).Error("upload media")
		writeError(w, http.StatusInternalServerError, "failed to upload media")
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{URL: h.blob.MediaURL(objectKey), ObjectKey: objectKey})
}

func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request, objectKey string) {
	data, err := h.blob.GetMedia(r.Context(), objectKey)
	if err != nil {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CreateReport persists the report and starts its finalize workflow. A workflow that is
// already running or done for the job counts as started, so clients may repeat the call.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var payload domain.ReportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.JobID == "" || payload.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "job_id and template_id are required")
		return
	}
	if payload.FormData == nil {
		payload.FormData = domain.FormData{}
	}

	reportID, err := h.store.CreateReport(r.Context(), payload)
	if err != nil {
		log.WithError(err).WithField("job_id", payload.JobID).Error("create report")
		writeError(w, http.StatusInternalServerError, "failed to create report")
		return
	}

	workflowID := h.workflowID(payload.JobID)
	_, err = h.workflows.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                h.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, appTemporal.ReportFinalizeWorkflowName, appTemporal.WorkflowInput{
		ReportID:  reportID,
		JobID:     payload.JobID,
		MediaWait: h.cfg.MediaWait,
	})
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if !errors.As(err, &alreadyStarted) {
			log.WithError(err).WithFields(log.Fields{"job_id": payload.JobID, "report_id": reportID}).Error("start finalize workflow")
			writeError(w, http.StatusBadGateway, "failed to start finalize workflow")
			return
		}
	}

	log.WithFields(log.Fields{"job_id": payload.JobID, "report_id": reportID, "workflow_id": workflowID}).Info("report received")
	writeJSON(w, http.StatusCreated, createReportResponse{ReportID: reportID, WorkflowID: workflowID})
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request, reportID string) {
	rec, err := h.store.GetReport(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		log.WithError(err).WithField("report_id", reportID).Error("fetch report")
		writeError(w, http.StatusInternalServerError, "failed to fetch report")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetReportAudit(w http.ResponseWriter, r *http.Request, reportID string) {
	entries, err := h.store.ListAuditEntries(r.Context(), reportID)
	if err != nil {
		log.WithError(err).WithField("report_id", reportID).Error("list audit")
		writeError(w, http.StatusInternalServerError, "failed to fetch audit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report_id": reportID, "entries": entries})
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var spec domain.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if spec.IdempotencyKey == "" || spec.JobID == "" || spec.Title == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key, job_id and title are required")
		return
	}
	taskID, err := h.store.CreateTask(r.Context(), spec)
	if err != nil {
		log.WithError(err).WithField("idempotency_key", spec.IdempotencyKey).Error("create task")
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
}

func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var spec domain.NotificationSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if spec.IdempotencyKey == "" || spec.JobID == "" || spec.Recipient == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key, job_id and recipient are required")
		return
	}
	id, err := h.store.CreateNotification(r.Context(), spec)
	if err != nil {
		log.WithError(err).WithField("idempotency_key", spec.IdempotencyKey).Error("queue notification")
		writeError(w, http.StatusInternalServerError, "failed to queue notification")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"notification_id": id})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) workflowID(jobID string) string {
	return fmt.Sprintf("%s-%s", h.cfg.WorkflowIDPrefix, jobID)
}

func validJobStatus(s domain.JobStatus) bool {
	switch s {
	case domain.JobStatusScheduled, domain.JobStatusInProgress, domain.JobStatusCompleted:
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
