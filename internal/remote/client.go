// Package remote talks to the backend of record over its JSON HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"field-service-reports/internal/domain"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend request failed with status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend request failed with status %d", e.Code)
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	URL       string `json:"url"`
	ObjectKey string `json:"object_key"`
}

type createReportResponse struct {
	ReportID string `json:"report_id"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
}

type jobStatusRequest struct {
	Status domain.JobStatus `json:"status"`
}

// Ping checks the backend health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func (c *Client) FetchTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	var tpl domain.Template
	if err := c.do(ctx, http.MethodGet, "/v1/templates/"+url.PathEscape(templateID), "", nil, &tpl); err != nil {
		return domain.Template{}, fmt.Errorf("fetch template %s: %w", templateID, err)
	}
	return tpl, nil
}

// UploadMedia stores one photo or signature and returns its URL.
func (c *Client) UploadMedia(ctx context.Context, m domain.MediaUpload) (string, error) {
	q := url.Values{}
	q.Set("filename", m.FileName)
	q.Set("kind", string(m.Kind))
	path := fmt.Sprintf("/v1/jobs/%s/media/%s?%s", url.PathEscape(m.JobID), url.PathEscape(m.MediaID), q.Encode())

	contentType := m.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var out uploadResponse
	if err := c.do(ctx, http.MethodPost, path, contentType, bytes.NewReader(m.Data), &out); err != nil {
		return "", fmt.Errorf("upload %s: %w", m.MediaID, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload %s: backend returned no url", m.MediaID)
	}
	return out.URL, nil
}

// CreateReport persists the report. The backend keys reports by job id so repeating the call
// returns the existing report.
func (c *Client) CreateReport(ctx context.Context, payload domain.ReportPayload) (string, error) {
	var out createReportResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/reports", payload, &out); err != nil {
		return "", fmt.Errorf("create report for job %s: %w", payload.JobID, err)
	}
	return out.ReportID, nil
}

func (c *Client) SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	path := "/v1/jobs/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, http.MethodPut, path, jobStatusRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("set job %s status: %w", jobID, err)
	}
	return nil
}

func (c *Client) CreateTask(ctx context.Context, spec domain.TaskSpec) (string, error) {
	var out createTaskResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tasks", spec, &out); err != nil {
		return "", fmt.Errorf("create task %s: %w", spec.IdempotencyKey, err)
	}
	return out.TaskID, nil
}

func (c *Client) SendNotification(ctx context.Context, spec domain.NotificationSpec) error {
	if err := c.doJSON(ctx, http.MethodPost, "/v1/notifications", spec, nil); err != nil {
		return fmt.Errorf("send notification %s: %w", spec.IdempotencyKey, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("backend url is not configured")
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var parsed errorResponse
		_ = json.Unmarshal(respBody, &parsed)
		return &StatusError{Code: resp.StatusCode, Message: parsed.Error}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unable to parse backend response: %w", err)
	}
	return nil
}
