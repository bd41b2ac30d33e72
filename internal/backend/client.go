// Package backend talks to the build/test backend's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultTimeout bounds one backend request.
	DefaultTimeout = 10 * time.Second
	// DefaultRetryCount is the number of retries of idempotent requests.
	DefaultRetryCount = 2

	maxErrorBody = 64 << 10
)

// Client is the backend surface the console depends on.
type Client interface {
	ListTasks(ctx context.Context) ([]schema.Task, error)
	SubmitTask(ctx context.Context, req schema.SubmitTaskRequest) (schema.Task, error)
	DeleteTask(ctx context.Context, id schema.TaskID) error
	FetchArtifact(ctx context.Context, id schema.TaskID) (schema.Artifact, error)
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Unwrap maps a 404 to schema.ErrTaskNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return schema.ErrTaskNotFound
	}
	return nil
}

// HTTPClient implements Client over resty.
type HTTPClient struct {
	reads  *resty.Client
	writes *resty.Client
	log    pslog.Logger
}

// NewHTTPClient validates cfg and constructs the client. Submissions are
// never retried; reads and deletes are.
func NewHTTPClient(cfg Config, logger pslog.Logger) (*HTTPClient, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	log := logger.With("backend", base)
	return &HTTPClient{
		reads:  buildClient(base, cfg.Timeout, cfg.RetryCount, log),
		writes: buildClient(base, cfg.Timeout, 0, log),
		log:    log,
	}, nil
}

func parseBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("backend url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("backend url must have a host, got %q", raw)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func buildClient(base string, timeout time.Duration, retries int, log pslog.Logger) *resty.Client {
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(retryCondition)
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug("backend request",
			"method", resp.Request.Method,
			"url", resp.Request.URL,
			"status", resp.StatusCode(),
			"duration_ms", resp.Time().Milliseconds(),
		)
		return nil
	})
	return client
}

func retryCondition(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// ListTasks returns the backend's task list in its own order.
func (c *HTTPClient) ListTasks(ctx context.Context) ([]schema.Task, error) {
	var tasks []schema.Task
	apiErr := &APIError{}
	resp, err := c.reads.R().
		SetContext(ctx).
		SetResult(&tasks).
		SetError(apiErr).
		Get("/tasks")
	if err := check(resp, err, apiErr, "list tasks"); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SubmitTask posts a multipart submission. req must already be validated.
func (c *HTTPClient) SubmitTask(ctx context.Context, req schema.SubmitTaskRequest) (schema.Task, error) {
	taskType, err := schema.ParseTaskType(req.Type)
	if err != nil {
		return schema.Task{}, err
	}
	var task schema.Task
	apiErr := &APIError{}
	r := c.writes.R().
		SetContext(ctx).
		SetResult(&task).
		SetError(apiErr).
		SetMultipartFormData(map[string]string{"task_type": string(taskType)})
	switch taskType {
	case schema.TaskKernelBuild:
		r.SetFileReader("report", fileName(req.ReportName, "report.json"), bytes.NewReader(req.Report))
	case schema.TaskPatchApply:
		r.SetMultipartFormData(map[string]string{"uuid": string(req.TargetTaskID)})
		r.SetFileReader("patch", fileName(req.PatchName, "patch.diff"), bytes.NewReader(req.Patch))
	}
	resp, err := r.Post("/tasks")
	if err := check(resp, err, apiErr, "submit task"); err != nil {
		return schema.Task{}, err
	}
	c.log.Info("backend task submitted", "task", task.ID, "type", taskType)
	return task, nil
}

// DeleteTask removes a task on the backend.
func (c *HTTPClient) DeleteTask(ctx context.Context, id schema.TaskID) error {
	apiErr := &APIError{}
	resp, err := c.reads.R().
		SetContext(ctx).
		SetError(apiErr).
		Delete("/tasks/" + url.PathEscape(string(id)))
	return check(resp, err, apiErr, "delete task")
}

// FetchArtifact opens the artifact stream of a task. The caller closes Body.
func (c *HTTPClient) FetchArtifact(ctx context.Context, id schema.TaskID) (schema.Artifact, error) {
	resp, err := c.reads.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/artifacts/" + url.PathEscape(string(id)))
	if err != nil {
		return schema.Artifact{}, fmt.Errorf("fetch artifact: %w", err)
	}
	body := resp.RawBody()
	if resp.IsError() {
		defer body.Close()
		apiErr := &APIError{Status: resp.StatusCode()}
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		apiErr.Message = errorMessage(data)
		return schema.Artifact{}, fmt.Errorf("fetch artifact: %w", apiErr)
	}
	return schema.Artifact{
		TaskID:      id,
		Filename:    artifactName(resp.Header().Get("Content-Disposition"), id),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
	}, nil
}

func check(resp *resty.Response, err error, apiErr *APIError, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = errorMessage(resp.Body())
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload APIError
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func fileName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	return name
}

// artifactName takes the filename from a Content-Disposition header.
func artifactName(disposition string, id schema.TaskID) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			name := path.Base(strings.ReplaceAll(strings.TrimSpace(params["filename"]), "\\", "/"))
			if name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	return "artifact-" + schema.ShortID(string(id))
}
