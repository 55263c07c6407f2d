// Package tasklinesdk is the Go client for the Taskline HTTP API.
//
// Every call carries a correlation id for the logical action and, on
// mutations, a stable request id so a retried attempt replays the stored
// outcome instead of re-running. Transient failures are retried with
// exponential backoff; conflicts and validation errors are returned to the
// caller immediately.
package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a Taskline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	// MaxRetries bounds retry attempts beyond the first try.
	MaxRetries int
	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration
	// Sleep is swappable for tests. Defaults to time.Sleep.
	Sleep func(time.Duration)

	correlationID string
}

// WithCorrelation returns a copy of the client pinned to one correlation id,
// so a multi-call action shows up as a single logical thread in the audit
// log. The zero value generates a fresh id per call.
func (c *Client) WithCorrelation(id string) *Client {
	cp := *c
	cp.correlationID = id
	return &cp
}

// New creates a client with sane defaults: three retries at 1s, 2s, 4s.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Second,
	}
}

// Project is the API project model.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Sprint is the API sprint model.
type Sprint struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Status    string  `json:"status"`
	StartsAt  *string `json:"starts_at,omitempty"`
	EndsAt    *string `json:"ends_at,omitempty"`
	Version   int64   `json:"version"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Task is the API task model.
type Task struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	SprintID  *string `json:"sprint_id,omitempty"`
	ParentID  *string `json:"parent_id,omitempty"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	Priority  *int    `json:"priority,omitempty"`
	Version   int64   `json:"version"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Item is one entry of an action list.
type Item struct {
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

// ActionList is the API action list model.
type ActionList struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	SprintID  *string `json:"sprint_id,omitempty"`
	Status    string  `json:"status"`
	Items     []Item  `json:"items"`
	Version   int64   `json:"version"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// CascadeResult reports a parent delete and its dependent marking.
type CascadeResult struct {
	Deleted string `json:"deleted"`
	Marked  int    `json:"marked"`
	Failed  []struct {
		Entity string `json:"entity"`
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"failed,omitempty"`
}

// Problem is the RFC 9457 document returned on errors.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// APIError wraps a non-2xx response.
type APIError struct {
	StatusCode int
	Problem    Problem
	Body       string
}

func (e *APIError) Error() string {
	if e.Problem.Title != "" {
		return fmt.Sprintf("api error: status=%d %s: %s", e.StatusCode, e.Problem.Title, e.Problem.Detail)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Conflict reports whether the error is a version conflict. The caller
// should re-read the entity and decide whether to reapply.
func (e *APIError) Conflict() bool { return e.StatusCode == http.StatusConflict }

// --- projects ---

func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, call{method: http.MethodPost, path: "projects", body: map[string]any{"name": name}}, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, call{method: http.MethodGet, path: "projects/" + url.PathEscape(id)}, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, call{method: http.MethodGet, path: "projects"}, &resp)
	return resp, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, version int64, patch map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, call{method: http.MethodPatch, path: "projects/" + url.PathEscape(id), body: patch, version: version}, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string, version int64, note string) (CascadeResult, error) {
	var resp CascadeResult
	err := c.do(ctx, call{method: http.MethodDelete, path: deletePath("projects", id, note), version: version}, &resp)
	return resp, err
}

func (c *Client) SprintsInProject(ctx context.Context, projectID string) ([]Sprint, error) {
	var resp []Sprint
	err := c.do(ctx, call{method: http.MethodGet, path: "projects/" + url.PathEscape(projectID) + "/sprints"}, &resp)
	return resp, err
}

func (c *Client) TasksInProject(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, call{method: http.MethodGet, path: "projects/" + url.PathEscape(projectID) + "/tasks"}, &resp)
	return resp, err
}

func (c *Client) ActionListsInProject(ctx context.Context, projectID string) ([]ActionList, error) {
	var resp []ActionList
	err := c.do(ctx, call{method: http.MethodGet, path: "projects/" + url.PathEscape(projectID) + "/actionlists"}, &resp)
	return resp, err
}

// --- sprints ---

func (c *Client) CreateSprint(ctx context.Context, projectID string) (Sprint, error) {
	var resp Sprint
	err := c.do(ctx, call{method: http.MethodPost, path: "sprints", body: map[string]any{"project_id": projectID}}, &resp)
	return resp, err
}

func (c *Client) GetSprint(ctx context.Context, id string) (Sprint, error) {
	var resp Sprint
	err := c.do(ctx, call{method: http.MethodGet, path: "sprints/" + url.PathEscape(id)}, &resp)
	return resp, err
}

func (c *Client) UpdateSprint(ctx context.Context, id string, version int64, patch map[string]any) (Sprint, error) {
	var resp Sprint
	err := c.do(ctx, call{method: http.MethodPatch, path: "sprints/" + url.PathEscape(id), body: patch, version: version}, &resp)
	return resp, err
}

func (c *Client) DeleteSprint(ctx context.Context, id string, version int64, note string) (CascadeResult, error) {
	var resp CascadeResult
	err := c.do(ctx, call{method: http.MethodDelete, path: deletePath("sprints", id, note), version: version}, &resp)
	return resp, err
}

func (c *Client) TasksInSprint(ctx context.Context, sprintID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, call{method: http.MethodGet, path: "sprints/" + url.PathEscape(sprintID) + "/tasks"}, &resp)
	return resp, err
}

// --- tasks ---

func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"project_id": projectID, "title": title}
	var resp Task
	err := c.do(ctx, call{method: http.MethodPost, path: "tasks", body: body}, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, call{method: http.MethodGet, path: "tasks/" + url.PathEscape(id)}, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, version int64, patch map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, call{method: http.MethodPatch, path: "tasks/" + url.PathEscape(id), body: patch, version: version}, &resp)
	return resp, err
}

// SetTaskStatus advances the task through its state machine. version must be
// the version the caller last read.
func (c *Client) SetTaskStatus(ctx context.Context, id string, version int64, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, call{
		method:  http.MethodPatch,
		path:    "tasks/" + url.PathEscape(id) + "/status",
		body:    map[string]any{"status": status},
		version: version,
	}, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string, version int64, note string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: deletePath("tasks", id, note), version: version}, nil)
}

// --- action lists ---

func (c *Client) CreateActionList(ctx context.Context, projectID string, items []Item) (ActionList, error) {
	body := map[string]any{"project_id": projectID, "items": items}
	var resp ActionList
	err := c.do(ctx, call{method: http.MethodPost, path: "actionlists", body: body}, &resp)
	return resp, err
}

func (c *Client) GetActionList(ctx context.Context, id string) (ActionList, error) {
	var resp ActionList
	err := c.do(ctx, call{method: http.MethodGet, path: "actionlists/" + url.PathEscape(id)}, &resp)
	return resp, err
}

func (c *Client) UpdateActionList(ctx context.Context, id string, version int64, patch map[string]any) (ActionList, error) {
	var resp ActionList
	err := c.do(ctx, call{method: http.MethodPatch, path: "actionlists/" + url.PathEscape(id), body: patch, version: version}, &resp)
	return resp, err
}

func (c *Client) DeleteActionList(ctx context.Context, id string, version int64, note string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: deletePath("actionlists", id, note), version: version}, nil)
}

// OrphanedTasks returns tasks whose parent vanished without a cascade
// marker. Empty under correct operation.
func (c *Client) OrphanedTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, call{method: http.MethodGet, path: "audit/orphans"}, &resp)
	return resp, err
}

// Health probes a running server.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	err := c.do(ctx, call{method: http.MethodGet, path: "health"}, &resp)
	return resp, err
}

type call struct {
	method  string
	path    string
	body    any
	version int64 // 0 means no concurrency token
}

func (c *Client) mutating(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// retryable reports whether a status is worth another attempt. Conflicts
// and client errors are settled outcomes and never retried.
func retryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var payload []byte
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return err
		}
		payload = b
	}
	correlationID := c.correlationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	requestID := ""
	if c.mutating(cl.method) {
		// Stable for all attempts of this logical mutation.
		requestID = uuid.NewString()
	}

	var lastErr error
	delay := c.BackoffBase
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, cl, payload, correlationID, requestID, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var ae *APIError
		if errors.As(err, &ae) && !retryable(ae.StatusCode) {
			return err
		}
		if attempt >= c.MaxRetries {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleep(delay)
		delay *= 2
	}
}

func (c *Client) once(ctx context.Context, cl call, payload []byte, correlationID, requestID string, out any) error {
	endpoint := c.base() + "/v0/" + strings.TrimLeft(cl.path, "/")
	req, err := http.NewRequestWithContext(ctx, cl.method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if cl.version > 0 {
		req.Header.Set("X-Concurrency-Token", strconv.FormatInt(cl.version, 10))
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		_ = json.Unmarshal(b, &apiErr.Problem)
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return err
		}
		if len(env.Data) == 0 {
			return nil
		}
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// envelope is the happy-path response wrapper. Problem documents arrive
// outside it on non-2xx statuses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func deletePath(resource, id, note string) string {
	p := resource + "/" + url.PathEscape(id)
	if note != "" {
		p += "?note=" + url.QueryEscape(note)
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// httpClient never mutates the shared Client, so copies handed out by
// WithCorrelation stay safe for concurrent use.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}
