package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"taskline/internal/apperr"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func unwrap[T any](t *testing.T, data []byte) T {
	t.Helper()
	var env Envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("success=false in %s", string(data))
	}
	return env.Data
}

func createProject(t *testing.T, srv *testServer, name string) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": name}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	return unwrap[ProjectResponse](t, data)
}

func createTask(t *testing.T, srv *testServer, projectID, title string) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"project_id": projectID,
		"title":      title,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	return unwrap[TaskResponse](t, data)
}

func TestTaskRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := createProject(t, srv, "web")
	task := createTask(t, srv, p.ID, "ship it")
	if task.Status != "new" || task.Version != 1 {
		t.Fatalf("fresh task = %+v", task)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status",
		map[string]any{"status": "ready"},
		map[string]string{"X-Concurrency-Token": strconv.FormatInt(task.Version, 10)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status update: %d %s", res.StatusCode, string(data))
	}
	updated := unwrap[TaskResponse](t, data)
	if updated.Status != "ready" || updated.Version != 2 {
		t.Fatalf("updated = %+v", updated)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
}

func TestConcurrencyTokenRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := createProject(t, srv, "strict")
	task := createTask(t, srv, p.ID, "guarded")

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status",
		map[string]any{"status": "ready"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing token: %d %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %q", ct)
	}
	var prob ProblemBody
	if err := json.Unmarshal(data, &prob); err != nil {
		t.Fatalf("unmarshal problem: %v", err)
	}
	if prob.Type != apperr.ProblemType(apperr.Validation) || prob.Title != "Validation Error" {
		t.Fatalf("problem = %+v, want the validation kind", prob)
	}
}

func TestStaleTokenProblemPayload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := createProject(t, srv, "contested")
	task := createTask(t, srv, p.ID, "shared")

	headers := map[string]string{"X-Concurrency-Token": "1"}
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status",
		map[string]any{"status": "ready"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first writer: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID+"/status",
		map[string]any{"status": "ready"}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("stale writer: %d %s", res.StatusCode, string(data))
	}
	var prob ProblemBody
	if err := json.Unmarshal(data, &prob); err != nil {
		t.Fatalf("unmarshal problem: %v", err)
	}
	if prob.Status != http.StatusConflict || prob.Title != "Version Conflict" {
		t.Fatalf("problem = %+v", prob)
	}
	if prob.Type == "" || prob.Instance == "" {
		t.Fatalf("problem missing type/instance: %+v", prob)
	}
}

func TestOrphanCreateRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"project_id": "P-missing",
		"title":      "orphan",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("orphan create: %d %s", res.StatusCode, string(data))
	}
	var prob ProblemBody
	_ = json.Unmarshal(data, &prob)
	if prob.Title != "Orphan Rejected" {
		t.Fatalf("problem = %+v", prob)
	}
}

func TestMissingTaskIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/T-nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d %s", res.StatusCode, string(data))
	}
}

func TestIdempotentReplay(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv, "retry-safe")

	headers := map[string]string{"X-Request-Id": "req-42"}
	body := map[string]any{"project_id": p.ID, "title": "only once"}

	res1, data1 := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", body, headers)
	if res1.StatusCode != http.StatusCreated {
		t.Fatalf("first attempt: %d %s", res1.StatusCode, string(data1))
	}
	res2, data2 := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", body, headers)
	if res2.StatusCode != http.StatusCreated {
		t.Fatalf("replay status: %d %s", res2.StatusCode, string(data2))
	}
	if res2.Header.Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("replay not marked")
	}
	if !bytes.Equal(data1, data2) {
		t.Fatalf("replay body differs:\n%s\n%s", data1, data2)
	}

	// the mutation ran once
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	tasks := unwrap[[]TaskResponse](t, data)
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil,
		map[string]string{"X-Correlation-Id": "corr-7"})
	if res.Header.Get("X-Correlation-Id") != "corr-7" {
		t.Fatalf("correlation id not echoed")
	}
}

func TestDeleteProjectCascadeOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := createProject(t, srv, "doomed")
	createTask(t, srv, p.ID, "one")
	createTask(t, srv, p.ID, "two")

	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/projects/"+p.ID, nil,
		map[string]string{"X-Concurrency-Token": strconv.FormatInt(p.Version, 10)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", res.StatusCode, string(data))
	}
	cas := unwrap[CascadeResponse](t, data)
	if cas.Marked != 2 || len(cas.Failed) != 0 {
		t.Fatalf("cascade = %+v", cas)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/audit/orphans", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("orphans: %d %s", res.StatusCode, string(data))
	}
	orphans := unwrap[[]TaskResponse](t, data)
	if len(orphans) != 0 {
		t.Fatalf("orphans = %+v, want none", orphans)
	}
}

func TestConcurrentDuplicateRequestID(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv, "raced")

	payload, err := json.Marshal(map[string]any{"project_id": p.ID, "title": "exactly once"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wg sync.WaitGroup
	statuses := make([]int, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/tasks", bytes.NewReader(payload))
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Request-Id", "req-race")
			res, err := srv.Client().Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			res.Body.Close()
			statuses[i] = res.StatusCode
		}(i)
	}
	wg.Wait()
	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if statuses[i] != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201", i, statuses[i])
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	tasks := unwrap[[]TaskResponse](t, data)
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want exactly one for the shared request id", len(tasks))
	}
}

func TestReplayKeepsProblemContentType(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body := map[string]any{"project_id": "P-missing", "title": "orphan"}
	headers := map[string]string{"X-Request-Id": "req-problem"}

	res1, data1 := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", body, headers)
	if res1.StatusCode != http.StatusBadRequest {
		t.Fatalf("first attempt: %d %s", res1.StatusCode, string(data1))
	}
	res2, data2 := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", body, headers)
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("replay status: %d %s", res2.StatusCode, string(data2))
	}
	if res2.Header.Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("replay not marked")
	}
	if ct := res2.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("replayed content type = %q", ct)
	}
	if !bytes.Equal(data1, data2) {
		t.Fatalf("replay body differs:\n%s\n%s", data1, data2)
	}
}
