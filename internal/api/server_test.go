package api

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/hudrender/internal/events"
	"github.com/smazurov/hudrender/internal/jobs"
)

// mockJobService is a test implementation of JobService.
type mockJobService struct {
	mu        sync.Mutex
	jobs      map[string]jobs.Info
	outputs   map[string]string
	submitted []jobs.Request
	cancelled []string
}

func newMockJobService() *mockJobService {
	return &mockJobService{
		jobs:    make(map[string]jobs.Info),
		outputs: make(map[string]string),
	}
}

func (m *mockJobService) Submit(req jobs.Request) (*jobs.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Input == "missing.mp4" {
		return nil, jobs.NewError(jobs.ErrCodeInvalidRequest, "input not readable", os.ErrNotExist)
	}
	m.submitted = append(m.submitted, req)
	info := jobs.Info{
		ID:          fmt.Sprintf("job-%d", len(m.submitted)),
		State:       jobs.StatePending,
		Input:       req.Input,
		Format:      "mp4",
		FramesTotal: 30,
		CreatedAt:   time.Now(),
	}
	m.jobs[info.ID] = info
	return &info, nil
}

func (m *mockJobService) Get(id string) (*jobs.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.jobs[id]
	if !ok {
		return nil, jobs.NewError(jobs.ErrCodeNotFound, "job not found", nil)
	}
	return &info, nil
}

func (m *mockJobService) List() []jobs.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobs.Info, 0, len(m.jobs))
	for _, info := range m.jobs {
		out = append(out, info)
	}
	return out
}

func (m *mockJobService) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.jobs[id]
	if !ok {
		return jobs.NewError(jobs.ErrCodeNotFound, "job not found", nil)
	}
	if info.State.Terminal() {
		return jobs.NewError(jobs.ErrCodeFinished, "job already finished", nil)
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockJobService) OutputPath(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.jobs[id]
	if !ok {
		return "", jobs.NewError(jobs.ErrCodeNotFound, "job not found", nil)
	}
	if info.State != jobs.StateComplete {
		return "", jobs.NewError(jobs.ErrCodeNotComplete, "job has no output", nil)
	}
	return m.outputs[id], nil
}

func (m *mockJobService) put(info jobs.Info, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[info.ID] = info
	if output != "" {
		m.outputs[info.ID] = output
	}
}

const testUser, testPass = "test", "secret"

func newTestServer(t *testing.T, svc *mockJobService, bus *events.Bus) *httptest.Server {
	t.Helper()
	server := NewServer(&Options{
		AuthUsername:      testUser,
		AuthPassword:      testPass,
		Jobs:              svc,
		EventBus:          bus,
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, auth bool) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth(testUser, testPass)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPublicEndpointsSkipAuth(t *testing.T) {
	ts := newTestServer(t, newMockJobService(), nil)

	for _, path := range []string{"/api/health", "/api/version", "/metrics"} {
		resp := do(t, http.MethodGet, ts.URL+path, "", false)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestJobEndpointsRequireAuth(t *testing.T) {
	ts := newTestServer(t, newMockJobService(), nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs", "", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("WWW-Authenticate"), "Basic") {
		t.Error("missing WWW-Authenticate challenge")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs", nil)
	req.SetBasicAuth(testUser, "wrong")
	bad, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", bad.StatusCode)
	}

	query := base64.StdEncoding.EncodeToString([]byte(testUser + ":" + testPass))
	ok := do(t, http.MethodGet, ts.URL+"/api/jobs?auth="+query, "", false)
	if ok.StatusCode != http.StatusOK {
		t.Errorf("query auth status = %d, want 200", ok.StatusCode)
	}
}

func TestSubmitJob(t *testing.T) {
	svc := newMockJobService()
	ts := newTestServer(t, svc, nil)

	resp := do(t, http.MethodPost, ts.URL+"/api/jobs",
		`{"input":"in.mp4","overlay_log":"hud.json","fps":24,"bitrate":1000000,"effects":["vignette"],"output_format":"mp4"}`, true)
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202: %s", resp.StatusCode, body)
	}
	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job["id"] != "job-1" || job["state"] != "pending" {
		t.Errorf("job = %v", job)
	}

	if len(svc.submitted) != 1 {
		t.Fatalf("submitted %d requests, want 1", len(svc.submitted))
	}
	req := svc.submitted[0]
	if req.Input != "in.mp4" || req.OverlayLog != "hud.json" || req.FPS != 24 || req.BitrateBps != 1000000 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Effects) != 1 || req.Effects[0] != "vignette" {
		t.Errorf("effects = %v", req.Effects)
	}
}

func TestSubmitJobErrors(t *testing.T) {
	ts := newTestServer(t, newMockJobService(), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"manager rejects", `{"input":"missing.mp4"}`, http.StatusBadRequest},
		{"missing input", `{"fps":30}`, http.StatusUnprocessableEntity},
		{"bad format", `{"input":"in.mp4","output_format":"gif"}`, http.StatusUnprocessableEntity},
		{"bad compositor", `{"input":"in.mp4","compositor":"metal"}`, http.StatusUnprocessableEntity},
		{"fps too high", `{"input":"in.mp4","fps":100000}`, http.StatusUnprocessableEntity},
		{"duration too long", `{"input":"in.mp4","duration_ms":1125899906842624}`, http.StatusUnprocessableEntity},
		{"oversized width", `{"input":"in.mp4","width":1048576}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+"/api/jobs", tt.body, true)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestGetAndCancelJob(t *testing.T) {
	svc := newMockJobService()
	svc.put(jobs.Info{ID: "running", State: jobs.StateRendering, FramesDone: 5, FramesTotal: 10, StartedAt: time.Now()}, "")
	svc.put(jobs.Info{ID: "done", State: jobs.StateComplete}, "")
	ts := newTestServer(t, svc, nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs/running", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job["frames_done"] != float64(5) || job["started_at"] == nil {
		t.Errorf("job = %v", job)
	}
	if _, ok := job["finished_at"]; ok {
		t.Error("finished_at should be omitted for a running job")
	}

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/jobs/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/jobs/running", http.StatusNoContent},
		{http.MethodDelete, "/api/jobs/done", http.StatusConflict},
		{http.MethodDelete, "/api/jobs/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := do(t, tt.method, ts.URL+tt.path, "", true)
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != "running" {
		t.Errorf("cancelled = %v", svc.cancelled)
	}
}

func TestDownloadOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "session-hud.mp4")
	if err := os.WriteFile(out, []byte("fake-mp4-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := newMockJobService()
	svc.put(jobs.Info{ID: "done", State: jobs.StateComplete, Output: out}, out)
	svc.put(jobs.Info{ID: "busy", State: jobs.StateRendering}, "")
	ts := newTestServer(t, svc, nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs/done/output", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "session-hud.mp4") {
		t.Errorf("content disposition = %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "fake-mp4-bytes" {
		t.Errorf("body = %q", body)
	}

	if resp := do(t, http.MethodGet, ts.URL+"/api/jobs/busy/output", "", true); resp.StatusCode != http.StatusConflict {
		t.Errorf("incomplete job status = %d, want 409", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/api/jobs/nope/output", "", true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}
}

func TestOutputContentType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/out/a.mp4", "video/mp4"},
		{"/out/a.zip", "application/zip"},
		{"/out/A.ZIP", "application/zip"},
	}
	for _, tt := range tests {
		if got := outputContentType(tt.path); got != tt.want {
			t.Errorf("outputContentType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestEventsStream(t *testing.T) {
	svc := newMockJobService()
	svc.put(jobs.Info{ID: "existing", State: jobs.StateRendering}, "")
	bus := events.New()
	ts := newTestServer(t, svc, bus)

	resp := do(t, http.MethodGet, ts.URL+"/api/events", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	// Snapshot of known jobs
	if line := next("data:"); !strings.Contains(line, `"existing"`) {
		t.Errorf("snapshot = %s", line)
	}

	// Live events; retry publishing until the subscription is visible
	deadline := time.Now().Add(2 * time.Second)
	got := ""
	for got == "" && time.Now().Before(deadline) {
		bus.Publish(events.JobProgressEvent{JobID: "existing", FramesDone: 7, FramesTotal: 10})
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "event:") {
				got = line
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !strings.Contains(got, "job-progress") {
		t.Errorf("event line = %q, want job-progress", got)
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts := newTestServer(t, newMockJobService(), nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/logs?module=api&limit=5", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Entries []map[string]any `json:"entries"`
		Count   int              `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != len(body.Entries) || body.Count > 5 {
		t.Errorf("count = %d with %d entries", body.Count, len(body.Entries))
	}
}

func TestMapJobError(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{jobs.ErrCodeNotFound, http.StatusNotFound},
		{jobs.ErrCodeInvalidRequest, http.StatusBadRequest},
		{jobs.ErrCodeNotComplete, http.StatusConflict},
		{jobs.ErrCodeFinished, http.StatusConflict},
		{jobs.ErrCodeShuttingDown, http.StatusServiceUnavailable},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := mapJobError(fmt.Errorf("wrapped: %w", jobs.NewError(tt.code, "msg", nil)))
		se, ok := err.(interface{ GetStatus() int })
		if !ok {
			t.Fatalf("%s: error %T has no status", tt.code, err)
		}
		if se.GetStatus() != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.code, se.GetStatus(), tt.want)
		}
	}
}

func TestRequestLogHelpers(t *testing.T) {
	if got := redactQuery("auth=dGVzdDpzZWNyZXQ%3D&limit=5"); strings.Contains(got, "dGVzdDpzZWNyZXQ") || !strings.Contains(got, "limit=5") {
		t.Errorf("redactQuery = %q", got)
	}
	if got := redactQuery(""); got != "" {
		t.Errorf("redactQuery(\"\") = %q", got)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/api/jobs/abc", "abc"},
		{"/api/jobs/abc/output", "abc"},
		{"/api/jobs", ""},
		{"/api/health", ""},
	}
	for _, tt := range tests {
		if got := jobIDFromPath(tt.path); got != tt.want {
			t.Errorf("jobIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
