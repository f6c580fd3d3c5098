package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/ravenroost/internal/store"
)

func newTestServer(t *testing.T, st store.Store) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("localhost:0", st)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Shutdown(context.Background())
	})
	return s, srv
}

func postJob(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	return resp
}

func waitForState(t *testing.T, url, jobID string, want JobState) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/api/v1/jobs/" + jobID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}
		var status map[string]any
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		state := JobState(fmt.Sprint(status["state"]))
		if state == want {
			return status
		}
		if state.Done() {
			t.Fatalf("job ended in %s, want %s (error %v)", state, want, status["error"])
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job did not reach %s in time", want)
	return nil
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":0", nil)
	defer s.Shutdown(t.Context())

	body, _ := json.Marshal(JobRequest{Workers: 2, Config: testJobConfig()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Expected pending state, got %s", job.State)
	}
}

func TestServer_CreateJob_Defaults(t *testing.T) {
	s := NewServer(":0", nil)
	defer s.Shutdown(t.Context())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"config":{"iterations":2,"population":16}}`))
	w := httptest.NewRecorder()
	s.handleCreateJob(w, req)

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.Workers != 1 || job.Config.Features != 10 || job.Config.Population != 16 {
		t.Errorf("defaults not applied: workers=%d features=%d population=%d",
			job.Workers, job.Config.Features, job.Config.Population)
	}
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"workers":`},
		{"unknown field", `{"workers":1,"circles":3}`},
		{"zero workers", `{"workers":0}`},
		{"too many workers", `{"workers":5,"config":{"population":4}}`},
		{"invalid config", `{"config":{"population":-1}}`},
		{"bad objective", `{"config":{"objective":"nope"}}`},
	}

	s := NewServer(":0", nil)
	defer s.Shutdown(t.Context())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.handleCreateJob(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("%d jobs created from invalid requests", n)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":0", nil)
	s.jobManager.CreateJob(1, testJobConfig(), nil)
	s.jobManager.CreateJob(2, testJobConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":0", nil)
	job := s.jobManager.CreateJob(1, testJobConfig(), nil)

	for _, path := range []string{"/api/v1/jobs/" + job.ID, "/api/v1/jobs/" + job.ID + "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, w.Code)
		}
		var response map[string]any
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response["id"] != job.ID {
			t.Error("Response should contain job ID")
		}
		if response["state"] != string(StatePending) {
			t.Errorf("Expected pending state, got %v", response["state"])
		}
	}
}

func TestServer_Routing(t *testing.T) {
	s := NewServer(":0", nil)
	job := s.jobManager.CreateJob(1, testJobConfig(), nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/jobs/nonexistent/status", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/best.png", http.StatusNotFound},
		{http.MethodPut, "/api/v1/jobs", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/jobs/" + job.ID, http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/cancel", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/v1/jobs/nonexistent", http.StatusNotFound},
		{http.MethodOptions, "/api/v1/jobs", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/v1/runs", http.StatusOK},
		{http.MethodGet, "/api/v1/runs/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("got status %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":0", nil)

	cancelled := false
	job := s.jobManager.CreateJob(1, testJobConfig(), func() { cancelled = true })

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil))
	if w.Code != http.StatusAccepted || !cancelled {
		t.Fatalf("cancel: status %d, cancelled=%v", w.Code, cancelled)
	}

	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.State = StateCancelled })
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil))
	if w.Code != http.StatusConflict {
		t.Errorf("cancel of finished job: got %d, want 409", w.Code)
	}
}

func TestServer_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, srv := newTestServer(t, st)

	body, _ := json.Marshal(JobRequest{Workers: 3, Config: testJobConfig()})
	resp := postJob(t, srv.URL, string(body))
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	status := waitForState(t, srv.URL, job.ID, StateCompleted)
	if status["iterations"] != float64(5) {
		t.Errorf("Expected 5 iterations, got %v", status["iterations"])
	}

	// The finished job is also available as a stored run
	resp, err = http.Get(srv.URL + "/api/v1/runs/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var result store.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.BestFitness != status["bestFitness"] {
		t.Errorf("stored fitness %v, status %v", result.BestFitness, status["bestFitness"])
	}

	resp, err = http.Get(srv.URL + "/api/v1/runs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var runs []store.RunInfo
	json.NewDecoder(resp.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].RunID != job.ID {
		t.Errorf("unexpected run list: %+v", runs)
	}
}

func TestServer_CancelRunningJob(t *testing.T) {
	_, srv := newTestServer(t, nil)

	cfg := testJobConfig()
	cfg.Iterations = 1 << 30
	body, _ := json.Marshal(JobRequest{Workers: 2, Config: cfg})
	resp := postJob(t, srv.URL, string(body))
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	waitForState(t, srv.URL, job.ID, StateRunning)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/jobs/"+job.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	waitForState(t, srv.URL, job.ID, StateCancelled)
}

func TestServer_Stream(t *testing.T) {
	_, srv := newTestServer(t, nil)

	body, _ := json.Marshal(JobRequest{Workers: 2, Config: testJobConfig()})
	resp := postJob(t, srv.URL, string(body))
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	stream, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()

	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	// The handler returns after the final event, ending the body
	var last ProgressEvent
	events := 0
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events++
	}
	if events == 0 {
		t.Fatal("no events received")
	}
	if last.State != StateCompleted {
		t.Errorf("last event state %s, want completed", last.State)
	}
	if last.JobID != job.ID {
		t.Errorf("event for job %s, want %s", last.JobID, job.ID)
	}
}
