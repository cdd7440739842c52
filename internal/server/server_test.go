package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"photoz/internal/config"
	"photoz/internal/pipeline"
	"photoz/internal/storage"

	"github.com/gorilla/mux"
)

func testServer(t *testing.T) (*Server, *storage.Store, func()) {
	t.Helper()
	store, err := storage.New(t.TempDir() + "/server.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	log := slog.New(slog.DiscardHandler)
	ctx, cancel := context.WithCancel(context.Background())
	pipe := pipeline.New(ctx, 1, log, store, config.Default())

	s, err := NewServer("127.0.0.1:0", store, pipe, nil, 0, log)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	cleanup := func() {
		cancel()
		pipe.Stop()
		store.Close()
	}
	return s, store, cleanup
}

func testRouterFor(s *Server) *mux.Router {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

func TestHealthEndpoint(t *testing.T) {
	s, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	testRouterFor(s).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestJobsEndpointListsRecent(t *testing.T) {
	s, store, cleanup := testServer(t)
	defer cleanup()

	if err := store.RecordJobQueued(storage.JobRecord{ID: "prep-1", JobType: "prep", Status: "queued", InputPath: "/inbox"}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	req := httptest.NewRequest("GET", "/jobs", nil)
	rec := httptest.NewRecorder()
	testRouterFor(s).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var jobs []storage.JobRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "prep-1" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	s, _, cleanup := testServer(t)
	defer cleanup()

	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing type", `{"input": "/inbox"}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
		{"valid scan", `{"type": "scan", "input": "/inbox"}`, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/jobs", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()
			testRouterFor(s).ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubmitJobReturnsID(t *testing.T) {
	s, _, cleanup := testServer(t)
	defer cleanup()

	body := `{"type": "scan", "input": "/inbox"}`
	req := httptest.NewRequest("POST", "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	testRouterFor(s).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp["id"], "scan-") {
		t.Fatalf("unexpected job id: %q", resp["id"])
	}
	if resp["status"] != "queued" {
		t.Fatalf("unexpected status: %q", resp["status"])
	}
}

func TestFieldsAndFramesEndpoints(t *testing.T) {
	s, store, cleanup := testServer(t)
	defer cleanup()

	if err := store.UpsertFrame(storage.FrameRecord{
		Field: "ceers", Filter: "f200w", Wave: 200,
		Zeropoint: 28.08, Status: storage.FrameSplit,
	}); err != nil {
		t.Fatalf("seed frame: %v", err)
	}

	r := testRouterFor(s)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/fields", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fields: expected 200, got %d", rec.Code)
	}
	var fields []string
	if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(fields) != 1 || fields[0] != "ceers" {
		t.Fatalf("unexpected fields: %v", fields)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/fields/ceers/frames", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("frames: expected 200, got %d", rec.Code)
	}
	var frames []storage.FrameRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &frames); err != nil {
		t.Fatalf("decode frames: %v", err)
	}
	if len(frames) != 1 || frames[0].Filter != "f200w" {
		t.Fatalf("unexpected frames: %+v", frames)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/fields/nosuch/frames", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown field, got %d", rec.Code)
	}
}

func TestJobEventSerialization(t *testing.T) {
	res := pipeline.Result{
		Job:  pipeline.Job{ID: "tweak-1", Type: pipeline.JobTweak, InputPath: "/work"},
		Meta: map[string]any{"registered": 3},
	}
	ev := toEvent(res)
	if ev.Status != "completed" || ev.Error != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.JobID != "tweak-1" || ev.Type != "tweak" {
		t.Fatalf("job identity lost: %+v", ev)
	}
	if time.Since(ev.Occurred) > time.Minute {
		t.Fatalf("stale timestamp: %v", ev.Occurred)
	}
}
