package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charlie0129/feedr/pkg/config"
	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/history"
	"github.com/charlie0129/feedr/pkg/schedule"
	"github.com/charlie0129/feedr/pkg/utils/ptr"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []schedule.Entry
	done chan struct{}
}

func (r *recordingRunner) Run(_ context.Context, e schedule.Entry) error {
	r.mu.Lock()
	r.runs = append(r.runs, e)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return nil
}

type testServer struct {
	*Server
	handler http.Handler
	runner  *recordingRunner
	dir     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	conf := config.NewFileFromConfig(&config.RawFileConfig{
		VoiceDir: ptr.To(filepath.Join(dir, "voices")),
	}, filepath.Join(dir, "feedr.json"))
	store := history.NewJSONFile(filepath.Join(dir, "feeding_history.json"))
	runner := &recordingRunner{done: make(chan struct{}, 1)}
	hub := events.NewEventHub()
	svc := schedule.NewService(filepath.Join(dir, "saved_schedules.json"), store, runner, hub, time.Minute)
	t.Cleanup(svc.Close)

	s := NewServer(context.Background(), conf, svc, store, hub)
	return &testServer{Server: s, handler: s.setupRoutes(), runner: runner, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	entry := map[string]any{"dog": "bori", "time": "07:30", "voice": "hello.mp3", "amount": 30}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"add", http.MethodPost, "/set-schedule", entry, http.StatusOK},
		{"duplicate", http.MethodPost, "/set-schedule", entry, http.StatusConflict},
		{"bad time", http.MethodPost, "/set-schedule", map[string]any{"dog": "bori", "time": "25:00", "voice": "a.mp3", "amount": 30}, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/set-schedule", map[string]any{"dog": "kong", "time": "08:00", "voice": "a.mp3", "amount": 0}, http.StatusBadRequest},
		{"skip", http.MethodPost, "/skip-schedule", map[string]any{"dog": "bori", "time": "07:30"}, http.StatusOK},
		{"skip missing", http.MethodPost, "/skip-schedule", map[string]any{"dog": "kong", "time": "07:30"}, http.StatusNotFound},
		{"postpone bad duration", http.MethodPost, "/postpone-schedule", map[string]any{"dog": "bori", "time": "07:30", "duration": "soon"}, http.StatusBadRequest},
		{"postpone too long", http.MethodPost, "/postpone-schedule", map[string]any{"dog": "bori", "time": "07:30", "duration": "48h"}, http.StatusBadRequest},
		{"postpone", http.MethodPost, "/postpone-schedule", map[string]any{"dog": "bori", "time": "07:30", "duration": "10m"}, http.StatusOK},
		{"delete missing", http.MethodPost, "/delete-schedule", map[string]any{"dog": "kong", "time": "07:30"}, http.StatusNotFound},
		{"delete no body", http.MethodPost, "/delete-schedule", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.code {
				t.Fatalf("%s %s = %d, want %d: %s", tt.method, tt.path, w.Code, tt.code, w.Body.String())
			}
		})
	}

	w := ts.do(t, http.MethodGet, "/schedules", nil)
	var list []schedule.EntryStatus
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Dog != "bori" || list[0].NextRun.IsZero() {
		t.Fatalf("schedules = %+v", list)
	}

	if w := ts.do(t, http.MethodPost, "/delete-schedule", map[string]any{"dog": "bori", "time": "07:30"}); w.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/schedules", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("schedules after delete = %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/past-schedules", nil)
	var records []history.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != history.StatusScheduled {
		t.Fatalf("history = %+v", records)
	}
}

func TestFeed(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/feed", map[string]any{"dog": "bori", "voice": "hello.mp3", "amount": 30})
	if w.Code != http.StatusAccepted {
		t.Fatalf("feed = %d: %s", w.Code, w.Body.String())
	}

	select {
	case <-ts.runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("feeding never started")
	}

	ts.runner.mu.Lock()
	got := ts.runner.runs[0]
	ts.runner.mu.Unlock()
	if got.Dog != "bori" || got.Amount != 30 || got.Voice != "hello.mp3" {
		t.Fatalf("run = %+v", got)
	}

	if w := ts.do(t, http.MethodPost, "/feed", map[string]any{"dog": "bori", "voice": "hello.mp3"}); w.Code != http.StatusBadRequest {
		t.Fatalf("feed without amount = %d", w.Code)
	}

	// Wait for the result to be recorded before the temp dir goes away.
	deadline := time.Now().Add(5 * time.Second)
	for ts.schedules.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("feeding never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
	records, err := ts.history.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != history.StatusCompleted {
		t.Fatalf("history = %+v", records)
	}
}

func TestUploadVoice(t *testing.T) {
	ts := newTestServer(t)

	upload := func(name string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("ID3"))
		_ = mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/upload-voice", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		ts.handler.ServeHTTP(w, req)
		return w
	}

	w := upload("hello.mp3")
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(ts.dir, "voices", "hello.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID3" {
		t.Fatalf("saved %q", data)
	}

	// The directory part of a client supplied name is dropped.
	if w := upload("../../escape.mp3"); w.Code != http.StatusOK {
		t.Fatalf("upload with path = %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(ts.dir, "voices", "escape.mp3")); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload-voice", nil)
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("upload without file = %d", w.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	var health map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "healthy" || health["detector"] != "static" || health["busy"] != false {
		t.Fatalf("health = %v", health)
	}
	if health["schedules_count"] != float64(0) {
		t.Fatalf("schedules_count = %v", health["schedules_count"])
	}

	w = ts.do(t, http.MethodGet, "/version", nil)
	var v map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v["version"] == "" || v["gitCommit"] == "" {
		t.Fatalf("version = %v", v)
	}
}

func TestStreamEvents(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for ts.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ts.hub.Publish(events.ScheduleChanged, events.ScheduleChangedEvent{Action: "add", Dog: "bori", Time: "07:30"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}

	got := strings.Join(lines, "\n")
	if !strings.Contains(got, "event:"+events.ScheduleChanged) {
		t.Fatalf("stream = %q", got)
	}
	if !strings.Contains(got, `"dog":"bori"`) {
		t.Fatalf("stream = %q", got)
	}
}
