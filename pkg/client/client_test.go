package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/schedule"
)

func newFakeDaemon(t *testing.T) (*Client, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), mux
}

func TestNewClientAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:5000", "http://127.0.0.1:5000"},
		{"http://127.0.0.1:5000/", "http://127.0.0.1:5000"},
		{"https://feeder.local", "https://feeder.local"},
	}
	for _, tt := range tests {
		if got := NewClient(tt.addr).BaseURL(); got != tt.want {
			t.Errorf("NewClient(%q).BaseURL() = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestSetSchedule(t *testing.T) {
	c, mux := newFakeDaemon(t)

	var got schedule.Entry
	mux.HandleFunc("POST /set-schedule", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		if got.Dog == "dup" {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error":"schedule already exists"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"schedule registered"}`)
	})

	status, err := c.SetSchedule(schedule.Entry{Dog: "bori", Time: "07:30", Voice: "hello.mp3", Amount: 30})
	if err != nil {
		t.Fatal(err)
	}
	if status != "schedule registered" {
		t.Errorf("status = %q", status)
	}
	if got.Dog != "bori" || got.Time != "07:30" || got.Amount != 30 {
		t.Errorf("daemon got %+v", got)
	}

	_, err = c.SetSchedule(schedule.Entry{Dog: "dup"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "schedule already exists" {
		t.Fatalf("err = %#v", err)
	}
}

func TestDeleteScheduleNotFound(t *testing.T) {
	c, mux := newFakeDaemon(t)
	mux.HandleFunc("POST /delete-schedule", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"schedule not found"}`)
	})

	_, err := c.DeleteSchedule("bori", "07:30")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostponeSchedule(t *testing.T) {
	c, mux := newFakeDaemon(t)
	var body map[string]string
	mux.HandleFunc("POST /postpone-schedule", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{"status":"next run postponed"}`)
	})

	if _, err := c.PostponeSchedule("bori", "07:30", 15*time.Minute); err != nil {
		t.Fatal(err)
	}
	if body["duration"] != "15m0s" || body["dog"] != "bori" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetHealth(t *testing.T) {
	c, mux := newFakeDaemon(t)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy","schedules_count":2,"busy":true,"detector":"static"}`)
	})

	h, err := c.GetHealth()
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" || h.SchedulesCount != 2 || !h.Busy {
		t.Fatalf("health = %+v", h)
	}
}

func TestUploadVoice(t *testing.T) {
	c, mux := newFakeDaemon(t)
	var content string
	mux.HandleFunc("POST /upload-voice", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(f)
		content = string(b)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "saved", "filename": hdr.Filename})
	})

	p := filepath.Join(t.TempDir(), "dinner.mp3")
	if err := os.WriteFile(p, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, err := c.UploadVoice(p)
	if err != nil {
		t.Fatal(err)
	}
	if name != "dinner.mp3" || content != "ID3" {
		t.Fatalf("name = %q, content = %q", name, content)
	}
}

func TestDaemonNotRunning(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	_, err = NewClient(addr).GetVersion()
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestReadEvents(t *testing.T) {
	stream := strings.Join([]string{
		": keepalive",
		"event:feeding.result",
		`data:{"dog":"bori","status":"completed"}`,
		"",
		"event:schedule.changed",
		`data: {"action":"add"}`,
		"",
		"",
	}, "\n")

	var got []events.Event
	if err := readEvents(strings.NewReader(stream), func(e events.Event) { got = append(got, e) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events", len(got))
	}
	res, err := events.DecodeAs[events.FeedingResultEvent](got[0])
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Name != events.FeedingResult || res.Dog != "bori" || res.Status != "completed" {
		t.Fatalf("event = %+v, payload = %+v", got[0], res)
	}
	if got[1].Name != events.ScheduleChanged || string(got[1].Data) != `{"action":"add"}` {
		t.Fatalf("event = %+v", got[1])
	}
}

func TestWatch(t *testing.T) {
	c, mux := newFakeDaemon(t)
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:schedule.changed\ndata:{\"action\":\"delete\"}\n\n")
	})

	var got []events.Event
	err := c.Watch(context.Background(), func(e events.Event) { got = append(got, e) })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != events.ScheduleChanged {
		t.Fatalf("got %+v", got)
	}
}
