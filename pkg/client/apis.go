package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/history"
	"github.com/charlie0129/feedr/pkg/schedule"
)

// Health is the reply of GET /health.
type Health struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Uptime         string `json:"uptime"`
	SchedulesCount int    `json:"schedules_count"`
	Busy           bool   `json:"busy"`
	Detector       string `json:"detector"`
}

// VersionInfo is the reply of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

type statusReply struct {
	Status string `json:"status"`
}

func (c *Client) postJSON(path string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	ret, err := c.Post(path, string(payload))
	if err != nil {
		return "", err
	}
	var reply statusReply
	if err := json.Unmarshal([]byte(ret), &reply); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal reply of %s", path)
	}
	return reply.Status, nil
}

func getJSON[T any](c *Client, path string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal reply of %s", path)
	}
	return v, nil
}

func (c *Client) SetSchedule(e schedule.Entry) (string, error) {
	return c.postJSON("/set-schedule", e)
}

func (c *Client) GetSchedules() ([]schedule.EntryStatus, error) {
	ret, err := getJSON[[]schedule.EntryStatus](c, "/schedules")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedules")
	}
	return ret, nil
}

func (c *Client) DeleteSchedule(dog, timeOfDay string) (string, error) {
	return c.postJSON("/delete-schedule", map[string]string{"dog": dog, "time": timeOfDay})
}

func (c *Client) SkipSchedule(dog, timeOfDay string) (string, error) {
	return c.postJSON("/skip-schedule", map[string]string{"dog": dog, "time": timeOfDay})
}

func (c *Client) PostponeSchedule(dog, timeOfDay string, d time.Duration) (string, error) {
	return c.postJSON("/postpone-schedule", map[string]string{
		"dog":      dog,
		"time":     timeOfDay,
		"duration": d.String(),
	})
}

func (c *Client) GetHistory() ([]history.Record, error) {
	ret, err := getJSON[[]history.Record](c, "/past-schedules")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get feeding history")
	}
	return ret, nil
}

// Feed starts a feeding right away. The daemon replies before it ends.
func (c *Client) Feed(dog, voice string, amount int) (string, error) {
	return c.postJSON("/feed", map[string]any{"dog": dog, "voice": voice, "amount": amount})
}

func (c *Client) GetHealth() (*Health, error) {
	ret, err := getJSON[Health](c, "/health")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get daemon health")
	}
	return &ret, nil
}

func (c *Client) GetVersion() (*VersionInfo, error) {
	ret, err := getJSON[VersionInfo](c, "/version")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get version")
	}
	return &ret, nil
}

// UploadVoice uploads the clip at path. The daemon stores it under the
// file's base name.
func (c *Client) UploadVoice(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to read %s", path)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	ret, err := c.Send(http.MethodPost, "/upload-voice", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var reply struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal([]byte(ret), &reply); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal upload reply")
	}
	return reply.Filename, nil
}

// Watch streams daemon events to fn until ctx is done or the daemon
// closes the stream.
func (c *Client) Watch(ctx context.Context, fn func(events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pkgerrors.Is(err, ErrDaemonNotRunning) {
			return ErrDaemonNotRunning
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return pkgerrors.Wrapf(err, "failed to subscribe to events")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return responseError(resp.StatusCode, b)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents parses a text/event-stream body.
func readEvents(r io.Reader, fn func(events.Event)) error {
	sc := bufio.NewScanner(r)
	var ev events.Event
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name != "" || len(data) > 0 {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				fn(ev)
			}
			ev, data = events.Event{}, nil
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
