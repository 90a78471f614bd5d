package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrDaemonNotRunning is returned when nothing listens on the daemon address
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")

	// ErrConflict is returned for duplicates and when a feeding is already running
	ErrConflict = errors.New("409 conflict")
)

// APIError is a non 2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("got %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

func responseError(code int, body []byte) error {
	var reply struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &reply); err == nil && reply.Error != "" {
		msg = reply.Error
	}
	return &APIError{StatusCode: code, Message: msg}
}
