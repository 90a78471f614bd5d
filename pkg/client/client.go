// Package client talks to the feedr daemon over HTTP.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Client is a struct for communicating with the feedr daemon
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the daemon listening at addr, e.g.
// "http://127.0.0.1:5000" or just "127.0.0.1:5000".
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn, err := dialer.DialContext(ctx, network, address)
					if err != nil {
						if errors.Is(err, syscall.ECONNREFUSED) {
							return nil, ErrDaemonNotRunning
						}
						logrus.Errorf("failed to connect to %s: %v", address, err)
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// BaseURL returns the daemon URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send sends a request to the daemon and returns the response body.
func (c *Client) Send(method, path, contentType string, body io.Reader) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"url":    c.baseURL,
	}).Debug("sending request")

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			return "", ErrDaemonNotRunning
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", responseError(resp.StatusCode, b)
	}

	return string(b), nil
}

// Get is a method for sending a GET request to the daemon
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "", nil)
}

// Post sends data as a JSON body.
func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, "application/json", strings.NewReader(data))
}
