// Package client talks to a running slidesync server over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/version"
)

// Client calls the server's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. to trust a self-signed
// certificate.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublicConfig is the viewer-facing subset of the configuration.
type PublicConfig struct {
	SlideshowInterval int  `json:"slideshowInterval"`
	RandomOrder       bool `json:"randomOrder"`
}

// Stats is the admin statistics snapshot.
type Stats struct {
	Raw         int   `json:"raw"`
	Processed   int   `json:"processed"`
	Subscribers int   `json:"subscribers"`
	Timestamp   int64 `json:"timestamp"`
}

// UpdateResult is the outcome of a config update.
type UpdateResult struct {
	Success      bool `json:"success"`
	Reprocessing bool `json:"reprocessing"`
}

// Event is one message from the event stream.
type Event struct {
	Type string          `json:"event"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// IsRunning returns true if the server is available and responding.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

// Images returns the served image list.
func (c *Client) Images(ctx context.Context) ([]string, error) {
	var images []string
	err := c.do(ctx, http.MethodGet, "/api/images", nil, &images)
	return images, err
}

// PublicConfig returns the viewer settings.
func (c *Client) PublicConfig(ctx context.Context) (PublicConfig, error) {
	var cfg PublicConfig
	err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg)
	return cfg, err
}

// Config returns the full configuration document.
func (c *Client) Config(ctx context.Context) (map[string]interface{}, error) {
	var doc map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/api/admin/config", nil, &doc)
	return doc, err
}

// UpdateConfig merges partial into the server's configuration. A rejected
// value comes back as a CONFIG_VALIDATION error naming the field.
func (c *Client) UpdateConfig(ctx context.Context, partial map[string]interface{}) (UpdateResult, error) {
	var res UpdateResult
	err := c.do(ctx, http.MethodPost, "/api/admin/config", partial, &res)
	return res, err
}

// Stats returns the admin statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.do(ctx, http.MethodGet, "/api/admin/stats", nil, &st)
	return st, err
}

// RequestReprocess asks for a reprocessing job. It fails with JOB_CONFLICT
// when one is already requested or running.
func (c *Client) RequestReprocess(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/admin/reprocess", nil, nil)
}

// ClearReprocess removes the job markers.
func (c *Client) ClearReprocess(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/reprocess", nil, nil)
}

// ReprocessStatus returns the current job state.
func (c *Client) ReprocessStatus(ctx context.Context) (sentinel.Status, error) {
	var st sentinel.Status
	err := c.do(ctx, http.MethodGet, "/api/admin/reprocess-status", nil, &st)
	return st, err
}

// Stream subscribes to events via Server-Sent Events. The channel is closed
// when ctx is canceled or the connection is lost; the first event is always
// "connected".
func (c *Client) Stream(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streaming needs a client without an overall timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	ch := make(chan Event, 16)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		scanner := bufio.NewScanner(resp.Body)
		// Reshuffle events carry the whole image list.
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		var ev Event
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if ev.Type == "" {
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
				ev = Event{}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event: "):
				ev.Type = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				_, _ = fmt.Sscan(strings.TrimPrefix(line, "id: "), &ev.Seq)
			case strings.HasPrefix(line, "data: "):
				ev.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
			}
		}
	}()
	return ch, nil
}

// StreamWebSocket subscribes to events over the WebSocket endpoint.
func (c *Client) StreamWebSocket(ctx context.Context) (<-chan Event, error) {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake returned status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	ch := make(chan Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// do sends a JSON request and decodes a JSON response into out. Error bodies
// are mapped back onto error codes.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error      string `json:"error"`
		Field      string `json:"field"`
		Constraint string `json:"constraint"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusBadRequest && body.Field != "":
		return apperrors.ValidationFailed(body.Field, body.Constraint)
	case resp.StatusCode == http.StatusConflict:
		return apperrors.JobConflict("")
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrCodePermissionDenied, body.Error)
	case resp.StatusCode == http.StatusBadRequest:
		return apperrors.New(apperrors.ErrCodeInvalidInput, body.Error)
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return apperrors.New(apperrors.ErrCodeInternal, fmt.Sprintf("server returned status %d: %s", resp.StatusCode, msg)).
		WithDetail("status", resp.StatusCode)
}
