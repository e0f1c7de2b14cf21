package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dlqueue/internal/api"
	"dlqueue/internal/queue"
	"dlqueue/pkg/config"
	errs "dlqueue/pkg/errors"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
	"dlqueue/pkg/retry"
)

// APIError is a non-2xx answer from the daemon. It unwraps to the typed
// error matching its status code.
type APIError struct {
	StatusCode int
	Message    string
	// JobID names the existing job of a rejected duplicate
	JobID string
}

func (e *APIError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s (existing job %s)", e.Message, e.JobID)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return errs.FromStatusCode(e.StatusCode, e.Message)
}

// Client talks to a dlqueue daemon
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *retry.Config
	logger     logger.Logger
}

// New creates a client for cfg.ServerURL. token may be empty.
func New(cfg config.ClientConfig, token string, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	log = logger.OrDefault(log)
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		retry: &retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ExponentialBackoff{BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, JitterFactor: 0.1},
			Logger:      log,
		},
		logger: log,
	}
}

// WithRetry replaces the retry policy used for idempotent requests
func (c *Client) WithRetry(cfg *retry.Config) *Client {
	cp := *c
	cp.retry = cfg
	return &cp
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dlqueue-cli/"+logger.Version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends one request and decodes a JSON answer into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return retry.Permanent(err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(errs.New(errs.ErrorTypeNetwork, 0, "cannot reach dlqueue at %s", c.baseURL), err)
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("API request completed", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if derr := json.NewDecoder(resp.Body).Decode(&e); derr != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, JobID: e.JobID}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.New(errs.ErrorTypeParsing, resp.StatusCode, "invalid response from %s", path), err)
	}
	return nil
}

// getJSON retries transient failures, decoding each attempt into a fresh
// value; writes are sent once
func getJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	return retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, http.MethodGet, path, nil, &out)
		return out, err
	})
}

// Health checks that the daemon is up
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	return getJSON[api.HealthResponse](ctx, c, "/api/health")
}

// Status returns every set of the queue
func (c *Client) Status(ctx context.Context) (queue.Status, error) {
	return getJSON[queue.Status](ctx, c, "/api/downloads")
}

// Job returns one job
func (c *Client) Job(ctx context.Context, id string) (models.Job, error) {
	return getJSON[models.Job](ctx, c, "/api/downloads/"+url.PathEscape(id))
}

// Progress returns the progress of one job
func (c *Client) Progress(ctx context.Context, id string) (models.Progress, error) {
	return getJSON[models.Progress](ctx, c, "/api/downloads/"+url.PathEscape(id)+"/progress")
}

// Submit queues a download
func (c *Client) Submit(ctx context.Context, target models.Target) (api.JobResponse, error) {
	var resp api.JobResponse
	err := c.do(ctx, http.MethodPost, "/api/downloads", api.SubmitRequest{
		URL:    target.URL,
		Format: target.Format,
		Site:   target.Site,
	}, &resp)
	return resp, err
}

// Cancel removes a queued job
func (c *Client) Cancel(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodDelete, "/api/downloads/"+url.PathEscape(id), nil, &job)
	return job, err
}

// Resume re-queues an interrupted job under a new id
func (c *Client) Resume(ctx context.Context, id string) (api.JobResponse, error) {
	var resp api.JobResponse
	err := c.do(ctx, http.MethodPost, "/api/incomplete/"+url.PathEscape(id)+"/resume", nil, &resp)
	return resp, err
}

// ClearCompleted drops finished jobs
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var resp api.CountResponse
	err := c.do(ctx, http.MethodDelete, "/api/completed", nil, &resp)
	return resp.Removed, err
}

// DeleteInterrupted drops one interrupted job
func (c *Client) DeleteInterrupted(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/incomplete/"+url.PathEscape(id), nil, nil)
}

// DeleteAllInterrupted drops every interrupted job
func (c *Client) DeleteAllInterrupted(ctx context.Context) (int, error) {
	var resp api.CountResponse
	err := c.do(ctx, http.MethodDelete, "/api/incomplete", nil, &resp)
	return resp.Removed, err
}

// Events follows the notification stream until ctx is done or the daemon
// closes it, calling fn for each notification.
func (c *Client) Events(ctx context.Context, fn func(queue.Notification)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the request timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errs.Wrap(errs.New(errs.ErrorTypeNetwork, 0, "cannot reach dlqueue at %s", c.baseURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var n queue.Notification
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
			c.logger.WithError(err).Debug("Skipping malformed event")
			continue
		}
		fn(n)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
