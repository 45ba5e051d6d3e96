package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to a running ingestd server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts an ingest request.
func (c *Client) Submit(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out models.IngestResponse
	if err := c.do(ctx, http.MethodPost, "/api/ingest", body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job fetches a job record.
func (c *Client) Job(ctx context.Context, jobID string) (*models.Job, error) {
	var out models.Job
	if err := c.do(ctx, http.MethodGet, "/api/ingest/"+url.PathEscape(jobID), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Parity fetches the parity report for docID.
func (c *Client) Parity(ctx context.Context, docID string) (*models.ParityReport, error) {
	var out models.ParityReport
	if err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(docID)+"/parity", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches /api/stats.
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitForJob polls until the job is done or failed, or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*models.Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
