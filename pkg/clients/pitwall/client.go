// Package pitwall is the edge-side client for the cloud API. The
// uploader owns retry/backoff policy for ingest (records stay queued on
// failure), so Ingest performs exactly one attempt; ancillary calls ride
// the shared retry helper.
package pitwall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/clients"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Config wires a Client.
type Config struct {
	BaseURL    string
	TruckToken string
	Timeout    time.Duration
	Logger     logging.Logger
}

// Client talks to pitwall's vehicle-facing API surface.
type Client struct {
	baseURL    string
	truckToken string
	httpClient *http.Client
	retry      clients.RetryConfig
	logger     logging.Logger
}

// NewClient builds a pitwall client. Ancillary calls share one circuit
// breaker so a dead cloud link stops burning the trackside uplink on
// heartbeats; ingest stays outside it, the uploader's backoff already
// governs that path.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	retry := clients.DefaultRetryConfig()
	retry.CircuitBreaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		Name:   "pitwall-client",
		Logger: cfg.Logger,
	})
	return &Client{
		baseURL:    cfg.BaseURL,
		truckToken: cfg.TruckToken,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: clients.DefaultTransport(),
		},
		retry:  retry,
		logger: cfg.Logger,
	}
}

// Ingest posts one batch. The HTTP status is returned alongside the
// decoded body so the uploader can apply its 401/429/5xx policy.
func (c *Client) Ingest(ctx context.Context, batch *models.IngestRequest) (*models.IngestResponse, int, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal ingest batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/telemetry/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.TruckTokenHeader, c.truckToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("post ingest batch: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("ingest returned %d", resp.StatusCode)
	}

	var out models.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// The server accepted the batch; a decode failure must not
		// trigger a re-upload of already-persisted records.
		return &models.IngestResponse{}, resp.StatusCode, nil
	}
	return &out, resp.StatusCode, nil
}

// Heartbeat reports edge presence and picks up pending stream commands.
func (c *Client) Heartbeat(ctx context.Context) (*models.HeartbeatResponse, error) {
	var out models.HeartbeatResponse
	if err := c.doRetryJSON(ctx, http.MethodPost, "/api/v1/telemetry/heartbeat", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the identity the truck token resolves to.
func (c *Client) Me(ctx context.Context) (*models.TruckIdentity, error) {
	var out models.TruckIdentity
	if err := c.doRetryJSON(ctx, http.MethodGet, "/api/v1/truck/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamAck acknowledges a stream command.
func (c *Client) StreamAck(ctx context.Context, ack *models.StreamAck) error {
	return c.doRetryJSON(ctx, http.MethodPost, "/api/v1/stream/ack", ack, nil)
}

func (c *Client) doRetryJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.TruckTokenHeader, c.truckToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
