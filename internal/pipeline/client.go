package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tandem/pkg/types"
)

// Config holds pipeline client configuration.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultConfig returns pipeline client defaults. PDF rendering plus SMTP
// handoff on the remote side can take a while, hence the generous timeout.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:9090",
		RequestTimeout: 30 * time.Second,
	}
}

// Client is the HTTP client for the external PDF generation and email
// delivery service. It implements interfaces.ReportPipeline. Retries are
// owned by the remote service; this client makes exactly one attempt.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a pipeline client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// Deliver posts the combined report for PDF generation and delivery to the
// recipient addresses. Any non-2xx response is a failed attempt.
func (c *Client) Deliver(ctx context.Context, report *types.CombinedReport) error {
	if report == nil {
		return ErrNilReport
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal combined report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reports", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build pipeline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrDeliveryRejected, resp.StatusCode, readBodySnippet(resp.Body))
	}

	return nil
}

// HealthCheck probes the pipeline's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}

	return nil
}

// readBodySnippet returns a bounded slice of the response body for error
// messages. Pipeline errors can embed full stack traces; 512 bytes is
// plenty for a broadcastable reason.
func readBodySnippet(body io.Reader) string {
	snippet, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil || len(snippet) == 0 {
		return "no response body"
	}
	return strings.TrimSpace(string(snippet))
}
