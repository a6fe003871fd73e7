// Package genclient is the client side of the generation service: it opens
// streaming generation runs, normalizes the server-sent-event stream into
// domain events, and wraps the service's auxiliary endpoints.
package genclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

// Config controls how the generation service is reached.
type Config struct {
	BaseURL        string
	Timeout        time.Duration // whole generation run, streaming or sync
	ConnectTimeout time.Duration
	HealthTimeout  time.Duration
	UploadTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8080",
		Timeout:        600 * time.Second,
		ConnectTimeout: 30 * time.Second,
		HealthTimeout:  10 * time.Second,
		UploadTimeout:  120 * time.Second,
	}
}

// Client talks to the generation service over HTTP.
type Client struct {
	http    *resty.Client
	baseURL string
	cfg     Config
	log     logger.Logger
}

var _ domain.Generator = (*Client)(nil)

// New creates a client. Zero durations in cfg fall back to DefaultConfig.
func New(cfg Config, log logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = def.UploadTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	base := NormalizeBaseURL(cfg.BaseURL)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: time.Second,
	}

	client := resty.New().
		SetBaseURL(base).
		SetTransport(transport).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    client,
		baseURL: base,
		cfg:     cfg,
		log:     log.With("component", "genclient"),
	}
}

// NormalizeBaseURL trims trailing slashes and maps the legacy frontend port
// 7861 onto the generation service port 8080.
func NormalizeBaseURL(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if strings.HasSuffix(s, ":7861") {
		s = strings.TrimSuffix(s, ":7861") + ":8080"
	}
	return s
}

// BaseURL returns the normalized service address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health probes the service liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		c.record("health", err)
		return fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		err := fmt.Errorf("%w: health returned %d", domain.ErrGenerationUnavailable, resp.StatusCode())
		c.record("health", err)
		return err
	}
	c.record("health", nil)
	return nil
}

// Generate opens a streaming generation run. The returned channel is
// closed when the stream ends. Any transport failure is delivered as one
// final ErrorEvent.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) <-chan domain.Event {
	ch := make(chan domain.Event, 16)
	go func() {
		defer close(ch)
		err := c.stream(ctx, req, ch)
		c.record("generate", err)
		if err == nil {
			return
		}
		c.log.Warn("generation stream failed", "correlation_id", req.TaskID, "error", err)
		select {
		case ch <- domain.ErrorEvent{Message: err.Error()}:
		case <-ctx.Done():
		}
	}()
	return ch
}

func (c *Client) stream(ctx context.Context, req domain.GenerateRequest, out chan<- domain.Event) error {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(runCtx).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post("/api/generate")
	if err != nil {
		return c.streamErr(ctx, runCtx, fmt.Errorf("connect to generation service: %w", err))
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return fmt.Errorf("generation service returned %d: %s", resp.StatusCode(), strings.TrimSpace(string(snippet)))
	}

	if err := Normalize(runCtx, body, out, c.log); err != nil {
		return c.streamErr(ctx, runCtx, fmt.Errorf("read generation stream: %w", err))
	}
	return nil
}

// streamErr rewrites errors caused by the run deadline into a timeout message.
func (c *Client) streamErr(parent, run context.Context, err error) error {
	if parent.Err() == nil && errors.Is(run.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("generation timed out after %s", c.cfg.Timeout)
	}
	return err
}

// GenerateSync runs a blocking generation and returns its result. A
// generation failure reported by the service is returned as a result with
// status "failed", not as an error.
func (c *Client) GenerateSync(ctx context.Context, req domain.GenerateRequest) (*domain.SyncResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var result domain.SyncResult
	resp, err := c.http.R().
		SetContext(runCtx).
		SetBody(req).
		SetResult(&result).
		Post("/api/generate/sync")
	if err != nil {
		err = c.streamErr(ctx, runCtx, fmt.Errorf("generate sync: %w", err))
		c.record("generate_sync", err)
		return nil, err
	}
	if resp.IsError() {
		err := fmt.Errorf("generate sync: service returned %d", resp.StatusCode())
		c.record("generate_sync", err)
		return nil, err
	}
	c.record("generate_sync", nil)
	return &result, nil
}

// Upload sends a local file to the service workspace and returns the path
// the service stored it under.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var result struct {
		FileID string `json:"file_id"`
		Path   string `json:"path"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filepath.Base(path), f).
		SetResult(&result).
		Post("/api/upload")
	if err != nil {
		c.record("upload", err)
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if resp.IsError() || result.Path == "" {
		err := fmt.Errorf("upload %s: service returned %d", filepath.Base(path), resp.StatusCode())
		c.record("upload", err)
		return "", err
	}
	c.record("upload", nil)
	return result.Path, nil
}

// Templates lists the presentation templates the service offers.
func (c *Client) Templates(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result struct {
		Templates []string `json:"templates"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/api/templates")
	if err != nil {
		c.record("templates", err)
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if resp.IsError() {
		err := fmt.Errorf("list templates: service returned %d", resp.StatusCode())
		c.record("templates", err)
		return nil, err
	}
	c.record("templates", nil)
	if result.Templates == nil {
		return []string{}, nil
	}
	return result.Templates, nil
}

// RunStatus fetches the service-side status of one generation run.
func (c *Client) RunStatus(ctx context.Context, correlationID string) (*domain.SyncResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	var result domain.SyncResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", correlationID).
		SetResult(&result).
		Get("/api/task/{id}")
	if err != nil {
		return nil, fmt.Errorf("run status: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("run status %s: %w", correlationID, domain.ErrTaskNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("run status: service returned %d", resp.StatusCode())
	}
	return &result, nil
}

func (c *Client) record(endpoint string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GenerationRequests.WithLabelValues(endpoint, result).Inc()
}
