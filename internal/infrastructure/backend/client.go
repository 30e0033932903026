// Package backend reads visits from the visit API over HTTP.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/domain/visit"
	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/session"
	"github.com/drfirst/visitdesk/internal/visitview"
	"github.com/drfirst/visitdesk/pkg/circuitbreaker"
)

const maxErrorBody = 2048

// StatusError is a non-2xx reply from the backend
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("visit backend returned status %d", e.Code)
	}
	return e.Message
}

// Config holds client settings
type Config struct {
	BaseURL string
	// Timeout bounds the underlying HTTP client; zero means no client-level limit
	Timeout time.Duration
	Breaker *circuitbreaker.CircuitBreaker
	Metrics *metrics.Metrics
}

// Client calls GET /api/v1/visits endpoints
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient constructs a Client. BaseURL is the API root, e.g. "http://localhost:8080".
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cfg.Breaker,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// Get fetches one visit. Returns (nil, nil) on 404 or a null body.
func (c *Client) Get(ctx context.Context, token, visitID string) (*visit.Record, error) {
	u := *c.baseURL
	u.Path = path.Join("/", c.baseURL.Path, "api", "v1", "visits", visitID)
	u.RawPath = path.Join("/", c.baseURL.EscapedPath(), "api", "v1", "visits", url.PathEscape(visitID))

	body, err := c.do(ctx, token, u)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	rec, err := visit.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode visit: %w", err)
	}
	return rec, nil
}

type listResponse struct {
	Visits []json.RawMessage `json:"visits"`
}

// List fetches the most recently updated visits. Entries that fail to
// decode are skipped and logged.
func (c *Client) List(ctx context.Context, token string, limit int) ([]visit.Record, error) {
	u := *c.baseURL
	u.Path = path.Join("/", c.baseURL.Path, "api", "v1", "visits")
	if limit > 0 {
		u.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	body, err := c.do(ctx, token, u)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return []visit.Record{}, nil
	}

	var lr listResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("decode visit list: %w", err)
	}

	records := make([]visit.Record, 0, len(lr.Visits))
	for _, raw := range lr.Visits {
		rec, err := visit.Decode(raw)
		if err != nil || rec == nil {
			c.logger.Warn("skipping undecodable visit", zap.Error(err))
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// ForSession binds the client to a session's bearer token
func (c *Client) ForSession(sess *session.Session) visitview.Source {
	token := ""
	if sess != nil {
		token = sess.Token
	}
	return visitview.SourceFunc(func(ctx context.Context, visitID string) (*visit.Record, error) {
		return c.Get(ctx, token, visitID)
	})
}

// do issues a GET through the breaker. A nil body with nil error means not found.
func (c *Client) do(ctx context.Context, token string, u url.URL) ([]byte, error) {
	call := func() (interface{}, error) {
		return c.roundTrip(ctx, token, u)
	}

	var (
		res interface{}
		err error
	)
	if c.breaker != nil {
		res, err = c.breaker.Execute(ctx, call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Warn("visit backend call rejected",
				zap.String("breaker", c.breaker.Name()),
				zap.String("path", u.Path))
		}
	} else {
		res, err = call()
	}
	if err != nil {
		return nil, err
	}
	body, _ := res.([]byte)
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, token string, u url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.count("transport_error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	c.count(strconv.Itoa(resp.StatusCode))

	// 404 -> not found
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	return body, nil
}

func (c *Client) count(status string) {
	if c.metrics != nil {
		c.metrics.BackendRequests.WithLabelValues(status).Inc()
	}
}

// errorMessage extracts {"error": "..."} or {"message": "..."}
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		return body.Message
	}
	return ""
}
