// Package generation проксирует запросы генерации изображений и видео во внешний API.
package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/metrics"
)

var (
	ErrNotConfigured   = errors.New("MIDJOURNEY_API_KEY is not set")
	ErrInvalidResponse = errors.New("invalid JSON in generation API response")
)

const maxResponseSize = 10 << 20

// Client клиент внешнего API генерации с circuit breaker и ограничением частоты запросов
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
	limiter *rate.Limiter
}

func NewClient(cfg config.GenerationConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout()},
		breaker: gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:    "generation-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsExcluded: func(err error) bool {
				return errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamRPS),
	}
}

// Create ставит задачу генерации: type=video уходит в /video, остальное в /imagine
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Response, error) {
	path := "/imagine"
	if req.Type == TypeVideo {
		path = "/video"
	}
	return c.call(ctx, "create", http.MethodPost, path, newJobPayload(req))
}

// Status состояние задачи
func (c *Client) Status(ctx context.Context, jobID string) (*Response, error) {
	return c.call(ctx, "status", http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
}

// Cancel отмена задачи
func (c *Client) Cancel(ctx context.Context, jobID string) (*Response, error) {
	return c.call(ctx, "cancel", http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", nil)
}

// statusError ответ 5xx: считается отказом для breaker, но отдается клиенту как есть
type statusError struct {
	resp *Response
}

func (e *statusError) Error() string {
	return fmt.Sprintf("generation API responded with status %d", e.resp.Status)
}

func (c *Client) call(ctx context.Context, operation, method, path string, payload interface{}) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	resp, err := c.breaker.Execute(func() (*Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, method, c.baseURL+path, payload)
		if err != nil {
			return nil, err
		}
		if resp.Status >= http.StatusInternalServerError {
			return resp, &statusError{resp: resp}
		}
		return resp, nil
	})

	var se *statusError
	if errors.As(err, &se) {
		resp, err = se.resp, nil
	}

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case resp.Status >= http.StatusBadRequest:
		result = "upstream_error"
	}
	metrics.GenerationRequests.WithLabelValues(operation, result).Inc()

	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation API request failed: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read generation API response: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		data = []byte("{}")
	} else if !json.Valid(data) {
		return nil, ErrInvalidResponse
	}

	return &Response{Status: res.StatusCode, Body: data}, nil
}
