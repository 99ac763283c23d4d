package generation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanov-nikolay/design_tools/internal/config"
)

type requestInfo struct {
	Method string
	Path   string
	Auth   string
	Accept string
	Body   map[string]interface{}
}

type capturedRequest struct {
	mu  sync.Mutex
	req requestInfo
}

func (c *capturedRequest) last() requestInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

func newUpstream(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requestInfo{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Auth:   r.Header.Get("Authorization"),
			Accept: r.Header.Get("Accept"),
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &info.Body)
		}
		captured.mu.Lock()
		captured.req = info
		captured.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestClient(baseURL string) *Client {
	cfg := config.Default().Generation
	cfg.APIKey = "secret"
	cfg.BaseURL = baseURL
	cfg.UpstreamRPS = 100
	return NewClient(cfg)
}

func TestCreateImage(t *testing.T) {
	srv, captured := newUpstream(t, http.StatusOK, `{"jobId":"j1"}`)
	client := newTestClient(srv.URL)

	resp, err := client.Create(context.Background(), CreateRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"jobId":"j1"}`, string(resp.Body))

	assert.Equal(t, http.MethodPost, captured.last().Method)
	assert.Equal(t, "/imagine", captured.last().Path)
	assert.Equal(t, "Bearer secret", captured.last().Auth)
	assert.Equal(t, "application/json", captured.last().Accept)
	assert.Equal(t, map[string]interface{}{
		"prompt":          "a cat",
		"negative_prompt": nil,
		"aspect_ratio":    "1:1",
		"style":           "default",
		"quality":         float64(2),
		"remix":           false,
		"stealth":         true,
		"mode":            "relax",
	}, captured.last().Body)
}

func TestCreateVideo(t *testing.T) {
	srv, captured := newUpstream(t, http.StatusOK, `{}`)
	client := newTestClient(srv.URL)

	_, err := client.Create(context.Background(), CreateRequest{Prompt: "waves", Type: TypeVideo})
	require.NoError(t, err)
	assert.Equal(t, "/video", captured.last().Path)
	assert.Equal(t, float64(4), captured.last().Body["duration"])

	d := 8
	q := 0.5
	_, err = client.Create(context.Background(), CreateRequest{
		Prompt: "waves", Type: TypeVideo, Duration: &d, Quality: &q, AspectRatio: "16:9", Remix: true,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(8), captured.last().Body["duration"])
	assert.Equal(t, 0.5, captured.last().Body["quality"])
	assert.Equal(t, "16:9", captured.last().Body["aspect_ratio"])
	assert.Equal(t, true, captured.last().Body["remix"])
}

func TestStatusAndCancelPaths(t *testing.T) {
	srv, captured := newUpstream(t, http.StatusOK, "")
	client := newTestClient(srv.URL)

	resp, err := client.Status(context.Background(), "job/1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, captured.last().Method)
	assert.Equal(t, "/jobs/job%2F1", captured.last().Path)
	assert.JSONEq(t, `{}`, string(resp.Body))

	_, err = client.Cancel(context.Background(), "j2")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, captured.last().Method)
	assert.Equal(t, "/jobs/j2/cancel", captured.last().Path)
	assert.Nil(t, captured.last().Body)
}

func TestUpstreamErrorStatusPassesThrough(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusBadGateway, `{"message":"overloaded"}`)
	client := newTestClient(srv.URL)

	resp, err := client.Status(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.Equal(t, "overloaded", resp.ErrorMessage("fallback"))
}

func TestInvalidJSON(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusOK, `<html>`)
	client := newTestClient(srv.URL)

	_, err := client.Status(context.Background(), "j1")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestNotConfigured(t *testing.T) {
	cfg := config.Default().Generation
	client := NewClient(cfg)

	_, err := client.Create(context.Background(), CreateRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := newTestClient(srv.URL)

	for i := 0; i < 5; i++ {
		resp, err := client.Status(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	}

	_, err := client.Status(context.Background(), "j1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, calls.Load())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"bad prompt","message":"ignored"}`, "bad prompt"},
		{`{"message":"quota"}`, "quota"},
		{`{"error":""}`, "fallback"},
		{`[]`, "fallback"},
		{`{}`, "fallback"},
	}
	for _, tt := range tests {
		resp := &Response{Body: json.RawMessage(tt.body)}
		assert.Equal(t, tt.want, resp.ErrorMessage("fallback"), tt.body)
	}
}
