package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/tokenrelay/internal/config"
	gatewaydomain "github.com/smallbiznis/tokenrelay/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeOpenRouter struct {
	server  *httptest.Server
	calls   atomic.Int32
	lastReq map[string]any
	headers http.Header
}

func newFakeOpenRouter(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *fakeOpenRouter {
	t.Helper()
	f := &fakeOpenRouter{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		f.headers = r.Header.Clone()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastReq = body
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func completionHandler(content, model string, total int) func(http.ResponseWriter, map[string]any) {
	return func(w http.ResponseWriter, _ map[string]any) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "gen-1",
			"model": model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 4, "completion_tokens": total - 4, "total_tokens": total},
		})
	}
}

func newTestService(t *testing.T, baseURL, apiKey string) *Service {
	t.Helper()
	svc := NewService(ServiceParam{
		Config: config.Config{OpenRouter: config.OpenRouterConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Referer: "https://example.test",
			Title:   "Token Relay",
			Timeout: 5 * time.Second,
		}},
		Catalog: config.NewStaticModelCatalogHolder(config.DefaultModelCatalog()),
		Log:     zaptest.NewLogger(t),
	})
	return svc.(*Service)
}

func TestPromptUsesDefaultModel(t *testing.T) {
	fake := newFakeOpenRouter(t, completionHandler("Hello", "", 10))
	svc := newTestService(t, fake.server.URL, "sk-or-test")

	resp, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "Say hello"})
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, config.DefaultModel, resp.Model)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, 4, resp.Usage.PromptTokens)
	assert.Equal(t, config.DefaultModel, fake.lastReq["model"])
	assert.Equal(t, "https://example.test", fake.headers.Get("HTTP-Referer"))
	assert.Equal(t, "Token Relay", fake.headers.Get("X-Title"))
	assert.Equal(t, "Bearer sk-or-test", fake.headers.Get("Authorization"))
}

func TestPromptReportsUpstreamModel(t *testing.T) {
	fake := newFakeOpenRouter(t, completionHandler("Hi", "openai/gpt-4-0613", 20))
	svc := newTestService(t, fake.server.URL, "sk-or-test")

	resp, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "hi", Model: "openai/gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4-0613", resp.Model)
}

func TestPromptRejectsModelOutsideCatalog(t *testing.T) {
	fake := newFakeOpenRouter(t, completionHandler("x", "", 1))
	svc := newTestService(t, fake.server.URL, "sk-or-test")

	_, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "hi", Model: "meta/llama-405b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewaydomain.ErrModelNotAllowed)
	assert.Equal(t, "Model meta/llama-405b is not allowed.", err.Error())
	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestPromptWithoutKeyFailsClosed(t *testing.T) {
	fake := newFakeOpenRouter(t, completionHandler("x", "", 1))
	svc := newTestService(t, fake.server.URL, "")

	_, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "hi"})
	assert.ErrorIs(t, err, gatewaydomain.ErrConfiguration)
	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestPromptClassifiesUpstreamStatus(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		class     gatewaydomain.UpstreamClass
		retryable bool
	}{
		{name: "rate_limited", status: http.StatusTooManyRequests, class: gatewaydomain.UpstreamClassClient, retryable: true},
		{name: "bad_request", status: http.StatusBadRequest, class: gatewaydomain.UpstreamClassClient, retryable: false},
		{name: "server", status: http.StatusBadGateway, class: gatewaydomain.UpstreamClassServer, retryable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeOpenRouter(t, func(w http.ResponseWriter, _ map[string]any) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "provider said no", "code": tc.status},
				})
			})
			svc := newTestService(t, fake.server.URL, "sk-or-test")

			_, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "hi"})
			require.Error(t, err)
			assert.ErrorIs(t, err, gatewaydomain.ErrUpstreamUnavailable)

			var upstreamErr *gatewaydomain.UpstreamError
			require.True(t, errors.As(err, &upstreamErr))
			assert.Equal(t, tc.status, upstreamErr.StatusCode)
			assert.Equal(t, tc.class, upstreamErr.Class)
			assert.Equal(t, tc.retryable, upstreamErr.Retryable)
		})
	}
}

func TestPromptWithNoChoicesIsMalformed(t *testing.T) {
	fake := newFakeOpenRouter(t, func(w http.ResponseWriter, _ map[string]any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "gen-2", "choices": []any{}})
	})
	svc := newTestService(t, fake.server.URL, "sk-or-test")

	_, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "hi"})
	var upstreamErr *gatewaydomain.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, gatewaydomain.UpstreamClassMalformed, upstreamErr.Class)
	assert.False(t, upstreamErr.Retryable)
}

func TestPromptNetworkFailure(t *testing.T) {
	fake := newFakeOpenRouter(t, completionHandler("x", "", 1))
	url := fake.server.URL
	fake.server.Close()
	svc := newTestService(t, url, "sk-or-test")

	_, err := svc.Prompt(context.Background(), gatewaydomain.PromptRequest{Message: "hi"})
	var upstreamErr *gatewaydomain.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, gatewaydomain.UpstreamClassNetwork, upstreamErr.Class)
	assert.True(t, upstreamErr.Retryable)
	assert.Zero(t, upstreamErr.StatusCode)
}
