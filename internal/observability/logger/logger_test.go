package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tokenrelay/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithUserID(ctx, "user-1")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", fields["request_id"])
	}
	if fields["user_id"] != "user-1" {
		t.Fatalf("expected user_id user-1, got %v", fields["user_id"])
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatal("expected no trace_id without an active span")
	}
}

func TestGinMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(GinMiddleware(MiddlewareConfig{}))
	router.GET("/ping", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if seen != "abc-123" {
		t.Fatalf("expected request id abc-123 in context, got %q", seen)
	}
	if got := resp.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Header().Get(HeaderRequestID) == "" {
		t.Fatal("expected generated request id")
	}
}
