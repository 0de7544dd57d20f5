package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("report: %w", context.DeadlineExceeded), want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "08006"}, want: JobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveJob(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewDispatchMetrics(registry, Config{ServiceName: "tokenrelay", Environment: "test"})

	m.ObserveJob("billing.report_usage", JobOutcomeSuccess, 20*time.Millisecond, nil)
	m.ObserveJob("billing.report_usage", JobOutcomeError, 10*time.Millisecond, errors.New("boom"))
	m.IncDropped("billing.report_usage")

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("billing.report_usage", JobOutcomeSuccess)); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("billing.report_usage", JobReasonUnknown)); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobDropped.WithLabelValues("billing.report_usage")); got != 1 {
		t.Fatalf("expected 1 dropped, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := NewHTTPMetrics(registry, Config{ServiceName: "tokenrelay", Environment: "test"})

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/health", http.MethodGet, "200")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}
