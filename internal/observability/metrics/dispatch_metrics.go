package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobOutcomeSuccess   = "success"
	JobOutcomeError     = "error"
	JobOutcomePanic     = "panic"
	JobOutcomeTimeout   = "timeout"
	JobOutcomeDropped   = "dropped"
	JobOutcomeAbandoned = "abandoned"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

// DispatchMetrics captures background job health.
type DispatchMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobErrors   *prometheus.CounterVec
	jobDropped  *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// NewDispatchMetrics registers dispatcher instruments on registerer.
func NewDispatchMetrics(registerer prometheus.Registerer, cfg Config) *DispatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := serviceLabels(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenrelay_dispatch_job_runs_total",
		Help:        "Background job completions by name and outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "tokenrelay_dispatch_job_duration_seconds",
		Help:        "Background job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenrelay_dispatch_job_errors_total",
		Help:        "Background job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenrelay_dispatch_jobs_dropped_total",
		Help:        "Jobs rejected because the queue was full or closed.",
		ConstLabels: constLabels,
	}, []string{"job"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "tokenrelay_dispatch_queue_depth",
		Help:        "Jobs waiting for a worker.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobErrors, jobDropped, queueDepth)

	return &DispatchMetrics{
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
		jobErrors:   jobErrors,
		jobDropped:  jobDropped,
		queueDepth:  queueDepth,
	}
}

// ObserveJob records one finished job.
func (m *DispatchMetrics) ObserveJob(job, outcome string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	if duration > 0 {
		m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
	if err != nil {
		m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
	}
}

// IncDropped counts a job that never reached a worker.
func (m *DispatchMetrics) IncDropped(job string) {
	if m == nil {
		return
	}
	m.jobDropped.WithLabelValues(job).Inc()
}

// SetQueueDepth reports the current queue length.
func (m *DispatchMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, gorm.ErrInvalidDB) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return JobReasonDB
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
