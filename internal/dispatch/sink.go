package dispatch

import (
	"context"
	"time"

	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	"go.uber.org/zap"
)

// Result describes how one job ended.
type Result struct {
	JobID     string
	Name      string
	Outcome   string
	Duration  time.Duration
	QueueWait time.Duration
	Err       error
	Stack     []byte
}

// ErrorSink receives every job outcome, including drops and abandons.
type ErrorSink interface {
	Record(ctx context.Context, result Result)
}

type logSink struct {
	log     *zap.Logger
	metrics *obsmetrics.DispatchMetrics
}

func NewErrorSink(log *zap.Logger, metrics *obsmetrics.DispatchMetrics) ErrorSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &logSink{log: log.Named("dispatch.sink"), metrics: metrics}
}

func (s *logSink) Record(ctx context.Context, r Result) {
	if r.Outcome == obsmetrics.JobOutcomeDropped {
		s.metrics.IncDropped(r.Name)
	}
	s.metrics.ObserveJob(r.Name, r.Outcome, r.Duration, r.Err)

	log := logger.WithContext(ctx, s.log).With(
		zap.String("job", r.Name),
		zap.String("outcome", r.Outcome),
		zap.Duration("duration", r.Duration),
	)
	switch r.Outcome {
	case obsmetrics.JobOutcomeSuccess:
		log.Debug("job finished", zap.Duration("queue_wait", r.QueueWait))
	case obsmetrics.JobOutcomePanic:
		log.Error("job panicked", zap.Error(r.Err), zap.ByteString("stack", r.Stack))
	case obsmetrics.JobOutcomeDropped, obsmetrics.JobOutcomeAbandoned:
		log.Warn("job not run", zap.Error(r.Err))
	default:
		log.Error("job failed", zap.Error(r.Err))
	}
}
