// Package dispatch runs best-effort background jobs detached from the request
// that submitted them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/tokenrelay/internal/observability/context"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultJobTimeout = 30 * time.Second
)

var ErrStopped = errors.New("dispatcher_stopped")

// Job is a unit of background work. Run receives a context that keeps the
// submitter's values but not its cancellation.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	return c
}

type queued struct {
	id       string
	ctx      context.Context
	job      Job
	enqueued time.Time
}

// Dispatcher is a bounded queue drained by a fixed worker pool. Jobs run at
// most once and are never retried.
type Dispatcher struct {
	cfg     Config
	log     *zap.Logger
	sink    ErrorSink
	metrics *obsmetrics.DispatchMetrics

	queue chan queued

	mu      sync.RWMutex
	closed  bool
	started bool

	wg       sync.WaitGroup
	abandon  chan struct{}
	hardStop context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(cfg Config, log *zap.Logger, sink ErrorSink, metrics *obsmetrics.DispatchMetrics) *Dispatcher {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = NewErrorSink(log, metrics)
	}
	hardStop, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		log:      log.Named("dispatch"),
		sink:     sink,
		metrics:  metrics,
		queue:    make(chan queued, cfg.QueueSize),
		abandon:  make(chan struct{}),
		hardStop: hardStop,
		cancel:   cancel,
	}
}

// Start launches the worker pool. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.Info("dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
}

// Submit enqueues job without blocking and reports whether it was accepted.
func (d *Dispatcher) Submit(ctx context.Context, job Job) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	item := queued{
		id:       ulid.Make().String(),
		job:      job,
		enqueued: time.Now(),
	}
	item.ctx = obscontext.WithJobID(context.WithoutCancel(ctx), item.id)

	if job.Run == nil {
		d.sink.Record(item.ctx, Result{JobID: item.id, Name: job.Name, Outcome: obsmetrics.JobOutcomeDropped, Err: errors.New("job has no run function")})
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.sink.Record(item.ctx, Result{JobID: item.id, Name: job.Name, Outcome: obsmetrics.JobOutcomeDropped, Err: ErrStopped})
		return false
	}
	select {
	case d.queue <- item:
		d.metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.sink.Record(item.ctx, Result{JobID: item.id, Name: job.Name, Outcome: obsmetrics.JobOutcomeDropped, Err: fmt.Errorf("queue full (%d)", d.cfg.QueueSize)})
		return false
	}
}

// Stop closes intake and waits for queued jobs until ctx is done. Jobs still
// queued after that are abandoned and running ones see their context cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		started := d.started
		d.mu.Unlock()

		if !started {
			d.abandonRemaining()
			return
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log.Info("dispatcher drained")
		case <-ctx.Done():
			close(d.abandon)
			d.cancel()
			d.log.Warn("dispatcher stop deadline reached, abandoning queued jobs",
				zap.Int("remaining", len(d.queue)),
			)
			err = ctx.Err()
		}
	})
	return err
}

func (d *Dispatcher) abandonRemaining() {
	for item := range d.queue {
		d.sink.Record(item.ctx, Result{JobID: item.id, Name: item.job.Name, Outcome: obsmetrics.JobOutcomeAbandoned})
	}
	d.metrics.SetQueueDepth(0)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		select {
		case <-d.abandon:
			d.sink.Record(item.ctx, Result{JobID: item.id, Name: item.job.Name, Outcome: obsmetrics.JobOutcomeAbandoned})
			continue
		default:
		}
		d.run(item)
	}
}

func (d *Dispatcher) run(item queued) {
	ctx, cancel := context.WithTimeout(item.ctx, d.cfg.JobTimeout)
	defer cancel()
	stop := context.AfterFunc(d.hardStop, cancel)
	defer stop()

	start := time.Now()
	result := Result{JobID: item.id, Name: item.job.Name, QueueWait: start.Sub(item.enqueued)}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Outcome = obsmetrics.JobOutcomePanic
				result.Err = fmt.Errorf("panic: %v", r)
				result.Stack = debug.Stack()
			}
		}()
		result.Err = item.job.Run(ctx)
	}()

	result.Duration = time.Since(start)
	if result.Outcome == "" {
		switch {
		case result.Err == nil:
			result.Outcome = obsmetrics.JobOutcomeSuccess
		case errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(result.Err, context.DeadlineExceeded):
			result.Outcome = obsmetrics.JobOutcomeTimeout
		default:
			result.Outcome = obsmetrics.JobOutcomeError
		}
	}
	d.sink.Record(item.ctx, result)
}
