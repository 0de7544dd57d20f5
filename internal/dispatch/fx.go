package dispatch

import (
	"context"

	"github.com/smallbiznis/tokenrelay/internal/config"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("dispatch",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *obsmetrics.DispatchMetrics `optional:"true"`
}

func NewFromConfig(p Params) *Dispatcher {
	d := New(Config{
		Workers:    p.Config.Dispatch.Workers,
		QueueSize:  p.Config.Dispatch.QueueSize,
		JobTimeout: p.Config.Dispatch.JobTimeout,
	}, p.Log, NewErrorSink(p.Log, p.Metrics), p.Metrics)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Stop(ctx); err != nil {
				p.Log.Warn("dispatcher stopped with pending jobs", zap.Error(err))
			}
			return nil
		},
	})
	return d
}
