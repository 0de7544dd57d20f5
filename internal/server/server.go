package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/config"
	"github.com/smallbiznis/tokenrelay/internal/dispatch"
	gatewaydomain "github.com/smallbiznis/tokenrelay/internal/gateway/domain"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	"github.com/smallbiznis/tokenrelay/internal/observability"
	obsmiddleware "github.com/smallbiznis/tokenrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tokenrelay/internal/observability/tracing"
	profiledomain "github.com/smallbiznis/tokenrelay/internal/profile/domain"
	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(provideSubmitter),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// JobSubmitter hands work to the background dispatcher.
type JobSubmitter interface {
	Submit(ctx context.Context, job dispatch.Job) bool
}

func provideSubmitter(d *dispatch.Dispatcher) JobSubmitter {
	return d
}

func NewEngine(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{ErrorClassifier: classifyErrorForLog}))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "AI Wrapper API is running"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", obsmiddleware.HeaderRequestID},
		ExposeHeaders: []string{obsmiddleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	wildcard := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}
	if wildcard {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func registerGin(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, cfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	verifier   identity.TokenVerifier
	gateway    gatewaydomain.Service
	usagesvc   usagedomain.Service
	profiles   profiledomain.Service
	reconciler billingdomain.Reconciler
	reporter   billingdomain.Reporter
	jobs       JobSubmitter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Verifier   identity.TokenVerifier
	Gateway    gatewaydomain.Service
	Usagesvc   usagedomain.Service
	Profiles   profiledomain.Service
	Reconciler billingdomain.Reconciler
	Reporter   billingdomain.Reporter
	Jobs       JobSubmitter
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		verifier:   p.Verifier,
		gateway:    p.Gateway,
		usagesvc:   p.Usagesvc,
		profiles:   p.Profiles,
		reconciler: p.Reconciler,
		reporter:   p.Reporter,
		jobs:       p.Jobs,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.UserAuthRequired())

	api.POST("/generate", s.Generate)
	api.GET("/usage", s.ListUsage)
	api.GET("/billing", s.GetBilling)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
