package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/smallbiznis/tokenrelay/internal/config"
	gatewaydomain "github.com/smallbiznis/tokenrelay/internal/gateway/domain"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const statusClassOK = "ok"

type chatClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ServiceParam struct {
	fx.In

	Config  config.Config
	Catalog *config.ModelCatalogHolder
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	client  chatClient
	catalog *config.ModelCatalogHolder
	timeout time.Duration
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) gatewaydomain.Service {
	svc := &Service{
		catalog: p.Catalog,
		timeout: p.Config.OpenRouter.Timeout,
		log:     p.Log.Named("gateway.service"),
		metrics: p.Metrics,
	}
	if key := strings.TrimSpace(p.Config.OpenRouter.APIKey); key != "" {
		svc.client = newOpenRouterClient(p.Config.OpenRouter)
	} else {
		svc.log.Warn("OPENROUTER_API_KEY is not set, generation requests will fail")
	}
	return svc
}

func newOpenRouterClient(cfg config.OpenRouterConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	headers := http.Header{}
	if cfg.Referer != "" {
		headers.Set("HTTP-Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		headers.Set("X-Title", cfg.Title)
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (s *Service) Prompt(ctx context.Context, req gatewaydomain.PromptRequest) (gatewaydomain.Response, error) {
	catalog := s.catalog.Get()
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = catalog.Default
	}

	if s.client == nil {
		return gatewaydomain.Response{}, gatewaydomain.ErrConfiguration
	}
	if !catalog.Allows(model) {
		return gatewaydomain.Response{}, &gatewaydomain.ModelNotAllowedError{Model: model}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("model", model))
	start := time.Now()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
	})
	if err != nil {
		upstreamErr := classifyError(err)
		log.Warn("upstream completion failed",
			zap.String("class", string(upstreamErr.Class)),
			zap.Int("status_code", upstreamErr.StatusCode),
			zap.Bool("retryable", upstreamErr.Retryable),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		s.metrics.RecordGeneration(ctx, model, string(upstreamErr.Class))
		return gatewaydomain.Response{}, upstreamErr
	}

	if len(resp.Choices) == 0 {
		upstreamErr := gatewaydomain.NewStatusError(http.StatusOK, errors.New("completion returned no choices"))
		log.Warn("upstream completion malformed", zap.String("completion_id", resp.ID))
		s.metrics.RecordGeneration(ctx, model, string(upstreamErr.Class))
		return gatewaydomain.Response{}, upstreamErr
	}

	reported := resp.Model
	if reported == "" {
		reported = model
	}
	out := gatewaydomain.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   reported,
		Usage: gatewaydomain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("llm.model", out.Model),
		attribute.Int("llm.total_tokens", out.Usage.TotalTokens),
	)
	s.metrics.RecordGeneration(ctx, model, statusClassOK)
	s.metrics.RecordTokens(ctx, out.Model, out.Usage.TotalTokens)
	log.Debug("upstream completion succeeded",
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func classifyError(err error) *gatewaydomain.UpstreamError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return gatewaydomain.NewStatusError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return gatewaydomain.NewStatusError(reqErr.HTTPStatusCode, err)
	}
	return gatewaydomain.NewStatusError(0, err)
}
