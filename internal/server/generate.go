package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/dispatch"
	gatewaydomain "github.com/smallbiznis/tokenrelay/internal/gateway/domain"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
	"go.uber.org/zap"
)

const jobReportUsage = "billing.report_usage"

type generateRequest struct {
	Message string `json:"message" binding:"required"`
	Model   string `json:"model"`
}

type generateResponse struct {
	Success bool                   `json:"success"`
	Data    gatewaydomain.Response `json:"data"`
}

func (s *Server) Generate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, identity.ErrMissingToken)
		return
	}

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		AbortWithError(c, newValidationError("message", "required", "message is required"))
		return
	}

	ctx := c.Request.Context()
	resp, err := s.gateway.Prompt(ctx, gatewaydomain.PromptRequest{
		Message: req.Message,
		Model:   strings.TrimSpace(req.Model),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.usagesvc.LogUsage(ctx, usagedomain.LogUsageRequest{
		UserID:      user.ID,
		Model:       resp.Model,
		TokensCount: resp.Usage.TotalTokens,
		StatusCode:  http.StatusOK,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	report := billingdomain.ReportUsageRequest{
		UserID: user.ID,
		Email:  user.Email,
		Tokens: resp.Usage.TotalTokens,
	}
	if !s.jobs.Submit(ctx, dispatch.Job{
		Name: jobReportUsage,
		Run: func(ctx context.Context) error {
			return s.reporter.Report(ctx, report)
		},
	}) {
		logger.WithContext(ctx, s.log).Warn("billing report not queued", zap.Int("tokens", report.Tokens))
	}

	c.JSON(http.StatusOK, generateResponse{Success: true, Data: resp})
}
