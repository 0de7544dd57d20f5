package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	localRatePer1KTokens = 0.02
	localCurrency        = "USD"
)

type billingSummary struct {
	TotalTokens        int64                          `json:"totalTokens"`
	EstimatedCostLocal float64                        `json:"estimatedCostLocal"`
	Currency           string                         `json:"currency"`
	StripeBilling      *billingdomain.InvoiceEstimate `json:"stripeBilling"`
}

type billingResponse struct {
	Success bool           `json:"success"`
	Data    billingSummary `json:"data"`
}

// GetBilling reports the flat-rate local estimate next to the provider's own
// upcoming invoice. The two figures are independent.
func (s *Server) GetBilling(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, identity.ErrMissingToken)
		return
	}
	ctx := c.Request.Context()

	summary, err := s.usagesvc.Summary(ctx, user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := billingSummary{
		TotalTokens:        summary.TotalTokens,
		EstimatedCostLocal: localEstimate(summary.TotalTokens),
		Currency:           localCurrency,
	}

	profile, err := s.profiles.FindByID(ctx, user.ID)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("failed to load profile for billing summary", zap.Error(err))
	}
	if customerID := profile.CustomerID(); customerID != "" {
		estimate, err := s.reconciler.GetUpcomingInvoice(ctx, customerID)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("failed to fetch upcoming invoice", zap.Error(err))
		}
		out.StripeBilling = estimate
	}

	c.JSON(http.StatusOK, billingResponse{Success: true, Data: out})
}

func localEstimate(tokens int64) float64 {
	return float64(tokens) / 1000 * localRatePer1KTokens
}
