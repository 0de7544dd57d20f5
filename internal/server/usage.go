package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
	"github.com/smallbiznis/tokenrelay/pkg/db/pagination"
)

type listUsageResponse struct {
	Success    bool                   `json:"success"`
	Data       []usagedomain.UsageLog `json:"data"`
	Pagination pagination.PageInfo    `json:"pagination"`
}

func (s *Server) ListUsage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, identity.ErrMissingToken)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	res, err := s.usagesvc.List(c.Request.Context(), usagedomain.ListUsageRequest{
		UserID: user.ID,
		Page:   query.Page,
		Limit:  query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := res.UsageLogs
	if data == nil {
		data = []usagedomain.UsageLog{}
	}
	c.JSON(http.StatusOK, listUsageResponse{
		Success:    true,
		Data:       data,
		Pagination: res.PageInfo,
	})
}
