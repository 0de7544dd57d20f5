package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tokenrelay/internal/identity"
	obscontext "github.com/smallbiznis/tokenrelay/internal/observability/context"
)

const contextUserIDKey = "user_id"

// UserAuthRequired resolves the bearer token to a caller and attaches it to
// the request context.
func (s *Server) UserAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		user, err := s.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := identity.WithUser(c.Request.Context(), user)
		ctx = obscontext.WithUserID(ctx, user.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, user.ID)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", identity.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", identity.ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}

func currentUser(c *gin.Context) (identity.User, bool) {
	return identity.UserFromContext(c.Request.Context())
}
