// Package identity resolves the caller behind a bearer token by asking the
// Supabase auth API.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/tokenrelay/internal/cache"
	"github.com/smallbiznis/tokenrelay/internal/config"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("identity",
	fx.Provide(NewVerifier),
)

var (
	ErrMissingToken        = errors.New("missing_token")
	ErrInvalidToken        = errors.New("invalid_token")
	ErrProviderUnavailable = errors.New("identity_provider_unavailable")
)

// User is the authenticated caller.
type User struct {
	ID    string
	Email string
}

// TokenVerifier resolves an access token to a User.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

type Verifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

func NewVerifier(p Params) TokenVerifier {
	v := New(p.Config.Supabase.URL, p.Config.Supabase.AnonKey, p.Log)
	if p.Config.Supabase.CacheTTL <= 0 {
		return v
	}
	return NewCachingVerifier(v, cache.NewTTLCache[string, User](), p.Config.Supabase.CacheTTL)
}

func New(baseURL, apiKey string, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("identity.verifier"),
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (v *Verifier) Verify(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrMissingToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("apikey", v.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		logger.WithContext(ctx, v.log).Warn("identity provider request failed", zap.Error(err))
		return User{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return User{}, ErrInvalidToken
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logger.WithContext(ctx, v.log).Warn("identity provider returned unexpected status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return User{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var payload userResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	id, err := uuid.Parse(strings.TrimSpace(payload.ID))
	if err != nil {
		return User{}, ErrInvalidToken
	}
	return User{ID: id.String(), Email: strings.TrimSpace(payload.Email)}, nil
}

type userKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userKey{}).(User)
	return user, ok && user.ID != ""
}
