package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/tokenrelay/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const validUserID = "3f1c2a9e-6a55-4f43-9a0e-2b0c7a5d1e11"

func newSupabase(t *testing.T, handler http.HandlerFunc) *Verifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "anon-key", zaptest.NewLogger(t))
}

func TestVerifyReturnsUser(t *testing.T) {
	v := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"` + validUserID + `","email":"a@example.com"}`))
	})

	user, err := v.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, User{ID: validUserID, Email: "a@example.com"}, user)
}

func TestVerifyClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"msg":"expired"}`, ErrInvalidToken},
		{"forbidden", http.StatusForbidden, `{}`, ErrInvalidToken},
		{"bad request", http.StatusBadRequest, `{}`, ErrInvalidToken},
		{"non uuid id", http.StatusOK, `{"id":"not-a-uuid"}`, ErrInvalidToken},
		{"server error", http.StatusBadGateway, `oops`, ErrProviderUnavailable},
		{"garbage body", http.StatusOK, `{`, ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newSupabase(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := v.Verify(context.Background(), "tok")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifyMissingToken(t *testing.T) {
	v := New("http://127.0.0.1:0", "anon-key", nil)
	_, err := v.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifyUnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "anon-key", nil).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestUserContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), User{ID: validUserID})
	user, ok := UserFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, validUserID, user.ID)
}

type countingVerifier struct {
	calls int
	err   error
}

func (c *countingVerifier) Verify(context.Context, string) (User, error) {
	c.calls++
	if c.err != nil {
		return User{}, c.err
	}
	return User{ID: validUserID}, nil
}

func TestCachingVerifierReusesSuccess(t *testing.T) {
	inner := &countingVerifier{}
	v := NewCachingVerifier(inner, cache.NewTTLCache[string, User](), time.Minute)

	for i := 0; i < 3; i++ {
		user, err := v.Verify(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, validUserID, user.ID)
	}
	assert.Equal(t, 1, inner.calls)

	_, err := v.Verify(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachingVerifierDoesNotCacheFailures(t *testing.T) {
	inner := &countingVerifier{err: ErrInvalidToken}
	v := NewCachingVerifier(inner, cache.NewTTLCache[string, User](), time.Minute)

	_, err := v.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = v.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 2, inner.calls)
}
