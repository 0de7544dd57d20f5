package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/smallbiznis/tokenrelay/internal/cache"
)

// CachingVerifier remembers successful verifications for a short TTL.
// Failures are never cached.
type CachingVerifier struct {
	next  TokenVerifier
	users cache.Cache[string, User]
	ttl   time.Duration
}

func NewCachingVerifier(next TokenVerifier, users cache.Cache[string, User], ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{next: next, users: users, ttl: ttl}
}

func (v *CachingVerifier) Verify(ctx context.Context, token string) (User, error) {
	key := tokenKey(token)
	if user, ok := v.users.Get(key); ok {
		return user, nil
	}
	user, err := v.next.Verify(ctx, token)
	if err != nil {
		return User{}, err
	}
	v.users.Set(key, user, v.ttl)
	return user, nil
}

// tokenKey hashes the bearer token into a cache key.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
