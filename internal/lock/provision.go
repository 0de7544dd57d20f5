package lock

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	keyBillingProvision = "billing:provision:%s"

	DefaultProvisionTTL = 30 * time.Second
)

// ProvisionLock serializes billing customer provisioning per user. A nil or
// disabled ProvisionLock grants every request.
type ProvisionLock struct {
	locker *Locker
	ttl    time.Duration
}

func NewProvisionLock(locker *Locker, ttl time.Duration) *ProvisionLock {
	if ttl <= 0 {
		ttl = DefaultProvisionTTL
	}
	return &ProvisionLock{locker: locker, ttl: ttl}
}

func (p *ProvisionLock) Enabled() bool {
	return p != nil && p.locker != nil
}

// Acquire returns a release token and whether the caller now owns provisioning
// for userID.
func (p *ProvisionLock) Acquire(ctx context.Context, userID string) (string, bool, error) {
	if !p.Enabled() {
		return "", true, nil
	}
	return p.locker.TryLock(ctx, provisionKey(userID), p.ttl)
}

func (p *ProvisionLock) Release(ctx context.Context, userID, token string) error {
	if !p.Enabled() {
		return nil
	}
	return p.locker.Release(ctx, provisionKey(userID), token)
}

func provisionKey(userID string) string {
	return fmt.Sprintf(keyBillingProvision, strings.TrimSpace(userID))
}
