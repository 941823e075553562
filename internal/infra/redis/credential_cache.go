package redis

import (
	"context"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/ports/repository"
)

var _ repository.CredentialCache = (*CredentialCache)(nil)

// CredentialCache mirrors the session identity into two scoped keys,
// address and walletName. The mirror exists for warm-start convenience only
// and is wiped whole on logout or invalidation.
type CredentialCache struct {
	client RedisClient
	prefix string
}

func NewCredentialCache(client RedisClient, prefix string) *CredentialCache {
	if prefix == "" {
		prefix = "session"
	}
	return &CredentialCache{client: client, prefix: prefix}
}

func (c *CredentialCache) addressKey() string    { return c.prefix + ":address" }
func (c *CredentialCache) walletNameKey() string { return c.prefix + ":walletName" }

func (c *CredentialCache) SaveIdentity(ctx context.Context, address, walletName string) error {
	if err := c.client.Set(ctx, c.addressKey(), address, 0); err != nil {
		return err
	}
	return c.client.Set(ctx, c.walletNameKey(), walletName, 0)
}

func (c *CredentialCache) LoadIdentity(ctx context.Context) (string, string, error) {
	address, err := c.client.Get(ctx, c.addressKey())
	if err != nil {
		if IsNil(err) {
			return "", "", domain.ErrNotFound
		}
		return "", "", err
	}
	walletName, err := c.client.Get(ctx, c.walletNameKey())
	if err != nil && !IsNil(err) {
		return "", "", err
	}
	return address, walletName, nil
}

// Clear removes both keys in a single command so no half-cleared mirror can
// be observed.
func (c *CredentialCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.addressKey(), c.walletNameKey())
}
