package redis

import (
	"context"
	"sync"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/ports/repository"
)

var _ repository.CredentialCache = (*MemoryCredentialCache)(nil)

// MemoryCredentialCache is the in-process stand-in used in dev mode and
// tests when no Redis is configured.
type MemoryCredentialCache struct {
	mu         sync.Mutex
	address    string
	walletName string
	set        bool
}

func NewMemoryCredentialCache() *MemoryCredentialCache {
	return &MemoryCredentialCache{}
}

func (m *MemoryCredentialCache) SaveIdentity(ctx context.Context, address, walletName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.address, m.walletName, m.set = address, walletName, true
	return nil
}

func (m *MemoryCredentialCache) LoadIdentity(ctx context.Context) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return "", "", domain.ErrNotFound
	}
	return m.address, m.walletName, nil
}

func (m *MemoryCredentialCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.address, m.walletName, m.set = "", "", false
	return nil
}
