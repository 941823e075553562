package repository

import "context"

// CredentialCache is the durable mirror of the session identity: exactly two
// scoped keys, address and walletName, kept for warm-start convenience. The
// cache is never trusted without re-validating against the wallet, and it is
// cleared together with the in-memory session on logout, invalidation or a
// rejected profile sync.
type CredentialCache interface {
	SaveIdentity(ctx context.Context, address, walletName string) error
	// LoadIdentity returns domain.ErrNotFound when no identity is cached.
	LoadIdentity(ctx context.Context) (address, walletName string, err error)
	Clear(ctx context.Context) error
}
