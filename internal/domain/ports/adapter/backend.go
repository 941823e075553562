package adapter

import (
	"context"

	"cardano-subscription-wallet/internal/domain/model"
)

// Backend is the server collaborator holding profiles, subscriptions and the
// pre-funded account balance. Failures carry the response status and any
// structured server message for classification.
type Backend interface {
	// FetchProfile loads the profile keyed by address, binding it to the
	// connecting wallet.
	FetchProfile(ctx context.Context, address, walletName string) (*model.Profile, error)

	// AcceptAgreement records the usage-agreement acceptance for the current
	// profile.
	AcceptAgreement(ctx context.Context) error

	// CreateSubscription posts a tier selection; the server answers with a
	// pending SubscriptionRecord.
	CreateSubscription(ctx context.Context, tierID string) (*model.SubscriptionRecord, error)

	ListSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error)

	// Balance returns the off-chain account balance in lovelace.
	Balance(ctx context.Context) (int64, error)
}
