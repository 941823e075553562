package adapter

import "context"

// Supported wallet provider names. Providers outside this set are ignored.
const (
	ProviderLace  = "lace"
	ProviderNami  = "nami"
	ProviderYoroi = "yoroi"
)

// SupportedProviders returns the provider ids the application recognises,
// in display order.
func SupportedProviders() []string {
	return []string{ProviderLace, ProviderNami, ProviderYoroi}
}

// WalletHandle is an opaque capability reference to one enabled wallet
// session. Concrete handles belong to the adapter implementation and never
// leak provider-specific shapes into application state.
type WalletHandle interface {
	Provider() string
}

// WalletAdapter is the hex port over heterogeneous wallet extensions.
//
// Every call may suspend while the extension awaits user interaction; no
// operation carries an application-enforced timeout, but all of them honour
// context cancellation so a closed dialog aborts the wait.
type WalletAdapter interface {
	// ListAvailable inspects the host environment and returns the supported
	// provider ids that are present. Pure inspection, no side effects; an
	// empty set is not an error.
	ListAvailable(ctx context.Context) []string

	// Enable asks the provider's extension for a session. Fails with
	// domain.KindWalletUnavailable when the provider id is absent,
	// domain.KindUserRejected when the user declines the prompt, and
	// domain.KindWalletError for any other native failure.
	Enable(ctx context.Context, provider string) (WalletHandle, error)

	NetworkID(ctx context.Context, h WalletHandle) (int, error)

	// ChangeAddressRaw returns the wallet's change address as raw bytes.
	ChangeAddressRaw(ctx context.Context, h WalletHandle) ([]byte, error)

	// RequestPayment asks the wallet to build, sign and submit a payment of
	// feeLovelace from fromAddress, returning the transaction id. Fails with
	// domain.KindInsufficientFunds, domain.KindUserRejected or
	// domain.KindWalletError.
	RequestPayment(ctx context.Context, h WalletHandle, feeLovelace int64, fromAddress string) (string, error)
}
