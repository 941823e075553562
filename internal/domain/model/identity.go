package model

import "time"

// Identity is the application identity derived from a connected wallet.
// Immutable once set; torn down only by an explicit logout or invalidation.
type Identity struct {
	Address    string `json:"address"`
	NetworkID  int    `json:"networkId"`
	WalletName string `json:"walletName"`
}

// Agreement is the dapp usage-agreement sentinel carried by a profile.
// A nil Agreement on a fetched profile means the user has not accepted yet.
type Agreement struct {
	Version    string    `json:"version,omitempty"`
	AcceptedAt time.Time `json:"acceptedAt,omitempty"`
}

// Profile is server-held user metadata keyed by the identity address.
// It is fetched and replaced whole on refresh, never mutated locally.
type Profile struct {
	Address  string     `json:"address"`
	FullName string     `json:"fullName,omitempty"`
	Email    string     `json:"email,omitempty"`
	Dapp     *Agreement `json:"dapp"`
}

// AgreementAccepted reports whether the usage agreement sentinel is present.
func (p *Profile) AgreementAccepted() bool {
	return p != nil && p.Dapp != nil
}
