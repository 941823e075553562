// Package address converts a wallet's raw change-address bytes into the
// canonical bech32 textual form. It is pure and deterministic; the connection
// negotiator uses it once at address derivation and the account watchdog
// re-runs it on every drift check.
package address

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"cardano-subscription-wallet/internal/domain"
)

// Shelley header nibbles. The low nibble of the first byte carries the
// network tag, the high nibble the address type.
const (
	networkTestnet = 0x0
	networkMainnet = 0x1

	typeStakeKey    = 0xe
	typeStakeScript = 0xf
	typeByron       = 0x8
)

// minLen is the shortest well-formed Shelley address: header byte plus one
// 28-byte credential hash.
const minLen = 29

// Resolve converts raw address bytes to the canonical bech32 form
// (addr…/addr_test… for payment addresses, stake…/stake_test… for reward
// addresses). It fails with domain.KindMalformedAddress when the blob cannot
// be decoded.
func Resolve(raw []byte) (string, error) {
	if len(raw) < minLen {
		return "", domain.E(domain.KindMalformedAddress, "address payload too short", nil)
	}

	typ := raw[0] >> 4
	network := raw[0] & 0x0f

	if typ == typeByron {
		return "", domain.E(domain.KindMalformedAddress, "bootstrap addresses are not supported", nil)
	}
	if network != networkTestnet && network != networkMainnet {
		return "", domain.E(domain.KindMalformedAddress, "unknown network tag", nil)
	}

	var hrp string
	switch {
	case typ <= 0x7:
		hrp = "addr"
	case typ == typeStakeKey || typ == typeStakeScript:
		hrp = "stake"
	default:
		return "", domain.E(domain.KindMalformedAddress, "unknown address type", nil)
	}
	if network == networkTestnet {
		hrp += "_test"
	}

	grouped, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", domain.E(domain.KindMalformedAddress, "address bytes cannot be regrouped", err)
	}
	encoded, err := bech32.Encode(hrp, grouped)
	if err != nil {
		return "", domain.E(domain.KindMalformedAddress, "address cannot be encoded", err)
	}
	return encoded, nil
}

// ResolveHex decodes a hex-encoded blob, as wallet extensions hand change
// addresses over the wire, and resolves it.
func ResolveHex(s string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", domain.E(domain.KindMalformedAddress, "address is not valid hex", err)
	}
	return Resolve(raw)
}

// NetworkTag extracts the network nibble (0 testnet, 1 mainnet) without fully
// resolving the address.
func NetworkTag(raw []byte) (int, error) {
	if len(raw) == 0 {
		return 0, domain.E(domain.KindMalformedAddress, "empty address payload", nil)
	}
	tag := int(raw[0] & 0x0f)
	if tag != networkTestnet && tag != networkMainnet {
		return 0, domain.E(domain.KindMalformedAddress, "unknown network tag", nil)
	}
	return tag, nil
}
