// Package wallet implements the wallet capability port. The Bridge speaks to
// a wallet connector endpoint that exposes the installed extensions' CIP-30
// surface over JSON; the NoopWallet is the in-memory stand-in for tests and
// the demo.
package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
)

// CIP-30 error codes the bridge relays from the extension.
const (
	codeInvalidRequest = -1
	codeInternalError  = -2
	codeRefused        = -3
	codeAccountChange  = -4
	// TxSignError
	codeProofGeneration = 1
	codeUserDeclined    = 2
)

var _ adapter.WalletAdapter = (*Bridge)(nil)

type Bridge struct {
	base   string
	client *http.Client
	log    *zerolog.Logger
}

// NewBridge builds the adapter over the connector at baseURL. The client has
// no timeout on purpose: wallet calls suspend until the user answers the
// extension prompt, and cancellation belongs to the caller's context.
func NewBridge(baseURL string, log *zerolog.Logger) *Bridge {
	return &Bridge{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{},
		log:    log,
	}
}

type bridgeHandle struct {
	provider string
	session  string
}

func (h *bridgeHandle) Provider() string { return h.provider }

// apiError is the extension failure shape relayed by the connector. It
// carries the native info string for classification.
type apiError struct {
	Code int    `json:"code"`
	Info string `json:"info"`
}

var _ domain.InfoCarrier = (*apiError)(nil)

func (e *apiError) Error() string {
	return fmt.Sprintf("wallet api error %d: %s", e.Code, e.Info)
}

func (e *apiError) WalletInfo() string { return e.Info }
func (e *apiError) WalletCode() int    { return e.Code }

func (b *Bridge) ListAvailable(ctx context.Context) []string {
	var out struct {
		Wallets []string `json:"wallets"`
	}
	if err := b.do(ctx, http.MethodGet, "/wallets", nil, &out); err != nil {
		// Inspection only: a connector hiccup means no wallets are visible,
		// which the negotiator surfaces as "none installed", not an error.
		b.log.Warn().Err(err).Msg("wallet bridge: listing providers failed")
		return nil
	}

	present := make(map[string]bool, len(out.Wallets))
	for _, w := range out.Wallets {
		present[w] = true
	}
	var available []string
	for _, p := range adapter.SupportedProviders() {
		if present[p] {
			available = append(available, p)
		}
	}
	return available
}

func (b *Bridge) Enable(ctx context.Context, provider string) (adapter.WalletHandle, error) {
	var out struct {
		Session string `json:"session"`
	}
	err := b.do(ctx, http.MethodPost, "/wallets/"+provider+"/enable", nil, &out)
	if err != nil {
		return nil, mapEnableError(provider, err)
	}
	return &bridgeHandle{provider: provider, session: out.Session}, nil
}

func (b *Bridge) NetworkID(ctx context.Context, h adapter.WalletHandle) (int, error) {
	bh, err := b.own(h)
	if err != nil {
		return 0, err
	}
	var out struct {
		NetworkID int `json:"networkId"`
	}
	if err := b.do(ctx, http.MethodGet, "/sessions/"+bh.session+"/network-id", nil, &out); err != nil {
		return 0, mapNativeError(err)
	}
	return out.NetworkID, nil
}

func (b *Bridge) ChangeAddressRaw(ctx context.Context, h adapter.WalletHandle) ([]byte, error) {
	bh, err := b.own(h)
	if err != nil {
		return nil, err
	}
	var out struct {
		Address string `json:"address"` // hex-encoded raw bytes
	}
	if err := b.do(ctx, http.MethodGet, "/sessions/"+bh.session+"/change-address", nil, &out); err != nil {
		return nil, mapNativeError(err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(out.Address))
	if err != nil {
		return nil, domain.E(domain.KindMalformedAddress, "wallet returned a non-hex change address", err)
	}
	return raw, nil
}

func (b *Bridge) RequestPayment(ctx context.Context, h adapter.WalletHandle, feeLovelace int64, fromAddress string) (string, error) {
	bh, err := b.own(h)
	if err != nil {
		return "", err
	}
	in := map[string]any{
		"feeLovelace": feeLovelace,
		"fromAddress": fromAddress,
	}
	var out struct {
		TransactionID string `json:"transactionId"`
	}
	if err := b.do(ctx, http.MethodPost, "/sessions/"+bh.session+"/payments", in, &out); err != nil {
		return "", mapPaymentError(err)
	}
	return out.TransactionID, nil
}

func (b *Bridge) own(h adapter.WalletHandle) (*bridgeHandle, error) {
	bh, ok := h.(*bridgeHandle)
	if !ok || bh.session == "" {
		return nil, domain.E(domain.KindWalletError, "wallet handle does not belong to this bridge", nil)
	}
	return bh, nil
}

// do sends one JSON request. Non-2xx responses decode into apiError; a 404 on
// enable means the provider is absent and is surfaced as such by the mapper.
func (b *Bridge) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &apiError{Code: codeInvalidRequest, Info: "provider not present"}
	}
	if resp.StatusCode >= 400 {
		var ae apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&ae); decErr != nil || ae.Info == "" {
			return &apiError{Code: codeInternalError, Info: resp.Status}
		}
		return &ae
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapEnableError(provider string, err error) error {
	ae, ok := asAPIError(err)
	if !ok {
		return domain.E(domain.KindWalletError, "enabling the wallet failed", err)
	}
	switch ae.Code {
	case codeInvalidRequest:
		return domain.E(domain.KindWalletUnavailable, provider+" is not installed", ae)
	case codeRefused:
		return domain.E(domain.KindUserRejected, "connection request was declined", ae)
	default:
		return domain.E(domain.KindWalletError, ae.Info, ae)
	}
}

func mapPaymentError(err error) error {
	ae, ok := asAPIError(err)
	if !ok {
		return domain.E(domain.KindWalletError, "wallet payment failed", err)
	}
	switch {
	case ae.Code == codeUserDeclined || ae.Code == codeRefused:
		return domain.E(domain.KindUserRejected, "payment was declined in the wallet", ae)
	// Extensions report an unfundable transaction through the info string
	// rather than a dedicated code.
	case strings.Contains(strings.ToLower(ae.Info), "insufficient"):
		return domain.E(domain.KindInsufficientFunds, "wallet balance cannot cover the payment", ae)
	default:
		return domain.E(domain.KindWalletError, ae.Info, ae)
	}
}

func mapNativeError(err error) error {
	if ae, ok := asAPIError(err); ok {
		return domain.E(domain.KindWalletError, ae.Info, ae)
	}
	return domain.E(domain.KindWalletError, "wallet call failed", err)
}

func asAPIError(err error) (*apiError, bool) {
	ae, ok := err.(*apiError)
	return ae, ok
}
