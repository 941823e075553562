package wallet

import (
	"context"
	"fmt"
	"sync"

	"cardano-subscription-wallet/internal/domain/ports/adapter"
)

var _ adapter.WalletAdapter = (*NoopWallet)(nil)

// NoopWallet is a simple in-memory wallet to use in tests and the demo. Its
// installed providers, network and change address are plain fields that a
// scenario can adjust between calls (the demo flips the address to trigger
// the drift watchdog).
type NoopWallet struct {
	mu        sync.Mutex
	installed []string
	network   int
	addr      []byte
	seq       int64

	// Optional failure injection.
	EnableErr  error
	PaymentErr error
}

func NewNoopWallet(installed []string, network int, changeAddr []byte) *NoopWallet {
	return &NoopWallet{installed: installed, network: network, addr: changeAddr}
}

type noopHandle struct{ provider string }

func (h *noopHandle) Provider() string { return h.provider }

func (w *NoopWallet) ListAvailable(ctx context.Context) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	present := make(map[string]bool, len(w.installed))
	for _, p := range w.installed {
		present[p] = true
	}
	var out []string
	for _, p := range adapter.SupportedProviders() {
		if present[p] {
			out = append(out, p)
		}
	}
	return out
}

func (w *NoopWallet) Enable(ctx context.Context, provider string) (adapter.WalletHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.EnableErr != nil {
		return nil, w.EnableErr
	}
	for _, p := range w.installed {
		if p == provider {
			return &noopHandle{provider: provider}, nil
		}
	}
	return nil, fmt.Errorf("noop: provider %s not installed", provider)
}

func (w *NoopWallet) NetworkID(ctx context.Context, h adapter.WalletHandle) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.network, nil
}

func (w *NoopWallet) ChangeAddressRaw(ctx context.Context, h adapter.WalletHandle) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, len(w.addr))
	copy(out, w.addr)
	return out, nil
}

func (w *NoopWallet) RequestPayment(ctx context.Context, h adapter.WalletHandle, feeLovelace int64, fromAddress string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.PaymentErr != nil {
		return "", w.PaymentErr
	}
	w.seq++
	return fmt.Sprintf("noop-tx-%d", w.seq), nil
}

// SetChangeAddress swaps the reported change address, simulating an account
// switch inside the extension.
func (w *NoopWallet) SetChangeAddress(raw []byte) {
	w.mu.Lock()
	w.addr = append([]byte(nil), raw...)
	w.mu.Unlock()
}
