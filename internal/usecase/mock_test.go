//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/address"
	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	red "cardano-subscription-wallet/internal/infra/redis"
	"cardano-subscription-wallet/internal/session"
	"cardano-subscription-wallet/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestSession() *session.Store {
	return session.New(red.NewMemoryCredentialCache(), testLogger())
}

// mainnetAddr returns a well-formed 57-byte type-0 base address.
func mainnetAddr(seed byte) []byte {
	raw := make([]byte, 57)
	raw[0] = 0x01
	for i := 1; i < len(raw); i++ {
		raw[i] = seed + byte(i)
	}
	return raw
}

// =============================
// Adapters
// =============================

// ---- Mock WalletAdapter ----

type MockWallet struct {
	mu sync.Mutex

	Installed []string
	Network   int
	Addr      []byte

	EnableFunc         func(ctx context.Context, provider string) (adapter.WalletHandle, error)
	NetworkIDFunc      func(ctx context.Context, h adapter.WalletHandle) (int, error)
	ChangeAddressFunc  func(ctx context.Context, h adapter.WalletHandle) ([]byte, error)
	RequestPaymentFunc func(ctx context.Context, h adapter.WalletHandle, fee int64, from string) (string, error)

	Payments []int64
}

var _ adapter.WalletAdapter = (*MockWallet)(nil)

type mockHandle struct{ provider string }

func (h *mockHandle) Provider() string { return h.provider }

func (m *MockWallet) ListAvailable(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Installed
}

func (m *MockWallet) Enable(ctx context.Context, provider string) (adapter.WalletHandle, error) {
	if m.EnableFunc != nil {
		return m.EnableFunc(ctx, provider)
	}
	return &mockHandle{provider: provider}, nil
}

func (m *MockWallet) NetworkID(ctx context.Context, h adapter.WalletHandle) (int, error) {
	if m.NetworkIDFunc != nil {
		return m.NetworkIDFunc(ctx, h)
	}
	return m.Network, nil
}

func (m *MockWallet) ChangeAddressRaw(ctx context.Context, h adapter.WalletHandle) ([]byte, error) {
	if m.ChangeAddressFunc != nil {
		return m.ChangeAddressFunc(ctx, h)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.Addr))
	copy(out, m.Addr)
	return out, nil
}

func (m *MockWallet) RequestPayment(ctx context.Context, h adapter.WalletHandle, fee int64, from string) (string, error) {
	if m.RequestPaymentFunc != nil {
		return m.RequestPaymentFunc(ctx, h, fee, from)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments = append(m.Payments, fee)
	return "tx-mock", nil
}

func newMockWallet() *MockWallet {
	return &MockWallet{
		Installed: []string{adapter.ProviderLace, adapter.ProviderNami},
		Network:   1,
		Addr:      mainnetAddr(0),
	}
}

// ---- Mock Backend ----

type MockBackend struct {
	mu sync.Mutex

	Agreed          bool
	BalanceLovelace int64
	Subs            []model.SubscriptionRecord

	// PendingLists is how many ListSubscriptions calls a subscription stays
	// pending before flipping active; the poll loop sees the lag.
	PendingLists int

	FetchProfileFunc       func(ctx context.Context, addr, walletName string) (*model.Profile, error)
	AcceptAgreementFunc    func(ctx context.Context) error
	CreateSubscriptionFunc func(ctx context.Context, tierID string) (*model.SubscriptionRecord, error)
	ListSubscriptionsFunc  func(ctx context.Context) ([]model.SubscriptionRecord, error)
	BalanceFunc            func(ctx context.Context) (int64, error)

	FetchCount  int
	AcceptCount int
	ListCount   int
}

var _ adapter.Backend = (*MockBackend)(nil)

func (m *MockBackend) FetchProfile(ctx context.Context, addr, walletName string) (*model.Profile, error) {
	m.mu.Lock()
	m.FetchCount++
	m.mu.Unlock()
	if m.FetchProfileFunc != nil {
		return m.FetchProfileFunc(ctx, addr, walletName)
	}
	p := &model.Profile{Address: addr, FullName: "Test User"}
	m.mu.Lock()
	if m.Agreed {
		p.Dapp = &model.Agreement{Version: "1", AcceptedAt: time.Now()}
	}
	m.mu.Unlock()
	return p, nil
}

func (m *MockBackend) AcceptAgreement(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcceptCount++
	if m.AcceptAgreementFunc != nil {
		return m.AcceptAgreementFunc(ctx)
	}
	m.Agreed = true
	return nil
}

func (m *MockBackend) CreateSubscription(ctx context.Context, tierID string) (*model.SubscriptionRecord, error) {
	if m.CreateSubscriptionFunc != nil {
		return m.CreateSubscriptionFunc(ctx, tierID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := model.SubscriptionRecord{
		ID:        "sub-" + tierID,
		TierID:    tierID,
		Price:     m.priceFor(tierID),
		Status:    model.SubscriptionStatusPending,
		StartDate: time.Now(),
		EndDate:   time.Now().Add(30 * 24 * time.Hour),
	}
	m.Subs = append(m.Subs, rec)
	return &rec, nil
}

func (m *MockBackend) priceFor(tierID string) int64 {
	switch tierID {
	case "big":
		return 5_390_836
	case "small":
		return 700_000
	default:
		return 2_000_000
	}
}

func (m *MockBackend) ListSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error) {
	if m.ListSubscriptionsFunc != nil {
		return m.ListSubscriptionsFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCount++
	if m.ListCount > m.PendingLists {
		for i := range m.Subs {
			if m.Subs[i].Status == model.SubscriptionStatusPending {
				m.Subs[i].Status = model.SubscriptionStatusActive
			}
		}
	}
	out := make([]model.SubscriptionRecord, len(m.Subs))
	copy(out, m.Subs)
	return out, nil
}

func (m *MockBackend) Balance(ctx context.Context) (int64, error) {
	if m.BalanceFunc != nil {
		return m.BalanceFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BalanceLovelace, nil
}

// =============================
// Sink recorder
// =============================

type RecordSink struct {
	mu sync.Mutex

	ConnectStates    []usecase.ConnectState
	SettlementStates []usecase.SettlementState
	Notices          []string
	ConnectErrs      []*domain.Error
	SettlementErrs   []*domain.Error
	Finished         []model.SettlementAttempt
	Agreements       int
	Invalidated      []string
}

var _ usecase.Sink = (*RecordSink)(nil)

func (r *RecordSink) ConnectStateChanged(s usecase.ConnectState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ConnectStates = append(r.ConnectStates, s)
}

func (r *RecordSink) SettlementStateChanged(s usecase.SettlementState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SettlementStates = append(r.SettlementStates, s)
}

func (r *RecordSink) Notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, msg)
}

func (r *RecordSink) ConnectFailed(err *domain.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ConnectErrs = append(r.ConnectErrs, err)
}

func (r *RecordSink) AgreementRequired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Agreements++
}

func (r *RecordSink) SettlementFinished(a model.SettlementAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished = append(r.Finished, a)
}

func (r *RecordSink) SettlementFailed(err *domain.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SettlementErrs = append(r.SettlementErrs, err)
}

func (r *RecordSink) SessionInvalidated(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invalidated = append(r.Invalidated, reason)
}

func (r *RecordSink) LastConnectState() usecase.ConnectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ConnectStates) == 0 {
		return ""
	}
	return r.ConnectStates[len(r.ConnectStates)-1]
}

// stubWatcher records lifecycle calls from the negotiator.
type stubWatcher struct {
	mu      sync.Mutex
	starts  int
	stops   int
	started bool
}

func (w *stubWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	w.started = true
}

func (w *stubWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	w.started = false
}

var resolve = address.Resolve
