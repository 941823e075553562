package main

import (
	"context"
	"log"
	"sync"
	"time"

	"cardano-subscription-wallet/internal/address"
	"cardano-subscription-wallet/internal/config"
	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	"cardano-subscription-wallet/internal/infra/logging"
	red "cardano-subscription-wallet/internal/infra/redis"
	"cardano-subscription-wallet/internal/infra/sched"
	"cardano-subscription-wallet/internal/infra/wallet"
	"cardano-subscription-wallet/internal/session"
	"cardano-subscription-wallet/internal/usecase"

	"github.com/google/uuid"
)

// memBackend is a scripted stand-in for the subscription server: it keeps
// created subscriptions pending for a couple of list calls before flipping
// them active, which exercises the reconciler's poll loop end to end.
type memBackend struct {
	mu            sync.Mutex
	agreed        bool
	balance       int64
	subs          []model.SubscriptionRecord
	listsBySub    map[string]int
	settleAfter   int
	tierPrices    map[string]int64
	activeAddress string
}

func newMemBackend(balance int64) *memBackend {
	return &memBackend{
		balance:     balance,
		listsBySub:  map[string]int{},
		settleAfter: 2,
		tierPrices: map[string]int64{
			"starter": 800_000,
			"pro":     5_390_836,
		},
	}
}

var _ adapter.Backend = (*memBackend)(nil)

func (b *memBackend) FetchProfile(ctx context.Context, addr, walletName string) (*model.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeAddress = addr
	p := &model.Profile{Address: addr, FullName: "Demo User", Email: "demo@example.com"}
	if b.agreed {
		p.Dapp = &model.Agreement{Version: "1", AcceptedAt: time.Now()}
	}
	return p, nil
}

func (b *memBackend) AcceptAgreement(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agreed = true
	return nil
}

func (b *memBackend) CreateSubscription(ctx context.Context, tierID string) (*model.SubscriptionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.tierPrices[tierID]
	if !ok {
		return nil, domain.E(domain.KindTransport, "unknown tier", nil)
	}
	rec := model.SubscriptionRecord{
		ID:        uuid.NewString(),
		TierID:    tierID,
		Price:     price,
		Status:    model.SubscriptionStatusPending,
		StartDate: time.Now(),
		EndDate:   time.Now().Add(30 * 24 * time.Hour),
	}
	b.subs = append(b.subs, rec)
	return &rec, nil
}

func (b *memBackend) ListSubscriptions(ctx context.Context) ([]model.SubscriptionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.SubscriptionRecord, len(b.subs))
	for i := range b.subs {
		if b.subs[i].Status == model.SubscriptionStatusPending {
			b.listsBySub[b.subs[i].ID]++
			if b.listsBySub[b.subs[i].ID] >= b.settleAfter {
				b.subs[i].Status = model.SubscriptionStatusActive
			}
		}
		out[i] = b.subs[i]
	}
	return out, nil
}

func (b *memBackend) Balance(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

type logSink struct{ usecase.NoopSink }

func (logSink) ConnectStateChanged(s usecase.ConnectState) { log.Printf("connect -> %s", s) }
func (logSink) SettlementStateChanged(s usecase.SettlementState) {
	log.Printf("settlement -> %s", s)
}
func (logSink) Notice(msg string)           { log.Printf("notice: %s", msg) }
func (logSink) AgreementRequired()          { log.Printf("agreement required") }
func (logSink) SessionInvalidated(r string) { log.Printf("session invalidated: %s", r) }
func (logSink) SettlementFinished(a model.SettlementAttempt) {
	log.Printf("settled: outcome=%s fee=%d tx=%s", a.Outcome, a.FeeLovelace, a.TransactionID)
}
func (logSink) ConnectFailed(e *domain.Error)    { log.Printf("connect failed: %s", e.UserMessage()) }
func (logSink) SettlementFailed(e *domain.Error) { log.Printf("settlement failed: %s", e.UserMessage()) }

func main() {
	ctx := context.Background()

	logger := logging.New(config.LogConfig{Level: "debug", Format: "console"}, true)

	baseAddr := make([]byte, 57)
	baseAddr[0] = 0x01
	for i := 1; i < len(baseAddr); i++ {
		baseAddr[i] = byte(i)
	}
	noop := wallet.NewNoopWallet([]string{adapter.ProviderLace, adapter.ProviderNami}, 1, baseAddr)
	creds := red.NewMemoryCredentialCache()
	sess := session.New(creds, logger)
	backend := newMemBackend(1_000_000)

	sink := logSink{}
	negotiator := usecase.NewConnectionNegotiator(
		noop, backend, sess, address.Resolve, sink, logger, time.Second,
	)
	reconciler := usecase.NewSettlementReconciler(
		noop, backend, sess, sink, logger, 200*time.Millisecond, 10*time.Second, time.Second,
	)
	watchdog := sched.NewAccountWatchdog(
		noop, sess, address.Resolve, negotiator, 300*time.Millisecond, logger,
	)
	negotiator.SetWatcher(watchdog)

	// 1. Discover and connect; the fresh profile has no agreement yet.
	providers := negotiator.Discover(ctx)
	log.Printf("available providers: %v", providers)
	if err := negotiator.Connect(ctx, adapter.ProviderLace); err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := negotiator.AcceptAgreement(ctx); err != nil {
		log.Fatalf("agreement: %v", err)
	}

	// 2. Starter tier is cheaper than the pre-funded balance: no wallet call.
	if _, err := reconciler.Pay(ctx, "starter"); err != nil {
		log.Fatalf("pay starter: %v", err)
	}

	// 3. Pro tier exceeds the balance: the wallet pays max(price, minimum fee).
	if _, err := reconciler.Pay(ctx, "pro"); err != nil {
		log.Fatalf("pay pro: %v", err)
	}

	// 4. Switch the wallet account underneath the session; the watchdog
	// notices within one cadence and tears the session down.
	drifted := make([]byte, 57)
	drifted[0] = 0x01
	for i := 1; i < len(drifted); i++ {
		drifted[i] = byte(i + 100)
	}
	noop.SetChangeAddress(drifted)
	time.Sleep(time.Second)

	log.Printf("final connect state: %s, connected: %v", negotiator.State(), sess.Connected())
	watchdog.Stop()
}
