package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	"cardano-subscription-wallet/internal/infra/logging"
	"cardano-subscription-wallet/internal/infra/metrics"
	"cardano-subscription-wallet/internal/session"
)

// SettlementState is the reconciler's observable state.
type SettlementState string

const (
	SettlementStateIdle             SettlementState = "idle"
	SettlementStateRequested        SettlementState = "requested"
	SettlementStateCreating         SettlementState = "creating-subscription"
	SettlementStateCheckingBalance  SettlementState = "checking-balance"
	SettlementStatePayingFromWallet SettlementState = "paying-from-wallet"
	SettlementStatePendingAtServer  SettlementState = "pending-at-server"
	SettlementStatePolling          SettlementState = "polling"
	SettlementStateSettled          SettlementState = "settled"
	SettlementStateFailed           SettlementState = "failed"
)

// SettlementReconciler drives a subscription purchase from tier selection to
// a settled server record: create the pending subscription, cover it from
// the account balance or from a wallet payment, then poll until the server
// reflects the outcome. At most one attempt runs per request; a second Pay
// while one is in flight is rejected outright.
type SettlementReconciler struct {
	wallet  adapter.WalletAdapter
	backend adapter.Backend
	session *session.Store
	sink    Sink
	log     *zerolog.Logger

	pollInterval time.Duration
	// pollDeadline bounds the poll loop; zero means wait indefinitely for
	// settlement.
	pollDeadline time.Duration
	// noticeWindow is how long the Failed state stays visible before the
	// machine returns to Idle.
	noticeWindow time.Duration

	inFlight atomic.Bool

	mu      sync.Mutex
	state   SettlementState
	attempt *model.SettlementAttempt
	failGen uint64
}

func NewSettlementReconciler(
	wallet adapter.WalletAdapter,
	backend adapter.Backend,
	sess *session.Store,
	sink Sink,
	log *zerolog.Logger,
	pollInterval, pollDeadline, noticeWindow time.Duration,
) *SettlementReconciler {
	if sink == nil {
		sink = NoopSink{}
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if noticeWindow <= 0 {
		noticeWindow = 5 * time.Second
	}
	return &SettlementReconciler{
		wallet:       wallet,
		backend:      backend,
		session:      sess,
		sink:         sink,
		log:          log,
		pollInterval: pollInterval,
		pollDeadline: pollDeadline,
		noticeWindow: noticeWindow,
		state:        SettlementStateIdle,
	}
}

func (r *SettlementReconciler) State() SettlementState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempt returns a copy of the in-progress attempt, if any.
func (r *SettlementReconciler) Attempt() *model.SettlementAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return nil
	}
	a := *r.attempt
	return &a
}

func (r *SettlementReconciler) InFlight() bool { return r.inFlight.Load() }

// Pay runs one settlement attempt for tierID. It blocks until the attempt is
// terminal or ctx is cancelled (the user navigated away; no final
// notification in that case). The attempt is discarded once terminal.
func (r *SettlementReconciler) Pay(ctx context.Context, tierID string) (*model.SettlementAttempt, error) {
	snap := r.session.Snapshot()
	if snap.Identity == nil || snap.Handle == nil {
		return nil, domain.ErrNotConnected
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrPaymentInFlight
	}
	defer func() {
		// Terminal either way: discard the attempt and free the slot.
		r.mu.Lock()
		r.attempt = nil
		r.mu.Unlock()
		r.inFlight.Store(false)
	}()

	req := model.SubscriptionRequest{TierID: tierID, RequestedAt: time.Now()}
	r.setState(SettlementStateRequested)

	log := logging.With(ctx, r.log)
	defer logging.TraceDuration(log, "Reconciler.Pay")()

	r.setState(SettlementStateCreating)
	rec, err := r.backend.CreateSubscription(ctx, req.TierID)
	if err != nil {
		return r.fail(log, nil, err)
	}

	attempt := &model.SettlementAttempt{
		ID:             ulid.Make().String(),
		SubscriptionID: rec.ID,
		Outcome:        model.SettlementInProgress,
	}
	r.mu.Lock()
	r.attempt = attempt
	r.mu.Unlock()
	log = logging.With(logging.WithAttemptID(ctx, attempt.ID), r.log)

	r.setState(SettlementStateCheckingBalance)
	balance, err := r.backend.Balance(ctx)
	if err != nil {
		return r.fail(log, attempt, err)
	}

	var settled model.SettlementOutcome
	if balance >= rec.Price {
		// The server deducts from the pre-funded balance on its own; the
		// wallet is never involved.
		r.setState(SettlementStatePendingAtServer)
		settled = model.SettlementPaidFromBalance
		log.Debug().Int64("balance", balance).Int64("price", rec.Price).Msg("settling from balance")
	} else {
		fee := model.WalletFee(rec.Price)
		attempt.FeeLovelace = fee
		r.setState(SettlementStatePayingFromWallet)
		log.Debug().Int64("fee_lovelace", fee).Msg("requesting wallet payment")

		txID, err := r.wallet.RequestPayment(ctx, snap.Handle, fee, snap.Identity.Address)
		if err != nil {
			// No automatic retry: the user must re-initiate.
			return r.fail(log, attempt, err)
		}
		attempt.TransactionID = txID
		settled = model.SettlementPaidFromWallet
		log.Info().Str("tx_id", txID).Msg("wallet payment submitted")
	}

	r.setState(SettlementStatePolling)
	if err := r.poll(ctx, rec.ID); err != nil {
		return r.fail(log, attempt, err)
	}

	attempt.Outcome = settled
	r.setState(SettlementStateSettled)
	metrics.IncSettlementOutcome(string(settled))
	r.sink.SettlementFinished(*attempt)
	log.Info().Str("outcome", string(settled)).Msg("subscription settled")
	return attempt, nil
}

// poll re-fetches the subscription list until the record is active with an
// end date still in the future. Unexpected states keep polling: server-side
// settlement may lag, and treating them as failures would break eventual
// settlement of an asynchronous payment pipeline.
func (r *SettlementReconciler) poll(ctx context.Context, subscriptionID string) error {
	settled, err := r.checkOnce(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if settled {
		return nil
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if r.pollDeadline > 0 {
		timer := time.NewTimer(r.pollDeadline)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return domain.E(domain.KindTransport, "settlement was not confirmed in time", nil)
		case <-ticker.C:
			settled, err := r.checkOnce(ctx, subscriptionID)
			if err != nil {
				return err
			}
			if settled {
				return nil
			}
		}
	}
}

func (r *SettlementReconciler) checkOnce(ctx context.Context, subscriptionID string) (bool, error) {
	metrics.IncSettlementPoll()
	recs, err := r.backend.ListSubscriptions(ctx)
	if err != nil {
		return false, err
	}
	for i := range recs {
		if recs[i].ID == subscriptionID {
			return recs[i].Settled(time.Now()), nil
		}
	}
	return false, nil
}

func (r *SettlementReconciler) setState(s SettlementState) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()
	r.sink.SettlementStateChanged(s)
}

// fail marks the attempt failed. Cancellation sends no final notification;
// real failures surface one classified notice.
func (r *SettlementReconciler) fail(log *zerolog.Logger, attempt *model.SettlementAttempt, err error) (*model.SettlementAttempt, error) {
	if attempt != nil {
		attempt.Outcome = model.SettlementFailed
	}
	if domain.Canceled(err) {
		log.Debug().Msg("settlement: cancelled")
		r.setState(SettlementStateIdle)
		return attempt, err
	}

	ce := domain.Classify(err)
	r.setState(SettlementStateFailed)
	metrics.IncSettlementOutcome(string(model.SettlementFailed))
	r.sink.SettlementFailed(ce)
	log.Warn().Str("kind", string(ce.Kind)).Err(err).Msg("settlement failed")

	// Each failure owns its notice window; a timer left over from an earlier
	// failure must not clear this one.
	r.mu.Lock()
	r.failGen++
	gen := r.failGen
	r.mu.Unlock()
	time.AfterFunc(r.noticeWindow, func() { r.expireFailure(gen) })
	return attempt, ce
}

func (r *SettlementReconciler) expireFailure(gen uint64) {
	r.mu.Lock()
	if r.state != SettlementStateFailed || r.failGen != gen {
		r.mu.Unlock()
		return
	}
	r.state = SettlementStateIdle
	r.mu.Unlock()
	r.sink.SettlementStateChanged(SettlementStateIdle)
}
