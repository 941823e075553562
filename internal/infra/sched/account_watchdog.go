// Package sched hosts the background consistency tasks.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	"cardano-subscription-wallet/internal/infra/metrics"
)

// AddressReader is the slice of the wallet port the watchdog needs.
type AddressReader interface {
	ChangeAddressRaw(ctx context.Context, h adapter.WalletHandle) ([]byte, error)
}

// SessionView is the read-only session access the watchdog needs.
type SessionView interface {
	Identity() *model.Identity
	Handle() adapter.WalletHandle
}

// Invalidator forces the session down when drift is detected.
type Invalidator interface {
	ForceDisconnect(ctx context.Context, reason string) error
}

// AccountWatchdog re-reads the wallet's change address on a fixed cadence
// and compares it against the session identity. A mismatch means the user
// switched accounts inside the extension: the session is invalidated and the
// loop ends. The watchdog runs only while a session is connected; Stop
// cancels any in-flight wallet read immediately.
type AccountWatchdog struct {
	wallet     AddressReader
	session    SessionView
	resolve    func(raw []byte) (string, error)
	invalidate Invalidator
	cadence    time.Duration
	log        *zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewAccountWatchdog(
	wallet AddressReader,
	session SessionView,
	resolve func(raw []byte) (string, error),
	invalidate Invalidator,
	cadence time.Duration,
	log *zerolog.Logger,
) *AccountWatchdog {
	if cadence <= 0 {
		cadence = 3 * time.Second
	}
	return &AccountWatchdog{
		wallet:     wallet,
		session:    session,
		resolve:    resolve,
		invalidate: invalidate,
		cadence:    cadence,
		log:        log,
	}
}

// Start begins the drift loop in a background goroutine. Starting an
// already-running watchdog has no effect.
func (w *AccountWatchdog) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	w.running = true
	w.cancel = cancel
	w.done = done

	go w.loop(ctx, done)
}

// Stop cancels the loop, interrupting a suspended wallet read, and waits for
// it to finish. It is idempotent.
func (w *AccountWatchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *AccountWatchdog) loop(ctx context.Context, done chan struct{}) {
	// running clears before done closes so a Start right after Stop is
	// never skipped.
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(w.cadence)
	defer ticker.Stop()

	w.log.Debug().Dur("cadence", w.cadence).Msg("account watchdog started")
	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("account watchdog stopped")
			return
		case <-ticker.C:
			if w.tick(ctx) {
				return
			}
		}
	}
}

// tick returns true when the loop should end: either the session is gone or
// drift was detected and the session was invalidated.
func (w *AccountWatchdog) tick(ctx context.Context) bool {
	identity := w.session.Identity()
	handle := w.session.Handle()
	if identity == nil || handle == nil {
		return true
	}

	raw, err := w.wallet.ChangeAddressRaw(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// The wallet may be busy with a prompt; drift can only be judged on
		// a successful read.
		w.log.Warn().Err(err).Msg("watchdog: change address read failed")
		return false
	}
	current, err := w.resolve(raw)
	if err != nil {
		w.log.Warn().Err(err).Msg("watchdog: address resolution failed")
		return false
	}

	if current == identity.Address {
		return false
	}

	metrics.IncWatchdogInvalidation()
	w.log.Warn().Msg("watchdog: wallet account changed externally")
	if err := w.invalidate.ForceDisconnect(ctx, "wallet account was switched"); err != nil {
		w.log.Error().Err(err).Msg("watchdog: forced disconnect failed")
	}
	return true
}
