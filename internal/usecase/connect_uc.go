package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	"cardano-subscription-wallet/internal/infra/logging"
	"cardano-subscription-wallet/internal/infra/metrics"
	"cardano-subscription-wallet/internal/session"
)

// ConnectState is the negotiator's observable state.
type ConnectState string

const (
	StateIdle            ConnectState = "idle"
	StateDiscovering     ConnectState = "discovering"
	StateEnabling        ConnectState = "enabling"
	StateFetchingNetwork ConnectState = "fetching-network"
	StateDerivingAddress ConnectState = "deriving-address"
	StateSyncingProfile  ConnectState = "syncing-profile"
	StateConnected       ConnectState = "connected"
	StateError           ConnectState = "error"
	StateDisconnected    ConnectState = "disconnected"
)

// Resolver converts raw change-address bytes to the canonical textual form.
type Resolver func(raw []byte) (string, error)

// Watcher is the background consistency check the negotiator owns: started
// when the session reaches Connected, stopped on any teardown so no poll can
// outlive the session.
type Watcher interface {
	Start(ctx context.Context)
	Stop()
}

// ConnectionNegotiator drives discovery, enable, network check, address
// derivation and profile sync. One attempt at a time: a second Connect while
// one is in flight is rejected through an explicit flag, and every failure
// returns the machine to a re-enterable state.
type ConnectionNegotiator struct {
	wallet  adapter.WalletAdapter
	backend adapter.Backend
	session *session.Store
	resolve Resolver
	sink    Sink
	watcher Watcher
	log     *zerolog.Logger

	// errorWindow is how long the Error state stays visible before the
	// machine returns to Discovering.
	errorWindow time.Duration

	inFlight atomic.Bool

	mu                sync.Mutex
	state             ConnectState
	lastErr           *domain.Error
	errGen            uint64
	awaitingAgreement bool
}

func NewConnectionNegotiator(
	wallet adapter.WalletAdapter,
	backend adapter.Backend,
	sess *session.Store,
	resolve Resolver,
	sink Sink,
	log *zerolog.Logger,
	errorWindow time.Duration,
) *ConnectionNegotiator {
	if sink == nil {
		sink = NoopSink{}
	}
	if errorWindow <= 0 {
		errorWindow = 3 * time.Second
	}
	return &ConnectionNegotiator{
		wallet:      wallet,
		backend:     backend,
		session:     sess,
		resolve:     resolve,
		sink:        sink,
		log:         log,
		errorWindow: errorWindow,
		state:       StateIdle,
	}
}

// SetWatcher attaches the account watchdog lifecycle; optional.
func (n *ConnectionNegotiator) SetWatcher(w Watcher) { n.watcher = w }

func (n *ConnectionNegotiator) State() ConnectState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *ConnectionNegotiator) LastError() *domain.Error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastErr
}

// Discover is the connect affordance opening: it lists the installed
// providers and moves Idle to Discovering. An empty result is not an error;
// the UI shows "no wallet installed".
func (n *ConnectionNegotiator) Discover(ctx context.Context) []string {
	n.mu.Lock()
	if n.state == StateIdle || n.state == StateDisconnected || n.state == StateError {
		n.state = StateDiscovering
		n.lastErr = nil
		n.mu.Unlock()
		n.sink.ConnectStateChanged(StateDiscovering)
	} else {
		n.mu.Unlock()
	}

	available := n.wallet.ListAvailable(ctx)
	if len(available) == 0 {
		n.sink.Notice("No wallet extensions installed yet!")
	}
	return available
}

// Connect runs the full negotiation for the selected provider. It suspends
// on every wallet and network call; cancelling ctx (the user closed the
// dialog) aborts the sequence and returns to Discovering without a notice.
func (n *ConnectionNegotiator) Connect(ctx context.Context, provider string) error {
	if !n.inFlight.CompareAndSwap(false, true) {
		return domain.ErrConnectInFlight
	}
	defer n.inFlight.Store(false)

	ctx = logging.WithProvider(ctx, provider)
	log := logging.With(ctx, n.log)
	defer logging.TraceDuration(log, "Negotiator.Connect")()
	metrics.IncConnectAttempt(provider)
	start := time.Now()

	// Re-enabling an already-connected provider must not duplicate session
	// side effects.
	n.mu.Lock()
	if n.state == StateConnected {
		id := n.session.Identity()
		if id != nil && id.WalletName == provider {
			n.mu.Unlock()
			log.Debug().Msg("connect: already connected to this provider")
			return nil
		}
	}
	n.awaitingAgreement = false
	n.mu.Unlock()

	n.setState(StateEnabling)
	handle, err := n.wallet.Enable(ctx, provider)
	if err != nil {
		return n.fail(log, provider, err)
	}

	n.setState(StateFetchingNetwork)
	networkID, err := n.wallet.NetworkID(ctx, handle)
	if err != nil {
		return n.fail(log, provider, err)
	}
	// Persisted immediately: reconnection attempts need the last known
	// network even when later steps fail.
	n.session.SetNetwork(networkID)

	n.setState(StateDerivingAddress)
	raw, err := n.wallet.ChangeAddressRaw(ctx, handle)
	if err != nil {
		return n.fail(log, provider, err)
	}
	addr, err := n.resolve(raw)
	if err != nil {
		return n.fail(log, provider, err)
	}

	n.setState(StateSyncingProfile)
	profile, err := n.backend.FetchProfile(ctx, addr, provider)
	if err != nil {
		// A rejected profile sync leaves no trace: durable caches go too.
		if !domain.Canceled(err) {
			if clearErr := n.session.Clear(context.WithoutCancel(ctx)); clearErr != nil {
				log.Error().Err(clearErr).Msg("connect: session clear after profile failure")
			}
		}
		return n.fail(log, provider, err)
	}

	identity := model.Identity{Address: addr, NetworkID: networkID, WalletName: provider}
	n.session.SetIdentity(ctx, identity, handle)
	n.session.SetProfile(*profile)
	metrics.ObserveConnectDuration(time.Since(start).Seconds())
	log.Info().Str("address", logging.Redact(addr, false)).Int("network_id", networkID).Msg("wallet connected")

	if !profile.AgreementAccepted() {
		n.mu.Lock()
		n.awaitingAgreement = true
		n.mu.Unlock()
		// Side signal: the machine stays on the SyncingProfile success path
		// until the user answers the agreement.
		n.sink.AgreementRequired()
		return nil
	}

	n.complete(ctx)
	return nil
}

// AcceptAgreement finishes a negotiation that paused on the usage agreement.
func (n *ConnectionNegotiator) AcceptAgreement(ctx context.Context) error {
	n.mu.Lock()
	if !n.awaitingAgreement {
		n.mu.Unlock()
		return errors.New("no agreement is pending")
	}
	n.mu.Unlock()

	log := logging.With(ctx, n.log)
	id := n.session.Identity()
	if id == nil {
		return domain.ErrNotConnected
	}
	if err := n.backend.AcceptAgreement(ctx); err != nil {
		return n.fail(log, id.WalletName, err)
	}

	profile, err := n.backend.FetchProfile(ctx, id.Address, id.WalletName)
	if err != nil {
		return n.fail(log, id.WalletName, err)
	}
	n.session.SetProfile(*profile)

	n.mu.Lock()
	n.awaitingAgreement = false
	n.mu.Unlock()
	n.complete(ctx)
	return nil
}

// DeclineAgreement tears the pending session down; declining the agreement
// means the wallet never reaches Connected.
func (n *ConnectionNegotiator) DeclineAgreement(ctx context.Context) error {
	n.mu.Lock()
	pending := n.awaitingAgreement
	n.awaitingAgreement = false
	n.mu.Unlock()
	if !pending {
		return nil
	}

	err := n.session.Clear(ctx)
	n.setState(StateDisconnected)
	n.sink.Notice("Agreement declined; wallet disconnected.")
	return err
}

// Logout is the explicit teardown from Connected.
func (n *ConnectionNegotiator) Logout(ctx context.Context) error {
	if n.watcher != nil {
		n.watcher.Stop()
	}
	err := n.session.Clear(ctx)
	n.mu.Lock()
	n.awaitingAgreement = false
	n.mu.Unlock()
	n.setState(StateDisconnected)
	return err
}

// ForceDisconnect invalidates the session from outside, e.g. when the
// watchdog detects that the wallet account changed. The watchdog terminates
// its own loop after calling this, so the watcher is not stopped here.
func (n *ConnectionNegotiator) ForceDisconnect(ctx context.Context, reason string) error {
	err := n.session.Clear(ctx)
	n.setState(StateDisconnected)
	n.sink.SessionInvalidated(reason)
	n.log.Warn().Str("reason", reason).Msg("session invalidated")
	return err
}

func (n *ConnectionNegotiator) complete(ctx context.Context) {
	n.setState(StateConnected)
	if n.watcher != nil {
		// The watchdog must outlive the connect dialog's context.
		n.watcher.Start(context.WithoutCancel(ctx))
	}
}

func (n *ConnectionNegotiator) setState(s ConnectState) {
	n.mu.Lock()
	if n.state == s {
		n.mu.Unlock()
		return
	}
	n.state = s
	n.mu.Unlock()
	n.sink.ConnectStateChanged(s)
}

// fail classifies err, surfaces it and schedules the return to Discovering
// after the display window. Context cancellation is the closed dialog, not a
// failure: the machine goes straight back to Discovering with no notice.
func (n *ConnectionNegotiator) fail(log *zerolog.Logger, provider string, err error) error {
	if domain.Canceled(err) {
		log.Debug().Msg("connect: cancelled")
		n.setState(StateDiscovering)
		return err
	}

	ce := domain.Classify(err)
	n.mu.Lock()
	n.state = StateError
	n.lastErr = ce
	// Each failure owns its display window; a timer left over from an
	// earlier failure must not clear this one.
	n.errGen++
	gen := n.errGen
	n.mu.Unlock()
	n.sink.ConnectStateChanged(StateError)
	n.sink.ConnectFailed(ce)
	metrics.IncConnectFailure(provider, string(ce.Kind))
	log.Warn().Str("kind", string(ce.Kind)).Err(err).Msg("connect failed")

	time.AfterFunc(n.errorWindow, func() { n.expireError(gen) })
	return ce
}

func (n *ConnectionNegotiator) expireError(gen uint64) {
	n.mu.Lock()
	if n.state != StateError || n.errGen != gen {
		n.mu.Unlock()
		return
	}
	n.state = StateDiscovering
	n.lastErr = nil
	n.mu.Unlock()
	n.sink.ConnectStateChanged(StateDiscovering)
}
