// Package session holds the process-wide identity state: the connected
// wallet handle, the derived identity and the synced profile. Writes replace
// the snapshot whole so the watchdog and settlement pollers never observe a
// torn session.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/domain/ports/adapter"
	"cardano-subscription-wallet/internal/domain/ports/repository"
)

// Snapshot is one consistent view of the session. NetworkKnown distinguishes
// "network id zero" from "never fetched".
type Snapshot struct {
	Identity     *model.Identity
	Handle       adapter.WalletHandle
	Profile      *model.Profile
	NetworkID    int
	NetworkKnown bool
}

type Store struct {
	mu    sync.RWMutex
	snap  Snapshot
	creds repository.CredentialCache
	log   *zerolog.Logger
}

func New(creds repository.CredentialCache, log *zerolog.Logger) *Store {
	return &Store{creds: creds, log: log}
}

// Init resets the in-memory snapshot. Nothing is restored implicitly: a
// cached address is never trusted without re-validating against the wallet,
// so warm starts still go through the negotiator.
func (s *Store) Init() {
	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) Identity() *model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Identity
}

func (s *Store) Handle() adapter.WalletHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Handle
}

func (s *Store) Profile() *model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Profile
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Identity != nil && s.snap.Handle != nil
}

// SetNetwork records the wallet network id. It is written as soon as the
// negotiator fetches it, before address derivation, so reconnection attempts
// know the last known network even when later steps fail.
func (s *Store) SetNetwork(id int) {
	s.mu.Lock()
	next := s.snap
	next.NetworkID = id
	next.NetworkKnown = true
	s.snap = next
	s.mu.Unlock()
}

// SetIdentity installs the identity and takes ownership of the wallet handle,
// mirroring address and wallet name into the durable cache. A mirror write
// failure is logged but does not fail the session; the mirror is convenience
// only.
func (s *Store) SetIdentity(ctx context.Context, id model.Identity, h adapter.WalletHandle) {
	s.mu.Lock()
	next := s.snap
	next.Identity = &id
	next.Handle = h
	s.snap = next
	s.mu.Unlock()

	if err := s.creds.SaveIdentity(ctx, id.Address, id.WalletName); err != nil {
		s.log.Warn().Err(err).Msg("session: durable identity mirror write failed")
	}
}

// SetProfile replaces the synced profile.
func (s *Store) SetProfile(p model.Profile) {
	s.mu.Lock()
	next := s.snap
	next.Profile = &p
	s.snap = next
	s.mu.Unlock()
}

// Clear removes identity, handle, profile and the durable mirror together.
// It is idempotent and safe to call from any error path. The in-memory reset
// always happens; a durable clear failure is returned so callers never lose
// it silently.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()

	if err := s.creds.Clear(ctx); err != nil {
		s.log.Error().Err(err).Msg("session: durable credential clear failed")
		return err
	}
	return nil
}
