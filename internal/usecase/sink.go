package usecase

import (
	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
)

// Sink is the UI boundary. The state machines push state changes and
// transient notifications into it; the UI renders them and never talks back
// through this interface.
type Sink interface {
	ConnectStateChanged(s ConnectState)
	SettlementStateChanged(s SettlementState)

	// Notice is an informational message, auto-dismissed by the UI.
	Notice(message string)
	// ConnectFailed carries a classified connect failure; the negotiator
	// clears it after the configured display window.
	ConnectFailed(e *domain.Error)
	// AgreementRequired asks the UI to present the usage agreement.
	AgreementRequired()

	SettlementFinished(a model.SettlementAttempt)
	SettlementFailed(e *domain.Error)

	// SessionInvalidated reports a forced logout, e.g. the wallet account
	// was switched externally.
	SessionInvalidated(reason string)
}

// NoopSink discards everything; useful for tests and headless wiring.
type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

func (NoopSink) ConnectStateChanged(ConnectState)           {}
func (NoopSink) SettlementStateChanged(SettlementState)     {}
func (NoopSink) Notice(string)                              {}
func (NoopSink) ConnectFailed(*domain.Error)                {}
func (NoopSink) AgreementRequired()                         {}
func (NoopSink) SettlementFinished(model.SettlementAttempt) {}
func (NoopSink) SettlementFailed(*domain.Error)             {}
func (NoopSink) SessionInvalidated(string)                  {}
