package api

import (
	"sync"
	"time"

	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/domain/model"
	"cardano-subscription-wallet/internal/usecase"
)

// Event is one observable transition or notice, as exposed on GET /events.
type Event struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
}

// EventLog keeps the most recent events in a bounded buffer so the control
// API can expose what the use cases signalled. It is the Sink the binaries
// hand to the negotiator and the reconciler.
type EventLog struct {
	mu     sync.Mutex
	seq    uint64
	events []Event
	cap    int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventLog{cap: capacity}
}

func (e *EventLog) push(typ, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.events = append(e.events, Event{Seq: e.seq, At: time.Now(), Type: typ, Detail: detail})
	if len(e.events) > e.cap {
		e.events = e.events[len(e.events)-e.cap:]
	}
}

// Since returns the events with a sequence number greater than after.
func (e *EventLog) Since(after uint64) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

var _ usecase.Sink = (*EventLog)(nil)

func (e *EventLog) ConnectStateChanged(s usecase.ConnectState) {
	e.push("connect_state", string(s))
}

func (e *EventLog) SettlementStateChanged(s usecase.SettlementState) {
	e.push("settlement_state", string(s))
}

func (e *EventLog) Notice(msg string) {
	e.push("notice", msg)
}

func (e *EventLog) ConnectFailed(err *domain.Error) {
	e.push("connect_failed", err.UserMessage())
}

func (e *EventLog) AgreementRequired() {
	e.push("agreement_required", "")
}

func (e *EventLog) SettlementFinished(a model.SettlementAttempt) {
	e.push("settlement_finished", string(a.Outcome))
}

func (e *EventLog) SettlementFailed(err *domain.Error) {
	e.push("settlement_failed", err.UserMessage())
}

func (e *EventLog) SessionInvalidated(reason string) {
	e.push("session_invalidated", reason)
}
