// Package events defines the structured settlement event records emitted
// for audit and observability. Sinks are fire-and-forget collaborators:
// settlement correctness never depends on a sink being present or fast.
package events

import (
	"sync"
	"time"
)

// Type identifies a settlement lifecycle event.
type Type string

const (
	// TypeValidationFailed is emitted when a settle attempt is rejected
	// before any state changes.
	TypeValidationFailed Type = "validation_failed"

	// TypeSettled is emitted once per successful settlement.
	TypeSettled Type = "settled"

	// TypeUnderlyingApprovalFailed records a best-effort approval failure
	// that did not abort the settlement.
	TypeUnderlyingApprovalFailed Type = "underlying_approval_failed"

	// TypeTransferOutcomeUnknown records an ambiguous transfer whose nonce
	// reservation is held pending reconciliation.
	TypeTransferOutcomeUnknown Type = "transfer_outcome_unknown"
)

// Event is a single settlement lifecycle record.
type Event struct {
	// Type is the event type.
	Type Type

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Network is the blockchain network identifier (CAIP-2 format).
	Network string

	// Scheme is the payment scheme (e.g., "exact").
	Scheme string

	// Owner is the payer address.
	Owner string

	// Destination is the payment recipient address.
	Destination string

	// Asset is the token/asset address or identifier.
	Asset string

	// Amount is the settlement amount in atomic units.
	Amount string

	// Nonce is the owner-scoped authorization nonce.
	Nonce uint64

	// Reason contains the rejection or failure reason code, if any.
	Reason string

	// Detail carries human-readable context for the reason code, if any.
	Detail string

	// Reference is the settlement reference (available on success).
	Reference string
}

// Sink receives settlement events. Implementations are invoked
// synchronously during settlement, so they should be fast; queue or spawn
// internally for anything slower.
type Sink interface {
	Emit(Event)
}

// Callback adapts a plain function into a Sink.
type Callback func(Event)

func (c Callback) Emit(e Event) { c(e) }

// Memory is a Sink that records events in order, for tests and debugging.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a snapshot of all recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType returns recorded events of one type, in emission order.
func (m *Memory) ByType(t Type) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
