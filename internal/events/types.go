package events

import "time"

// Kind enumerates event topics inside the trading core.
type Kind string

const (
	// Market data
	KindTick Kind = "tick"

	// Strategy
	KindSignal Kind = "signal"

	// Order lifecycle
	KindOrderSubmitted Kind = "order.submitted"
	KindOrderAccepted  Kind = "order.accepted"
	KindOrderRejected  Kind = "order.rejected"
	KindOrderCancelled Kind = "order.cancelled"

	// Fills
	KindFill Kind = "fill"

	// Positions
	KindPositionUpdated Kind = "position.updated"

	// Risk
	KindRiskViolation Kind = "risk.violation"

	// Reconciliation
	KindReconciliation Kind = "reconciliation"

	// System
	KindSystemStart Kind = "system.start"
	KindSystemStop  Kind = "system.stop"
	KindSystemError Kind = "system.error"
	KindHeartbeat   Kind = "heartbeat"
)

// Dispatch priorities. Lower values are delivered first; ties break FIFO.
const (
	PrioritySystem     = 0
	PriorityRisk       = 1
	PriorityFill       = 2
	PriorityOrder      = 3
	PrioritySignal     = 4
	PriorityMarketData = 5
	PriorityHeartbeat  = 9
)

// Event is one message on the bus. Immutable once published.
type Event struct {
	Priority  int
	Kind      Kind
	Timestamp time.Time
	Payload   any
	Source    string
}

// New builds an event stamped with the current time.
func New(priority int, kind Kind, source string, payload any) Event {
	return Event{
		Priority:  priority,
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
		Source:    source,
	}
}
