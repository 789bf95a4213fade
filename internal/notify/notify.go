// Package notify fans out domain events to interested operators. Events are
// advisory; producers fire and forget, and a failed dispatch never rolls back
// the business operation that raised it.
package notify

import (
	"context"
	"time"
)

// Event names raised by the engine.
const (
	EventOrderApproved      = "order.approved"
	EventOrderFulfilled     = "order.fulfilled"
	EventOrderCancelled     = "order.cancelled"
	EventTransferDispatched = "transfer.dispatched"
	EventTransferConfirmed  = "transfer.confirmed"
	EventTransferOverdue    = "transfer.overdue"
	EventReplenishCycle     = "replenish.cycle"
)

// Event is one notification payload.
type Event struct {
	Name string         `json:"name"`
	At   time.Time      `json:"at"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Dispatcher delivers events to their consumers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// NoopDispatcher drops every event. Used in tests and when no broker is
// configured.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, Event) error { return nil }
