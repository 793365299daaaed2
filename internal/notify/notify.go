// Package notify dispatches fire-and-forget notifications for procurement
// state transitions. Delivery is best-effort: emitters report errors for
// logging but callers never fail a workflow over them.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// EventType classifies notifications.
type EventType string

const (
	EventConsolidationCreated EventType = "consolidation.created"
	EventOrderCreated         EventType = "order.created"
	EventLargeOrder           EventType = "order.large"
	EventOrderCompleted       EventType = "order.completed"
	EventOrderAnnulled        EventType = "order.annulled"
	EventOrderReopened        EventType = "order.reopened"
	EventLowStock             EventType = "stock.low"
)

// Event is one notification to dispatch.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Type        EventType      `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Recipients  []int64        `json:"recipients,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Emitter dispatches events.
type Emitter interface {
	Notify(ctx context.Context, evt Event) error
}
