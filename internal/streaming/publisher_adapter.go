package streaming

import (
	"context"

	"walletguard-lab/internal/domain/models"
)

// EventBusPublisher implements services.EmergencyPublisher on top of the
// event bus and the WebSocket hub
type EventBusPublisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

// NewEventBusPublisher creates a new publisher adapter. Either side may be nil.
func NewEventBusPublisher(eventBus *EventBus, wsHub *WebSocketHub) *EventBusPublisher {
	return &EventBusPublisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

// PublishEmergency fans a state machine change out to all subscribers
func (p *EventBusPublisher) PublishEmergency(ctx context.Context, sessionID string, change models.EmergencyChange, event models.EmergencyEvent) error {
	n := NewEmergencyNotification(sessionID, change, event)

	if p.eventBus != nil {
		if err := p.eventBus.Publish(ctx, n); err != nil {
			return err
		}
	}

	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(n)
	}

	return nil
}
