package streaming

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"walletguard-lab/pkg/logger"
)

const subscriberBuffer = 100

type subscriber struct {
	ch  chan *EmergencyNotification
	sub *Subscription
}

// EventBus distributes emergency notifications to local subscribers and,
// when connected, to other instances through NATS
type EventBus struct {
	nats   *NATSPublisher
	origin string
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// NewEventBus creates a new event bus. nats may be nil.
func NewEventBus(nats *NATSPublisher, log *logger.Logger) *EventBus {
	return &EventBus{
		nats:        nats,
		origin:      uuid.New().String(),
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[string]*subscriber),
	}
}

// Publish sends a notification to NATS (if available) and all local subscribers
func (eb *EventBus) Publish(ctx context.Context, n *EmergencyNotification) error {
	n.Origin = eb.origin

	if eb.nats != nil && eb.nats.IsConnected() {
		if err := eb.nats.PublishNotification(ctx, n); err != nil {
			eb.logger.Warn().Err(err).Msg("failed to publish to NATS, using local broadcast only")
		}
	}

	eb.broadcast(n)
	return nil
}

func (eb *EventBus) broadcast(n *EmergencyNotification) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, s := range eb.subscribers {
		if !s.sub.Matches(n) {
			continue
		}
		select {
		case s.ch <- n:
		default:
			eb.logger.Debug().Str("subscriber", id).Msg("subscriber channel full, dropping event")
		}
	}
}

// Subscribe creates a new subscription and returns a channel for notifications
// together with its unsubscribe function
func (eb *EventBus) Subscribe(ctx context.Context, sub *Subscription) (<-chan *EmergencyNotification, func()) {
	id := uuid.New().String()
	s := &subscriber{
		ch:  make(chan *EmergencyNotification, subscriberBuffer),
		sub: sub,
	}

	eb.mu.Lock()
	eb.subscribers[id] = s
	eb.mu.Unlock()

	eb.logger.Debug().Str("subscriber_id", id).Msg("new subscriber")

	forwardCtx, stopForward := context.WithCancel(ctx)
	unsubscribe := func() {
		stopForward()
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := eb.subscribers[id]; ok {
			close(s.ch)
			delete(eb.subscribers, id)
			eb.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
		}
	}

	// notifications from other instances arrive through NATS
	if eb.nats != nil && eb.nats.IsConnected() {
		natsCh, err := eb.nats.Subscribe(forwardCtx, sub)
		if err != nil {
			eb.logger.Warn().Err(err).Msg("failed to subscribe to NATS")
		} else {
			go eb.forward(forwardCtx, id, natsCh)
		}
	}

	return s.ch, unsubscribe
}

func (eb *EventBus) forward(ctx context.Context, id string, in <-chan *EmergencyNotification) {
	for n := range in {
		if n.Origin == eb.origin {
			continue
		}
		eb.mu.RLock()
		s, ok := eb.subscribers[id]
		if ok {
			select {
			case s.ch <- n:
			default:
			}
		}
		eb.mu.RUnlock()
		if !ok || ctx.Err() != nil {
			return
		}
	}
}

// IsRemote reports whether n was published by another instance
func (eb *EventBus) IsRemote(n *EmergencyNotification) bool {
	return n.Origin != "" && n.Origin != eb.origin
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close closes all subscriptions and the NATS connection
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, s := range eb.subscribers {
		close(s.ch)
		delete(eb.subscribers, id)
	}

	if eb.nats != nil {
		eb.nats.Close()
	}
}
