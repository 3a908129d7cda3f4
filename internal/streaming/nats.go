package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"walletguard-lab/internal/config"
	"walletguard-lab/pkg/logger"
)

const (
	defaultStreamName = "WALLETGUARD_EMERGENCIES"
	subjectRoot       = "guard"
)

var ErrNATSNotConnected = errors.New("NATS not connected")

// NATSPublisher publishes emergency notifications to NATS JetStream
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config config.NATSConfig
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNATSPublisher connects to NATS and creates or updates the stream
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = defaultStreamName
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("walletguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Wallet guard emergency notifications",
		Subjects:    []string{subjectRoot + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     100000,
		MaxBytes:    64 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("NATS stream ready")

	return &NATSPublisher{
		conn:      conn,
		js:        js,
		stream:    stream,
		config:    cfg,
		logger:    log,
		connected: true,
	}, nil
}

// Close closes the NATS connection
func (p *NATSPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.connected = false
	}
}

// IsConnected returns whether NATS is connected
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn != nil && p.conn.IsConnected()
}

// PublishNotification publishes a notification with JetStream acknowledgement
func (p *NATSPublisher) PublishNotification(ctx context.Context, n *EmergencyNotification) error {
	if !p.IsConnected() {
		return ErrNATSNotConnected
	}

	subject := SubjectFor(n)
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("session_id", n.SessionID).
		Str("event_id", n.Event.ID).
		Msg("published emergency notification")

	return nil
}

// SubjectFor returns guard.<change>.<severity> for a notification
func SubjectFor(n *EmergencyNotification) string {
	severity := string(n.Severity)
	if severity == "" {
		severity = "unknown"
	}
	return fmt.Sprintf("%s.%s.%s", subjectRoot, n.Change, severity)
}

// subscriptionSubject narrows the consumer filter when a single change is requested
func subscriptionSubject(sub *Subscription) string {
	if sub == nil || len(sub.Changes) != 1 {
		return subjectRoot + ".>"
	}
	return fmt.Sprintf("%s.%s.*", subjectRoot, sub.Changes[0])
}

// Subscribe consumes new notifications matching sub until ctx is done
func (p *NATSPublisher) Subscribe(ctx context.Context, sub *Subscription) (<-chan *EmergencyNotification, error) {
	if !p.IsConnected() {
		return nil, ErrNATSNotConnected
	}

	consumer, err := p.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		FilterSubject: subscriptionSubject(sub),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgs, err := consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages iterator: %w", err)
	}

	out := make(chan *EmergencyNotification, subscriberBuffer)

	// Next blocks, so stopping the iterator is what unblocks the loop
	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	go func() {
		defer close(out)

		for {
			msg, err := msgs.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					return
				}
				p.logger.Warn().Err(err).Msg("error getting next message")
				continue
			}

			var n EmergencyNotification
			if err := json.Unmarshal(msg.Data(), &n); err != nil {
				p.logger.Warn().Err(err).Msg("failed to unmarshal notification")
				_ = msg.Term()
				continue
			}

			if !sub.Matches(&n) {
				_ = msg.Ack()
				continue
			}

			select {
			case out <- &n:
				_ = msg.Ack()
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
