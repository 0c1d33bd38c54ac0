// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pulsefeed/internal/config"
	"github.com/tomtom215/pulsefeed/internal/metrics"
)

// Publisher is the write side of the engagement stream: a Watermill NATS
// publisher behind a circuit breaker. Message UUIDs double as Nats-Msg-Id
// so JetStream deduplicates retransmissions inside the duplicate window.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[any]
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewPublisher creates a resilient JetStream publisher. The stream must
// already exist (see StreamInitializer).
func NewPublisher(cfg *config.NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "events-publisher",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Publish circuit state changed", watermill.LogFields{
				"breaker": name, "from": from.String(), "to": to.String(),
			})
		},
	})

	return &Publisher{publisher: pub, circuitBreaker: cb, logger: logger}, nil
}

// Publish sends a message with circuit breaker protection.
func (p *Publisher) Publish(_ context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	_, err := p.circuitBreaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(topic, msg)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.EventsPublished.WithLabelValues(topic, outcome).Inc()
	return err
}

// PublishInteraction serializes and publishes an interaction event.
func (p *Publisher) PublishInteraction(ctx context.Context, ev *InteractionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	data, err := SerializeInteraction(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ev.EventID, data)
	msg.Metadata.Set("kind", ev.Kind)
	return p.Publish(ctx, TopicInteractions, msg)
}

// PublishCounterChanged serializes and publishes a counter notification.
// The message UUID carries item and revision so a retransmitted toggle
// result deduplicates on the stream.
func (p *Publisher) PublishCounterChanged(ctx context.Context, c *CounterChanged) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := SerializeCounterChanged(c)
	if err != nil {
		return err
	}
	msg := message.NewMessage(fmt.Sprintf("%s-r%d", c.ItemID, c.Revision), data)
	msg.Metadata.Set("item_id", c.ItemID)
	return p.Publish(ctx, TopicCounters, msg)
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
