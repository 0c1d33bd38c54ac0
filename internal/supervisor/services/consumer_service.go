// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package services

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StreamRunner matches events.Subscriber's Run method: consume a topic
// until the context is canceled, invoking handler per message.
type StreamRunner interface {
	Run(ctx context.Context, topic string, handler func(ctx context.Context, msg *message.Message) error) error
}

// ConsumerService runs one stream consumer under supervision. If the
// subscription drops, suture restarts the service and JetStream resumes
// delivery from the consumer's last acknowledged message.
type ConsumerService struct {
	name    string
	runner  StreamRunner
	topic   string
	handler func(ctx context.Context, msg *message.Message) error
}

// NewConsumerService wraps a topic subscription. Two consumers run in
// production: the bandit reward consumer on the interactions topic and the
// realtime fanout consumer on the counters topic.
func NewConsumerService(name string, runner StreamRunner, topic string, handler func(ctx context.Context, msg *message.Message) error) *ConsumerService {
	return &ConsumerService{
		name:    name,
		runner:  runner,
		topic:   topic,
		handler: handler,
	}
}

// Serve implements suture.Service.
func (c *ConsumerService) Serve(ctx context.Context) error {
	if err := c.runner.Run(ctx, c.topic, c.handler); err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer %s failed: %w", c.name, err)
	}
	return ctx.Err()
}

func (c *ConsumerService) String() string { return c.name }
