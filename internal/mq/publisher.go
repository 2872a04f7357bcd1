package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/septivank/pawtelligent-feeder/internal/metrics"
	"github.com/septivank/pawtelligent-feeder/internal/schedule"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when feed-now commands arrive too fast
var ErrRateLimited = errors.New("feed command rate limited")

// Transport is the send side of the broker connection
type Transport interface {
	IsConnected() bool
	Send(ctx context.Context, topic string, payload []byte) error
}

// FeedCommand asks the device to dispense immediately
type FeedCommand struct {
	Amount int `json:"amount"`
}

// DeleteCommand removes a schedule slot from the device
type DeleteCommand struct {
	Time string `json:"time"`
}

// ScheduleCommand replaces the whole device schedule
type ScheduleCommand struct {
	Schedule []schedule.Entry `json:"schedule"`
}

// Publisher handles command publishing to the device
type Publisher struct {
	transport   Transport
	feedLimiter *rate.Limiter
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewPublisher creates a new publisher. feedLimiter may be nil.
func NewPublisher(transport Transport, feedLimiter *rate.Limiter, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		transport:   transport,
		feedLimiter: feedLimiter,
		logger:      logger,
		metrics:     m,
	}
}

// IsConnected reports whether commands can currently be delivered
func (p *Publisher) IsConnected() bool {
	return p.transport.IsConnected()
}

// Publish sends message on topic. Strings and byte slices are sent as-is,
// anything else is JSON encoded. While disconnected the command is dropped
// and ErrNotConnected returned; nothing is queued.
func (p *Publisher) Publish(ctx context.Context, topic string, message any) error {
	if !p.transport.IsConnected() {
		p.logger.Error("broker not connected, dropping command", zap.String("topic", topic))
		p.metrics.CommandsDropped.WithLabelValues(topic, "not_connected").Inc()
		return ErrNotConnected
	}

	body, err := encodePayload(message)
	if err != nil {
		p.logger.Error("failed to encode command", zap.String("topic", topic), zap.Error(err))
		p.metrics.CommandsDropped.WithLabelValues(topic, "encode").Inc()
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	if err := p.transport.Send(ctx, topic, body); err != nil {
		p.logger.Error("failed to publish command", zap.String("topic", topic), zap.Error(err))
		p.metrics.CommandsDropped.WithLabelValues(topic, "transport").Inc()
		return fmt.Errorf("failed to publish command: %w", err)
	}

	p.metrics.CommandsPublished.WithLabelValues(topic).Inc()
	p.logger.Debug("published command",
		zap.String("topic", topic),
		zap.Int("body_size", len(body)),
	)

	return nil
}

// FeedNow asks the device to dispense amount grams right away
func (p *Publisher) FeedNow(ctx context.Context, amount int) error {
	if p.feedLimiter != nil && !p.feedLimiter.Allow() {
		p.logger.Warn("feed command rate limited", zap.Int("amount", amount))
		p.metrics.CommandsDropped.WithLabelValues(TopicFeed, "rate_limited").Inc()
		return ErrRateLimited
	}
	return p.Publish(ctx, TopicFeed, FeedCommand{Amount: amount})
}

// UpdateSchedule publishes a caller-built schedule payload unchanged
func (p *Publisher) UpdateSchedule(ctx context.Context, scheduleData any) error {
	return p.Publish(ctx, TopicSchedule, scheduleData)
}

// UpdateFullSchedule replaces the device schedule with entries
func (p *Publisher) UpdateFullSchedule(ctx context.Context, entries []schedule.Entry) error {
	if entries == nil {
		entries = []schedule.Entry{}
	}
	return p.Publish(ctx, TopicSchedule, ScheduleCommand{Schedule: entries})
}

// AddMealSchedule announces a new schedule slot
func (p *Publisher) AddMealSchedule(ctx context.Context, entry schedule.Entry) error {
	return p.Publish(ctx, TopicScheduleAdd, entry)
}

// ToggleMealSchedule announces a slot being enabled or disabled
func (p *Publisher) ToggleMealSchedule(ctx context.Context, entry schedule.Entry) error {
	return p.Publish(ctx, TopicScheduleToggle, entry)
}

// DeleteMealSchedule removes the slot at alarm time
func (p *Publisher) DeleteMealSchedule(ctx context.Context, alarm string) error {
	return p.Publish(ctx, TopicScheduleDelete, DeleteCommand{Time: alarm})
}

func encodePayload(message any) ([]byte, error) {
	switch v := message.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
