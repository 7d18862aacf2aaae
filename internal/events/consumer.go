package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMalformedMessage = errors.New("malformed stream message")

// StreamClient is the subset of the redis client a consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// StreamEvent is one relayed outbox event as read back from the stream.
type StreamEvent struct {
	MessageID     string          `json:"-"`
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

type Handler func(ctx context.Context, event *StreamEvent) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Block  time.Duration
	Count  int64
}

// Consumer reads events from a stream as part of a consumer group and
// dispatches them by type. Messages are acknowledged once handled; a handler
// error leaves the message pending for redelivery.
type Consumer struct {
	client   StreamClient
	cfg      ConsumerConfig
	handlers map[EventType]Handler
	logger   *slog.Logger
}

func NewConsumer(client StreamClient, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 10
	}
	return &Consumer{
		client:   client,
		cfg:      cfg,
		handlers: make(map[EventType]Handler),
		logger:   logger.With("component", "event_consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
}

func (c *Consumer) Handle(t EventType, h Handler) {
	c.handlers[t] = h
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "consumer", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	event, err := DecodeMessage(msg)
	if err != nil {
		// Redelivery cannot fix a bad message.
		c.logger.Error("dropping message", "message_id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}

	if h, ok := c.handlers[event.Type]; ok {
		if err := h(ctx, event); err != nil {
			c.logger.Error("failed to handle event",
				"message_id", msg.ID,
				"event_type", event.Type,
				"error", err)
			return
		}
	}

	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "message_id", id, "error", err)
	}
}

// DecodeMessage unpacks the "data" envelope the relay writes.
func DecodeMessage(msg redis.XMessage) (*StreamEvent, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing data field", ErrMalformedMessage)
	}

	var event StreamEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedMessage)
	}

	event.MessageID = msg.ID
	return &event, nil
}

// LogKeywordRuns returns a handler that logs each completed keyword run with
// its best ranked product.
func LogKeywordRuns(logger *slog.Logger) Handler {
	return func(ctx context.Context, event *StreamEvent) error {
		var p KeywordRunCompletedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode keyword run payload: %w", err)
		}

		attrs := []any{
			"keyword_run_id", p.KeywordRunID,
			"keyword", p.Keyword,
			"country", p.Country,
			"status", p.Status,
			"products", p.Total,
			"ranks_found", p.RanksFound,
		}
		if best := BestRanked(p.Products); best != nil {
			attrs = append(attrs, "best_asin", best.ASIN, "best_rank", *best.PrimaryRank, "best_category", best.PrimaryCategory)
		}
		if p.Error != "" {
			attrs = append(attrs, "error", p.Error)
		}

		logger.Info("keyword run completed", attrs...)
		return nil
	}
}

func LogRunSummaries(logger *slog.Logger) Handler {
	return func(ctx context.Context, event *StreamEvent) error {
		var p RunCompletedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode run payload: %w", err)
		}

		s := p.Summary
		logger.Info("run completed",
			"run_id", s.RunID,
			"country", s.Country,
			"keywords", s.KeywordsTotal,
			"succeeded", s.KeywordsSucceeded,
			"failed", s.KeywordsFailed,
			"products", s.ProductsTotal)
		return nil
	}
}

// BestRanked returns the product with the lowest primary rank, nil if none
// has one.
func BestRanked(products []RankedProduct) *RankedProduct {
	var best *RankedProduct
	for i := range products {
		p := &products[i]
		if p.PrimaryRank == nil {
			continue
		}
		if best == nil || *p.PrimaryRank < *best.PrimaryRank {
			best = p
		}
	}
	return best
}
