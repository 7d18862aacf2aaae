package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the redis client the relay needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the outbox storage the relay drains.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Relay forwards outbox events to their redis streams. A full batch is
// followed immediately by the next one; otherwise it waits PollInterval.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, m *metrics.Metrics, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		metrics:   m,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Run relays events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		relayed, failed, err := r.relayBatch(ctx)
		if err != nil {
			r.logger.Error("outbox poll failed", "error", err)
		} else if relayed+failed > 0 {
			r.logger.Info("outbox batch relayed", "relayed", relayed, "failed", failed)
		}

		next := r.interval
		if err == nil && relayed+failed == r.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

func (r *Relay) relayBatch(ctx context.Context) (relayed, failed int, err error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := r.relay(ctx, event); err != nil {
			failed++
			r.logger.Warn("event not relayed",
				"event_id", event.ID,
				"event_type", event.EventType,
				"retry_count", event.RetryCount,
				"error", err)
			continue
		}
		relayed++
	}
	return relayed, failed, nil
}

func (r *Relay) relay(ctx context.Context, event *OutboxEvent) error {
	args, err := streamArgs(event)
	if err == nil {
		err = r.redis.XAdd(ctx, args).Err()
		if err != nil {
			err = fmt.Errorf("failed to publish to redis: %w", err)
		}
	}
	if err != nil {
		r.metrics.IncOutbox("failed")
		if event.RetryCount+1 >= MaxRetryCount {
			r.metrics.IncOutbox("dead_letter")
		}
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		// Already on the stream; a later poll will deliver it again.
		return err
	}
	r.metrics.IncOutbox("relayed")
	return nil
}

type streamEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      streamMetadata  `json:"metadata"`
}

type streamMetadata struct {
	Source       string `json:"source"`
	OutboxID     string `json:"outbox_id"`
	RetryCount   int    `json:"retry_count"`
	TargetStream string `json:"target_stream"`
}

// streamArgs encodes event as a stream entry: the full envelope under "data"
// plus flat routing fields for consumers that filter without decoding.
func streamArgs(event *OutboxEvent) (*redis.XAddArgs, error) {
	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Metadata: streamMetadata{
			Source:       "amazon-rank-scraper",
			OutboxID:     event.ID.String(),
			RetryCount:   event.RetryCount,
			TargetStream: event.TargetStream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	return &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"data":           string(data),
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"original_id":    event.ID.String(),
		},
	}, nil
}

// Backlog reports how many events are waiting and how many were given up on.
func (r *Relay) Backlog(ctx context.Context) (pending, deadLetter int64, err error) {
	counts, err := r.outbox.CountByStatus(ctx)
	if err != nil {
		return 0, 0, err
	}
	return counts[OutboxStatusPending] + counts[OutboxStatusFailed], counts[OutboxStatusDeadLetter], nil
}
