package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox row states. Failed rows are retried until MaxRetryCount, then parked
// as dead letters.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	MaxRetryCount = 5

	DefaultStream = "stream:keyword_runs"

	maxRetryBackoff = 300 * time.Second
)

var (
	ErrInvalidEvent  = errors.New("invalid outbox event")
	ErrEventNotFound = errors.New("outbox event not found")
)

// OutboxEvent is one row of outbox_event: a keyword run or run summary event
// waiting to be relayed to its stream.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

func (e *OutboxEvent) validate() error {
	switch {
	case e.AggregateType == "":
		return fmt.Errorf("%w: missing aggregate type", ErrInvalidEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: missing aggregate id", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	return nil
}

// prepare fills in the defaults for a new row.
func (e *OutboxEvent) prepare(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	if e.TargetStream == "" {
		e.TargetStream = DefaultStream
	}
	e.CreatedAt = now
	if e.NextRetryAt == nil {
		e.NextRetryAt = &now
	}
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx writes event inside tx, so it commits together with the rows
// it describes.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.validate(); err != nil {
		return err
	}
	event.prepare(time.Now())

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at)
		VALUES (@id, @aggregate_type, @aggregate_id, @event_type, @payload,
			@target_stream, @status, @retry_count, @created_at, @next_retry_at)`,
		pgx.NamedArgs{
			"id":             event.ID,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"event_type":     event.EventType,
			"payload":        event.Payload,
			"target_stream":  event.TargetStream,
			"status":         event.Status,
			"retry_count":    event.RetryCount,
			"created_at":     event.CreatedAt,
			"next_retry_at":  event.NextRetryAt,
		})
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, target_stream,
	status, retry_count, error_message, created_at, processed_at, next_retry_at`

// GetPending returns up to limit events that are due, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_event
		WHERE status = ANY($1) AND next_retry_at <= now()
		ORDER BY created_at
		LIMIT $2`,
		[]string{OutboxStatusPending, OutboxStatusFailed}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to read pending events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = now() WHERE id = $2`,
		OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// MarkFailed records processErr and schedules the next attempt, or parks the
// event as a dead letter once it has failed MaxRetryCount times.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var retries int
		err := tx.QueryRow(ctx,
			`SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE`, id).Scan(&retries)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock outbox event: %w", err)
		}

		retries++
		status := OutboxStatusFailed
		if retries >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, retries, processErr.Error(), calculateNextRetryTime(retries), id)
		if err != nil {
			return fmt.Errorf("failed to mark event as failed: %w", err)
		}
		return nil
	})
}

// CountByStatus returns the number of outbox rows per status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT status, count(*) FROM outbox_event GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox events: %w", err)
	}

	counts := make(map[string]int64)
	var status string
	var n int64
	_, err = pgx.ForEachRow(rows, []any{&status, &n}, func() error {
		counts[status] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox counts: %w", err)
	}
	return counts, nil
}

// calculateNextRetryTime backs off 2^n seconds, capped at five minutes.
func calculateNextRetryTime(retryCount int) time.Time {
	backoff := maxRetryBackoff
	if retryCount < 9 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, maxRetryBackoff)
	}
	return time.Now().Add(backoff)
}
