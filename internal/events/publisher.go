package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-rank-scraper/internal/database"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
)

type EventType string

const (
	// EventTypeKeywordRunCompleted is written once per finalized keyword run.
	EventTypeKeywordRunCompleted EventType = "KEYWORD_RUN_COMPLETED"
	// EventTypeRunCompleted is written once per coordinator run.
	EventTypeRunCompleted EventType = "RUN_COMPLETED"
)

// RankedProduct is the slim product view carried in events.
type RankedProduct struct {
	ASIN            string  `json:"asin"`
	Title           string  `json:"title"`
	SearchPosition  int     `json:"search_position"`
	PrimaryRank     *int    `json:"bsr_rank,omitempty"`
	PrimaryCategory string  `json:"bsr_category,omitempty"`
	Price           float64 `json:"price,omitempty"`
	IsDuplicate     bool    `json:"is_duplicate"`
}

type KeywordRunCompletedPayload struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	Timestamp    time.Time       `json:"timestamp"`
	KeywordRunID string          `json:"keyword_run_id"`
	RunID        string          `json:"run_id,omitempty"`
	Keyword      string          `json:"keyword"`
	Country      string          `json:"country"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	Total        int             `json:"total_products"`
	Duplicates   int             `json:"duplicates"`
	RanksFound   int             `json:"ranks_found"`
	Products     []RankedProduct `json:"products"`
	Source       string          `json:"source"`
}

// NewKeywordRunCompleted builds the event payload for a finalized run.
func NewKeywordRunCompleted(run *models.KeywordRun) *KeywordRunCompletedPayload {
	products := make([]RankedProduct, 0, len(run.Products))
	for _, p := range run.Products {
		rp := RankedProduct{
			ASIN:            p.ASIN,
			Title:           p.Title,
			SearchPosition:  p.SearchPosition,
			PrimaryRank:     p.PrimaryRank,
			PrimaryCategory: p.PrimaryCategory,
			IsDuplicate:     p.IsDuplicate,
		}
		if p.Price != nil {
			rp.Price = p.Price.Amount
		}
		products = append(products, rp)
	}

	return &KeywordRunCompletedPayload{
		EventID:      uuid.New().String(),
		EventType:    string(EventTypeKeywordRunCompleted),
		Timestamp:    time.Now(),
		KeywordRunID: run.ID,
		RunID:        run.RunID,
		Keyword:      run.Keyword,
		Country:      run.Country,
		Status:       string(run.Status),
		Error:        run.Error,
		Total:        run.Total,
		Duplicates:   run.Duplicates,
		RanksFound:   run.RanksFound(),
		Products:     products,
		Source:       "scraper",
	}
}

type RunCompletedPayload struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Summary   models.RunSummary `json:"summary"`
	Source    string            `json:"source"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type runWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, run *models.KeywordRun) error
	InsertSummaryWithTx(ctx context.Context, tx pgx.Tx, sum *models.RunSummary) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

var _ storage.Sink = (*Publisher)(nil)

// Publisher stores keyword runs and writes their completion events to the
// outbox in the same transaction. The relay forwards the events to redis.
type Publisher struct {
	db     transactor
	runs   runWriter
	outbox outboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:     db,
		runs:   database.NewRunRepository(db),
		outbox: database.NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	payload := NewKeywordRunCompleted(run)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "keyword_run",
		AggregateID:   run.ID,
		EventType:     string(EventTypeKeywordRunCompleted),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertWithTx(ctx, tx, run); err != nil {
			return err
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish keyword run: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"keyword", run.Keyword,
		"status", run.Status,
		"outbox_id", event.ID,
	)

	return nil
}

func (p *Publisher) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	payload := &RunCompletedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeRunCompleted),
		Timestamp: time.Now(),
		Summary:   result.Summary,
		Source:    "scraper",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "run",
		AggregateID:   result.Summary.RunID,
		EventType:     string(EventTypeRunCompleted),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertSummaryWithTx(ctx, tx, &result.Summary); err != nil {
			return err
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"run_id", result.Summary.RunID,
		"outbox_id", event.ID,
	)

	return nil
}

// Close is a no-op; the database is closed by its owner.
func (p *Publisher) Close() error {
	return nil
}
