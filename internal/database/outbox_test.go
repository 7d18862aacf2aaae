package database

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateNextRetryTime(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{20, 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.retry), func(t *testing.T) {
			got := time.Until(calculateNextRetryTime(tt.retry))
			assert.InDelta(t, tt.want.Seconds(), got.Seconds(), 1)
		})
	}
}

func TestOutboxEvent_Validate(t *testing.T) {
	valid := func() *OutboxEvent {
		return &OutboxEvent{
			AggregateType: "keyword_run",
			AggregateID:   "kr-1",
			EventType:     "KEYWORD_RUN_COMPLETED",
			Payload:       json.RawMessage(`{}`),
		}
	}

	require.NoError(t, valid().validate())

	tests := []struct {
		name   string
		modify func(*OutboxEvent)
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }},
		{"missing payload", func(e *OutboxEvent) { e.Payload = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.modify(e)
			assert.ErrorIs(t, e.validate(), ErrInvalidEvent)
		})
	}
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "keyword_run",
		AggregateID:   uuid.NewString(),
		EventType:     "KEYWORD_RUN_COMPLETED",
		Payload:       json.RawMessage(`{"keyword":"yoga mat"}`),
	}

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	})
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultStream, event.TargetStream)

	pending, err := repo.GetPending(ctx, 100)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

	var status string
	var retryCount int
	err = db.pool.QueryRow(ctx, "SELECT status, retry_count FROM outbox_event WHERE id = $1", event.ID).
		Scan(&status, &retryCount)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, 1, retryCount)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), ErrEventNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), assert.AnError), ErrEventNotFound)
}

func TestOutboxRepository_DeadLetter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "keyword_run",
		AggregateID:   uuid.NewString(),
		EventType:     "KEYWORD_RUN_COMPLETED",
		Payload:       json.RawMessage(`{}`),
		RetryCount:    MaxRetryCount - 1,
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[OutboxStatusDeadLetter], int64(1))
}

func TestRunRepository_SaveKeywordRun(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)

	run := models.NewKeywordRun(uuid.NewString(), "yoga mat", "uk", "amazon.co.uk", "GBP", "https://www.amazon.co.uk/s?k=yoga+mat")
	rank := 35
	require.NoError(t, run.Finish([]*models.ProductRecord{{
		ASIN:            "B0TESTASIN",
		Title:           "Cork Yoga Mat",
		Price:           &models.Price{Amount: 14.5, Currency: "GBP"},
		SearchPosition:  1,
		Ranks:           []models.RankEntry{{Rank: 35, Category: "Yoga Mats"}},
		PrimaryRank:     &rank,
		PrimaryCategory: "Yoga Mats",
		RankStatus:      models.RankStatusAvailable,
		Images:          []string{},
		Badges:          []models.Badge{},
		ScrapedAt:       time.Now(),
	}}))

	require.NoError(t, repo.SaveKeywordRun(ctx, run))
	require.NoError(t, repo.SaveKeywordRun(ctx, run))

	runs, err := repo.LatestRuns(ctx, "uk", 50)
	require.NoError(t, err)

	var found *models.KeywordRun
	for _, r := range runs {
		if r.ID == run.ID {
			found = r
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, models.RunStatusSuccess, found.Status)
	assert.Equal(t, 1, found.Total)
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects to the database named by TEST_DB_HOST and friends and
// skips the test when none is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set")
	}

	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_DB_USER"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		DBName:   os.Getenv("TEST_DB_NAME"),
		SSLMode:  "disable",
	}

	ctx := context.Background()
	db, err := New(ctx, cfg, DefaultPoolOptions())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	return db
}
