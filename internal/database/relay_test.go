package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func keywordRunEvent(keywordRunID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "keyword_run",
		AggregateID:   keywordRunID,
		EventType:     "KEYWORD_RUN_COMPLETED",
		Payload:       json.RawMessage(`{"keyword":"yoga mat","country":"uk","total_products":3}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

type relayFixture struct {
	stream *MockRedisClient
	outbox *MockOutboxRepository
	relay  *Relay
}

func newRelayFixture() *relayFixture {
	f := &relayFixture{stream: new(MockRedisClient), outbox: new(MockOutboxRepository)}
	f.relay = NewRelay(f.outbox, f.stream, metrics.New(), slog.Default(), RelayConfig{BatchSize: 10})
	return f
}

func (f *relayFixture) verify(t *testing.T) {
	t.Helper()
	f.stream.AssertExpectations(t)
	f.outbox.AssertExpectations(t)
}

func TestRelay_RelayBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and marks every event", func(t *testing.T) {
		f := newRelayFixture()

		events := []*OutboxEvent{keywordRunEvent("kr-1"), keywordRunEvent("kr-2")}
		f.outbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			f.stream.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == "stream:keyword_runs" &&
					args.Values.(map[string]any)["event_type"] == "KEYWORD_RUN_COMPLETED" &&
					args.Values.(map[string]any)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			f.outbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		relayed, failed, err := f.relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, relayed)
		assert.Zero(t, failed)

		f.verify(t)
	})

	t.Run("marks event failed when redis rejects it", func(t *testing.T) {
		f := newRelayFixture()

		event := keywordRunEvent("kr-1")
		f.outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		f.stream.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		f.outbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		relayed, failed, err := f.relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, relayed)
		assert.Equal(t, 1, failed)

		f.verify(t)
		f.outbox.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
	})

	t.Run("undecodable payload is marked failed without publishing", func(t *testing.T) {
		f := newRelayFixture()

		event := keywordRunEvent("kr-1")
		event.Payload = json.RawMessage(`not json`)
		f.outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		f.outbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

		_, failed, err := f.relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, failed)
		f.stream.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("empty batch does not touch redis", func(t *testing.T) {
		f := newRelayFixture()

		f.outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		relayed, failed, err := f.relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, relayed+failed)
		f.stream.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		f := newRelayFixture()

		events := []*OutboxEvent{keywordRunEvent("kr-1"), keywordRunEvent("kr-2")}
		f.outbox.On("GetPending", ctx, 10).Return(events, nil)

		f.stream.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "kr-1"
		})).Return(errors.New("redis error"))
		f.outbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		f.stream.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "kr-2"
		})).Return(nil)
		f.outbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		relayed, failed, err := f.relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, relayed)
		assert.Equal(t, 1, failed)

		f.verify(t)
	})

	t.Run("outbox query failure is returned", func(t *testing.T) {
		f := newRelayFixture()

		f.outbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		_, _, err := f.relay.relayBatch(ctx)
		assert.ErrorContains(t, err, "failed to get pending events")
	})
}

func TestStreamArgs(t *testing.T) {
	event := keywordRunEvent("kr-9")
	event.RetryCount = 2

	args, err := streamArgs(event)
	require.NoError(t, err)
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, "KEYWORD_RUN_COMPLETED", args.Values.(map[string]any)["event_type"])
	assert.Equal(t, event.ID.String(), args.Values.(map[string]any)["original_id"])

	raw, ok := args.Values.(map[string]any)["data"].(string)
	require.True(t, ok)

	var data struct {
		Type          string         `json:"type"`
		AggregateType string         `json:"aggregate_type"`
		AggregateID   string         `json:"aggregate_id"`
		Payload       map[string]any `json:"payload"`
		Metadata      map[string]any `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	assert.Equal(t, "KEYWORD_RUN_COMPLETED", data.Type)
	assert.Equal(t, "keyword_run", data.AggregateType)
	assert.Equal(t, "kr-9", data.AggregateID)
	assert.Equal(t, "yoga mat", data.Payload["keyword"])
	assert.Equal(t, "amazon-rank-scraper", data.Metadata["source"])
	assert.EqualValues(t, 2, data.Metadata["retry_count"])

	event.Payload = json.RawMessage(`not json`)
	_, err = streamArgs(event)
	assert.Error(t, err)
}

func TestRelay_Backlog(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture()

	f.outbox.On("CountByStatus", ctx).Return(map[string]int64{
		OutboxStatusPending:    3,
		OutboxStatusFailed:     2,
		OutboxStatusProcessed:  40,
		OutboxStatusDeadLetter: 1,
	}, nil)

	pending, dead, err := f.relay.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pending)
	assert.Equal(t, int64(1), dead)
}

func TestRelay_RunDrainsFullBatches(t *testing.T) {
	stream := new(MockRedisClient)
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, stream, nil, slog.Default(), RelayConfig{
		PollInterval: time.Hour,
		BatchSize:    1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := keywordRunEvent("kr-1"), keywordRunEvent("kr-2")
	outbox.On("GetPending", mock.Anything, 1).Return([]*OutboxEvent{first}, nil).Once()
	outbox.On("GetPending", mock.Anything, 1).Return([]*OutboxEvent{second}, nil).Once()
	outbox.On("GetPending", mock.Anything, 1).
		Run(func(mock.Arguments) { cancel() }).
		Return([]*OutboxEvent{}, nil).Once()
	stream.On("XAdd", mock.Anything, mock.Anything).Return(nil)
	outbox.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	done := make(chan error)
	go func() { done <- relay.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not drain the backlog without waiting for the poll interval")
	}
	outbox.AssertExpectations(t)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockRedisClient), nil, slog.Default(), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	})

	outbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Run(ctx)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run kept going after cancel")
	}
}
