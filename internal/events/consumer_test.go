package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	streams, _ := args.Get(0).([]redis.XStream)
	return redis.NewXStreamSliceCmdResult(streams, args.Error(1))
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return redis.NewIntResult(int64(len(ids)), args.Error(0))
}

func streamMessage(t *testing.T, id string, eventType EventType, payload any) redis.XMessage {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"id":             "evt-" + id,
		"type":           eventType,
		"aggregate_type": "keyword_run",
		"aggregate_id":   "kr-" + id,
		"timestamp":      "2025-03-01T10:00:00Z",
		"payload":        payload,
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{"data": string(data), "type": string(eventType)}}
}

func testConfig() ConsumerConfig {
	return ConsumerConfig{Stream: "stream:keyword_runs", Group: "g", Name: "c1"}
}

func TestDecodeMessage(t *testing.T) {
	valid := streamMessage(t, "1-0", EventTypeKeywordRunCompleted, map[string]any{"keyword": "yoga mat"})

	tests := []struct {
		name    string
		msg     redis.XMessage
		wantErr bool
	}{
		{"valid", valid, false},
		{"missing data", redis.XMessage{ID: "2-0", Values: map[string]any{"type": "X"}}, true},
		{"bad json", redis.XMessage{ID: "3-0", Values: map[string]any{"data": "{"}}, true},
		{"missing type", redis.XMessage{ID: "4-0", Values: map[string]any{"data": `{"id":"x"}`}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeMessage(tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1-0", event.MessageID)
			assert.Equal(t, EventTypeKeywordRunCompleted, event.Type)
			assert.Equal(t, "kr-1-0", event.AggregateID)
			assert.JSONEq(t, `{"keyword":"yoga mat"}`, string(event.Payload))
		})
	}
}

func TestConsumer_Poll(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)

	messages := []redis.XMessage{
		streamMessage(t, "1-0", EventTypeKeywordRunCompleted, map[string]any{"keyword": "ok"}),
		streamMessage(t, "2-0", EventTypeKeywordRunCompleted, map[string]any{"keyword": "fail"}),
		streamMessage(t, "3-0", EventTypeRunCompleted, map[string]any{}),
		{ID: "4-0", Values: map[string]any{"data": "garbage"}},
	}
	client.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return a.Group == "g" && a.Consumer == "c1" && a.Streams[1] == ">"
	})).Return([]redis.XStream{{Stream: "stream:keyword_runs", Messages: messages}}, nil)
	client.On("XAck", ctx, "stream:keyword_runs", "g", []string{"1-0"}).Return(nil)
	client.On("XAck", ctx, "stream:keyword_runs", "g", []string{"3-0"}).Return(nil)
	client.On("XAck", ctx, "stream:keyword_runs", "g", []string{"4-0"}).Return(nil)

	var handled []string
	c := NewConsumer(client, testConfig(), slog.Default())
	c.Handle(EventTypeKeywordRunCompleted, func(ctx context.Context, e *StreamEvent) error {
		handled = append(handled, e.MessageID)
		var p map[string]string
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		if p["keyword"] == "fail" {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	require.NoError(t, c.poll(ctx))

	assert.Equal(t, []string{"1-0", "2-0"}, handled)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "XAck", ctx, "stream:keyword_runs", "g", []string{"2-0"})
}

func TestConsumer_PollEmpty(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

	c := NewConsumer(client, testConfig(), slog.Default())
	assert.NoError(t, c.poll(ctx))
	client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_Run(t *testing.T) {
	t.Run("existing group and cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", ctx, "stream:keyword_runs", "g", "0").
			Return(errors.New("BUSYGROUP Consumer Group name already exists"))
		client.On("XReadGroup", ctx, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, redis.Nil)

		err := NewConsumer(client, testConfig(), slog.Default()).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		client.AssertExpectations(t)
	})

	t.Run("group creation fails", func(t *testing.T) {
		ctx := context.Background()
		client := new(MockStreamClient)
		client.On("XGroupCreateMkStream", ctx, "stream:keyword_runs", "g", "0").
			Return(errors.New("connection refused"))

		err := NewConsumer(client, testConfig(), slog.Default()).Run(ctx)
		assert.ErrorContains(t, err, "failed to create consumer group")
		client.AssertNotCalled(t, "XReadGroup", mock.Anything, mock.Anything)
	})
}

func intPtr(v int) *int { return &v }

func TestBestRanked(t *testing.T) {
	tests := []struct {
		name     string
		products []RankedProduct
		want     string
	}{
		{"empty", nil, ""},
		{"no ranks", []RankedProduct{{ASIN: "A"}, {ASIN: "B"}}, ""},
		{"lowest wins", []RankedProduct{
			{ASIN: "A", PrimaryRank: intPtr(40)},
			{ASIN: "B"},
			{ASIN: "C", PrimaryRank: intPtr(7)},
			{ASIN: "D", PrimaryRank: intPtr(7)},
		}, "C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best := BestRanked(tt.products)
			if tt.want == "" {
				assert.Nil(t, best)
				return
			}
			require.NotNil(t, best)
			assert.Equal(t, tt.want, best.ASIN)
		})
	}
}

func TestLogHandlers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	run := models.NewKeywordRun("kr-1", "yoga mat", "uk", "amazon.co.uk", "GBP", "https://www.amazon.co.uk/s?k=yoga+mat")
	require.NoError(t, run.Finish([]*models.ProductRecord{
		{ASIN: "B000000001", SearchPosition: 1, PrimaryRank: intPtr(12), PrimaryCategory: "Yoga Mats", Ranks: []models.RankEntry{{Rank: 12, Category: "Yoga Mats"}}},
		{ASIN: "B000000002", SearchPosition: 2},
	}))
	payload, err := json.Marshal(NewKeywordRunCompleted(run))
	require.NoError(t, err)

	err = LogKeywordRuns(logger)(context.Background(), &StreamEvent{Type: EventTypeKeywordRunCompleted, Payload: payload})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "keyword run completed", line["msg"])
	assert.Equal(t, "B000000001", line["best_asin"])
	assert.EqualValues(t, 12, line["best_rank"])
	assert.EqualValues(t, 1, line["ranks_found"])

	buf.Reset()
	summary, err := json.Marshal(RunCompletedPayload{Summary: models.RunSummary{RunID: "r1", Country: "uk", KeywordsTotal: 1}})
	require.NoError(t, err)
	require.NoError(t, LogRunSummaries(logger)(context.Background(), &StreamEvent{Type: EventTypeRunCompleted, Payload: summary}))
	assert.Contains(t, buf.String(), `"run_id":"r1"`)

	err = LogKeywordRuns(logger)(context.Background(), &StreamEvent{Payload: json.RawMessage(`[`)})
	assert.Error(t, err)
}
