package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/enrich"
	"github.com/maltedev/amazon-rank-scraper/internal/fetch"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/parser"
	"github.com/maltedev/amazon-rank-scraper/internal/queue"
	"github.com/maltedev/amazon-rank-scraper/internal/runner"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneProductParser turns any search page into a single product and any
// detail page into one rank.
type oneProductParser struct{}

func (oneProductParser) ExtractListing(markup string) ([]*models.ProductRecord, error) {
	if markup == "" {
		return nil, parser.ErrNoResults
	}
	return []*models.ProductRecord{{
		ASIN:           "B000000001",
		Title:          "Cork Mat",
		URL:            "https://detail/B000000001",
		SearchPosition: 1,
	}}, nil
}

func (oneProductParser) ExtractDetail(markup string) (*parser.DetailResult, error) {
	return &parser.DetailResult{Ranks: []models.RankEntry{{Rank: 3, Category: "Yoga Mats"}}}, nil
}

func testFactory(fetcher fetch.Fetcher) Factory {
	return func(loc *locale.Locale, maxProducts int, progress storage.Sink) (*runner.Coordinator, error) {
		opts := enrich.Options{MaxProducts: maxProducts, Concurrency: 1, RankAttempts: 1}
		return runner.New(fetcher, oneProductParser{}, loc, progress, opts, nil, slog.Default()), nil
	}
}

func okFetcher() fetch.Fetcher {
	return fetch.FetcherFunc(func(ctx context.Context, url string) (string, error) {
		return "<html>" + url + "</html>", nil
	})
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Job {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestManager_CreateJobValidation(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(10), testFactory(okFetcher()), slog.Default())
	ctx := context.Background()

	tests := []struct {
		name     string
		country  string
		keywords []string
		max      int
	}{
		{"unknown country", "jp", []string{"yoga mat"}, 5},
		{"no keywords", "uk", []string{" ", ""}, 5},
		{"negative max", "uk", []string{"yoga mat"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateJob(ctx, tt.country, tt.keywords, tt.max)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}

	job, err := m.CreateJob(ctx, " UK ", []string{" yoga mat ", ""}, 3)
	require.NoError(t, err)
	assert.Equal(t, "uk", job.Country)
	assert.Equal(t, []string{"yoga mat"}, job.Keywords)
	assert.Equal(t, StatusPending, job.Status)
}

func TestManager_QueueFull(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(1), testFactory(okFetcher()), slog.Default())
	ctx := context.Background()

	_, err := m.CreateJob(ctx, "uk", []string{"a"}, 1)
	require.NoError(t, err)

	_, err = m.CreateJob(ctx, "uk", []string{"b"}, 1)
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	jobs, err := m.ListJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestManager_WorkerRunsJobs(t *testing.T) {
	q := queue.NewInMemoryQueue(10)
	m := NewManager(q, testFactory(okFetcher()), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartWorker(ctx)

	created, err := m.CreateJob(ctx, "de", []string{"yogamatte", "korkblock"}, 5)
	require.NoError(t, err)

	job := waitForStatus(t, m, created.ID, StatusCompleted)
	assert.Equal(t, 2, job.KeywordsDone)
	assert.Equal(t, 2, job.ProductsFound)
	require.NotNil(t, job.Summary)
	assert.Equal(t, "de", job.Summary.Country)
	assert.Equal(t, 2, job.Summary.KeywordsSucceeded)
	assert.Equal(t, 1, job.Summary.Duplicates)
	require.NotNil(t, job.Result)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	listed, err := m.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Nil(t, listed[0].Result)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 2, stats.TotalProducts)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
}

func TestManager_FactoryFailureFailsJob(t *testing.T) {
	q := queue.NewInMemoryQueue(10)
	factory := func(loc *locale.Locale, maxProducts int, progress storage.Sink) (*runner.Coordinator, error) {
		return nil, errors.New("FIRECRAWL_KEY missing")
	}
	m := NewManager(q, factory, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartWorker(ctx)

	created, err := m.CreateJob(ctx, "uk", []string{"yoga mat"}, 5)
	require.NoError(t, err)

	job := waitForStatus(t, m, created.ID, StatusFailed)
	assert.True(t, strings.Contains(job.Error, "FIRECRAWL_KEY missing"))
	assert.Nil(t, job.Summary)
}

func TestManager_GetJobNotFound(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(1), testFactory(okFetcher()), slog.Default())

	_, err := m.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_WorkerStopsOnClose(t *testing.T) {
	q := queue.NewInMemoryQueue(1)
	m := NewManager(q, testFactory(okFetcher()), slog.Default())

	done := make(chan struct{})
	go func() {
		m.StartWorker(context.Background())
		close(done)
	}()

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}
