package app

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/database"
	"github.com/maltedev/amazon-rank-scraper/internal/events"
	"github.com/maltedev/amazon-rank-scraper/internal/fetch"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
	"github.com/maltedev/amazon-rank-scraper/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailURL = "https://www.amazon.co.uk/dp/B000000001"

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Fetch.Provider = config.ProviderDirect
	cfg.Fetch.MaxRetries = 1
	cfg.Fetch.MinResponseLength = 10
	cfg.Fetch.RateLimit = 1000
	cfg.Fetch.RateBurst = 10
	cfg.Output.Dir = t.TempDir()
	cfg.Output.SQLitePath = ""
	cfg.Database.Enabled = false
	cfg.Redis.Enabled = false
	return cfg
}

func newTestStack(t *testing.T, cfg *config.Config) *Stack {
	t.Helper()

	s, err := NewStack(context.Background(), cfg, nil, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStack_FetcherCachesPages(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	page := "<html><body>" + strings.Repeat("product ", 20) + "</body></html>"
	httpmock.RegisterResponder(http.MethodGet, detailURL, httpmock.NewStringResponder(http.StatusOK, page))

	cfg := testConfig(t)
	cfg.Fetch.CacheSize = 8
	s := newTestStack(t, cfg)

	f, err := s.Fetcher(locale.MustLookup("uk"))
	require.NoError(t, err)
	assert.IsType(t, &fetch.Cached{}, f)

	for i := 0; i < 2; i++ {
		markup, err := f.Fetch(context.Background(), detailURL)
		require.NoError(t, err)
		assert.Equal(t, page, markup)
	}
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestStack_FetcherWithoutCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.CacheSize = 0
	s := newTestStack(t, cfg)

	f, err := s.Fetcher(locale.MustLookup("de"))
	require.NoError(t, err)
	assert.IsType(t, &fetch.Retrying{}, f)
}

func TestStack_ProviderSharedPerLocale(t *testing.T) {
	s := newTestStack(t, testConfig(t))

	uk1, err := s.provider(locale.MustLookup("uk"))
	require.NoError(t, err)
	uk2, err := s.provider(locale.MustLookup("uk"))
	require.NoError(t, err)
	de, err := s.provider(locale.MustLookup("de"))
	require.NoError(t, err)

	assert.Same(t, uk1, uk2)
	assert.NotSame(t, uk1, de)
}

func TestStack_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.Provider = "carrier-pigeon"
	s := newTestStack(t, cfg)

	_, err := s.Fetcher(locale.MustLookup("uk"))
	assert.ErrorContains(t, err, "unknown fetch provider")
}

func TestStack_Sinks(t *testing.T) {
	tests := []struct {
		name   string
		sqlite bool
		want   []any
	}{
		{"json only", false, []any{&storage.JSONSink{}}},
		{"json and sqlite", true, []any{&storage.JSONSink{}, &sqlite.Sink{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.sqlite {
				cfg.Output.SQLitePath = filepath.Join(t.TempDir(), "runs.db")
			}
			s := newTestStack(t, cfg)

			sinks, err := s.Sinks("")
			require.NoError(t, err)
			require.Len(t, sinks, len(tt.want))
			for i, want := range tt.want {
				assert.IsType(t, want, sinks[i])
			}
		})
	}
}

func TestStack_PostgresSinks(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStack(t, cfg)
	// A pool is never dialled by the sinks until they write.
	s.DB = &database.DB{}
	t.Cleanup(func() { s.DB = nil })

	sinks, err := s.Sinks("")
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.IsType(t, &database.RunRepository{}, sinks[1])

	cfg.Redis.Enabled = true
	sinks, err = s.Sinks("")
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.IsType(t, &events.Publisher{}, sinks[1])
}

func TestStack_Coordinator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.RetryBackoff = time.Millisecond
	s := newTestStack(t, cfg)

	c, err := s.Coordinator(locale.MustLookup("fr"), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "fr", c.Locale().Code)
}
