package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedRun(t *testing.T, keyword string) *models.KeywordRun {
	t.Helper()
	run := models.NewKeywordRun("kr-"+keyword, keyword, "uk", "amazon.co.uk", "GBP", "")
	p := models.NewProductRecord("B08N5WRWNW")
	p.Title = "Yoga Mat"
	p.SearchPosition = 1
	p.SetRanks([]models.RankEntry{{Rank: 5, Category: "Yoga Mats"}})
	require.NoError(t, run.Finish([]*models.ProductRecord{p}))
	return run
}

func TestKeywordFileName(t *testing.T) {
	assert.Equal(t, "yoga_mat_20240101_120000.json", KeywordFileName("yoga mat", "20240101_120000"))
	assert.Equal(t, "in_out_door_20240101_120000.json", KeywordFileName("in/out door", "20240101_120000"))
}

func TestJSONSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewJSONSink(dir)
	ctx := context.Background()

	ok := finishedRun(t, "yoga mat")
	failed := models.NewKeywordRun("kr-2", "cork block", "uk", "amazon.co.uk", "GBP", "")
	require.NoError(t, failed.Fail(errors.New("blocked")))

	require.NoError(t, sink.SaveKeywordRun(ctx, ok))
	require.NoError(t, sink.SaveKeywordRun(ctx, failed))

	result := &models.RunResult{
		Summary: models.RunSummary{RunID: "run-1", Country: "uk"},
		Runs:    []*models.KeywordRun{ok, failed},
	}
	result.Summary.Add(ok)
	result.Summary.Add(failed)
	require.NoError(t, sink.SaveRunResult(ctx, result))

	entries, err := os.ReadDir(sink.Dir("uk"))
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		KeywordFileName("yoga mat", sink.timestamp),
		"all_keywords_" + sink.timestamp + ".json",
	}, names)

	data, err := os.ReadFile(filepath.Join(dir, "uk", KeywordFileName("yoga mat", sink.timestamp)))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "yoga mat", doc["keyword"])
	assert.Equal(t, "success", doc["status"])
	products := doc["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, float64(5), products[0].(map[string]any)["bsr_rank"])

	data, err = os.ReadFile(filepath.Join(dir, "uk", "all_keywords_"+sink.timestamp+".json"))
	require.NoError(t, err)

	var combined models.RunResult
	require.NoError(t, json.Unmarshal(data, &combined))
	assert.Equal(t, 2, combined.Summary.KeywordsTotal)
	assert.Equal(t, 1, combined.Summary.KeywordsFailed)
	require.Len(t, combined.Runs, 2)
	assert.Equal(t, "blocked", combined.Runs[1].Error)
}

type recordingSink struct {
	runs    int
	results int
	closed  bool
	err     error
}

func (r *recordingSink) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	r.runs++
	return r.err
}

func (r *recordingSink) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	r.results++
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func TestMultiSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	healthy := &recordingSink{}
	sinks := MultiSink{failing, healthy}
	ctx := context.Background()

	err := sinks.SaveKeywordRun(ctx, finishedRun(t, "mat"))
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, MultiSink{healthy}.SaveRunResult(ctx, &models.RunResult{}))
	assert.Error(t, sinks.Close())

	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, healthy.runs)
	assert.Equal(t, 1, healthy.results)
	assert.True(t, healthy.closed)
}
