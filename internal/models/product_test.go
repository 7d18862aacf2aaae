package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidASIN(t *testing.T) {
	tests := []struct {
		asin  string
		valid bool
	}{
		{"B08N5WRWNW", true},
		{"1234567890", true},
		{"0001234567", false},
		{"B08N5WRWN", false},
		{"B08N5WRWNWX", false},
		{"b08n5wrwnw", false},
		{"B08N5-RWNW", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.asin, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidASIN(tt.asin))
		})
	}
}

func TestSetRanks(t *testing.T) {
	p := NewProductRecord("B08N5WRWNW")
	assert.Equal(t, RankStatusMissing, p.RankStatus)

	p.SetRanks([]RankEntry{{Rank: 35, Category: "Pränatale Vitamine"}, {Rank: 5, Category: "Folsäure"}})

	require.NotNil(t, p.PrimaryRank)
	assert.Equal(t, 35, *p.PrimaryRank)
	assert.Equal(t, "Pränatale Vitamine", p.PrimaryCategory)
	assert.Equal(t, RankStatusAvailable, p.RankStatus)

	p.SetRanks(nil)
	assert.Nil(t, p.PrimaryRank)
	assert.Empty(t, p.PrimaryCategory)
	assert.Equal(t, RankStatusMissing, p.RankStatus)
	assert.NotNil(t, p.Ranks)
}

func TestClone_IsDeep(t *testing.T) {
	rating := 4.5
	p := NewProductRecord("B08N5WRWNW")
	p.Price = &Price{Amount: 29.99, Currency: "GBP"}
	p.Rating = &rating
	p.Images = []string{"a.jpg"}
	p.Badges = []Badge{{Tag: BadgeBestSeller, RawText: "Best Seller"}}

	c := p.Clone()
	c.Price.Amount = 1
	*c.Rating = 1
	c.Images[0] = "b.jpg"
	c.Badges[0].RawText = "changed"

	assert.Equal(t, 29.99, p.Price.Amount)
	assert.Equal(t, 4.5, *p.Rating)
	assert.Equal(t, "a.jpg", p.Images[0])
	assert.Equal(t, "Best Seller", p.Badges[0].RawText)
}

func TestValidate(t *testing.T) {
	p := NewProductRecord("0001234567")
	errs := p.Validate()
	assert.Contains(t, errs, "ASIN is invalid")
	assert.Contains(t, errs, "Title is required")
	assert.Contains(t, errs, "Search position must be positive")

	ok := NewProductRecord("B08N5WRWNW")
	ok.Title = "Yoga Mat"
	ok.SearchPosition = 1
	ok.SetRanks([]RankEntry{{Rank: 1, Category: "Yoga"}})
	assert.Empty(t, ok.Validate())
}

func TestKeywordRun_Lifecycle(t *testing.T) {
	run := NewKeywordRun("id", "yoga mat", "uk", "amazon.co.uk", "GBP", "https://www.amazon.co.uk/s?k=yoga+mat")
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.False(t, run.Finalized())

	dup := NewProductRecord("B08N5WRWNW")
	dup.IsDuplicate = true
	ranked := NewProductRecord("B07XYZ1234")
	ranked.SetRanks([]RankEntry{{Rank: 3, Category: "Mats"}})

	require.NoError(t, run.Finish([]*ProductRecord{dup, ranked}))
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 1, run.Duplicates)
	assert.Equal(t, 1, run.RanksFound())
	assert.NotNil(t, run.FinishedAt)

	err := run.Fail(errors.New("late failure"))
	assert.ErrorIs(t, err, ErrRunFinalized)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.Empty(t, run.Error)
}

func TestKeywordRun_Fail(t *testing.T) {
	run := NewKeywordRun("id", "kw", "de", "amazon.de", "EUR", "")
	require.NoError(t, run.Fail(errors.New("listing fetch failed")))

	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "listing fetch failed", run.Error)
	assert.Empty(t, run.Products)
	assert.ErrorIs(t, run.Finish(nil), ErrRunFinalized)
}

func TestRunSummary_Add(t *testing.T) {
	ok := NewKeywordRun("1", "a", "uk", "", "", "")
	p := NewProductRecord("B08N5WRWNW")
	p.IsDuplicate = true
	p.SetRanks([]RankEntry{{Rank: 1, Category: "X"}})
	require.NoError(t, ok.Finish([]*ProductRecord{p, NewProductRecord("B07XYZ1234")}))

	failed := NewKeywordRun("2", "b", "uk", "", "", "")
	require.NoError(t, failed.Fail(nil))

	var s RunSummary
	s.Add(ok)
	s.Add(failed)

	assert.Equal(t, 2, s.KeywordsTotal)
	assert.Equal(t, 1, s.KeywordsSucceeded)
	assert.Equal(t, 1, s.KeywordsFailed)
	assert.Equal(t, 2, s.ProductsTotal)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, 1, s.RanksFound)
	assert.InDelta(t, 0.5, s.SuccessRate(), 0.0001)
}

func TestRunResult_Successful(t *testing.T) {
	ok := NewKeywordRun("1", "a", "uk", "", "", "")
	require.NoError(t, ok.Finish(nil))
	failed := NewKeywordRun("2", "b", "uk", "", "", "")
	require.NoError(t, failed.Fail(errors.New("blocked")))

	result := &RunResult{Runs: []*KeywordRun{failed, ok}}

	assert.Equal(t, []*KeywordRun{ok}, result.Successful())
}
