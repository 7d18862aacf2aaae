package models

import (
	"errors"
	"time"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

var ErrRunFinalized = errors.New("keyword run already finalized")

// KeywordRun is the result of processing one keyword. Once Finish or Fail has
// been called the run no longer accepts changes.
type KeywordRun struct {
	ID         string           `json:"id"`
	RunID      string           `json:"run_id,omitempty"`
	Keyword    string           `json:"keyword"`
	Country    string           `json:"country"`
	Domain     string           `json:"domain"`
	Currency   string           `json:"currency"`
	SearchURL  string           `json:"search_url"`
	Status     RunStatus        `json:"status"`
	Products   []*ProductRecord `json:"products"`
	Total      int              `json:"total_products"`
	Duplicates int              `json:"duplicates"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func NewKeywordRun(id, keyword, country, domain, currency, searchURL string) *KeywordRun {
	return &KeywordRun{
		ID:        id,
		Keyword:   keyword,
		Country:   country,
		Domain:    domain,
		Currency:  currency,
		SearchURL: searchURL,
		Status:    RunStatusRunning,
		Products:  make([]*ProductRecord, 0),
		StartedAt: time.Now(),
	}
}

func (k *KeywordRun) Finalized() bool {
	return k.Status == RunStatusSuccess || k.Status == RunStatusFailed
}

// Finish marks the run successful with the given products.
func (k *KeywordRun) Finish(products []*ProductRecord) error {
	if k.Finalized() {
		return ErrRunFinalized
	}

	k.Products = products
	if k.Products == nil {
		k.Products = make([]*ProductRecord, 0)
	}
	k.Total = len(k.Products)
	k.Duplicates = 0
	for _, p := range k.Products {
		if p.IsDuplicate {
			k.Duplicates++
		}
	}

	now := time.Now()
	k.FinishedAt = &now
	k.Status = RunStatusSuccess
	return nil
}

// Fail marks the run failed. Products gathered so far are dropped.
func (k *KeywordRun) Fail(err error) error {
	if k.Finalized() {
		return ErrRunFinalized
	}

	if err != nil {
		k.Error = err.Error()
	}
	k.Products = make([]*ProductRecord, 0)
	k.Total = 0

	now := time.Now()
	k.FinishedAt = &now
	k.Status = RunStatusFailed
	return nil
}

func (k *KeywordRun) RanksFound() int {
	n := 0
	for _, p := range k.Products {
		if len(p.Ranks) > 0 {
			n++
		}
	}
	return n
}

// RunSummary aggregates the keyword runs of one coordinator run.
type RunSummary struct {
	RunID             string     `json:"run_id"`
	Country           string     `json:"country"`
	KeywordsTotal     int        `json:"keywords_total"`
	KeywordsSucceeded int        `json:"keywords_succeeded"`
	KeywordsFailed    int        `json:"keywords_failed"`
	ProductsTotal     int        `json:"products_total"`
	Duplicates        int        `json:"duplicates"`
	RanksFound        int        `json:"ranks_found"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

func (s *RunSummary) Add(run *KeywordRun) {
	s.KeywordsTotal++
	switch run.Status {
	case RunStatusSuccess:
		s.KeywordsSucceeded++
	case RunStatusFailed:
		s.KeywordsFailed++
	}
	s.ProductsTotal += run.Total
	s.Duplicates += run.Duplicates
	s.RanksFound += run.RanksFound()
}

func (s *RunSummary) SuccessRate() float64 {
	if s.KeywordsTotal == 0 {
		return 0
	}
	return float64(s.KeywordsSucceeded) / float64(s.KeywordsTotal)
}

// RunResult is everything one coordinator run produced, in keyword order.
type RunResult struct {
	Summary RunSummary    `json:"summary"`
	Runs    []*KeywordRun `json:"keywords"`
}

// Successful returns the runs that finished with status success.
func (r *RunResult) Successful() []*KeywordRun {
	out := make([]*KeywordRun, 0, len(r.Runs))
	for _, run := range r.Runs {
		if run.Status == RunStatusSuccess {
			out = append(out, run)
		}
	}
	return out
}
