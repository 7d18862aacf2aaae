package storage

import (
	"context"
	"errors"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

// Sink receives results as a run progresses: every keyword run as soon as it
// is finalized and the complete result once the run ends.
type Sink interface {
	SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error
	SaveRunResult(ctx context.Context, result *models.RunResult) error
	Close() error
}

// MultiSink fans results out to several sinks. A failing sink does not stop
// the others; the errors are joined.
type MultiSink []Sink

func (m MultiSink) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveKeywordRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveRunResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
