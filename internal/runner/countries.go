package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

// Factory builds the coordinator for one marketplace.
type Factory func(loc *locale.Locale) (*Coordinator, error)

// RunCountries runs the same keywords against several marketplaces one after
// another. Each country gets its own coordinator and therefore its own
// identifier cache. A country whose coordinator cannot be built is skipped.
func RunCountries(ctx context.Context, codes []string, keywords []string, factory Factory, logger *slog.Logger) ([]*models.RunResult, error) {
	locales := make([]*locale.Locale, 0, len(codes))
	for _, code := range codes {
		loc, err := locale.Lookup(code)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve country %q: %w", code, err)
		}
		locales = append(locales, loc)
	}

	results := make([]*models.RunResult, 0, len(locales))
	for _, loc := range locales {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		coordinator, err := factory(loc)
		if err != nil {
			logger.Error("failed to set up country", "country", loc.Code, "error", err)
			continue
		}

		result, err := coordinator.Run(ctx, keywords)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, err
		}
	}

	return results, nil
}
