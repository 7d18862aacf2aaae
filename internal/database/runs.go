package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

// RunRepository stores keyword runs and their products in postgres.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveKeywordRun replaces the stored copy of run and its products.
func (r *RunRepository) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return r.InsertWithTx(ctx, tx, run)
	})
}

// InsertWithTx writes run inside an existing transaction so callers can add
// further statements (outbox events) atomically.
func (r *RunRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, run *models.KeywordRun) error {
	query := `
		INSERT INTO keyword_runs (
			id, run_id, keyword, country, domain, currency, search_url, status,
			total_products, duplicates, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_products = EXCLUDED.total_products,
			duplicates = EXCLUDED.duplicates,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`

	_, err := tx.Exec(ctx, query,
		run.ID, run.RunID, run.Keyword, run.Country, run.Domain, run.Currency, run.SearchURL,
		string(run.Status), run.Total, run.Duplicates, nullString(run.Error), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert keyword run: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM keyword_products WHERE keyword_run_id = $1", run.ID); err != nil {
		return fmt.Errorf("failed to clear products: %w", err)
	}

	if len(run.Products) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range run.Products {
		if err := queueProduct(batch, run.ID, p); err != nil {
			return err
		}
	}

	results := tx.SendBatch(ctx, batch)
	for _, p := range run.Products {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert product %s: %w", p.ASIN, err)
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return nil
}

func queueProduct(batch *pgx.Batch, runID string, p *models.ProductRecord) error {
	ranks, err := json.Marshal(p.Ranks)
	if err != nil {
		return fmt.Errorf("failed to marshal ranks: %w", err)
	}
	badges, err := json.Marshal(p.Badges)
	if err != nil {
		return fmt.Errorf("failed to marshal badges: %w", err)
	}
	images, err := json.Marshal(p.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	var price *float64
	var currency *string
	if p.Price != nil {
		price = &p.Price.Amount
		currency = &p.Price.Currency
	}

	batch.Queue(`
		INSERT INTO keyword_products (
			keyword_run_id, asin, search_position, title, price, currency, rating, review_count,
			bsr_rank, bsr_category, rank_status, ranks, badges, images,
			is_duplicate, duplicate_of_keyword, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		runID, p.ASIN, p.SearchPosition, p.Title, price, currency, p.Rating, p.ReviewCount,
		p.PrimaryRank, nullString(p.PrimaryCategory), p.RankStatus, ranks, badges, images,
		p.IsDuplicate, nullString(p.DuplicateOfKeyword), p.ScrapedAt,
	)
	return nil
}

// SaveRunResult stores the run summary. Keyword runs are expected to have
// been saved as they finished.
func (r *RunRepository) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return r.InsertSummaryWithTx(ctx, tx, &result.Summary)
	})
}

func (r *RunRepository) InsertSummaryWithTx(ctx context.Context, tx pgx.Tx, sum *models.RunSummary) error {
	query := `
		INSERT INTO run_summaries (
			run_id, country, keywords_total, keywords_succeeded, keywords_failed,
			products_total, duplicates, ranks_found, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			keywords_total = EXCLUDED.keywords_total,
			keywords_succeeded = EXCLUDED.keywords_succeeded,
			keywords_failed = EXCLUDED.keywords_failed,
			products_total = EXCLUDED.products_total,
			duplicates = EXCLUDED.duplicates,
			ranks_found = EXCLUDED.ranks_found,
			finished_at = EXCLUDED.finished_at`

	_, err := tx.Exec(ctx, query,
		sum.RunID, sum.Country, sum.KeywordsTotal, sum.KeywordsSucceeded, sum.KeywordsFailed,
		sum.ProductsTotal, sum.Duplicates, sum.RanksFound, sum.StartedAt, sum.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by whoever created the DB.
func (r *RunRepository) Close() error {
	return nil
}

// LatestRuns returns the most recent keyword runs of a country without products.
func (r *RunRepository) LatestRuns(ctx context.Context, country string, limit int) ([]*models.KeywordRun, error) {
	query := `
		SELECT id, COALESCE(run_id, ''), keyword, country, domain, currency, search_url, status,
			total_products, duplicates, COALESCE(error, ''), started_at, finished_at
		FROM keyword_runs
		WHERE country = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, country, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.KeywordRun
	for rows.Next() {
		run := &models.KeywordRun{Products: make([]*models.ProductRecord, 0)}
		var status string
		var finished *time.Time
		err := rows.Scan(
			&run.ID, &run.RunID, &run.Keyword, &run.Country, &run.Domain, &run.Currency, &run.SearchURL, &status,
			&run.Total, &run.Duplicates, &run.Error, &run.StartedAt, &finished,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword run: %w", err)
		}
		run.Status = models.RunStatus(status)
		run.FinishedAt = finished
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
