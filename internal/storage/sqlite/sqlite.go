package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Sink = (*Sink)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS keyword_runs (
	id TEXT PRIMARY KEY,
	run_id TEXT,
	keyword TEXT NOT NULL,
	country TEXT NOT NULL,
	domain TEXT NOT NULL,
	currency TEXT NOT NULL,
	search_url TEXT NOT NULL,
	status TEXT NOT NULL,
	total_products INTEGER NOT NULL,
	duplicates INTEGER NOT NULL,
	error TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS products (
	keyword_run_id TEXT NOT NULL REFERENCES keyword_runs(id),
	asin TEXT NOT NULL,
	search_position INTEGER NOT NULL,
	title TEXT NOT NULL,
	price REAL,
	currency TEXT,
	rating REAL,
	review_count INTEGER NOT NULL,
	bsr_rank INTEGER,
	bsr_category TEXT,
	rank_status TEXT NOT NULL,
	ranks TEXT NOT NULL,
	badges TEXT NOT NULL,
	images TEXT NOT NULL,
	is_duplicate BOOLEAN NOT NULL,
	duplicate_of_keyword TEXT,
	scraped_at DATETIME NOT NULL,
	PRIMARY KEY (keyword_run_id, asin, search_position)
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id TEXT PRIMARY KEY,
	country TEXT NOT NULL,
	keywords_total INTEGER NOT NULL,
	keywords_succeeded INTEGER NOT NULL,
	keywords_failed INTEGER NOT NULL,
	products_total INTEGER NOT NULL,
	duplicates INTEGER NOT NULL,
	ranks_found INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);
`

// Filter narrows keyword run queries.
type Filter struct {
	Country string
	Keyword string
	Status  models.RunStatus
	Limit   int
}

// Sink stores keyword runs and run summaries in an embedded database.
type Sink struct {
	db *sql.DB
}

func New(dsn string) (*Sink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	return &Sink{db: db}, nil
}

func (s *Sink) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO keyword_runs (
			id, run_id, keyword, country, domain, currency, search_url, status,
			total_products, duplicates, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RunID, run.Keyword, run.Country, run.Domain, run.Currency, run.SearchURL, string(run.Status),
		run.Total, run.Duplicates, run.Error, run.StartedAt.UTC(), utcOrNil(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert keyword run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE keyword_run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear products: %w", err)
	}

	for _, p := range run.Products {
		if err := insertProduct(ctx, tx, run.ID, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit keyword run: %w", err)
	}
	return nil
}

func insertProduct(ctx context.Context, tx *sql.Tx, runID string, p *models.ProductRecord) error {
	ranks, err := json.Marshal(p.Ranks)
	if err != nil {
		return fmt.Errorf("failed to encode ranks: %w", err)
	}
	badges, err := json.Marshal(p.Badges)
	if err != nil {
		return fmt.Errorf("failed to encode badges: %w", err)
	}
	images, err := json.Marshal(p.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	var price sql.NullFloat64
	var currency sql.NullString
	if p.Price != nil {
		price = sql.NullFloat64{Float64: p.Price.Amount, Valid: true}
		currency = sql.NullString{String: p.Price.Currency, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (
			keyword_run_id, asin, search_position, title, price, currency, rating, review_count,
			bsr_rank, bsr_category, rank_status, ranks, badges, images,
			is_duplicate, duplicate_of_keyword, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.ASIN, p.SearchPosition, p.Title, price, currency, p.Rating, p.ReviewCount,
		p.PrimaryRank, p.PrimaryCategory, p.RankStatus, string(ranks), string(badges), string(images),
		p.IsDuplicate, p.DuplicateOfKeyword, p.ScrapedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert product %s: %w", p.ASIN, err)
	}
	return nil
}

func (s *Sink) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	sum := result.Summary
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_summaries (
			run_id, country, keywords_total, keywords_succeeded, keywords_failed,
			products_total, duplicates, ranks_found, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Country, sum.KeywordsTotal, sum.KeywordsSucceeded, sum.KeywordsFailed,
		sum.ProductsTotal, sum.Duplicates, sum.RanksFound, sum.StartedAt.UTC(), utcOrNil(sum.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}
	return nil
}

// KeywordRuns returns stored runs, newest first, with their products.
func (s *Sink) KeywordRuns(ctx context.Context, filter Filter) ([]*models.KeywordRun, error) {
	query := `SELECT id, run_id, keyword, country, domain, currency, search_url, status,
		total_products, duplicates, error, started_at, finished_at FROM keyword_runs WHERE 1=1`
	args := []any{}

	if filter.Country != "" {
		query += ` AND country = ?`
		args = append(args, filter.Country)
	}
	if filter.Keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, filter.Keyword)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	query += ` ORDER BY started_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.KeywordRun
	for rows.Next() {
		var run models.KeywordRun
		var runID, errMsg sql.NullString
		var status string
		var finished sql.NullTime

		if err := rows.Scan(
			&run.ID, &runID, &run.Keyword, &run.Country, &run.Domain, &run.Currency, &run.SearchURL, &status,
			&run.Total, &run.Duplicates, &errMsg, &run.StartedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan keyword run: %w", err)
		}

		run.RunID = runID.String
		run.Error = errMsg.String
		run.Status = models.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keyword runs: %w", err)
	}

	for _, run := range runs {
		products, err := s.products(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		run.Products = products
	}

	return runs, nil
}

func (s *Sink) products(ctx context.Context, runID string) ([]*models.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asin, search_position, title, price, currency, rating, review_count,
			rank_status, ranks, badges, images, is_duplicate, duplicate_of_keyword, scraped_at
		FROM products WHERE keyword_run_id = ? ORDER BY search_position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]*models.ProductRecord, 0)
	for rows.Next() {
		var p models.ProductRecord
		var price, rating sql.NullFloat64
		var currency, dupOf sql.NullString
		var ranks, badges, images string

		if err := rows.Scan(
			&p.ASIN, &p.SearchPosition, &p.Title, &price, &currency, &rating, &p.ReviewCount,
			&p.RankStatus, &ranks, &badges, &images, &p.IsDuplicate, &dupOf, &p.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}

		if price.Valid {
			p.Price = &models.Price{Amount: price.Float64, Currency: currency.String}
		}
		if rating.Valid {
			r := rating.Float64
			p.Rating = &r
		}
		p.DuplicateOfKeyword = dupOf.String

		var entries []models.RankEntry
		if err := json.Unmarshal([]byte(ranks), &entries); err != nil {
			return nil, fmt.Errorf("failed to decode ranks: %w", err)
		}
		if err := json.Unmarshal([]byte(badges), &p.Badges); err != nil {
			return nil, fmt.Errorf("failed to decode badges: %w", err)
		}
		if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
			return nil, fmt.Errorf("failed to decode images: %w", err)
		}

		status := p.RankStatus
		p.SetRanks(entries)
		p.RankStatus = status
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return products, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
