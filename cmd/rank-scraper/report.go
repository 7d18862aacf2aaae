package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/storage/sqlite"
	"github.com/urfave/cli/v2"
)

func printSummary(w io.Writer, results []*models.RunResult) {
	if len(results) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tKEYWORDS\tOK\tFAILED\tPRODUCTS\tDUPLICATES\tRANKS\tDURATION")
	for _, r := range results {
		s := r.Summary
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Country, s.KeywordsTotal, s.KeywordsSucceeded, s.KeywordsFailed,
			s.ProductsTotal, s.Duplicates, s.RanksFound, runDuration(s))
	}
	tw.Flush()
}

func runDuration(s models.RunSummary) string {
	if s.FinishedAt == nil {
		return "-"
	}
	return s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()
}

func printRuns(w io.Writer, runs []*models.KeywordRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCOUNTRY\tKEYWORD\tSTATUS\tPRODUCTS\tRANKS\tERROR")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			run.StartedAt.Format(time.RFC3339), run.Country, run.Keyword, run.Status,
			run.Total, run.RanksFound(), run.Error)
	}
	tw.Flush()
}

func printCountries(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tDOMAIN\tCURRENCY\tLANGUAGE")
	for _, code := range locale.Codes() {
		loc := locale.MustLookup(code)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", loc.Code, loc.Domain, loc.Currency, loc.Language)
	}
	tw.Flush()
}

func countriesAction(c *cli.Context) error {
	printCountries(c.App.Writer)
	return nil
}

func historyAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	newLogger(c, cfg)

	store, err := sqlite.New(c.String("sqlite"))
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.KeywordRuns(c.Context, sqlite.Filter{
		Country: c.String("country"),
		Keyword: c.String("keyword"),
		Status:  models.RunStatus(c.String("status")),
		Limit:   c.Int("limit"),
	})
	if err != nil {
		return err
	}

	printRuns(c.App.Writer, runs)
	return nil
}
