package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "rank-scraper",
		Usage: "collect Amazon search results and best-seller ranks per keyword",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Usage: "json or text", EnvVars: []string{"LOG_FORMAT"}},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run keywords against one or more marketplaces",
				ArgsUsage: "[keyword...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "country", Aliases: []string{"c"}, Usage: "marketplace code, repeatable"},
					&cli.StringSliceFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "search keyword, repeatable"},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "YAML keyword file"},
					&cli.IntFlag{Name: "max-products", Usage: "products to enrich per keyword"},
					&cli.IntFlag{Name: "concurrency", Usage: "parallel detail fetches per keyword"},
					&cli.StringFlag{Name: "provider", Usage: "fetch provider: render, direct or browser"},
					&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "directory for JSON results"},
					&cli.StringFlag{Name: "sqlite", Usage: "also write results to this sqlite database"},
					&cli.BoolFlag{Name: "root-rank-fallback", Usage: "accept a root category rank when no subcategory rank exists"},
				},
				Action: runAction,
			},
			{
				Name:  "history",
				Usage: "list keyword runs stored in a sqlite database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sqlite", Required: true, Usage: "sqlite database written by run --sqlite"},
					&cli.StringFlag{Name: "country", Usage: "only this marketplace"},
					&cli.StringFlag{Name: "keyword", Usage: "only this keyword"},
					&cli.StringFlag{Name: "status", Usage: "success or failed"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: historyAction,
			},
			{
				Name:   "countries",
				Usage:  "list supported marketplaces",
				Action: countriesAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
