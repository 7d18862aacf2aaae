package parser

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

// ErrNoResults is returned when a listing page carries no result containers at all.
var ErrNoResults = errors.New("no result containers found")

type ListingParser interface {
	ExtractListing(html string) ([]*models.ProductRecord, error)
}

type DetailParser interface {
	ExtractDetail(html string) (*DetailResult, error)
}

type Parser interface {
	ListingParser
	DetailParser
}

// DetailResult holds what a detail page adds to a listing record.
// Ranks is empty, never nil, when no sub-category reading was found.
type DetailResult struct {
	Ranks  []models.RankEntry
	Images []string
}

type Options struct {
	// RootRankFallback surfaces the root category reading when a page has no
	// sub-category ranks. Off by default.
	RootRankFallback bool
}

// AmazonParser extracts listing and detail data for one marketplace locale.
type AmazonParser struct {
	locale *locale.Locale
	opts   Options
	rank   *rankMatcher
	regex  []rankPattern

	reviewLabel *regexp.Regexp
}

func NewAmazonParser(loc *locale.Locale, opts Options) *AmazonParser {
	return &AmazonParser{
		locale: loc,
		opts:   opts,
		rank:   newRankMatcher(loc),
		regex:  rankPatternsFor(loc.Language),

		reviewLabel: regexp.MustCompile(`(?i)([\d.,]+)\s*(?:` + alternation(loc.ReviewLabels) + `)`),
	}
}

func (p *AmazonParser) Locale() *locale.Locale {
	return p.locale
}

// firstMatch tries each extraction strategy in order and returns the first
// value a strategy reports as found.
func firstMatch[T any](s *goquery.Selection, strategies ...func(*goquery.Selection) (T, bool)) (T, bool) {
	for _, try := range strategies {
		if v, ok := try(s); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// ownText returns only the text nodes directly under s.
func ownText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	return b.String()
}

// alternation quotes tokens into a regexp alternation, longest first so
// "Bewertungen" wins over "Bewertung".
func alternation(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = regexp.QuoteMeta(t)
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return strings.Join(quoted, "|")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
