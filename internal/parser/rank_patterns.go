package parser

import (
	"regexp"
	"slices"
	"strings"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

// rankPattern is a raw markup expression capturing a rank number and a
// category. Root patterns identify the top level reading so sub-category
// patterns can skip it.
type rankPattern struct {
	re   *regexp.Regexp
	root bool
}

func rootPattern(expr string) rankPattern {
	return rankPattern{re: compileRankPattern(expr), root: true}
}

func subPattern(expr string) rankPattern {
	return rankPattern{re: compileRankPattern(expr)}
}

func compileRankPattern(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + strings.ReplaceAll(expr, "{n}", rankNumber))
}

var rankPatternsByLanguage = map[string][]rankPattern{
	"en": {
		rootPattern(`Best Sellers? Rank[:\s]*(?:</span>\s*)?#?{n}\s+in\s+([^(<\n]+)`),
		subPattern(`#{n}\s+in\s+<a[^>]*>([^<]+)</a>`),
		subPattern(`#{n}\s+in\s+([^(<\n#]+)`),
	},
	"de": {
		rootPattern(`Bestseller-?Rang[:\s]*(?:</span>\s*)?(?:Nr\.\s*)?{n}\s+in\s+([^(<\n]+)`),
		subPattern(`Nr\.\s*{n}\s+in\s+<a[^>]*>([^<]+)</a>`),
		subPattern(`Nr\.\s*{n}\s+in\s+([^(<\n]+)`),
	},
	"es": {
		rootPattern(`Clasificación en los más vendidos[:\s]*(?:</span>\s*)?(?:n\.?\s?º\s*)?{n}\s+en\s+([^(<\n]+)`),
		subPattern(`n\.?\s?º\s*{n}\s+en\s+<a[^>]*>([^<]+)</a>`),
		subPattern(`n\.?\s?º\s*{n}\s+en\s+([^(<\n]+)`),
	},
	"fr": {
		rootPattern(`Classement des meilleures ventes[^:<]*[:\s]*(?:</span>\s*)?(?:n[°º]\s*)?{n}\s+(?:en|dans)\s+([^(<\n]+)`),
		subPattern(`n[°º]\s*{n}\s+(?:en|dans)\s+<a[^>]*>([^<]+)</a>`),
		subPattern(`n[°º]\s*{n}\s+(?:en|dans)\s+([^(<\n]+)`),
	},
	"it": {
		rootPattern(`Posizione nella classifica Bestseller[^:<]*[:\s]*(?:</span>\s*)?(?:n\.\s*)?{n}\s+(?:in|nei|nella)\s+([^(<\n]+)`),
		subPattern(`n\.\s*{n}\s+(?:in|nei|nella)\s+<a[^>]*>([^<]+)</a>`),
		subPattern(`n\.\s*{n}\s+(?:in|nei|nella)\s+([^(<\n]+)`),
	},
}

// rankPatternsFor returns the language patterns followed by the English
// ones, which marketplaces fall back to on partially translated pages.
func rankPatternsFor(language string) []rankPattern {
	patterns := append([]rankPattern(nil), rankPatternsByLanguage[language]...)
	if language != "en" {
		patterns = append(patterns, rankPatternsByLanguage["en"]...)
	}
	return patterns
}

// fromMarkup applies the pattern library to raw markup. A labeled root
// already known from the structured regions takes precedence over one found
// here. Without any labeled root, the first of several unlabeled readings is
// taken as the root, matching the layout of the structured regions. The first
// sub-category reading after the root wins.
func (p *AmazonParser) fromMarkup(markup string, root *models.RankEntry) rankReading {
	reading := rankReading{root: root}

	for _, pattern := range p.regex {
		if !pattern.root || reading.root != nil {
			continue
		}
		if hits := p.patternHits(pattern.re, markup); len(hits) > 0 {
			reading.root = &hits[0].entry
		}
	}

	var hits []rankHit
	for _, pattern := range p.regex {
		if !pattern.root {
			hits = append(hits, p.patternHits(pattern.re, markup)...)
		}
	}
	slices.SortStableFunc(hits, func(a, b rankHit) int { return a.offset - b.offset })
	hits = slices.CompactFunc(hits, func(a, b rankHit) bool { return a.offset == b.offset })

	if reading.root == nil && len(hits) > 1 {
		reading.root = &hits[0].entry
		hits = hits[1:]
	}

	for _, hit := range hits {
		if reading.root != nil && hit.entry == *reading.root {
			continue
		}
		reading.subs = []models.RankEntry{hit.entry}
		break
	}

	return reading
}

// rankHit is a reading together with the markup offset of its number.
type rankHit struct {
	offset int
	entry  models.RankEntry
}

func (p *AmazonParser) patternHits(re *regexp.Regexp, markup string) []rankHit {
	var hits []rankHit
	for _, idx := range re.FindAllStringSubmatchIndex(markup, -1) {
		if isTeaser(markup, idx[2]) {
			continue
		}
		if entry, ok := p.rank.entry(markup[idx[2]:idx[3]], markup[idx[4]:idx[5]]); ok {
			hits = append(hits, rankHit{offset: idx[2], entry: entry})
		}
	}
	return hits
}
