package parser

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

const rankListSelector = "ul.a-unordered-list, ul.a-nostyle"

// rankContainers are the product facts regions that have carried the sales
// rank across markup revisions, in lookup order.
var rankContainers = []string{
	"#detailBulletsWrapper_feature_div",
	"#prodDetails",
	"#detail-bullets",
	"#productDetails_feature_div",
	"#detailBullets_feature_div",
	`div[class*="product-facts"], div[class*="prodDetTable"]`,
}

var teaserSuffix = regexp.MustCompile(`(?i)\btop\s*(?:#\s*)?$`)

// rankReading is what one extraction attempt found. Root is the reading for
// the top level category; it is kept apart from the sub-category list.
type rankReading struct {
	subs []models.RankEntry
	root *models.RankEntry
}

func (r rankReading) found() bool {
	return len(r.subs) > 0
}

// rankMatcher holds the locale specific expressions used on rank lines.
type rankMatcher struct {
	labels      []string
	topSuffixes []string
	line        *regexp.Regexp
	scan        *regexp.Regexp
	rootLine    *regexp.Regexp
}

func newRankMatcher(loc *locale.Locale) *rankMatcher {
	markers := alternation(loc.RankMarkers)
	preps := alternation(loc.Prepositions)
	labels := alternation(loc.RankLabels)

	return &rankMatcher{
		labels:      loc.RankLabels,
		topSuffixes: loc.TopSuffixes,
		line: regexp.MustCompile(
			`(?i)(?:(?:` + markers + `)\s*)?` + rankNumber + `\s+(?:` + preps + `)\s+(.+)$`),
		scan: regexp.MustCompile(
			`(?im)(?:(?:` + markers + `)\s*)?` + rankNumber + `\s+(?:` + preps + `)\s+([^(#\n]+?)\s*(?:\(|#|\n|$|` + markers + `)`),
		rootLine: regexp.MustCompile(
			`(?i)(?:` + labels + `)[:\s]*(?:(?:` + markers + `)\s*)?` + rankNumber + `\s+(?:` + preps + `)\s+\S`),
	}
}

// ExtractDetail reads the sales rank list and the gallery images of a
// product detail page.
func (p *AmazonParser) ExtractDetail(markup string) (*DetailResult, error) {
	doc, err := newDocument(markup)
	if err != nil {
		return nil, err
	}

	reading := p.extractRanks(doc, markup)

	ranks := finalizeRanks(reading.subs, reading.root)
	if len(ranks) == 0 && p.opts.RootRankFallback && reading.root != nil && reading.root.IsValid() {
		ranks = []models.RankEntry{*reading.root}
	}

	return &DetailResult{
		Ranks:  ranks,
		Images: extractImages(doc),
	}, nil
}

func (p *AmazonParser) extractRanks(doc *goquery.Document, markup string) rankReading {
	var root *models.RankEntry

	for _, selector := range rankContainers {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		reading := p.rank.fromContainer(container)
		if reading.found() {
			return reading
		}
		if root == nil {
			root = reading.root
		}
	}

	return p.fromMarkup(markup, root)
}

func (m *rankMatcher) fromContainer(container *goquery.Selection) rankReading {
	label := m.findLabel(container)
	if label == nil {
		return rankReading{}
	}

	scope := label.Closest("li")
	if scope.Length() == 0 {
		scope = label.Closest("tr")
	}
	if scope.Length() == 0 {
		scope = label.Closest("div")
	}
	if scope.Length() == 0 {
		scope = container
	}

	list := scope.Find(rankListSelector).First()
	if list.Length() == 0 {
		return m.fromText(scope.Text())
	}
	return m.fromList(scope, list)
}

func (m *rankMatcher) findLabel(container *goquery.Selection) *goquery.Selection {
	var label *goquery.Selection
	container.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := ownText(s)
		for _, l := range m.labels {
			if containsFold(text, l) {
				label = s
				return false
			}
		}
		return true
	})
	return label
}

// fromList handles the two list layouts. When the text in front of the list
// already reads as a rank line, the root sits outside the list and every
// item is a sub-category. Otherwise the first item is the root.
func (m *rankMatcher) fromList(scope, list *goquery.Selection) rankReading {
	preceding := scope.Clone()
	preceding.Find(rankListSelector).First().Remove()
	lead := normalizeSpace(preceding.Text())

	var reading rankReading
	rootOutside := m.rootLine.MatchString(lead)
	if rootOutside {
		if root, ok := m.parseLine(lead); ok {
			reading.root = &root
		}
	}

	list.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		entry, ok := m.parseLine(normalizeSpace(li.Text()))
		if !rootOutside && i == 0 {
			if ok {
				reading.root = &entry
			}
			return
		}
		if ok {
			reading.subs = append(reading.subs, entry)
		}
	})

	return reading
}

// fromText scans free text for rank lines. The first reading is the root.
func (m *rankMatcher) fromText(text string) rankReading {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = normalizeSpace(l)
	}
	text = strings.Join(lines, "\n")

	var entries []models.RankEntry
	for _, idx := range m.scan.FindAllStringSubmatchIndex(text, -1) {
		if isTeaser(text, idx[2]) {
			continue
		}
		entry, ok := m.entry(text[idx[2]:idx[3]], text[idx[4]:idx[5]])
		if ok {
			entries = append(entries, entry)
		}
	}

	if len(entries) == 0 {
		return rankReading{}
	}
	return rankReading{root: &entries[0], subs: entries[1:]}
}

// parseLine reads the first non-teaser "<marker> <number> <preposition> <category>" in text.
func (m *rankMatcher) parseLine(text string) (models.RankEntry, bool) {
	for _, idx := range m.line.FindAllStringSubmatchIndex(text, -1) {
		if isTeaser(text, idx[2]) {
			continue
		}
		if entry, ok := m.entry(text[idx[2]:idx[3]], text[idx[4]:idx[5]]); ok {
			return entry, true
		}
	}
	return models.RankEntry{}, false
}

func (m *rankMatcher) entry(number, category string) (models.RankEntry, bool) {
	rank, ok := parseRank(number)
	if !ok {
		return models.RankEntry{}, false
	}
	category, ok = m.cleanCategory(category)
	if !ok {
		return models.RankEntry{}, false
	}
	return models.RankEntry{Rank: rank, Category: category}, true
}

// cleanCategory drops parenthetical asides and "see top 100" suffixes.
func (m *rankMatcher) cleanCategory(raw string) (string, bool) {
	category := normalizeSpace(html.UnescapeString(raw))
	if i := strings.Index(category, "("); i >= 0 {
		category = category[:i]
	}
	lower := strings.ToLower(category)
	for _, suffix := range m.topSuffixes {
		if i := strings.Index(lower, strings.ToLower(suffix)); i >= 0 {
			category = category[:i]
			lower = lower[:i]
		}
	}
	category = strings.Trim(category, " :;,-")

	runes := []rune(category)
	if len(runes) > models.MaxCategoryLength {
		category = strings.TrimSpace(string(runes[:models.MaxCategoryLength]))
	}
	return category, category != ""
}

// isTeaser reports whether the number starting at pos belongs to a
// "Top 100"-style link rather than a ranking.
func isTeaser(text string, pos int) bool {
	return teaserSuffix.MatchString(text[:pos])
}

// finalizeRanks drops readings equal to the root, removes duplicate pairs
// and caps the list.
func finalizeRanks(ranks []models.RankEntry, root *models.RankEntry) []models.RankEntry {
	out := make([]models.RankEntry, 0, models.MaxRankEntries)
	seen := make(map[models.RankEntry]bool)

	for _, r := range ranks {
		if root != nil && r == *root {
			continue
		}
		if seen[r] || !r.IsValid() {
			continue
		}
		seen[r] = true
		out = append(out, r)
		if len(out) == models.MaxRankEntries {
			break
		}
	}
	return out
}
