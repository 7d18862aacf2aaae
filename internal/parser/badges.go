package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

const (
	badgeSelector      = `[data-a-badge-type], [data-badge-type], span.a-badge-label, span.a-badge-text, span[class*="badge"], div[class*="badge"]`
	maxBadgeTextLength = 100
)

var (
	badgeRankPattern     = regexp.MustCompile(`(?i)(?:#|nr\.?|n[.º°])\s*(\d[\d.,]*)`)
	badgeCategoryPattern = regexp.MustCompile(`(?i)\b(?:in|en|dans|nei|nella)\s+(.+)$`)
	badgeKeywordPattern  = regexp.MustCompile(`(?i)\b(?:for|für|para|pour|per)\s+["“„«]?([^"”“»]+)["”“»]?`)
)

// badgeHints maps fragments of structured badge type attributes to tags.
var badgeHints = []struct {
	fragment string
	tag      models.BadgeTag
}{
	{"choice", models.BadgeEditorialChoice},
	{"editorial", models.BadgeEditorialChoice},
	{"best-seller", models.BadgeBestSeller},
	{"bestseller", models.BadgeBestSeller},
	{"climate", models.BadgeSustainability},
	{"sustainab", models.BadgeSustainability},
	{"deal", models.BadgeLimitedDeal},
	{"small-business", models.BadgeSmallBusiness},
}

// badgeKeywords classifies badge text. Order matters: the first tag with a
// matching keyword wins.
var badgeKeywords = []struct {
	tag      models.BadgeTag
	keywords []string
}{
	{models.BadgeEditorialChoice, []string{
		"amazon's choice", "amazon’s choice", "amazons choice", "overall pick",
		"amazons tipp", "elección de amazon", "choix d'amazon", "choix d’amazon", "scelta amazon",
	}},
	{models.BadgeBestSeller, []string{
		"best seller", "bestseller", "best-seller", "más vendido", "meilleure vente", "des ventes", "più venduto",
	}},
	{models.BadgeSustainability, []string{
		"climate pledge", "klimaschutz", "compromiso climático", "engagement climat", "impegno clima", "sustainab", "nachhaltig",
	}},
	{models.BadgeLimitedDeal, []string{
		"limited time deal", "zeitlich begrenztes angebot", "oferta por tiempo limitado", "offre à durée limitée",
		"offerta a tempo limitato", "deal", "blitzangebot", "oferta", "offre", "offerta",
	}},
	{models.BadgeSmallBusiness, []string{
		"small business", "kleine unternehmen", "pequeñas empresas", "petites entreprises", "piccole imprese",
	}},
}

// extractBadges classifies every badge element in a result container and
// keeps the first badge per tag.
func extractBadges(div *goquery.Selection) []models.Badge {
	badges := make([]models.Badge, 0)
	seen := make(map[models.BadgeTag]bool)

	div.Find(badgeSelector).Each(func(_ int, s *goquery.Selection) {
		tag, hinted := badgeTagFromHint(s)
		switch {
		case hasHintedAncestor(s, div):
			// A typed badge speaks for everything inside it.
			return
		case !hinted && s.Find(badgeSelector).Length() > 0:
			// Untyped wrapper: its inner badges are classified one by one.
			return
		}

		text := normalizeSpace(s.Text())
		if len([]rune(text)) > maxBadgeTextLength {
			return
		}

		if !hinted {
			if text == "" {
				return
			}
			tag = classifyBadgeText(text)
		}
		if seen[tag] {
			return
		}
		seen[tag] = true

		badges = append(badges, describeBadge(tag, text))
	})

	return badges
}

func hasHintedAncestor(s, container *goquery.Selection) bool {
	return s.ParentsUntilSelection(container).
		Filter(badgeSelector).
		FilterFunction(func(_ int, parent *goquery.Selection) bool {
			_, ok := badgeTagFromHint(parent)
			return ok
		}).Length() > 0
}

func badgeTagFromHint(s *goquery.Selection) (models.BadgeTag, bool) {
	hint := s.AttrOr("data-a-badge-type", s.AttrOr("data-badge-type", ""))
	hint = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(hint)), "_", "-")
	if hint == "" {
		return "", false
	}
	for _, h := range badgeHints {
		if strings.Contains(hint, h.fragment) {
			return h.tag, true
		}
	}
	return models.BadgeOther, true
}

func classifyBadgeText(text string) models.BadgeTag {
	lower := strings.ToLower(text)
	for _, c := range badgeKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.tag
			}
		}
	}
	return models.BadgeOther
}

func describeBadge(tag models.BadgeTag, text string) models.Badge {
	badge := models.Badge{Tag: tag, RawText: text}

	switch tag {
	case models.BadgeBestSeller:
		if m := badgeRankPattern.FindStringSubmatch(text); m != nil {
			if rank, ok := parseRank(m[1]); ok {
				badge.Rank = &rank
			}
		}
		if m := badgeCategoryPattern.FindStringSubmatch(text); m != nil {
			badge.Category = strings.TrimSpace(m[1])
		}
	case models.BadgeEditorialChoice:
		if m := badgeKeywordPattern.FindStringSubmatch(text); m != nil {
			badge.Keyword = strings.TrimSpace(m[1])
		}
	}

	return badge
}
