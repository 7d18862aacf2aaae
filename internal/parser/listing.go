package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

const (
	resultSelector         = `div[data-component-type="s-search-result"]`
	fallbackResultSelector = `div.s-result-item[data-asin]`

	minLinkTitleLength = 20
	minLinkTitleWords  = 4
)

var (
	exactRatingsLabel = regexp.MustCompile(`(?i)^[\d,.\s]+\s+ratings?$`)
	bareNumber        = regexp.MustCompile(`^[\d,.]+$`)
	parenthesized     = regexp.MustCompile(`^\(([\d,.]+)\)$`)
	anyParenthesized  = regexp.MustCompile(`\(([\d,.]+)\)`)
	ratingLikeLabel   = regexp.MustCompile(`(?i)\d[.,]?\d*\s+(?:out of|von|de|sur|su)\s+5`)
	starsLabel        = regexp.MustCompile(`(?i)^\s*\d(?:[.,]\d+)?\s+(?:out of|von|de|sur|su)\s+5`)
	currencySymbols   = "£€$"
)

// ExtractListing returns the organic results of a search page in document
// order. Sponsored containers are dropped without consuming a position.
func (p *AmazonParser) ExtractListing(html string) ([]*models.ProductRecord, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}

	containers := doc.Find(resultSelector)
	if containers.Length() == 0 {
		containers = doc.Find(fallbackResultSelector)
	}
	if containers.Length() == 0 {
		return nil, ErrNoResults
	}

	products := make([]*models.ProductRecord, 0, containers.Length())
	position := 0

	containers.Each(func(_ int, div *goquery.Selection) {
		asin := strings.TrimSpace(div.AttrOr("data-asin", ""))
		if !models.ValidASIN(asin) {
			return
		}
		if isSponsored(div) {
			return
		}

		position++
		products = append(products, p.extractListingRecord(div, asin, position))
	})

	return products, nil
}

func (p *AmazonParser) extractListingRecord(div *goquery.Selection, asin string, position int) *models.ProductRecord {
	product := models.NewProductRecord(asin)
	product.SearchPosition = position
	product.URL = p.locale.ProductURL(asin)

	if title, ok := firstMatch(div, titleFromHeading, titleFromAriaLabel, titleFromLinkText); ok {
		product.Title = title
	} else {
		product.Title = p.locale.Placeholder(asin)
	}

	if amount, ok := firstMatch(div, priceFromWidget, priceFromOffscreen, priceFromStyledElement); ok {
		product.Price = &models.Price{Amount: amount, Currency: p.locale.Currency}
	}

	if rating, ok := firstMatch(div, ratingFromIconAlt, ratingFromAriaLabel); ok {
		product.Rating = &rating
	}

	if count, ok := firstMatch(div,
		reviewsFromRatingsLabel,
		reviewsFromUnderlinedCount,
		p.reviewsFromLocaleLabel,
		reviewsFromParenthesizedSpan,
		reviewsFromReviewsBlock,
	); ok {
		product.ReviewCount = count
	}

	product.Badges = extractBadges(div)

	if src, ok := div.Find("img.s-image").First().Attr("src"); ok {
		product.Thumbnail = strings.TrimSpace(src)
	}

	return product
}

func isSponsored(div *goquery.Selection) bool {
	if div.Find(`.puis-sponsored-label-text, [data-component-type="sp-sponsored-result"]`).Length() > 0 {
		return true
	}

	markers := locale.AllSponsoredMarkers()
	sponsored := false
	div.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		if span.Children().Length() > 0 || span.ParentsFiltered("h2").Length() > 0 {
			return true
		}
		text := strings.TrimSpace(span.Text())
		for _, m := range markers {
			if containsFold(text, m) {
				sponsored = true
				return false
			}
		}
		return true
	})
	return sponsored
}

func titleFromHeading(div *goquery.Selection) (string, bool) {
	title := normalizeSpace(div.Find("h2").First().Text())
	return title, title != ""
}

func titleFromAriaLabel(div *goquery.Selection) (string, bool) {
	var title string
	div.Find(`h2[aria-label], h2 a[aria-label], a[href*="/dp/"][aria-label]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := normalizeSpace(s.AttrOr("aria-label", ""))
		if label == "" || ratingLikeLabel.MatchString(label) || exactRatingsLabel.MatchString(label) {
			return true
		}
		title = label
		return false
	})
	return title, title != ""
}

func titleFromLinkText(div *goquery.Selection) (string, bool) {
	var title string
	div.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := normalizeSpace(a.Text())
		if len([]rune(text)) < minLinkTitleLength || len(strings.Fields(text)) < minLinkTitleWords {
			return true
		}
		if strings.ContainsAny(text, currencySymbols) {
			return true
		}
		title = text
		return false
	})
	return title, title != ""
}

func priceFromWidget(div *goquery.Selection) (float64, bool) {
	price := div.Find(".a-price").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(".a-price-whole").Length() > 0
	}).First()
	if price.Length() == 0 {
		return 0, false
	}
	whole := price.Find(".a-price-whole").First().Text()
	fraction := price.Find(".a-price-fraction").First().Text()
	return parseWidgetPrice(whole, fraction)
}

func priceFromOffscreen(div *goquery.Selection) (float64, bool) {
	return firstParsedPrice(div.Find(".a-price .a-offscreen, span.a-offscreen"))
}

func priceFromStyledElement(div *goquery.Selection) (float64, bool) {
	return firstParsedPrice(div.Find(`span[class*="price"], div[class*="price"]`))
}

func firstParsedPrice(sel *goquery.Selection) (float64, bool) {
	var amount float64
	found := false
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := parsePrice(s.Text()); ok {
			amount, found = v, true
			return false
		}
		return true
	})
	return amount, found
}

func ratingFromIconAlt(div *goquery.Selection) (float64, bool) {
	text := strings.TrimSpace(div.Find("span.a-icon-alt").First().Text())
	if text == "" {
		return 0, false
	}
	return parseRating(text)
}

func ratingFromAriaLabel(div *goquery.Selection) (float64, bool) {
	var rating float64
	found := false
	div.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := s.AttrOr("aria-label", "")
		if !starsLabel.MatchString(label) {
			return true
		}
		rating, found = parseRating(label)
		return !found
	})
	return rating, found
}

func reviewsFromRatingsLabel(div *goquery.Selection) (int, bool) {
	var count int
	found := false
	div.Find("a[aria-label]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.TrimSpace(a.AttrOr("aria-label", ""))
		if !exactRatingsLabel.MatchString(label) {
			return true
		}
		count, found = parseCount(label)
		return !found
	})
	return count, found
}

func reviewsFromUnderlinedCount(div *goquery.Selection) (int, bool) {
	text := strings.TrimSpace(reviewsBlock(div).Find("span.s-underline-text").First().Text())
	if !bareNumber.MatchString(text) {
		return 0, false
	}
	return parseCount(text)
}

func (p *AmazonParser) reviewsFromLocaleLabel(div *goquery.Selection) (int, bool) {
	var count int
	found := false
	div.Find("a[aria-label]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		m := p.reviewLabel.FindStringSubmatch(a.AttrOr("aria-label", ""))
		if m == nil {
			return true
		}
		count, found = parseCount(m[1])
		return !found
	})
	return count, found
}

func reviewsFromParenthesizedSpan(div *goquery.Selection) (int, bool) {
	var count int
	found := false
	div.Find("span.puis-normal-weight-text, span.a-size-mini").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := parenthesized.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if m == nil {
			return true
		}
		count, found = parseCount(m[1])
		return !found
	})
	return count, found
}

func reviewsFromReviewsBlock(div *goquery.Selection) (int, bool) {
	m := anyParenthesized.FindStringSubmatch(reviewsBlock(div).Text())
	if m == nil {
		return 0, false
	}
	return parseCount(m[1])
}

func reviewsBlock(div *goquery.Selection) *goquery.Selection {
	return div.Find(`div[data-cy="reviews-block"]`).First()
}
