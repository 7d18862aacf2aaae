package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	minPrice       = 0.01
	maxPrice       = 99999
	maxReviewCount = 1000000
)

var (
	priceNumberPattern = regexp.MustCompile(`\d+(?:[.,\x{00A0}\x{202F}]\d+)*`)
	ratingPattern      = regexp.MustCompile(`\d(?:[.,]\d+)?`)
	nonDigits          = regexp.MustCompile(`\D`)
)

// rankNumber matches a rank with optional thousands grouping ("1.234", "1,234", "1 234").
const rankNumber = `(\d{1,3}(?:[.,\x{00A0}\x{202F} ]\d{3})+|\d+)`

// parsePrice reads the first amount in text. A trailing group of one or two
// digits is the fractional part; a trailing group of three digits is a
// thousands group, whichever separator is used.
func parsePrice(text string) (float64, bool) {
	raw := priceNumberPattern.FindString(text)
	if raw == "" {
		return 0, false
	}

	whole, fraction := raw, ""
	if idx := strings.LastIndexAny(raw, ".,\u00a0\u202f"); idx >= 0 {
		_, size := utf8.DecodeRuneInString(raw[idx:])
		tail := raw[idx+size:]
		if len(tail) <= 2 {
			whole, fraction = raw[:idx], tail
		}
	}

	whole = nonDigits.ReplaceAllString(whole, "")
	if whole == "" {
		whole = "0"
	}
	if fraction == "" {
		fraction = "0"
	}

	amount, err := strconv.ParseFloat(whole+"."+fraction, 64)
	if err != nil || amount <= minPrice || amount >= maxPrice {
		return 0, false
	}
	return amount, true
}

// parseWidgetPrice joins the integer and fraction halves of a split price widget.
func parseWidgetPrice(whole, fraction string) (float64, bool) {
	whole = nonDigits.ReplaceAllString(whole, "")
	fraction = nonDigits.ReplaceAllString(fraction, "")
	if whole == "" {
		return 0, false
	}
	if fraction == "" {
		fraction = "0"
	}

	amount, err := strconv.ParseFloat(whole+"."+fraction, 64)
	if err != nil || amount <= minPrice || amount >= maxPrice {
		return 0, false
	}
	return amount, true
}

func parseRating(text string) (float64, bool) {
	raw := ratingPattern.FindString(text)
	if raw == "" {
		return 0, false
	}

	rating, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil || rating < 0 || rating > 5 {
		return 0, false
	}
	return rating, true
}

// parseCount strips every separator and accepts values in [1, 1000000).
func parseCount(text string) (int, bool) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, false
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n >= maxReviewCount {
		return 0, false
	}
	return n, true
}

func parseRank(text string) (int, bool) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, false
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
