package locale

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Locale bundles the marketplace settings and the vocabulary the extractors
// match against for one country.
type Locale struct {
	Code           string
	Language       string
	Domain         string
	Currency       string
	CountryCode    string
	AcceptLanguage string
	BrowserLocale  string
	Timezone       string

	SponsoredMarkers []string
	RankLabels       []string
	RankMarkers      []string
	Prepositions     []string
	ReviewLabels     []string
	TopSuffixes      []string

	DuplicateMarker  string
	PlaceholderTitle string
}

var english = struct {
	sponsored    []string
	rankLabels   []string
	prepositions []string
}{
	sponsored:    []string{"Sponsored"},
	rankLabels:   []string{"Best Sellers Rank", "Best Seller Rank", "Best-sellers rank"},
	prepositions: []string{"in"},
}

var locales = map[string]*Locale{
	"uk": {
		Code:             "uk",
		Language:         "en",
		Domain:           "amazon.co.uk",
		Currency:         "GBP",
		CountryCode:      "gb",
		AcceptLanguage:   "en-GB,en;q=0.9",
		BrowserLocale:    "en-GB",
		Timezone:         "Europe/London",
		SponsoredMarkers: english.sponsored,
		RankLabels:       english.rankLabels,
		RankMarkers:      []string{"#"},
		Prepositions:     english.prepositions,
		ReviewLabels:     []string{"ratings", "rating"},
		TopSuffixes:      []string{"See Top"},
		DuplicateMarker:  "[Duplicate]",
		PlaceholderTitle: "Product %s",
	},
	"us": {
		Code:             "us",
		Language:         "en",
		Domain:           "amazon.com",
		Currency:         "USD",
		CountryCode:      "us",
		AcceptLanguage:   "en-US,en;q=0.9",
		BrowserLocale:    "en-US",
		Timezone:         "America/New_York",
		SponsoredMarkers: english.sponsored,
		RankLabels:       english.rankLabels,
		RankMarkers:      []string{"#"},
		Prepositions:     english.prepositions,
		ReviewLabels:     []string{"ratings", "rating"},
		TopSuffixes:      []string{"See Top"},
		DuplicateMarker:  "[Duplicate]",
		PlaceholderTitle: "Product %s",
	},
	"de": {
		Code:             "de",
		Language:         "de",
		Domain:           "amazon.de",
		Currency:         "EUR",
		CountryCode:      "de",
		AcceptLanguage:   "de-DE,de;q=0.9,en;q=0.8",
		BrowserLocale:    "de-DE",
		Timezone:         "Europe/Berlin",
		SponsoredMarkers: []string{"Gesponsert", "Sponsored"},
		RankLabels:       append([]string{"Amazon Bestseller-Rang", "Bestseller-Rang", "Bestsellerrang"}, english.rankLabels...),
		RankMarkers:      []string{"Nr.", "#"},
		Prepositions:     []string{"in"},
		ReviewLabels:     []string{"Bewertungen", "Bewertung", "Sternebewertungen"},
		TopSuffixes:      []string{"Siehe Top", "See Top"},
		DuplicateMarker:  "[Duplikat]",
		PlaceholderTitle: "Produkt %s",
	},
	"es": {
		Code:             "es",
		Language:         "es",
		Domain:           "amazon.es",
		Currency:         "EUR",
		CountryCode:      "es",
		AcceptLanguage:   "es-ES,es;q=0.9,en;q=0.8",
		BrowserLocale:    "es-ES",
		Timezone:         "Europe/Madrid",
		SponsoredMarkers: []string{"Patrocinado", "Sponsored"},
		RankLabels:       append([]string{"Clasificación en los más vendidos", "Clasificación"}, english.rankLabels...),
		RankMarkers:      []string{"n.º", "nº", "º", "#"},
		Prepositions:     []string{"en", "in"},
		ReviewLabels:     []string{"valoraciones", "valoración", "calificaciones"},
		TopSuffixes:      []string{"Ver el Top", "Ver Top", "See Top"},
		DuplicateMarker:  "[Duplicado]",
		PlaceholderTitle: "Producto %s",
	},
	"fr": {
		Code:             "fr",
		Language:         "fr",
		Domain:           "amazon.fr",
		Currency:         "EUR",
		CountryCode:      "fr",
		AcceptLanguage:   "fr-FR,fr;q=0.9,en;q=0.8",
		BrowserLocale:    "fr-FR",
		Timezone:         "Europe/Paris",
		SponsoredMarkers: []string{"Sponsorisé", "Sponsorisée", "Sponsored"},
		RankLabels:       append([]string{"Classement des meilleures ventes d'Amazon", "Classement des meilleures ventes", "Classement"}, english.rankLabels...),
		RankMarkers:      []string{"n°", "nº", "#"},
		Prepositions:     []string{"en", "dans", "in"},
		ReviewLabels:     []string{"évaluations", "évaluation"},
		TopSuffixes:      []string{"Voir les 100 premiers", "Voir le Top", "See Top"},
		DuplicateMarker:  "[Doublon]",
		PlaceholderTitle: "Produit %s",
	},
	"it": {
		Code:             "it",
		Language:         "it",
		Domain:           "amazon.it",
		Currency:         "EUR",
		CountryCode:      "it",
		AcceptLanguage:   "it-IT,it;q=0.9,en;q=0.8",
		BrowserLocale:    "it-IT",
		Timezone:         "Europe/Rome",
		SponsoredMarkers: []string{"Sponsorizzato", "Sponsorizzata", "Sponsored"},
		RankLabels:       append([]string{"Posizione nella classifica Bestseller di Amazon", "Posizione nella classifica Bestseller", "Posizione nella classifica"}, english.rankLabels...),
		RankMarkers:      []string{"n.", "#"},
		Prepositions:     []string{"in", "nei", "nella"},
		ReviewLabels:     []string{"voti", "valutazioni", "recensioni"},
		TopSuffixes:      []string{"Visualizza i Top", "Vedi Top", "See Top"},
		DuplicateMarker:  "[Duplicato]",
		PlaceholderTitle: "Prodotto %s",
	},
}

// ErrUnknownLocale is returned by Lookup for codes outside the table.
var ErrUnknownLocale = errors.New("unknown locale")

// Lookup returns the locale for a country code. "gb" is accepted as an alias of "uk".
func Lookup(code string) (*Locale, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "gb" {
		code = "uk"
	}
	loc, ok := locales[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocale, code)
	}
	return loc, nil
}

// MustLookup panics on unknown codes. Intended for tests and static setup.
func MustLookup(code string) *Locale {
	loc, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return loc
}

// Codes returns all supported codes in sorted order.
func Codes() []string {
	codes := make([]string, 0, len(locales))
	for code := range locales {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// AllSponsoredMarkers returns the union of sponsored markers across locales.
// Marketplaces occasionally serve listings in a second language.
func AllSponsoredMarkers() []string {
	seen := make(map[string]bool)
	var markers []string
	for _, code := range Codes() {
		for _, m := range locales[code].SponsoredMarkers {
			if !seen[m] {
				seen[m] = true
				markers = append(markers, m)
			}
		}
	}
	return markers
}

func (l *Locale) BaseURL() string {
	return "https://www." + l.Domain
}

func (l *Locale) SearchURL(keyword string) string {
	return l.BaseURL() + "/s?k=" + url.QueryEscape(keyword)
}

func (l *Locale) ProductURL(asin string) string {
	return l.BaseURL() + "/dp/" + asin
}

func (l *Locale) Placeholder(asin string) string {
	return fmt.Sprintf(l.PlaceholderTitle, asin)
}

// MarkDuplicate prefixes a title with the duplicate marker once.
func (l *Locale) MarkDuplicate(title string) string {
	if strings.HasPrefix(title, l.DuplicateMarker) {
		return title
	}
	return l.DuplicateMarker + " " + title
}
