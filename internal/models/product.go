package models

import (
	"regexp"
	"time"
)

const (
	MaxRankEntries      = 5
	MaxCategoryLength   = 100
	RankStatusAvailable = "available"
	RankStatusMissing   = "not_available"
)

var asinPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// ProductRecord is one organic search result, optionally enriched from its detail page.
type ProductRecord struct {
	ASIN            string      `json:"asin"`
	Title           string      `json:"title"`
	Price           *Price      `json:"price,omitempty"`
	Rating          *float64    `json:"rating,omitempty"`
	ReviewCount     int         `json:"review_count"`
	Badges          []Badge     `json:"badges"`
	URL             string      `json:"url"`
	SearchPosition  int         `json:"search_position"`
	Thumbnail       string      `json:"thumbnail,omitempty"`
	Images          []string    `json:"images"`
	Ranks           []RankEntry `json:"ranks"`
	PrimaryRank     *int        `json:"bsr_rank,omitempty"`
	PrimaryCategory string      `json:"bsr_category,omitempty"`
	RankStatus      string      `json:"rank_status"`
	RankAttempts    int         `json:"rank_attempts"`
	Enriched        bool        `json:"enriched"`
	EnrichError     string      `json:"enrich_error,omitempty"`

	IsDuplicate        bool   `json:"is_duplicate"`
	DuplicateOfKeyword string `json:"duplicate_of_keyword,omitempty"`

	ScrapedAt time.Time `json:"scraped_at"`
}

type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// RankEntry is one "#N in Category" reading from a detail page.
type RankEntry struct {
	Rank     int    `json:"rank"`
	Category string `json:"category"`
}

func NewProductRecord(asin string) *ProductRecord {
	return &ProductRecord{
		ASIN:       asin,
		Badges:     make([]Badge, 0),
		Images:     make([]string, 0),
		Ranks:      make([]RankEntry, 0),
		RankStatus: RankStatusMissing,
	}
}

// ValidASIN reports whether s is a well-formed identifier outside the reserved "000" block.
func ValidASIN(s string) bool {
	return asinPattern.MatchString(s) && s[:3] != "000"
}

func (p *Price) IsValid() bool {
	return p != nil && p.Amount > 0 && p.Currency != ""
}

func (r RankEntry) IsValid() bool {
	return r.Rank > 0 && r.Category != "" && len([]rune(r.Category)) <= MaxCategoryLength
}

// SetRanks stores the rank list and derives the primary reading and status.
func (p *ProductRecord) SetRanks(ranks []RankEntry) {
	p.Ranks = make([]RankEntry, 0, len(ranks))
	p.Ranks = append(p.Ranks, ranks...)
	p.PrimaryRank = nil
	p.PrimaryCategory = ""
	p.RankStatus = RankStatusMissing

	if len(p.Ranks) > 0 {
		rank := p.Ranks[0].Rank
		p.PrimaryRank = &rank
		p.PrimaryCategory = p.Ranks[0].Category
		p.RankStatus = RankStatusAvailable
	}
}

// Clone returns a deep copy so cached records cannot be mutated through a later sighting.
func (p *ProductRecord) Clone() *ProductRecord {
	if p == nil {
		return nil
	}
	c := *p
	if p.Price != nil {
		price := *p.Price
		c.Price = &price
	}
	if p.Rating != nil {
		rating := *p.Rating
		c.Rating = &rating
	}
	if p.PrimaryRank != nil {
		rank := *p.PrimaryRank
		c.PrimaryRank = &rank
	}
	c.Badges = append(make([]Badge, 0, len(p.Badges)), p.Badges...)
	c.Images = append(make([]string, 0, len(p.Images)), p.Images...)
	c.Ranks = append(make([]RankEntry, 0, len(p.Ranks)), p.Ranks...)
	return &c
}

func (p *ProductRecord) Validate() []string {
	var errors []string

	if !ValidASIN(p.ASIN) {
		errors = append(errors, "ASIN is invalid")
	}

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	if p.SearchPosition < 1 {
		errors = append(errors, "Search position must be positive")
	}

	if len(p.Ranks) > MaxRankEntries {
		errors = append(errors, "Too many rank entries")
	}

	for _, r := range p.Ranks {
		if !r.IsValid() {
			errors = append(errors, "Invalid rank entry")
			break
		}
	}

	return errors
}
