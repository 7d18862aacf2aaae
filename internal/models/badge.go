package models

type BadgeTag string

const (
	BadgeBestSeller      BadgeTag = "best_seller"
	BadgeEditorialChoice BadgeTag = "editorial_choice"
	BadgeSustainability  BadgeTag = "sustainability"
	BadgeLimitedDeal     BadgeTag = "limited_time_deal"
	BadgeSmallBusiness   BadgeTag = "small_business"
	BadgeOther           BadgeTag = "other"
)

// Badge is a classified listing badge. RawText keeps the first text seen for the tag.
type Badge struct {
	Tag      BadgeTag `json:"tag"`
	RawText  string   `json:"raw_text"`
	Rank     *int     `json:"rank,omitempty"`
	Category string   `json:"category,omitempty"`
	Keyword  string   `json:"keyword,omitempty"`
}
