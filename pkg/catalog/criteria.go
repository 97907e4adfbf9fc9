package catalog

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// SortKey selects the ordering of the displayed catalog.
type SortKey string

const (
	SortNone      SortKey = ""
	SortNewest    SortKey = "newest"
	SortPriceLow  SortKey = "price-low"
	SortPriceHigh SortKey = "price-high"
	SortRating    SortKey = "rating"
	SortTitle     SortKey = "title"
)

// Normalize maps unknown keys to SortNewest and keeps SortNone as is.
func (k SortKey) Normalize() SortKey {
	switch k {
	case SortNone, SortNewest, SortPriceLow, SortPriceHigh, SortRating, SortTitle:
		return k
	default:
		return SortNewest
	}
}

// Criteria is the set of user-chosen filters. Nil pointers mean "no
// constraint". The zero value selects everything in fetch order.
type Criteria struct {
	Search     string   `json:"q,omitempty"`
	CategoryID *int64   `json:"category,omitempty"`
	MinPrice   *float64 `json:"minPrice,omitempty"`
	MaxPrice   *float64 `json:"maxPrice,omitempty"`
	Sort       SortKey  `json:"sort,omitempty"`
}

// IsZero reports whether no criterion is set.
func (c Criteria) IsZero() bool {
	return strings.TrimSpace(c.Search) == "" && c.CategoryID == nil && c.MinPrice == nil && c.MaxPrice == nil && c.Sort == SortNone
}

// ParseCriteria builds criteria from raw form values. Parsing is permissive:
// a category of "" or "all" and any price that is not a finite number leave
// the respective filter unset.
func ParseCriteria(search, category, minPrice, maxPrice, sort string) Criteria {
	return Criteria{
		Search:     strings.TrimSpace(search),
		CategoryID: parseCategory(category),
		MinPrice:   parsePrice(minPrice),
		MaxPrice:   parsePrice(maxPrice),
		Sort:       SortKey(strings.ToLower(strings.TrimSpace(sort))),
	}
}

// CriteriaFromQuery reads q, category, minPrice, maxPrice and sort.
func CriteriaFromQuery(v url.Values) Criteria {
	return ParseCriteria(v.Get("q"), v.Get("category"), v.Get("minPrice"), v.Get("maxPrice"), v.Get("sort"))
}

// Query is the inverse of CriteriaFromQuery.
func (c Criteria) Query() url.Values {
	v := url.Values{}
	if s := strings.TrimSpace(c.Search); s != "" {
		v.Set("q", s)
	}
	if c.CategoryID != nil {
		v.Set("category", strconv.FormatInt(*c.CategoryID, 10))
	}
	if c.MinPrice != nil {
		v.Set("minPrice", strconv.FormatFloat(*c.MinPrice, 'f', -1, 64))
	}
	if c.MaxPrice != nil {
		v.Set("maxPrice", strconv.FormatFloat(*c.MaxPrice, 'f', -1, 64))
	}
	if c.Sort != SortNone {
		v.Set("sort", string(c.Sort))
	}
	return v
}

func parseCategory(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func parsePrice(raw string) *float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
