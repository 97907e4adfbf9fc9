// Package catalog derives the displayed subset of the book catalog from the
// fetched list and the shopper's filter and sort criteria.
package catalog

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"ready2publish/pkg/domain"
)

// Apply returns the items matching c in the order c asks for. The input slice
// and its items are never modified, and items that compare equal keep their
// relative input order.
func Apply(items []domain.CatalogItem, c Criteria) []domain.CatalogItem {
	out := make([]domain.CatalogItem, 0, len(items))
	m := newMatcher(c)
	for _, item := range items {
		if m.match(item) {
			out = append(out, item)
		}
	}
	sortItems(out, c.Sort.Normalize())
	return out
}

// PriceRange returns the lowest and highest price in items, or zeros when
// items is empty. The UI uses it as the default bounds of the price filter.
func PriceRange(items []domain.CatalogItem) (lo, hi float64) {
	for i, item := range items {
		if i == 0 || item.Price < lo {
			lo = item.Price
		}
		if i == 0 || item.Price > hi {
			hi = item.Price
		}
	}
	return lo, hi
}

type matcher struct {
	needle   string
	fold     cases.Caser
	category *int64
	min, max *float64
}

func newMatcher(c Criteria) *matcher {
	m := &matcher{
		fold:     cases.Fold(),
		category: c.CategoryID,
		min:      c.MinPrice,
		max:      c.MaxPrice,
	}
	if s := strings.TrimSpace(c.Search); s != "" {
		m.needle = m.fold.String(s)
	}
	return m
}

func (m *matcher) match(item domain.CatalogItem) bool {
	if m.category != nil && item.CategoryID != *m.category {
		return false
	}
	if m.min != nil && item.Price < *m.min {
		return false
	}
	if m.max != nil && item.Price > *m.max {
		return false
	}
	if m.needle == "" {
		return true
	}
	for _, field := range []string{item.Title, item.Description, item.AuthorName()} {
		if field != "" && strings.Contains(m.fold.String(field), m.needle) {
			return true
		}
	}
	return false
}

func sortItems(items []domain.CatalogItem, key SortKey) {
	switch key {
	case SortNone:
	case SortPriceLow:
		slices.SortStableFunc(items, func(a, b domain.CatalogItem) int { return cmp.Compare(a.Price, b.Price) })
	case SortPriceHigh:
		slices.SortStableFunc(items, func(a, b domain.CatalogItem) int { return cmp.Compare(b.Price, a.Price) })
	case SortRating:
		slices.SortStableFunc(items, func(a, b domain.CatalogItem) int { return cmp.Compare(b.Rating, a.Rating) })
	case SortTitle:
		col := collate.New(language.Und, collate.IgnoreCase)
		slices.SortStableFunc(items, func(a, b domain.CatalogItem) int { return col.CompareString(a.Title, b.Title) })
	default:
		slices.SortStableFunc(items, func(a, b domain.CatalogItem) int { return cmp.Compare(b.ID, a.ID) })
	}
}
