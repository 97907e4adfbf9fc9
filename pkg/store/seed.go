package store

import (
	"context"
	"fmt"

	"ready2publish/pkg/domain"
)

// DefaultCategories are the genres a fresh marketplace starts with.
func DefaultCategories() []domain.Category {
	return []domain.Category{
		{Name: "Fiction", Slug: "fiction", Description: "Novels and short stories"},
		{Name: "Crime & Thriller", Slug: "crime-thriller", Description: "Mysteries, crime and suspense"},
		{Name: "Fantasy & Science Fiction", Slug: "fantasy-scifi", Description: "Speculative worlds"},
		{Name: "Non-Fiction", Slug: "non-fiction", Description: "Biography, history and essays"},
		{Name: "Guides", Slug: "guides", Description: "Self-help and how-to"},
		{Name: "Children & Young Adult", Slug: "children-ya", Description: "Books for younger readers"},
	}
}

// SeedCategories upserts categories by slug and returns the stored records.
func SeedCategories(ctx context.Context, s Store, categories []domain.Category) ([]domain.Category, error) {
	out := make([]domain.Category, 0, len(categories))
	for _, c := range categories {
		saved, err := s.UpsertCategory(ctx, c)
		if err != nil {
			return out, fmt.Errorf("seed category %s: %w", c.Slug, err)
		}
		out = append(out, saved)
	}
	return out, nil
}
