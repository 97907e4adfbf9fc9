package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ready2publish/pkg/catalog"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/store"
)

// PriceBounds is the observed price range of the unfiltered catalog.
type PriceBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// CatalogPage is what the shop page renders. Query is the normalised query
// string of Criteria, for shareable links.
type CatalogPage struct {
	Items      []domain.CatalogItem `json:"items"`
	Categories []domain.Category    `json:"categories"`
	Total      int                  `json:"total"`
	Count      int                  `json:"count"`
	PriceRange PriceBounds          `json:"priceRange"`
	Criteria   catalog.Criteria     `json:"criteria"`
	Query      string               `json:"query"`
}

// Catalog loads active items and categories concurrently and applies c.
func (a *App) Catalog(ctx context.Context, c catalog.Criteria) (CatalogPage, error) {
	var (
		items []domain.CatalogItem
		cats  []domain.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = a.store.ListCatalog(gctx, store.CatalogQuery{Statuses: []domain.ItemStatus{domain.ItemActive}})
		if err != nil {
			return domain.Remote("list catalog", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		cats, err = a.store.ListCategories(gctx)
		if err != nil {
			return domain.Remote("list categories", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return CatalogPage{}, err
	}

	lo, hi := catalog.PriceRange(items)
	shown := catalog.Apply(items, c)
	if shown == nil {
		shown = []domain.CatalogItem{}
	}
	if cats == nil {
		cats = []domain.Category{}
	}
	return CatalogPage{
		Items:      shown,
		Categories: cats,
		Total:      len(items),
		Count:      len(shown),
		PriceRange: PriceBounds{Min: lo, Max: hi},
		Criteria:   c,
		Query:      c.Query().Encode(),
	}, nil
}

// CatalogItem returns an active item. Pending, sold and inactive items are
// reported as not found.
func (a *App) CatalogItem(ctx context.Context, id int64) (domain.CatalogItem, error) {
	item, ok, err := a.store.GetCatalogItem(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, domain.Remote("get catalog item", err)
	}
	if !ok || item.Status != domain.ItemActive {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	return item, nil
}
