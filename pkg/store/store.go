package store

import (
	"context"

	"ready2publish/pkg/domain"
)

// CatalogQuery narrows ListCatalog. Empty fields do not filter.
type CatalogQuery struct {
	Statuses []domain.ItemStatus
	AuthorID string
	Limit    int
}

// Store is the record store of the marketplace. Catalog reads return items
// already joined with their author summary, category and rating aggregate,
// newest first.
type Store interface {
	ProfileStore

	// categories
	ListCategories(ctx context.Context) ([]domain.Category, error)
	UpsertCategory(ctx context.Context, c domain.Category) (domain.Category, error)

	// catalog
	ListCatalog(ctx context.Context, q CatalogQuery) ([]domain.CatalogItem, error)
	GetCatalogItem(ctx context.Context, id int64) (domain.CatalogItem, bool, error)
	CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error)
	SetCatalogItemStatus(ctx context.Context, id int64, status domain.ItemStatus) error
	// DeleteCatalogItem removes the item only if authorID owns it.
	DeleteCatalogItem(ctx context.Context, id int64, authorID string) error

	// reviews
	AddReview(ctx context.Context, r domain.Review) (domain.Review, error)

	// orders
	CreateOrder(ctx context.Context, o domain.Order) error
	ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error)

	// contact
	SaveContactMessage(ctx context.Context, m domain.ContactMessage) (domain.ContactMessage, error)
	ListContactMessages(ctx context.Context, status domain.ContactStatus) ([]domain.ContactMessage, error)
}

// ProfileStore is the profile subset used by the session synchronizer.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	UpsertProfile(ctx context.Context, p domain.Profile) error
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (domain.Profile, error)
}
