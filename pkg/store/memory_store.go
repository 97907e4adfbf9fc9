package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"ready2publish/pkg/domain"
)

// MemoryStore is an in-process Store for development mode and tests. It
// computes the same joins and rating aggregate as GormStore.
type MemoryStore struct {
	mu         sync.RWMutex
	profiles   map[string]domain.Profile
	categories []domain.Category
	items      []domain.CatalogItem
	reviews    []domain.Review
	orders     []domain.Order
	contacts   []domain.ContactMessage
	nextID     int64
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]domain.Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) GetProfile(_ context.Context, id string) (domain.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.profiles[p.ID]; ok {
		existing.Email, existing.FullName, existing.Role = p.Email, p.FullName, p.Role
		existing.UpdatedAt = now
		s.profiles[p.ID] = existing
		return nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.ID] = p
	return nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id string, upd domain.ProfileUpdate) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	if upd.Website != nil {
		p.Website = *upd.Website
	}
	if len(upd.SocialLinks) > 0 {
		p.SocialLinks = slices.Clone(upd.SocialLinks)
	}
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	return p, nil
}

func (s *MemoryStore) ListCategories(context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.categories)
	slices.SortStableFunc(out, func(a, b domain.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *MemoryStore) UpsertCategory(_ context.Context, c domain.Category) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.categories {
		if existing.Slug == c.Slug {
			existing.Name, existing.Description = c.Name, c.Description
			s.categories[i] = existing
			return existing, nil
		}
	}
	c.ID = s.id()
	c.CreatedAt = s.now()
	s.categories = append(s.categories, c)
	return c, nil
}

func (s *MemoryStore) ListCatalog(_ context.Context, q CatalogQuery) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CatalogItem
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, item.Status) {
			continue
		}
		if q.AuthorID != "" && item.AuthorID != q.AuthorID {
			continue
		}
		out = append(out, s.joinLocked(item))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetCatalogItem(_ context.Context, id int64) (domain.CatalogItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return s.joinLocked(item), true, nil
		}
	}
	return domain.CatalogItem{}, false, nil
}

// joinLocked attaches author, category and rating aggregate.
func (s *MemoryStore) joinLocked(item domain.CatalogItem) domain.CatalogItem {
	if p, ok := s.profiles[item.AuthorID]; ok {
		item.Author = &domain.AuthorSummary{ID: p.ID, FullName: p.FullName, AvatarURL: p.AvatarURL, Bio: p.Bio}
	}
	for _, c := range s.categories {
		if c.ID == item.CategoryID {
			item.Category = &domain.Category{ID: c.ID, Name: c.Name, Slug: c.Slug}
			break
		}
	}
	var sum, n int
	for _, r := range s.reviews {
		if r.ItemID == item.ID {
			sum += r.Rating
			n++
		}
	}
	item.Rating, item.ReviewsCount = 0, n
	if n > 0 {
		item.Rating = float64(sum) / float64(n)
	}
	if item.ContentFiles != nil {
		files := *item.ContentFiles
		item.ContentFiles = &files
	}
	return item
}

func (s *MemoryStore) CreateCatalogItem(_ context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	item.ID = s.id()
	item.CreatedAt, item.UpdatedAt = now, now
	item.Author, item.Category, item.Rating, item.ReviewsCount = nil, nil, 0, 0
	if item.Status == "" {
		item.Status = domain.ItemPending
	}
	s.items = append(s.items, item)
	return item, nil
}

func (s *MemoryStore) SetCatalogItemStatus(_ context.Context, id int64, status domain.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Status = status
			s.items[i].UpdatedAt = s.now()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *MemoryStore) DeleteCatalogItem(_ context.Context, id int64, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.items, func(it domain.CatalogItem) bool { return it.ID == id && it.AuthorID == authorID })
	if idx < 0 {
		return domain.ErrNotFound
	}
	s.items = slices.Delete(s.items, idx, idx+1)
	s.reviews = slices.DeleteFunc(s.reviews, func(r domain.Review) bool { return r.ItemID == id })
	return nil
}

func (s *MemoryStore) AddReview(_ context.Context, r domain.Review) (domain.Review, error) {
	if r.Rating < 1 || r.Rating > 5 {
		return domain.Review{}, domain.Invalid("rating", "rating must be between 1 and 5")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reviews {
		if existing.ItemID == r.ItemID && existing.OrderID == r.OrderID {
			return domain.Review{}, domain.ErrAlreadyReviewed
		}
	}
	r.ID = s.id()
	r.CreatedAt = s.now()
	s.reviews = append(s.reviews, r)
	return r, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Items = slices.Clone(o.Items)
	for i := range o.Items {
		o.Items[i].ID = s.id()
		o.Items[i].OrderID = o.ID
		o.Items[i].CreatedAt = o.CreatedAt
	}
	s.orders = append(s.orders, o)
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, buyerID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for i := len(s.orders) - 1; i >= 0; i-- {
		if buyerID == "" || s.orders[i].BuyerID == buyerID {
			o := s.orders[i]
			o.Items = slices.Clone(o.Items)
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveContactMessage(_ context.Context, m domain.ContactMessage) (domain.ContactMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	m.Status = domain.ContactNew
	m.CreatedAt = s.now()
	s.contacts = append(s.contacts, m)
	return m, nil
}

func (s *MemoryStore) ListContactMessages(_ context.Context, status domain.ContactStatus) ([]domain.ContactMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ContactMessage
	for i := len(s.contacts) - 1; i >= 0; i-- {
		if status == "" || s.contacts[i].Status == status {
			out = append(out, s.contacts[i])
		}
	}
	return out, nil
}
