package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ready2publish/pkg/domain"
)

const migrateLockID int64 = 52052052

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database. When migrate is set the schema is brought
// up to date under a Postgres advisory lock.
func NewGormStore(dsn string, migrate bool) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &GormStore{db: db}
	if migrate {
		if err := s.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewGormStoreFromDB wraps an already opened connection.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates all tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return withMigrationLock(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(allModels()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	})
}

// Ping checks connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(context.Background(), conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db.WithContext(ctx))
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GetProfile returns (zero, false, nil) when the profile does not exist.
func (s *GormStore) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// UpsertProfile creates the profile or refreshes its editable columns.
func (s *GormStore) UpsertProfile(ctx context.Context, p domain.Profile) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	model := profileToModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "full_name", "role", "updated_at"}),
	}).Create(&model).Error
}

// UpdateProfile applies the non-nil fields of upd and stamps updated_at.
func (s *GormStore) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (domain.Profile, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if upd.FullName != nil {
		updates["full_name"] = *upd.FullName
	}
	if upd.Bio != nil {
		updates["bio"] = *upd.Bio
	}
	if upd.AvatarURL != nil {
		updates["avatar_url"] = *upd.AvatarURL
	}
	if upd.Website != nil {
		updates["website"] = *upd.Website
	}
	if len(upd.SocialLinks) > 0 {
		updates["social_links"] = datatypes.JSON(upd.SocialLinks)
	}
	var model ProfileModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProfileModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return profileFromModel(model), nil
}

// ListCategories returns categories ordered by name.
func (s *GormStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(models))
	for _, m := range models {
		out = append(out, categoryFromModel(m))
	}
	return out, nil
}

// UpsertCategory inserts or renames a category keyed by slug.
func (s *GormStore) UpsertCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	model := CategoryModel{Name: c.Name, Description: c.Description, Slug: c.Slug, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description"}),
	}).Create(&model).Error
	if err != nil {
		return domain.Category{}, err
	}
	return categoryFromModel(model), nil
}

const catalogSelect = `b.*,
	p.full_name AS author_full_name,
	p.avatar_url AS author_avatar_url,
	p.bio AS author_bio,
	c.name AS category_name,
	c.slug AS category_slug,
	COALESCE(r.avg_rating, 0) AS rating,
	COALESCE(r.review_count, 0) AS reviews_count`

const ratingJoin = `LEFT JOIN (
	SELECT book_project_id, AVG(rating) AS avg_rating, COUNT(*) AS review_count
	FROM reviews GROUP BY book_project_id
) r ON r.book_project_id = b.id`

func (s *GormStore) catalogQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("book_projects AS b").
		Select(catalogSelect).
		Joins("LEFT JOIN profiles p ON p.id = b.author_id").
		Joins("LEFT JOIN categories c ON c.id = b.category_id").
		Joins(ratingJoin)
}

// ListCatalog returns pre-joined items, newest first.
func (s *GormStore) ListCatalog(ctx context.Context, q CatalogQuery) ([]domain.CatalogItem, error) {
	tx := s.catalogQuery(ctx)
	if len(q.Statuses) > 0 {
		statuses := make([]string, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			statuses = append(statuses, string(st))
		}
		tx = tx.Where("b.status IN ?", statuses)
	}
	if author := strings.TrimSpace(q.AuthorID); author != "" {
		tx = tx.Where("b.author_id = ?", author)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []catalogRow
	if err := tx.Order("b.id DESC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CatalogItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, itemFromRow(r))
	}
	return out, nil
}

// GetCatalogItem returns one pre-joined item regardless of status.
func (s *GormStore) GetCatalogItem(ctx context.Context, id int64) (domain.CatalogItem, bool, error) {
	var rows []catalogRow
	if err := s.catalogQuery(ctx).Where("b.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return domain.CatalogItem{}, false, err
	}
	if len(rows) == 0 {
		return domain.CatalogItem{}, false, nil
	}
	return itemFromRow(rows[0]), true, nil
}

// CreateCatalogItem inserts item and returns it with its assigned id.
func (s *GormStore) CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	now := time.Now().UTC()
	item.ID = 0
	item.CreatedAt, item.UpdatedAt = now, now
	if item.Status == "" {
		item.Status = domain.ItemPending
	}
	model := itemToModel(item)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.CatalogItem{}, err
	}
	return itemFromModel(model), nil
}

// SetCatalogItemStatus moves an item between active, sold, pending and inactive.
func (s *GormStore) SetCatalogItemStatus(ctx context.Context, id int64, status domain.ItemStatus) error {
	res := s.db.WithContext(ctx).Model(&BookProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteCatalogItem deletes the item and its reviews when authorID owns it.
func (s *GormStore) DeleteCatalogItem(ctx context.Context, id int64, authorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND author_id = ?", id, authorID).Delete(&BookProjectModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Where("book_project_id = ?", id).Delete(&ReviewModel{}).Error
	})
}

// AddReview stores a rating for a purchased item, at most one per order line.
func (s *GormStore) AddReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	if r.Rating < 1 || r.Rating > 5 {
		return domain.Review{}, domain.Invalid("rating", "rating must be between 1 and 5")
	}
	model := ReviewModel{
		BookProjectID: r.ItemID,
		ReviewerID:    r.ReviewerID,
		OrderID:       r.OrderID,
		Rating:        r.Rating,
		Comment:       r.Comment,
		CreatedAt:     time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ReviewModel{}).Where("book_project_id = ? AND order_id = ?", r.ItemID, r.OrderID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrAlreadyReviewed
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Review{}, err
	}
	r.ID, r.CreatedAt = model.ID, model.CreatedAt
	return r, nil
}

// CreateOrder inserts the order together with its items.
func (s *GormStore) CreateOrder(ctx context.Context, o domain.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	model := orderToModel(o)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListOrders returns orders newest first; an empty buyerID lists all orders.
func (s *GormStore) ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error) {
	var models []OrderModel
	tx := s.db.WithContext(ctx).Preload("Items").Order("created_at DESC")
	if buyerID != "" {
		tx = tx.Where("buyer_id = ?", buyerID)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(models))
	for _, m := range models {
		out = append(out, orderFromModel(m))
	}
	return out, nil
}

// SaveContactMessage stores a new message with status "new".
func (s *GormStore) SaveContactMessage(ctx context.Context, m domain.ContactMessage) (domain.ContactMessage, error) {
	model := ContactMessageModel{
		Name:      m.Name,
		Email:     m.Email,
		Subject:   m.Subject,
		Message:   m.Message,
		Status:    string(domain.ContactNew),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ContactMessage{}, err
	}
	return contactFromModel(model), nil
}

// ListContactMessages returns messages newest first, optionally by status.
func (s *GormStore) ListContactMessages(ctx context.Context, status domain.ContactStatus) ([]domain.ContactMessage, error) {
	var models []ContactMessageModel
	tx := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ContactMessage, 0, len(models))
	for _, m := range models {
		out = append(out, contactFromModel(m))
	}
	return out, nil
}
