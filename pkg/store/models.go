package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"ready2publish/pkg/domain"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID          string `gorm:"primaryKey"`
	Email       string `gorm:"not null;index"`
	FullName    string
	Role        string `gorm:"not null;default:buyer"`
	Bio         string `gorm:"type:text"`
	AvatarURL   string
	Website     string
	SocialLinks datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }

type CategoryModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"not null"`
	Description string
	Slug        string    `gorm:"uniqueIndex;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (CategoryModel) TableName() string { return "categories" }

type BookProjectModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	AuthorID       string `gorm:"not null;index"`
	Title          string `gorm:"not null"`
	Description    string `gorm:"type:text;not null"`
	CategoryID     int64  `gorm:"index"`
	PageCount      int
	Price          float64 `gorm:"type:numeric(10,2);not null"`
	CoverImageURL  string
	PreviewContent string         `gorm:"type:text"`
	ContentFiles   datatypes.JSON `gorm:"type:jsonb"`
	LicenseTerms   string         `gorm:"type:text"`
	Status         string         `gorm:"not null;index;default:pending"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (BookProjectModel) TableName() string { return "book_projects" }

type ReviewModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	BookProjectID int64  `gorm:"not null;index;uniqueIndex:idx_reviews_order_line"`
	ReviewerID    string `gorm:"not null"`
	OrderID       string `gorm:"not null;uniqueIndex:idx_reviews_order_line"`
	Rating        int    `gorm:"not null;check:rating >= 1 AND rating <= 5"`
	Comment       string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (ReviewModel) TableName() string { return "reviews" }

type OrderModel struct {
	ID                 string `gorm:"primaryKey"`
	BuyerID            string `gorm:"not null;index"`
	PaymentIntentID    string
	Status             string  `gorm:"not null;default:pending"`
	TotalAmount        float64 `gorm:"type:numeric(10,2);not null"`
	PlatformCommission float64 `gorm:"type:numeric(10,2);not null"`
	Currency           string  `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Items              []OrderItemModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string { return "orders" }

type OrderItemModel struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	OrderID       string  `gorm:"not null;index"`
	BookProjectID int64   `gorm:"not null"`
	PriceAtTime   float64 `gorm:"type:numeric(10,2);not null"`
	CreatedAt     time.Time
}

func (OrderItemModel) TableName() string { return "order_items" }

type ContactMessageModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"not null"`
	Subject   string `gorm:"not null"`
	Message   string `gorm:"type:text;not null"`
	Status    string `gorm:"not null;default:new;index"`
	CreatedAt time.Time
}

func (ContactMessageModel) TableName() string { return "contact_messages" }

// catalogRow is one ListCatalog result: the item plus its joined columns.
type catalogRow struct {
	BookProjectModel `gorm:"embedded"`
	AuthorFullName   *string
	AuthorAvatarURL  *string
	AuthorBio        *string
	CategoryName     *string
	CategorySlug     *string
	Rating           float64
	ReviewsCount     int
}

func allModels() []any {
	return []any{
		&ProfileModel{}, &CategoryModel{}, &BookProjectModel{},
		&ReviewModel{}, &OrderModel{}, &OrderItemModel{}, &ContactMessageModel{},
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:          p.ID,
		Email:       p.Email,
		FullName:    p.FullName,
		Role:        string(p.Role),
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
		Website:     p.Website,
		SocialLinks: datatypes.JSON(p.SocialLinks),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:          m.ID,
		Email:       m.Email,
		FullName:    m.FullName,
		Role:        domain.UserRole(m.Role),
		Bio:         m.Bio,
		AvatarURL:   m.AvatarURL,
		Website:     m.Website,
		SocialLinks: json.RawMessage(m.SocialLinks),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func categoryFromModel(m CategoryModel) domain.Category {
	return domain.Category{ID: m.ID, Name: m.Name, Description: m.Description, Slug: m.Slug, CreatedAt: m.CreatedAt}
}

func itemToModel(item domain.CatalogItem) BookProjectModel {
	m := BookProjectModel{
		ID:             item.ID,
		AuthorID:       item.AuthorID,
		Title:          item.Title,
		Description:    item.Description,
		CategoryID:     item.CategoryID,
		PageCount:      item.PageCount,
		Price:          item.Price,
		CoverImageURL:  item.CoverImageURL,
		PreviewContent: item.PreviewContent,
		LicenseTerms:   item.LicenseTerms,
		Status:         string(item.Status),
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
	if item.ContentFiles != nil {
		if raw, err := json.Marshal(item.ContentFiles); err == nil {
			m.ContentFiles = datatypes.JSON(raw)
		}
	}
	return m
}

func itemFromModel(m BookProjectModel) domain.CatalogItem {
	item := domain.CatalogItem{
		ID:             m.ID,
		AuthorID:       m.AuthorID,
		Title:          m.Title,
		Description:    m.Description,
		CategoryID:     m.CategoryID,
		PageCount:      m.PageCount,
		Price:          m.Price,
		CoverImageURL:  m.CoverImageURL,
		PreviewContent: m.PreviewContent,
		LicenseTerms:   m.LicenseTerms,
		Status:         domain.ItemStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.ContentFiles) > 0 {
		var files domain.ContentFiles
		if err := json.Unmarshal(m.ContentFiles, &files); err == nil && files.Manuscript != "" {
			item.ContentFiles = &files
		}
	}
	return item
}

func itemFromRow(r catalogRow) domain.CatalogItem {
	item := itemFromModel(r.BookProjectModel)
	if r.AuthorFullName != nil || r.AuthorAvatarURL != nil || r.AuthorBio != nil {
		item.Author = &domain.AuthorSummary{
			ID:        item.AuthorID,
			FullName:  deref(r.AuthorFullName),
			AvatarURL: deref(r.AuthorAvatarURL),
			Bio:       deref(r.AuthorBio),
		}
	}
	if r.CategoryName != nil {
		item.Category = &domain.Category{ID: item.CategoryID, Name: *r.CategoryName, Slug: deref(r.CategorySlug)}
	}
	item.Rating = r.Rating
	item.ReviewsCount = r.ReviewsCount
	return item
}

func orderToModel(o domain.Order) OrderModel {
	m := OrderModel{
		ID:                 o.ID,
		BuyerID:            o.BuyerID,
		PaymentIntentID:    o.PaymentIntentID,
		Status:             string(o.Status),
		TotalAmount:        o.TotalAmount,
		PlatformCommission: o.PlatformCommission,
		Currency:           o.Currency,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	for _, it := range o.Items {
		m.Items = append(m.Items, OrderItemModel{
			OrderID:       o.ID,
			BookProjectID: it.ItemID,
			PriceAtTime:   it.PriceAtTime,
			CreatedAt:     o.CreatedAt,
		})
	}
	return m
}

func orderFromModel(m OrderModel) domain.Order {
	o := domain.Order{
		ID:                 m.ID,
		BuyerID:            m.BuyerID,
		PaymentIntentID:    m.PaymentIntentID,
		Status:             domain.OrderStatus(m.Status),
		TotalAmount:        m.TotalAmount,
		PlatformCommission: m.PlatformCommission,
		Currency:           m.Currency,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:          it.ID,
			OrderID:     it.OrderID,
			ItemID:      it.BookProjectID,
			PriceAtTime: it.PriceAtTime,
			CreatedAt:   it.CreatedAt,
		})
	}
	return o
}

func contactFromModel(m ContactMessageModel) domain.ContactMessage {
	return domain.ContactMessage{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Subject:   m.Subject,
		Message:   m.Message,
		Status:    domain.ContactStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
