package domain

import (
	"encoding/json"
	"time"
)

type UserRole string

const (
	RoleAuthor UserRole = "author"
	RoleBuyer  UserRole = "buyer"
	RoleAdmin  UserRole = "admin"
)

type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemSold     ItemStatus = "sold"
	ItemPending  ItemStatus = "pending"
	ItemInactive ItemStatus = "inactive"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderFailed   OrderStatus = "failed"
	OrderRefunded OrderStatus = "refunded"
)

type ContactStatus string

const (
	ContactNew     ContactStatus = "new"
	ContactRead    ContactStatus = "read"
	ContactReplied ContactStatus = "replied"
)

// Upload areas accepted by the file ingestion function.
const (
	AreaBookCovers = "book-covers"
	AreaBookFiles  = "book-files"
)

// Identity is the externally issued authentication identity. It is owned by the
// auth provider; callers only ever see copies.
type Identity struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	EmailConfirmed bool              `json:"emailConfirmed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Profile is the application-level user record keyed by Identity.ID.
type Profile struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	FullName    string          `json:"fullName,omitempty"`
	Role        UserRole        `json:"role"`
	Bio         string          `json:"bio,omitempty"`
	AvatarURL   string          `json:"avatarUrl,omitempty"`
	Website     string          `json:"website,omitempty"`
	SocialLinks json.RawMessage `json:"socialLinks,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ProfileUpdate carries a partial profile change. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName    *string         `json:"fullName,omitempty"`
	Bio         *string         `json:"bio,omitempty"`
	AvatarURL   *string         `json:"avatarUrl,omitempty"`
	Website     *string         `json:"website,omitempty"`
	SocialLinks json.RawMessage `json:"socialLinks,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Bio == nil && u.AvatarURL == nil && u.Website == nil && len(u.SocialLinks) == 0
}

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Slug        string    `json:"slug"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuthorSummary is the public subset of an author's profile joined onto items.
type AuthorSummary struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

// ContentFiles describes the uploaded manuscript of a book project.
type ContentFiles struct {
	Manuscript   string `json:"manuscript"`
	OriginalName string `json:"originalName"`
}

// CatalogItem is one book project listed for sale. Author, Category, Rating and
// ReviewsCount are filled in by the record store.
type CatalogItem struct {
	ID             int64          `json:"id"`
	AuthorID       string         `json:"authorId"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	CategoryID     int64          `json:"categoryId"`
	PageCount      int            `json:"pageCount,omitempty"`
	Price          float64        `json:"price"`
	CoverImageURL  string         `json:"coverImageUrl,omitempty"`
	PreviewContent string         `json:"previewContent,omitempty"`
	ContentFiles   *ContentFiles  `json:"contentFiles,omitempty"`
	LicenseTerms   string         `json:"licenseTerms,omitempty"`
	Status         ItemStatus     `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Author         *AuthorSummary `json:"author,omitempty"`
	Category       *Category      `json:"category,omitempty"`
	Rating         float64        `json:"rating"`
	ReviewsCount   int            `json:"reviewsCount"`
}

// AuthorName returns the joined author display name or "".
func (i CatalogItem) AuthorName() string {
	if i.Author == nil {
		return ""
	}
	return i.Author.FullName
}

// CartLine is one pending purchase kept on the buyer's device.
type CartLine struct {
	ItemID        int64   `json:"id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	CoverImageURL string  `json:"coverImageUrl,omitempty"`
	AuthorName    string  `json:"author"`
}

type Review struct {
	ID         int64     `json:"id"`
	ItemID     int64     `json:"bookProjectId"`
	ReviewerID string    `json:"reviewerId"`
	OrderID    string    `json:"orderId"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Order struct {
	ID                 string      `json:"id"`
	BuyerID            string      `json:"buyerId"`
	PaymentIntentID    string      `json:"paymentIntentId,omitempty"`
	Status             OrderStatus `json:"status"`
	TotalAmount        float64     `json:"totalAmount"`
	PlatformCommission float64     `json:"platformCommission"`
	Currency           string      `json:"currency"`
	Items              []OrderItem `json:"items,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

type OrderItem struct {
	ID          int64     `json:"id"`
	OrderID     string    `json:"orderId"`
	ItemID      int64     `json:"bookProjectId"`
	PriceAtTime float64   `json:"priceAtTime"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PaymentIntentRequest is the payload of the payment-intent function.
type PaymentIntentRequest struct {
	ItemID   int64   `json:"bookProjectId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// PaymentIntent is what the payment-intent function returns.
type PaymentIntent struct {
	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
}

type ContactMessage struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Subject   string        `json:"subject"`
	Message   string        `json:"message"`
	Status    ContactStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type FAQ struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
