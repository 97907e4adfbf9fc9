package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"ready2publish/pkg/catalog"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/functions"
	"ready2publish/pkg/queue"
	"ready2publish/pkg/session"
	"ready2publish/pkg/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeFunctions struct {
	mu       sync.Mutex
	uploads  []string
	intents  []domain.PaymentIntentRequest
	tokens   []string
	failItem int64
}

func (f *fakeFunctions) UploadFile(_ context.Context, token string, file functions.File, area string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.uploads = append(f.uploads, area+"/"+file.Name)
	return "https://files.example/" + area + "/" + file.Name, nil
}

func (f *fakeFunctions) CreatePaymentIntent(_ context.Context, token string, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if req.ItemID == f.failItem {
		return domain.PaymentIntent{}, &domain.RemoteOperationError{Op: "create payment intent", Status: 409, Message: "Book is no longer available"}
	}
	f.intents = append(f.intents, req)
	return domain.PaymentIntent{OrderID: fmt.Sprintf("ord-%d", len(f.intents)), ClientSecret: "secret"}, nil
}

type fixture struct {
	app   *App
	store *store.MemoryStore
	fns   *fakeFunctions
	pub   *queue.MemoryPublisher
	cats  []domain.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	cats, err := store.SeedCategories(context.Background(), ms, store.DefaultCategories())
	require.NoError(t, err)
	f := &fixture{store: ms, fns: &fakeFunctions{}, pub: queue.NewMemoryPublisher(), cats: cats}
	f.app, err = New(Config{
		DevMode:      true,
		DevJWTSecret: "dev-secret",
		Store:        ms,
		Functions:    f.fns,
		Publisher:    f.pub,
	})
	require.NoError(t, err)
	t.Cleanup(f.app.Close)
	return f
}

func (f *fixture) addItem(t *testing.T, title string, price float64, status domain.ItemStatus) domain.CatalogItem {
	t.Helper()
	item, err := f.store.CreateCatalogItem(context.Background(), domain.CatalogItem{
		AuthorID:   "author-1",
		Title:      title,
		CategoryID: f.cats[0].ID,
		Price:      price,
		Status:     status,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) signedIn(t *testing.T, device, email string, role domain.UserRole) *Device {
	t.Helper()
	ctx := context.Background()
	dev, err := f.app.Device(ctx, device)
	require.NoError(t, err)
	_, err = dev.Session.SignUp(ctx, email, "Secret1", session.SignUpMetadata{DisplayName: "Tester", Role: role})
	require.NoError(t, err)
	require.NotNil(t, dev.Session.Identity())
	return dev
}

func TestCatalogShowsOnlyActiveItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addItem(t, "Cheap", 40, domain.ItemActive)
	f.addItem(t, "Hidden", 10, domain.ItemPending)
	dear := f.addItem(t, "Dear", 60, domain.ItemActive)

	page, err := f.app.Catalog(ctx, catalog.Criteria{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Categories, len(f.cats))
	require.Equal(t, PriceBounds{Min: 40, Max: 60}, page.PriceRange)
	require.Equal(t, "Dear", page.Items[0].Title)

	page, err = f.app.Catalog(ctx, catalog.ParseCriteria("", "", "50", "", ""))
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	require.Equal(t, dear.ID, page.Items[0].ID)

	page, err = f.app.Catalog(ctx, catalog.ParseCriteria("nothing matches", "", "", "", ""))
	require.NoError(t, err)
	require.NotNil(t, page.Items)
	require.Empty(t, page.Items)
}

func TestCatalogItemHidesPending(t *testing.T) {
	f := newFixture(t)
	pending := f.addItem(t, "Draft", 10, domain.ItemPending)
	_, err := f.app.CatalogItem(context.Background(), pending.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.app.CatalogItem(context.Background(), 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddToCartRequiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, "Book", 12.5, domain.ItemActive)
	dev, err := f.app.Device(ctx, "anon")
	require.NoError(t, err)

	_, err = f.app.AddToCart(ctx, dev, item.ID)
	require.True(t, domain.IsNotAuthenticated(err), "err = %v", err)

	view, err := f.app.Cart(ctx, dev)
	require.NoError(t, err)
	require.NotNil(t, view.Lines)
	require.Equal(t, "eur", view.Currency)
}

func TestCartAddRejectsDuplicatesAndCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addItem(t, "A", 10, domain.ItemActive)
	b := f.addItem(t, "B", 15, domain.ItemActive)
	dev := f.signedIn(t, "dev-1", "buyer@example.com", domain.RoleBuyer)

	_, err := f.app.AddToCart(ctx, dev, a.ID)
	require.NoError(t, err)
	_, err = f.app.AddToCart(ctx, dev, a.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyInCart)
	view, err := f.app.AddToCart(ctx, dev, b.ID)
	require.NoError(t, err)
	require.Equal(t, 2, view.Count)
	require.Equal(t, 25.0, view.Total)

	receipt, err := f.app.Checkout(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, []string{"ord-1", "ord-2"}, receipt.OrderIDs)
	require.Equal(t, "eur", f.fns.intents[0].Currency)
	for _, tok := range f.fns.tokens {
		require.NotEmpty(t, tok)
	}

	view, err = f.app.Cart(ctx, dev)
	require.NoError(t, err)
	require.Zero(t, view.Count)
}

func TestCheckoutKeepsCartOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addItem(t, "A", 10, domain.ItemActive)
	b := f.addItem(t, "B", 15, domain.ItemActive)
	f.fns.failItem = b.ID
	dev := f.signedIn(t, "dev-1", "buyer@example.com", domain.RoleBuyer)
	for _, id := range []int64{a.ID, b.ID} {
		_, err := f.app.AddToCart(ctx, dev, id)
		require.NoError(t, err)
	}

	_, err := f.app.Checkout(ctx, dev)
	var remote *domain.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "Book is no longer available", remote.Message)

	view, err := f.app.Cart(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, 2, view.Count)
}

func TestBuyNowUsesItemPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, "Solo", 19.99, domain.ItemActive)
	dev := f.signedIn(t, "dev-1", "buyer@example.com", domain.RoleBuyer)

	intent, err := f.app.BuyNow(ctx, dev, item.ID)
	require.NoError(t, err)
	require.Equal(t, "ord-1", intent.OrderID)
	require.Equal(t, domain.PaymentIntentRequest{ItemID: item.ID, Amount: 19.99, Currency: "eur"}, f.fns.intents[0])
}

func TestDevModeRunsFunctionsInProcess(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	cats, err := store.SeedCategories(ctx, ms, store.DefaultCategories())
	require.NoError(t, err)
	pub := queue.NewMemoryPublisher()
	a, err := New(Config{DevMode: true, Store: ms, Publisher: pub, PublicBaseURL: "http://shop.local/"})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Files())

	f := &fixture{app: a, store: ms, pub: pub, cats: cats}
	author := f.signedIn(t, "dev-author", "author@example.com", domain.RoleAuthor)
	sub := validSubmission(cats[0].ID)
	sub.Manuscript = nil
	submitted, err := a.SubmitBook(ctx, author, sub)
	require.NoError(t, err)
	require.Regexp(t, `^http://shop\.local/files/book-covers/[0-9A-Z]{26}-cover\.png$`, submitted.CoverImageURL)
	require.NoError(t, ms.SetCatalogItemStatus(ctx, submitted.ID, domain.ItemActive))

	buyer := f.signedIn(t, "dev-buyer", "buyer@example.com", domain.RoleBuyer)
	intent, err := a.BuyNow(ctx, buyer, submitted.ID)
	require.NoError(t, err)
	orders, err := ms.ListOrders(ctx, buyer.Session.Identity().ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, intent.OrderID, orders[0].ID)
	require.Equal(t, 2.5, orders[0].PlatformCommission)

	_, err = a.BuyNow(ctx, author, submitted.ID)
	var remote *domain.RemoteOperationError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, 400, remote.Status)
}

func validSubmission(categoryID int64) BookSubmission {
	return BookSubmission{
		Title:          "  The Long Road ",
		Description:    "A journey.",
		CategoryID:     categoryID,
		Price:          24.999,
		PreviewContent: "<p>Chapter one</p><script>x()</script>",
		LicenseTerms:   "Exclusive",
		Cover:          functions.File{Name: "cover.png", Data: pngHeader},
		Manuscript:     &functions.File{Name: "book.docx", Data: []byte("PK\x03\x04docx")},
	}
}

func TestSubmitBookCreatesPendingItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.signedIn(t, "dev-a", "author@example.com", domain.RoleAuthor)

	item, err := f.app.SubmitBook(ctx, dev, validSubmission(f.cats[1].ID))
	require.NoError(t, err)
	require.Equal(t, domain.ItemPending, item.Status)
	require.Equal(t, "The Long Road", item.Title)
	require.Equal(t, 25.0, item.Price)
	require.Equal(t, "Chapter one", item.PreviewContent)
	require.Equal(t, "https://files.example/book-covers/cover.png", item.CoverImageURL)
	require.NotNil(t, item.ContentFiles)
	require.Equal(t, "book.docx", item.ContentFiles.OriginalName)
	require.Equal(t, []string{"book-covers/cover.png", "book-files/book.docx"}, f.fns.uploads)

	books, err := f.app.AuthorBooks(ctx, dev)
	require.NoError(t, err)
	require.Len(t, books, 1)

	page, err := f.app.Catalog(ctx, catalog.Criteria{})
	require.NoError(t, err)
	require.Zero(t, page.Total)
}

func TestSubmitBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := f.signedIn(t, "dev-a", "author@example.com", domain.RoleAuthor)
	catID := f.cats[0].ID

	tests := []struct {
		name   string
		mutate func(*BookSubmission)
		field  string
	}{
		{"missing title", func(s *BookSubmission) { s.Title = " " }, "title"},
		{"zero price", func(s *BookSubmission) { s.Price = 0 }, "price"},
		{"missing license", func(s *BookSubmission) { s.LicenseTerms = "" }, "licenseTerms"},
		{"no cover", func(s *BookSubmission) { s.Cover.Data = nil }, "cover"},
		{"cover not an image", func(s *BookSubmission) { s.Cover.Data = []byte("%PDF-1.4") }, "cover"},
		{"manuscript type", func(s *BookSubmission) { s.Manuscript.Name = "book.txt" }, "manuscript"},
		{"unknown category", func(s *BookSubmission) { s.CategoryID = 424242 }, "categoryId"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := validSubmission(catID)
			tc.mutate(&sub)
			_, err := f.app.SubmitBook(ctx, dev, sub)
			var valErr *domain.ValidationError
			require.ErrorAs(t, err, &valErr)
			require.Equal(t, tc.field, valErr.Field)
		})
	}
	require.Empty(t, f.fns.uploads)
}

func TestAuthorActionsNeedAuthorRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	anon, err := f.app.Device(ctx, "anon")
	require.NoError(t, err)
	_, err = f.app.AuthorBooks(ctx, anon)
	require.True(t, domain.IsNotAuthenticated(err))

	buyer := f.signedIn(t, "dev-b", "buyer@example.com", domain.RoleBuyer)
	_, err = f.app.SubmitBook(ctx, buyer, validSubmission(f.cats[0].ID))
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDeleteBookOnlyOwnItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.addItem(t, "Not mine", 10, domain.ItemActive)
	dev := f.signedIn(t, "dev-a", "author@example.com", domain.RoleAuthor)
	mine, err := f.app.SubmitBook(ctx, dev, validSubmission(f.cats[0].ID))
	require.NoError(t, err)

	require.ErrorIs(t, f.app.DeleteBook(ctx, dev, other.ID), domain.ErrNotFound)
	require.NoError(t, f.app.DeleteBook(ctx, dev, mine.ID))
	books, err := f.app.AuthorBooks(ctx, dev)
	require.NoError(t, err)
	require.Empty(t, books)
}

func TestSubmitContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := ContactForm{Name: "Ada", Email: " Ada@Example.com ", Subject: "Payout", Message: "When is my payout due this month?"}

	msg, err := f.app.SubmitContact(ctx, form)
	require.NoError(t, err)
	require.Equal(t, domain.ContactNew, msg.Status)
	require.Equal(t, "ada@example.com", msg.Email)
	events := f.pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, queue.ContactReceived, events[0].Type)

	short := form
	short.Message = "too short"
	_, err = f.app.SubmitContact(ctx, short)
	require.True(t, domain.IsValidation(err))
}

func TestSubmitContactSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.pub.FailWith(errors.New("broker down"))
	_, err := f.app.SubmitContact(context.Background(), ContactForm{
		Name: "Bo", Email: "bo@example.com", Subject: "Hello there", Message: "Just wanted to say thanks for the shop.",
	})
	require.NoError(t, err)
	saved, err := f.store.ListContactMessages(context.Background(), domain.ContactNew)
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestLoadFAQsDefault(t *testing.T) {
	faqs, err := LoadFAQs("")
	require.NoError(t, err)
	require.NotEmpty(t, faqs)
	_, err = LoadFAQs("/does/not/exist.json")
	require.Error(t, err)
}

func TestNewFailsCleanlyOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	a, err := New(Config{DevMode: true, Store: store.NewMemoryStore(), RedisAddr: addr})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect redis")
	require.Nil(t, a)
}

func TestNewRequiresRedisOutsideDevMode(t *testing.T) {
	a, err := New(Config{Store: store.NewMemoryStore()})
	require.EqualError(t, err, "redis required outside dev mode")
	require.Nil(t, a)
}

func TestReviewItemUpdatesRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, "Nebelwald", 20, domain.ItemActive)
	other := f.addItem(t, "Ohne Kauf", 10, domain.ItemActive)
	dev := f.signedIn(t, "dev-1", "buyer@example.com", domain.RoleBuyer)
	buyer := dev.Session.Identity().ID

	require.NoError(t, f.store.CreateOrder(ctx, domain.Order{
		ID: "ord-1", BuyerID: buyer, Status: domain.OrderPaid, TotalAmount: 20, Currency: "eur",
		Items: []domain.OrderItem{{ItemID: item.ID, PriceAtTime: 20}},
	}))

	before, err := f.app.CatalogItem(ctx, item.ID)
	require.NoError(t, err)
	require.Zero(t, before.ReviewsCount)
	require.Zero(t, before.Rating)

	review, err := f.app.ReviewItem(ctx, dev, item.ID, 4, "  Spannend bis zum Schluss ")
	require.NoError(t, err)
	require.Equal(t, "ord-1", review.OrderID)
	require.Equal(t, "Spannend bis zum Schluss", review.Comment)

	after, err := f.app.CatalogItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 1, after.ReviewsCount)
	require.InDelta(t, 4.0, after.Rating, 1e-9)

	_, err = f.app.ReviewItem(ctx, dev, item.ID, 5, "")
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
	_, err = f.app.ReviewItem(ctx, dev, other.ID, 5, "")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestReviewItemValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, "Nebelwald", 20, domain.ItemActive)

	guest, err := f.app.Device(ctx, "guest-1")
	require.NoError(t, err)
	_, err = f.app.ReviewItem(ctx, guest, item.ID, 5, "")
	require.True(t, domain.IsNotAuthenticated(err))

	dev := f.signedIn(t, "dev-1", "buyer@example.com", domain.RoleBuyer)
	require.NoError(t, f.store.CreateOrder(ctx, domain.Order{
		ID: "ord-failed", BuyerID: dev.Session.Identity().ID, Status: domain.OrderFailed,
		Items: []domain.OrderItem{{ItemID: item.ID, PriceAtTime: 20}},
	}))
	for _, rating := range []int{0, 6} {
		_, err = f.app.ReviewItem(ctx, dev, item.ID, rating, "")
		require.True(t, domain.IsValidation(err), "rating %d", rating)
	}
	_, err = f.app.ReviewItem(ctx, dev, item.ID, 3, "")
	require.ErrorIs(t, err, domain.ErrForbidden, "failed orders do not entitle a review")
	_, err = f.app.ReviewItem(ctx, dev, 999, 3, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
