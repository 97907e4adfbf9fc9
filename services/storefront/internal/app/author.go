package app

import (
	"context"
	"math"
	"strings"
	"time"

	"ready2publish/pkg/domain"
	"ready2publish/pkg/functions"
	"ready2publish/pkg/manuscript"
	"ready2publish/pkg/store"
)

// MaxCoverBytes caps cover images.
const MaxCoverBytes = functions.MaxCoverBytes

// BookSubmission is the author dashboard form.
type BookSubmission struct {
	Title          string
	Description    string
	CategoryID     int64
	PageCount      int
	Price          float64
	PreviewContent string
	LicenseTerms   string
	Cover          functions.File
	Manuscript     *functions.File
}

// requireAuthor returns the caller's profile when it may list books.
func (a *App) requireAuthor(ctx context.Context, dev *Device, op string) (domain.Profile, error) {
	snap := dev.Session.Snapshot()
	if snap.Identity == nil {
		return domain.Profile{}, &domain.NotAuthenticatedError{Op: op}
	}
	profile := snap.Profile
	if profile == nil {
		p, err := dev.Session.RefreshProfile(ctx)
		if err != nil {
			return domain.Profile{}, err
		}
		profile = p
	}
	if profile == nil || (profile.Role != domain.RoleAuthor && profile.Role != domain.RoleAdmin) {
		return domain.Profile{}, domain.ErrForbidden
	}
	return *profile, nil
}

// AuthorBooks lists every item of the signed-in author, in any status.
func (a *App) AuthorBooks(ctx context.Context, dev *Device) ([]domain.CatalogItem, error) {
	profile, err := a.requireAuthor(ctx, dev, "list author books")
	if err != nil {
		return nil, err
	}
	items, err := a.store.ListCatalog(ctx, store.CatalogQuery{AuthorID: profile.ID})
	if err != nil {
		return nil, domain.Remote("list author books", err)
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}
	return items, nil
}

// SubmitBook uploads the cover and optional manuscript and stores the item
// as pending until an admin approves it.
func (a *App) SubmitBook(ctx context.Context, dev *Device, sub BookSubmission) (domain.CatalogItem, error) {
	profile, err := a.requireAuthor(ctx, dev, "submit book")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if err := a.validateSubmission(&sub); err != nil {
		return domain.CatalogItem{}, err
	}
	cats, err := a.Categories(ctx)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if !hasCategory(cats, sub.CategoryID) {
		return domain.CatalogItem{}, domain.Invalid("categoryId", "unknown category")
	}

	token, err := dev.Session.AccessToken(ctx)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	coverURL, err := a.functions.UploadFile(ctx, token, sub.Cover, domain.AreaBookCovers)
	if err != nil {
		return domain.CatalogItem{}, domain.Remote("upload cover", err)
	}

	var files *domain.ContentFiles
	if sub.Manuscript != nil {
		fileURL, err := a.functions.UploadFile(ctx, token, *sub.Manuscript, domain.AreaBookFiles)
		if err != nil {
			return domain.CatalogItem{}, domain.Remote("upload manuscript", err)
		}
		files = &domain.ContentFiles{Manuscript: fileURL, OriginalName: sub.Manuscript.Name}
		if sub.PageCount == 0 && manuscript.IsPDF(sub.Manuscript.Data) {
			if n, err := manuscript.PageCount(sub.Manuscript.Data); err == nil {
				sub.PageCount = n
			} else {
				a.logger.Warn("count manuscript pages failed", "name", sub.Manuscript.Name, "err", err)
			}
		}
	}

	now := time.Now().UTC()
	item, err := a.store.CreateCatalogItem(ctx, domain.CatalogItem{
		AuthorID:       profile.ID,
		Title:          sub.Title,
		Description:    sub.Description,
		CategoryID:     sub.CategoryID,
		PageCount:      sub.PageCount,
		Price:          sub.Price,
		CoverImageURL:  coverURL,
		PreviewContent: manuscript.PreviewText(sub.PreviewContent),
		ContentFiles:   files,
		LicenseTerms:   sub.LicenseTerms,
		Status:         domain.ItemPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.CatalogItem{}, domain.Remote("create book", err)
	}
	a.logger.Info("book submitted", "item_id", item.ID, "author_id", profile.ID)
	return item, nil
}

func (a *App) validateSubmission(sub *BookSubmission) error {
	sub.Title = strings.TrimSpace(sub.Title)
	sub.Description = strings.TrimSpace(sub.Description)
	sub.LicenseTerms = strings.TrimSpace(sub.LicenseTerms)
	switch {
	case sub.Title == "":
		return domain.Invalid("title", "title is required")
	case sub.CategoryID <= 0:
		return domain.Invalid("categoryId", "category is required")
	case sub.Description == "":
		return domain.Invalid("description", "description is required")
	case sub.Price <= 0 || math.IsNaN(sub.Price) || math.IsInf(sub.Price, 0):
		return domain.Invalid("price", "price must be a positive number")
	case strings.TrimSpace(sub.PreviewContent) == "":
		return domain.Invalid("previewContent", "preview is required")
	case sub.LicenseTerms == "":
		return domain.Invalid("licenseTerms", "license terms are required")
	case sub.PageCount < 0:
		return domain.Invalid("pageCount", "page count must not be negative")
	}
	sub.Price = math.Round(sub.Price*100) / 100

	if len(sub.Cover.Data) == 0 {
		return domain.Invalid("cover", "cover image is required")
	}
	if len(sub.Cover.Data) > MaxCoverBytes {
		return domain.Invalid("cover", "cover image exceeds 5 MB")
	}
	ct, ok := functions.CoverType(sub.Cover.Data)
	if !ok {
		return domain.Invalid("cover", "cover must be JPG, PNG or WebP")
	}
	sub.Cover.ContentType = ct

	if m := sub.Manuscript; m != nil {
		if len(m.Data) == 0 {
			sub.Manuscript = nil
			return nil
		}
		ct, ok := functions.ManuscriptType(m.Name)
		if !ok {
			return domain.Invalid("manuscript", "manuscript must be PDF, DOC or DOCX")
		}
		if int64(len(m.Data)) > a.maxUploadBytes {
			return domain.Invalid("manuscript", "manuscript is too large")
		}
		m.ContentType = ct
	}
	return nil
}

func hasCategory(cats []domain.Category, id int64) bool {
	for _, c := range cats {
		if c.ID == id {
			return true
		}
	}
	return false
}

// DeleteBook removes one of the author's own items.
func (a *App) DeleteBook(ctx context.Context, dev *Device, id int64) error {
	profile, err := a.requireAuthor(ctx, dev, "delete book")
	if err != nil {
		return err
	}
	if err := a.store.DeleteCatalogItem(ctx, id, profile.ID); err != nil {
		return domain.Remote("delete book", err)
	}
	a.logger.Info("book deleted", "item_id", id, "author_id", profile.ID)
	return nil
}
