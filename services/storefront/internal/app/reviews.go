package app

import (
	"context"
	"slices"
	"strings"

	"ready2publish/pkg/domain"
)

const maxReviewComment = 2000

// ReviewItem records the signed-in buyer's rating of an active item. The
// buyer must hold a pending or paid order containing the item; the review is
// attached to the most recent such order, and each order line takes one review.
func (a *App) ReviewItem(ctx context.Context, dev *Device, itemID int64, rating int, comment string) (domain.Review, error) {
	identity := dev.Session.Identity()
	if identity == nil {
		return domain.Review{}, &domain.NotAuthenticatedError{Op: "review item"}
	}
	if rating < 1 || rating > 5 {
		return domain.Review{}, domain.Invalid("rating", "rating must be between 1 and 5")
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxReviewComment {
		return domain.Review{}, domain.Invalid("comment", "comment is too long")
	}
	if _, err := a.CatalogItem(ctx, itemID); err != nil {
		return domain.Review{}, err
	}

	orders, err := a.store.ListOrders(ctx, identity.ID)
	if err != nil {
		return domain.Review{}, domain.Remote("list orders", err)
	}
	orderID := ""
	for _, o := range orders {
		if o.Status != domain.OrderPending && o.Status != domain.OrderPaid {
			continue
		}
		if slices.ContainsFunc(o.Items, func(it domain.OrderItem) bool { return it.ItemID == itemID }) {
			orderID = o.ID
			break
		}
	}
	if orderID == "" {
		return domain.Review{}, domain.ErrForbidden
	}

	review, err := a.store.AddReview(ctx, domain.Review{
		ItemID:     itemID,
		ReviewerID: identity.ID,
		OrderID:    orderID,
		Rating:     rating,
		Comment:    comment,
	})
	if err != nil {
		return domain.Review{}, domain.Remote("add review", err)
	}
	a.logger.Info("review added", "device_id", dev.ID, "item_id", itemID, "rating", rating)
	return review, nil
}
