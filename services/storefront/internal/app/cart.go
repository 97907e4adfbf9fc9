package app

import (
	"context"

	"ready2publish/pkg/cart"
	"ready2publish/pkg/domain"
)

// CartView is the cart as the cart page shows it.
type CartView struct {
	Lines    []domain.CartLine `json:"items"`
	Total    float64           `json:"total"`
	Count    int               `json:"count"`
	Currency string            `json:"currency"`
}

func (a *App) cartView(lines []domain.CartLine) CartView {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartView{Lines: lines, Total: cart.Total(lines), Count: len(lines), Currency: a.currency}
}

// Cart returns the device's cart. Reading does not need a session.
func (a *App) Cart(ctx context.Context, dev *Device) (CartView, error) {
	lines, err := dev.Cart.Lines(ctx)
	if err != nil {
		return CartView{}, domain.Remote("load cart", err)
	}
	return a.cartView(lines), nil
}

// AddToCart snapshots an active item into the cart of a signed-in device.
func (a *App) AddToCart(ctx context.Context, dev *Device, itemID int64) (CartView, error) {
	if dev.Session.Identity() == nil {
		return CartView{}, &domain.NotAuthenticatedError{Op: "add to cart"}
	}
	item, err := a.CatalogItem(ctx, itemID)
	if err != nil {
		return CartView{}, err
	}
	lines, err := dev.Cart.Add(ctx, domain.CartLine{
		ItemID:        item.ID,
		Title:         item.Title,
		Price:         item.Price,
		CoverImageURL: item.CoverImageURL,
		AuthorName:    item.AuthorName(),
	})
	if err != nil {
		return CartView{}, domain.Remote("add to cart", err)
	}
	return a.cartView(lines), nil
}

func (a *App) RemoveFromCart(ctx context.Context, dev *Device, itemID int64) (CartView, error) {
	lines, err := dev.Cart.Remove(ctx, itemID)
	if err != nil {
		return CartView{}, domain.Remote("remove from cart", err)
	}
	return a.cartView(lines), nil
}

func (a *App) ClearCart(ctx context.Context, dev *Device) error {
	if err := dev.Cart.Clear(ctx); err != nil {
		return domain.Remote("clear cart", err)
	}
	return nil
}

// Checkout pays every cart line with the device's access token and empties
// the cart once all payment intents exist.
func (a *App) Checkout(ctx context.Context, dev *Device) (cart.Receipt, error) {
	if dev.Session.Identity() == nil {
		return cart.Receipt{}, &domain.NotAuthenticatedError{Op: "checkout"}
	}
	receipt, err := dev.Cart.Checkout(ctx, a.payer(dev), a.currency)
	if err != nil {
		return cart.Receipt{}, err
	}
	a.logger.Info("checkout completed", "device_id", dev.ID, "orders", len(receipt.OrderIDs), "total", receipt.Total)
	return receipt, nil
}

// BuyNow creates a single payment intent for an active item without
// touching the cart.
func (a *App) BuyNow(ctx context.Context, dev *Device, itemID int64) (domain.PaymentIntent, error) {
	if dev.Session.Identity() == nil {
		return domain.PaymentIntent{}, &domain.NotAuthenticatedError{Op: "buy now"}
	}
	item, err := a.CatalogItem(ctx, itemID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	intent, err := a.payer(dev).CreatePaymentIntent(ctx, domain.PaymentIntentRequest{
		ItemID:   item.ID,
		Amount:   item.Price,
		Currency: a.currency,
	})
	if err != nil {
		return domain.PaymentIntent{}, domain.Remote("buy now", err)
	}
	return intent, nil
}

// payer fetches a fresh access token for every intent so a long checkout
// survives a token refresh.
func (a *App) payer(dev *Device) cart.Payer {
	return cart.PayerFunc(func(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
		token, err := dev.Session.AccessToken(ctx)
		if err != nil {
			return domain.PaymentIntent{}, err
		}
		return a.functions.CreatePaymentIntent(ctx, token, req)
	})
}
