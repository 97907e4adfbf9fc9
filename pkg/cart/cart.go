// Package cart keeps the buyer's pending purchases and turns them into
// payment intents at checkout.
package cart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"ready2publish/pkg/domain"
)

// Payer creates one payment intent per purchased item.
type Payer interface {
	CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error)
}

// PayerFunc adapts a function to Payer.
type PayerFunc func(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error)

func (f PayerFunc) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	return f(ctx, req)
}

// Receipt summarizes a successful checkout.
type Receipt struct {
	OrderIDs []string `json:"orderIds"`
	Total    float64  `json:"total"`
	Count    int      `json:"count"`
	Currency string   `json:"currency"`
}

// Cart serializes read-modify-write cycles of one device's cart.
type Cart struct {
	mu   sync.Mutex
	repo Repository
}

func New(repo Repository) *Cart {
	return &Cart{repo: repo}
}

func (c *Cart) Lines(ctx context.Context) ([]domain.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Load(ctx)
}

// Add appends line unless an item with the same id is already present.
func (c *Cart) Add(ctx context.Context, line domain.CartLine) ([]domain.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := c.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if slices.ContainsFunc(lines, func(l domain.CartLine) bool { return l.ItemID == line.ItemID }) {
		return lines, domain.ErrAlreadyInCart
	}
	lines = append(lines, line)
	if err := c.repo.Save(ctx, lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Remove drops the line for itemID. Removing a missing item is not an error.
func (c *Cart) Remove(ctx context.Context, itemID int64) ([]domain.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := c.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	match := func(l domain.CartLine) bool { return l.ItemID == itemID }
	if !slices.ContainsFunc(lines, match) {
		return lines, nil
	}
	kept := slices.DeleteFunc(lines, match)
	if err := c.repo.Save(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Save(ctx, nil)
}

// Total sums the line prices.
func Total(lines []domain.CartLine) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Price
	}
	return sum
}

// Checkout creates one payment intent per line, in cart order, and stops at
// the first failure. The cart is cleared only when every intent succeeded.
func (c *Cart) Checkout(ctx context.Context, payer Payer, currency string) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := c.repo.Load(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if len(lines) == 0 {
		return Receipt{}, domain.Invalid("", "cart is empty")
	}
	receipt := Receipt{Currency: currency, Count: len(lines), Total: Total(lines)}
	for _, line := range lines {
		intent, err := payer.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{
			ItemID:   line.ItemID,
			Amount:   line.Price,
			Currency: currency,
		})
		if err != nil {
			return Receipt{}, domain.Remote(fmt.Sprintf("payment for %q", line.Title), err)
		}
		receipt.OrderIDs = append(receipt.OrderIDs, intent.OrderID)
	}
	if err := c.repo.Save(ctx, nil); err != nil {
		return receipt, fmt.Errorf("clear cart after checkout: %w", err)
	}
	return receipt, nil
}
