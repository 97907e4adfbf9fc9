package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ready2publish/pkg/domain"
)

func line(id int64, price float64) domain.CartLine {
	return domain.CartLine{ItemID: id, Title: "Buch", Price: price, AuthorName: "Anna Berg"}
}

func TestAddRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryRepository())

	lines, err := c.Add(ctx, line(1, 19.9))
	require.NoError(t, err)
	require.Len(t, lines, 1)

	lines, err = c.Add(ctx, line(1, 19.9))
	require.ErrorIs(t, err, domain.ErrAlreadyInCart)
	require.Len(t, lines, 1)

	stored, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRemoveAndTotal(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryRepository())
	for _, l := range []domain.CartLine{line(1, 10), line(2, 15.5), line(3, 4.5)} {
		_, err := c.Add(ctx, l)
		require.NoError(t, err)
	}
	lines, err := c.Remove(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, itemIDs(lines))
	require.InDelta(t, 14.5, Total(lines), 1e-9)

	lines, err = c.Remove(ctx, 99)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	require.NoError(t, c.Clear(ctx))
	lines, err = c.Lines(ctx)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestCheckoutEmptyCart(t *testing.T) {
	c := New(NewMemoryRepository())
	_, err := c.Checkout(context.Background(), PayerFunc(func(context.Context, domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
		t.Fatal("payer must not be called")
		return domain.PaymentIntent{}, nil
	}), "eur")
	require.True(t, domain.IsValidation(err), "got %v", err)
}

func TestCheckoutSequentialAndClears(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryRepository())
	for _, l := range []domain.CartLine{line(1, 10), line(2, 20)} {
		_, err := c.Add(ctx, l)
		require.NoError(t, err)
	}
	var seen []domain.PaymentIntentRequest
	receipt, err := c.Checkout(ctx, PayerFunc(func(_ context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
		seen = append(seen, req)
		return domain.PaymentIntent{OrderID: "order-" + string(rune('a'+len(seen)-1))}, nil
	}), "eur")
	require.NoError(t, err)
	require.Equal(t, []string{"order-a", "order-b"}, receipt.OrderIDs)
	require.Equal(t, 2, receipt.Count)
	require.InDelta(t, 30, receipt.Total, 1e-9)
	require.Len(t, seen, 2)
	require.Equal(t, domain.PaymentIntentRequest{ItemID: 1, Amount: 10, Currency: "eur"}, seen[0])

	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestCheckoutStopsAtFirstFailureAndKeepsCart(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryRepository())
	for _, l := range []domain.CartLine{line(1, 10), line(2, 20), line(3, 30)} {
		_, err := c.Add(ctx, l)
		require.NoError(t, err)
	}
	calls := 0
	_, err := c.Checkout(ctx, PayerFunc(func(_ context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
		calls++
		if req.ItemID == 2 {
			return domain.PaymentIntent{}, &domain.RemoteOperationError{Status: 400, Message: "Book not available"}
		}
		return domain.PaymentIntent{OrderID: "ok"}, nil
	}), "eur")
	var remote *domain.RemoteOperationError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "Book not available", remote.Message)
	require.Equal(t, 2, calls)

	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 3)
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	repo, err := NewRedisRepository(client, "test:cart", "device-1", time.Hour)
	require.NoError(t, err)
	lines, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, lines)

	c := New(repo)
	_, err = c.Add(ctx, line(7, 12))
	require.NoError(t, err)
	require.True(t, mr.Exists("test:cart:device-1"))
	require.Equal(t, time.Hour, mr.TTL("test:cart:device-1"))

	other, err := NewRedisRepository(client, "test:cart", "device-2", time.Hour)
	require.NoError(t, err)
	otherLines, err := other.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, otherLines)

	require.NoError(t, c.Clear(ctx))
	require.False(t, mr.Exists("test:cart:device-1"))

	require.NoError(t, mr.Set("test:cart:device-1", "{not json"))
	lines, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, lines)

	_, err = NewRedisRepository(client, "", " ", time.Hour)
	require.Error(t, err)
}

func itemIDs(lines []domain.CartLine) []int64 {
	out := make([]int64, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.ItemID)
	}
	return out
}
