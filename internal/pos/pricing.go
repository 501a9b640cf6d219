package pos

import (
	"fmt"
	"math"

	"partsdesk/internal/domain"
)

type Totals struct {
	TotalItems    int
	SubtotalCents int64
	Discount      float64
	DiscountCents int64
	TotalCents    int64
}

// Price derives the display totals for a cart. It is recomputed on every read
// and never stored.
func Price(items []CartItem, discount float64) Totals {
	t := Totals{Discount: discount}
	for _, item := range items {
		t.TotalItems += item.Count
		t.SubtotalCents += item.PriceCents * int64(item.Count)
	}
	t.DiscountCents, t.TotalCents = domain.ApplyDiscount(t.SubtotalCents, discount)
	return t
}

// ClampDiscount normalizes an operator-entered discount fraction. Values at or
// above 1 snap to exactly 1; negative input is rejected.
func ClampDiscount(v float64) (float64, error) {
	if math.IsNaN(v) || v < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDiscount, v)
	}
	if v >= 1 {
		return 1, nil
	}
	return v, nil
}
