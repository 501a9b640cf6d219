package domain

import "math"

// ApplyDiscount splits a subtotal into the discount taken and the amount due.
// discount is a fraction in [0, 1]; callers validate the range.
func ApplyDiscount(subtotalCents int64, discount float64) (discountCents int64, totalCents int64) {
	discountCents = int64(math.Round(float64(subtotalCents) * discount))
	if discountCents > subtotalCents {
		discountCents = subtotalCents
	}
	if discountCents < 0 {
		discountCents = 0
	}
	return discountCents, subtotalCents - discountCents
}

func ValidDiscount(discount float64) bool {
	return !math.IsNaN(discount) && discount >= 0 && discount <= 1
}
