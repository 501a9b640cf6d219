package pos

import (
	"time"

	"partsdesk/internal/domain"
)

// StockSnapshot is a point-in-time copy of a product as seen in search
// results. QuantityRemaining is an advisory ceiling for the cart only; the
// server's count is authoritative and may already differ.
type StockSnapshot struct {
	ProductID         string
	Name              string
	PriceCents        int64
	QuantityRemaining int
	Status            domain.ProductStatus
	CapturedAt        time.Time
}

func SnapshotFromProduct(p domain.Product, at time.Time) StockSnapshot {
	return StockSnapshot{
		ProductID:         p.ID,
		Name:              p.Name,
		PriceCents:        p.PriceCents,
		QuantityRemaining: p.QuantityRemaining,
		Status:            p.Status,
		CapturedAt:        at,
	}
}

func SnapshotsFromProducts(products []domain.Product, at time.Time) []StockSnapshot {
	out := make([]StockSnapshot, 0, len(products))
	for _, p := range products {
		out = append(out, SnapshotFromProduct(p, at))
	}
	return out
}
