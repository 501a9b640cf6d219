package pos

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partsdesk/internal/domain"
)

func TestSessionClearReleasesEverything(t *testing.T) {
	session := NewSession("cashier")
	require.NoError(t, session.AddItem(snapshot(product("p1", 1000, 3))))
	require.NoError(t, session.SelectPartsman(Partsman{ID: "rudi", Name: "Rudi"}))
	_, err := session.SetDiscount(0.2)
	require.NoError(t, err)

	require.NoError(t, session.Clear())

	assert.Empty(t, session.Items())
	assert.Zero(t, session.Discount())
	_, ok := session.Partsman()
	assert.False(t, ok)
	assert.Equal(t, Totals{}, session.Totals())
}

func TestSessionSetDiscountClamps(t *testing.T) {
	session := NewSession("cashier")

	got, err := session.SetDiscount(3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
	assert.Equal(t, 1.0, session.Discount())

	got, err = session.SetDiscount(-0.5)
	assert.True(t, errors.Is(err, ErrInvalidDiscount))
	assert.Equal(t, 1.0, got)
	assert.Equal(t, 1.0, session.Discount())
}

func TestSessionRemoveMissingItem(t *testing.T) {
	session := NewSession("cashier")
	assert.True(t, errors.Is(session.RemoveItem("nope"), ErrItemNotFound))
}

func TestLoadTransaction(t *testing.T) {
	tx := domain.Transaction{
		ID:         "tx-9",
		Status:     domain.TxStatusReserved,
		Discount:   0.15,
		PartsmanID: "sari",
		Items: []domain.TransactionItem{
			{ProductID: "p1", Name: "Old name", Count: 2, UnitPriceCents: 900},
			{ProductID: "p2", Name: "Delisted", Count: 1, UnitPriceCents: 500},
		},
	}
	snaps := []StockSnapshot{{ProductID: "p1", Name: "Brake Pad", PriceCents: 1000, QuantityRemaining: 3, CapturedAt: time.Now()}}

	session := NewSession("cashier")
	require.NoError(t, session.LoadTransaction(tx, snaps))

	items := session.Items()
	require.Len(t, items, 2)
	assert.Equal(t, CartItem{ProductID: "p1", Name: "Brake Pad", PriceCents: 1000, QuantityRemaining: 5, Count: 2}, items[0])
	assert.Equal(t, CartItem{ProductID: "p2", Name: "Delisted", PriceCents: 500, QuantityRemaining: 1, Count: 1}, items[1])
	assert.Equal(t, "tx-9", session.BoundTransactionID())
	assert.Equal(t, 0.15, session.Discount())
	partsman, ok := session.Partsman()
	require.True(t, ok)
	assert.Equal(t, "sari", partsman.ID)

	assert.True(t, errors.Is(session.IncrementItem(1), ErrStockExceeded))
	require.NoError(t, session.IncrementItem(0))
}

func TestLoadTransactionResolvesPartsmanName(t *testing.T) {
	tx := domain.Transaction{
		ID:         "tx-3",
		Status:     domain.TxStatusReserved,
		PartsmanID: "rudi",
		Items:      []domain.TransactionItem{{ProductID: "p1", Name: "Brake Pad", Count: 1, UnitPriceCents: 1000}},
	}
	directory := []Partsman{{ID: "sari", Name: "Sari Dewi"}, {ID: "rudi", Name: "Rudi Hartono"}}

	session := NewSession("cashier")
	require.NoError(t, session.LoadTransaction(tx, nil, directory...))
	partsman, ok := session.Partsman()
	require.True(t, ok)
	assert.Equal(t, Partsman{ID: "rudi", Name: "Rudi Hartono"}, partsman)

	tx.PartsmanID = "gone"
	require.NoError(t, session.LoadTransaction(tx, nil, directory...))
	partsman, ok = session.Partsman()
	require.True(t, ok)
	assert.Equal(t, Partsman{ID: "gone", Name: "gone"}, partsman)
}

func TestSessionIgnoresUnrelatedMutations(t *testing.T) {
	session := NewSession("cashier")
	tx := domain.Transaction{
		ID:     "tx-4",
		Status: domain.TxStatusReserved,
		Items:  []domain.TransactionItem{{ProductID: "p1", Name: "Brake Pad", Count: 1, UnitPriceCents: 1000}},
	}
	require.NoError(t, session.LoadTransaction(tx, nil))

	session.AfterMutation(Mutation{Kind: CartSubmitted, TransactionID: "tx-4"})
	session.AfterMutation(Mutation{Kind: ProductDeleted})
	session.AfterMutation(Mutation{Kind: StatusTransitioned, TransactionID: "tx-5", Status: domain.TxStatusCancelled})
	assert.Equal(t, "tx-4", session.BoundTransactionID())

	session.AfterMutation(Mutation{Kind: StatusTransitioned, TransactionID: "tx-4", Status: domain.TxStatusCompleted})
	assert.Empty(t, session.BoundTransactionID())
	assert.Empty(t, session.Items())
}

func TestLoadTransactionRequiresReserved(t *testing.T) {
	session := NewSession("cashier")
	for _, status := range []domain.TransactionStatus{domain.TxStatusCompleted, domain.TxStatusCancelled, domain.TxStatusReturned} {
		err := session.LoadTransaction(domain.Transaction{ID: "tx-1", Status: status}, nil)
		assert.True(t, errors.Is(err, ErrIllegalTransition), "status %s", status)
	}
	assert.True(t, errors.Is(session.LoadTransaction(domain.Transaction{}, nil), ErrNoTransaction))
	assert.Empty(t, session.BoundTransactionID())
}
