package pos

import (
	"fmt"
	"sync"

	"partsdesk/internal/domain"
	"partsdesk/internal/xid"
)

type Partsman struct {
	ID   string
	Name string
}

// Session owns one cashier's in-progress sale: the cart, discount, selected
// partsman and the transaction id it is editing, if any. All state changes go
// through its methods.
type Session struct {
	mu             sync.Mutex
	cashierID      string
	cart           Cart
	discount       float64
	transactionID  string
	partsman       *Partsman
	idempotencyKey string
	inFlight       int
}

func NewSession(cashierID string) *Session {
	return &Session{cashierID: cashierID}
}

func (s *Session) CashierID() string {
	return s.cashierID
}

func (s *Session) AddItem(snapshot StockSnapshot) error {
	return s.mutate(func() error { return s.cart.AddItem(snapshot) })
}

func (s *Session) IncrementItem(index int) error {
	return s.mutate(func() error { return s.cart.IncrementItem(index) })
}

func (s *Session) DecrementItem(index int) error {
	return s.mutate(func() error { return s.cart.DecrementItem(index) })
}

func (s *Session) RemoveItem(productID string) error {
	return s.mutate(func() error {
		if !s.cart.RemoveItem(productID) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
		}
		return nil
	})
}

// SetDiscount clamps and stores the discount fraction, returning the value
// actually kept.
func (s *Session) SetDiscount(v float64) (float64, error) {
	clamped, err := ClampDiscount(v)
	if err != nil {
		return s.Discount(), err
	}
	err = s.mutate(func() error {
		s.discount = clamped
		return nil
	})
	if err != nil {
		return s.Discount(), err
	}
	return clamped, nil
}

func (s *Session) SelectPartsman(p Partsman) error {
	return s.mutate(func() error {
		s.partsman = &p
		return nil
	})
}

func (s *Session) ClearPartsman() error {
	return s.mutate(func() error {
		s.partsman = nil
		return nil
	})
}

// Clear empties the cart and releases the bound transaction, partsman and
// discount.
func (s *Session) Clear() error {
	return s.mutate(func() error {
		s.reset()
		return nil
	})
}

// LoadTransaction puts a reserved transaction back into the cart for editing.
// Each item's ceiling is the snapshot quantity plus what the reservation
// already holds; without a snapshot the held count is the ceiling.
//
// The partsman's display name comes from directory; an unknown id is shown as
// the id itself.
func (s *Session) LoadTransaction(tx domain.Transaction, snapshots []StockSnapshot, directory ...Partsman) error {
	if tx.ID == "" {
		return ErrNoTransaction
	}
	if tx.Status != domain.TxStatusReserved {
		return fmt.Errorf("%w: cannot edit %s transaction", ErrIllegalTransition, tx.Status)
	}
	byID := make(map[string]StockSnapshot, len(snapshots))
	for _, snap := range snapshots {
		byID[snap.ProductID] = snap
	}

	items := make([]CartItem, 0, len(tx.Items))
	for _, line := range tx.Items {
		item := CartItem{
			ProductID:         line.ProductID,
			Name:              line.Name,
			PriceCents:        line.UnitPriceCents,
			QuantityRemaining: line.Count,
			Count:             line.Count,
		}
		if snap, ok := byID[line.ProductID]; ok {
			item.Name = snap.Name
			item.PriceCents = snap.PriceCents
			item.QuantityRemaining = max(0, snap.QuantityRemaining) + line.Count
		}
		if item.Count < 1 {
			continue
		}
		items = append(items, item)
	}

	return s.mutate(func() error {
		s.reset()
		s.cart.items = items
		s.discount = tx.Discount
		s.transactionID = tx.ID
		if tx.PartsmanID != "" {
			s.partsman = lookupPartsman(directory, tx.PartsmanID)
		}
		return nil
	})
}

func lookupPartsman(directory []Partsman, id string) *Partsman {
	for _, p := range directory {
		if p.ID == id {
			return &Partsman{ID: p.ID, Name: p.Name}
		}
	}
	return &Partsman{ID: id, Name: id}
}

// AfterMutation releases the session when the transaction it is editing
// leaves the reserved state through a status change, so the next sale starts
// clean. An in-flight submission keeps its state.
func (s *Session) AfterMutation(m Mutation) {
	if m.Kind != StatusTransitioned || m.TransactionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 || s.transactionID != m.TransactionID {
		return
	}
	s.reset()
}

func (s *Session) Items() []CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Items()
}

func (s *Session) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Price(s.cart.items, s.discount)
}

func (s *Session) Discount() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discount
}

func (s *Session) Partsman() (Partsman, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partsman == nil {
		return Partsman{}, false
	}
	return *s.partsman, true
}

func (s *Session) BoundTransactionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactionID
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

// mutate runs fn under the lock unless a submission is in flight. Any change
// to the payload invalidates its idempotency key.
func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		return ErrBusy
	}
	if err := fn(); err != nil {
		return err
	}
	s.idempotencyKey = ""
	return nil
}

func (s *Session) reset() {
	s.cart.Clear()
	s.discount = 0
	s.transactionID = ""
	s.partsman = nil
	s.idempotencyKey = ""
}

type submission struct {
	transactionID string
	create        domain.TransactionCreateRequest
	update        domain.TransactionUpdateRequest
}

// beginSubmit freezes the current payload and marks the session in flight.
// Repeated submits of an unchanged cart reuse the same idempotency key.
func (s *Session) beginSubmit(mode Mode) (submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.Len() == 0 {
		return submission{}, ErrEmptyCart
	}
	status := mode.status()
	totals := Price(s.cart.items, s.discount)
	partsmanID := ""
	if s.partsman != nil {
		partsmanID = s.partsman.ID
	}
	lines := s.cart.lines()

	sub := submission{transactionID: s.transactionID}
	if sub.transactionID == "" {
		if s.idempotencyKey == "" {
			s.idempotencyKey = xid.New("idem")
		}
		sub.create = domain.TransactionCreateRequest{
			Items:          lines,
			Cashier:        s.cashierID,
			TotalCents:     totals.TotalCents,
			Discount:       s.discount,
			Status:         status,
			Partsman:       partsmanID,
			IdempotencyKey: s.idempotencyKey,
		}
	} else {
		total := totals.TotalCents
		discount := s.discount
		sub.update = domain.TransactionUpdateRequest{
			Items:      lines,
			TotalCents: &total,
			Discount:   &discount,
			Status:     &status,
			Partsman:   &partsmanID,
		}
	}
	s.inFlight++
	return sub, nil
}

func (s *Session) finishSubmit(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if ok {
		s.reset()
	}
}
