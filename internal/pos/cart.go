package pos

import (
	"fmt"

	"partsdesk/internal/domain"
)

type CartItem struct {
	ProductID         string
	Name              string
	PriceCents        int64
	QuantityRemaining int
	Count             int
}

// Cart is an ordered list of line items keyed by product id. Every item
// satisfies 1 <= Count <= QuantityRemaining. Cart is not safe for concurrent
// use; Session serializes access to it.
type Cart struct {
	items []CartItem
}

func (c *Cart) AddItem(snapshot StockSnapshot) error {
	if i := c.indexOf(snapshot.ProductID); i >= 0 {
		return c.IncrementItem(i)
	}
	if snapshot.QuantityRemaining < 1 {
		return fmt.Errorf("%w: %s has none left", ErrStockExceeded, snapshot.Name)
	}
	c.items = append(c.items, CartItem{
		ProductID:         snapshot.ProductID,
		Name:              snapshot.Name,
		PriceCents:        snapshot.PriceCents,
		QuantityRemaining: snapshot.QuantityRemaining,
		Count:             1,
	})
	return nil
}

func (c *Cart) IncrementItem(index int) error {
	if index < 0 || index >= len(c.items) {
		return fmt.Errorf("%w: index %d", ErrItemNotFound, index)
	}
	item := &c.items[index]
	if item.Count+1 > item.QuantityRemaining {
		return fmt.Errorf("%w: %s has %d left", ErrStockExceeded, item.Name, item.QuantityRemaining)
	}
	item.Count++
	return nil
}

func (c *Cart) DecrementItem(index int) error {
	if index < 0 || index >= len(c.items) {
		return fmt.Errorf("%w: index %d", ErrItemNotFound, index)
	}
	c.items[index].Count--
	if c.items[index].Count <= 0 {
		c.items = append(c.items[:index], c.items[index+1:]...)
	}
	return nil
}

// RemoveItem drops the product from the cart. It reports whether the product
// was present.
func (c *Cart) RemoveItem(productID string) bool {
	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return true
}

func (c *Cart) Clear() {
	c.items = nil
}

func (c *Cart) Len() int {
	return len(c.items)
}

// Items returns a copy of the line items in cart order.
func (c *Cart) Items() []CartItem {
	out := make([]CartItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) lines() []domain.TransactionLine {
	lines := make([]domain.TransactionLine, 0, len(c.items))
	for _, item := range c.items {
		lines = append(lines, domain.TransactionLine{ProductID: item.ProductID, Count: item.Count})
	}
	return lines
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.items {
		if c.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}
