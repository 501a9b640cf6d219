package pos

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"partsdesk/internal/domain"
)

// fakeRemote is an in-process transaction service. With honorKeys false it
// behaves like a server that ignores idempotency keys.
type fakeRemote struct {
	mu        sync.Mutex
	honorKeys bool
	products  map[string]domain.Product
	txs       map[string]*domain.Transaction
	byKey     map[string]string
	seq       int
	calls     []string
	createErr error
	updateErr error
	searchErr error
	statsErr  error

	// arrived and gate let a test hold create calls in flight.
	arrived chan struct{}
	gate    chan struct{}
}

func newFakeRemote(products ...domain.Product) *fakeRemote {
	f := &fakeRemote{
		honorKeys: true,
		products:  make(map[string]domain.Product),
		txs:       make(map[string]*domain.Transaction),
		byKey:     make(map[string]string),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func product(id string, price int64, qty int) domain.Product {
	return domain.Product{ID: id, Name: "Part " + id, PriceCents: price, QuantityRemaining: qty, Status: domain.DeriveProductStatus(qty, 1)}
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) callsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) stock(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].QuantityRemaining
}

func (f *fakeRemote) transactionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

func (f *fakeRemote) CreateTransaction(_ context.Context, req domain.TransactionCreateRequest) (*domain.Transaction, error) {
	f.record("create")
	if f.arrived != nil {
		f.arrived <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.honorKeys && req.IdempotencyKey != "" {
		if id, ok := f.byKey[req.IdempotencyKey]; ok {
			dup := *f.txs[id]
			return &dup, nil
		}
	}
	items, err := f.resolve(req.Items, nil)
	if err != nil {
		return nil, err
	}
	f.take(items)

	f.seq++
	tx := &domain.Transaction{
		ID:         fmt.Sprintf("tx-%d", f.seq),
		InvoiceID:  fmt.Sprintf("INV-%06d", f.seq),
		Items:      items,
		CashierID:  req.Cashier,
		PartsmanID: req.Partsman,
		Discount:   req.Discount,
		Status:     req.Status,
		CreatedAt:  time.Now().UTC(),
	}
	f.price(tx)
	f.txs[tx.ID] = tx
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = tx.ID
	}
	dup := *tx
	return &dup, nil
}

func (f *fakeRemote) UpdateTransaction(_ context.Context, id string, req domain.TransactionUpdateRequest) (*domain.Transaction, error) {
	f.record("update")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	tx, ok := f.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: not found", id)
	}
	if tx.Status != domain.TxStatusReserved {
		return nil, fmt.Errorf("%w: transaction is %s", ErrRemoteIllegalTransition, tx.Status)
	}
	held := map[string]int{}
	for _, item := range tx.Items {
		held[item.ProductID] += item.Count
	}
	lines := req.Items
	if lines == nil {
		lines = tx.Lines()
	}
	items, err := f.resolve(lines, held)
	if err != nil {
		return nil, err
	}
	f.put(tx.Items)
	f.take(items)
	tx.Items = items
	if req.Discount != nil {
		tx.Discount = *req.Discount
	}
	if req.Partsman != nil {
		tx.PartsmanID = *req.Partsman
	}
	if req.Status != nil {
		tx.Status = *req.Status
	}
	f.price(tx)
	dup := *tx
	return &dup, nil
}

func (f *fakeRemote) CancelTransaction(_ context.Context, id string) (*domain.StatusChangeResponse, error) {
	f.record("cancel")
	return f.restock(id, domain.TxStatusReserved, domain.TxStatusCancelled)
}

func (f *fakeRemote) ReturnTransaction(_ context.Context, id string) (*domain.StatusChangeResponse, error) {
	f.record("return")
	return f.restock(id, domain.TxStatusCompleted, domain.TxStatusReturned)
}

func (f *fakeRemote) restock(id string, from, to domain.TransactionStatus) (*domain.StatusChangeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: not found", id)
	}
	if tx.Status != from {
		return nil, fmt.Errorf("%w: transaction is %s", ErrRemoteIllegalTransition, tx.Status)
	}
	f.put(tx.Items)
	tx.Status = to
	dup := *tx
	return &domain.StatusChangeResponse{Status: "success", Message: "ok", Transaction: &dup}, nil
}

func (f *fakeRemote) SearchProducts(_ context.Context, req domain.ProductSearchRequest) (*domain.ProductSearchResponse, error) {
	f.record("search")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	out := make([]domain.Product, 0, len(f.products))
	for _, p := range f.products {
		p.Status = domain.DeriveProductStatus(p.QuantityRemaining, 1)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &domain.ProductSearchResponse{
		Products:   out,
		Pagination: domain.NewPagination(len(out), req.Page, req.Limit),
	}, nil
}

func (f *fakeRemote) MyTransactions(_ context.Context, req domain.TransactionListRequest) (*domain.TransactionListResponse, error) {
	f.record("transactions")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Transaction, 0, len(f.txs))
	for _, tx := range f.txs {
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &domain.TransactionListResponse{Data: out, Pagination: domain.NewPagination(len(out), req.Page, req.Limit)}, nil
}

func (f *fakeRemote) MyStatistics(_ context.Context) (*domain.TransactionStatistics, error) {
	f.record("statistics")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	stats := domain.TransactionStatistics{}
	for _, tx := range f.txs {
		if tx.Status == domain.TxStatusCompleted {
			stats.Today.TransactionCount++
			stats.Today.TotalCents += tx.TotalCents
		}
	}
	return &stats, nil
}

func (f *fakeRemote) resolve(lines []domain.TransactionLine, held map[string]int) ([]domain.TransactionItem, error) {
	items := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		p, ok := f.products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: not found", line.ProductID)
		}
		if p.QuantityRemaining+held[line.ProductID] < line.Count {
			return nil, fmt.Errorf("%w: %s", ErrRemoteStockExceeded, p.Name)
		}
		items = append(items, domain.TransactionItem{ProductID: p.ID, Name: p.Name, Count: line.Count, UnitPriceCents: p.PriceCents})
	}
	return items, nil
}

func (f *fakeRemote) take(items []domain.TransactionItem) {
	for _, item := range items {
		p := f.products[item.ProductID]
		p.QuantityRemaining -= item.Count
		f.products[item.ProductID] = p
	}
}

func (f *fakeRemote) put(items []domain.TransactionItem) {
	for _, item := range items {
		p := f.products[item.ProductID]
		p.QuantityRemaining += item.Count
		f.products[item.ProductID] = p
	}
}

func (f *fakeRemote) price(tx *domain.Transaction) {
	tx.SubtotalCents = 0
	for _, item := range tx.Items {
		tx.SubtotalCents += item.UnitPriceCents * int64(item.Count)
	}
	tx.DiscountCents, tx.TotalCents = domain.ApplyDiscount(tx.SubtotalCents, tx.Discount)
}

// recordingNotifier collects mutations synchronously.
type recordingNotifier struct {
	mu        sync.Mutex
	mutations []Mutation
}

func (n *recordingNotifier) AfterMutation(m Mutation) {
	n.mu.Lock()
	n.mutations = append(n.mutations, m)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []Mutation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Mutation(nil), n.mutations...)
}

func snapshot(p domain.Product) StockSnapshot {
	return SnapshotFromProduct(p, time.Now())
}
