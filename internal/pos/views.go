package pos

import (
	"sync"
	"time"

	"partsdesk/internal/domain"
)

const defaultPageSize = 10

// Views holds what the terminal displays besides the cart: the current product
// search results, the operator's transaction list and the statistics panel.
// The Reconciler refreshes it; readers get copies.
//
// Each list carries a fetch ticket. A result is stored only when it was
// requested for the current query and after the last stored result, so a slow
// refresh never replaces a newer one.
type Views struct {
	mu sync.RWMutex

	productQuery   domain.ProductSearchRequest
	productGen     uint64
	productTicket  uint64
	productStored  uint64
	products       []StockSnapshot
	productPage    domain.Pagination
	productsAsOf   time.Time
	txQuery        domain.TransactionListRequest
	txGen          uint64
	txTicket       uint64
	txStored       uint64
	transactions   []domain.Transaction
	txPage         domain.Pagination
	statistics     *domain.TransactionStatistics
	statisticsAsOf time.Time
}

// fetchTicket identifies one list request: the query generation it was made
// for and its place in request order.
type fetchTicket struct {
	gen uint64
	seq uint64
}

func NewViews() *Views {
	return &Views{
		productQuery: domain.ProductSearchRequest{Page: 1, Limit: defaultPageSize},
		txQuery:      domain.TransactionListRequest{Page: 1, Limit: defaultPageSize},
	}
}

func (v *Views) SetProductQuery(q domain.ProductSearchRequest) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	v.mu.Lock()
	v.productQuery = q
	v.productGen++
	v.mu.Unlock()
}

func (v *Views) ProductQuery() domain.ProductSearchRequest {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.productQuery
}

func (v *Views) SetProducts(snapshots []StockSnapshot, page domain.Pagination, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.productTicket++
	v.storeProductsLocked(v.productTicket, snapshots, page, at)
}

// productRequest returns the query to fetch and the ticket to store the
// result under.
func (v *Views) productRequest() (domain.ProductSearchRequest, fetchTicket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.productTicket++
	return v.productQuery, fetchTicket{gen: v.productGen, seq: v.productTicket}
}

// storeProducts keeps a search result unless the query changed or a later
// request already landed. It reports whether the result was kept.
func (v *Views) storeProducts(t fetchTicket, snapshots []StockSnapshot, page domain.Pagination, at time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.gen != v.productGen || t.seq <= v.productStored {
		return false
	}
	v.storeProductsLocked(t.seq, snapshots, page, at)
	return true
}

func (v *Views) storeProductsLocked(seq uint64, snapshots []StockSnapshot, page domain.Pagination, at time.Time) {
	v.products = append([]StockSnapshot(nil), snapshots...)
	v.productPage = page
	v.productsAsOf = at
	v.productStored = seq
}

func (v *Views) Products() ([]StockSnapshot, domain.Pagination) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]StockSnapshot(nil), v.products...), v.productPage
}

// Snapshot finds a product in the current search results.
func (v *Views) Snapshot(productID string) (StockSnapshot, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, snap := range v.products {
		if snap.ProductID == productID {
			return snap, true
		}
	}
	return StockSnapshot{}, false
}

func (v *Views) SetTransactionQuery(q domain.TransactionListRequest) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	v.mu.Lock()
	v.txQuery = q
	v.txGen++
	v.mu.Unlock()
}

func (v *Views) TransactionQuery() domain.TransactionListRequest {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.txQuery
}

func (v *Views) SetTransactions(resp domain.TransactionListResponse) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txTicket++
	v.storeTransactionsLocked(v.txTicket, resp)
}

func (v *Views) transactionRequest() (domain.TransactionListRequest, fetchTicket) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txTicket++
	return v.txQuery, fetchTicket{gen: v.txGen, seq: v.txTicket}
}

func (v *Views) storeTransactions(t fetchTicket, resp domain.TransactionListResponse) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.gen != v.txGen || t.seq <= v.txStored {
		return false
	}
	v.storeTransactionsLocked(t.seq, resp)
	return true
}

func (v *Views) storeTransactionsLocked(seq uint64, resp domain.TransactionListResponse) {
	v.transactions = cloneTransactions(resp.Data)
	v.txPage = resp.Pagination
	v.txStored = seq
}

func (v *Views) Transactions() ([]domain.Transaction, domain.Pagination) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneTransactions(v.transactions), v.txPage
}

func (v *Views) Transaction(id string) (domain.Transaction, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, tx := range v.transactions {
		if tx.ID == id {
			return cloneTransactions([]domain.Transaction{tx})[0], true
		}
	}
	return domain.Transaction{}, false
}

// ApplyStatus updates a held transaction ahead of the next list refresh. It
// reports whether the transaction was in the list.
func (v *Views) ApplyStatus(id string, status domain.TransactionStatus) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.transactions {
		if v.transactions[i].ID == id {
			v.transactions[i].Status = status
			return true
		}
	}
	return false
}

func (v *Views) SetStatistics(stats domain.TransactionStatistics, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statistics = &stats
	v.statisticsAsOf = at
}

func (v *Views) Statistics() (domain.TransactionStatistics, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.statistics == nil {
		return domain.TransactionStatistics{}, false
	}
	return *v.statistics, true
}

func cloneTransactions(src []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(src))
	for i, tx := range src {
		tx.Items = append([]domain.TransactionItem(nil), tx.Items...)
		out[i] = tx
	}
	return out
}
