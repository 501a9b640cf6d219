package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"partsdesk/internal/domain"
	"partsdesk/internal/store"
	"partsdesk/internal/xid"
)

const defaultThreshold = 5

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	deletedProducts    map[string]bool
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]*domain.Transaction
	invoiceSeq         int64
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_PARTSMAN_PASSWORD; dev defaults are used when unset. The server uses
// PostgreSQL whenever DATABASE_URL is set, so these never reach production.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	partsmanPwd := envOr("SEED_PARTSMAN_PASSWORD", "partsman123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Store Admin", adminPwd, domain.RoleAdmin},
		{"cashier", "Front Counter", cashierPwd, domain.RoleCashier},
		{"rudi", "Rudi Hartono", partsmanPwd, domain.RolePartsman},
		{"sari", "Sari Wibowo", partsmanPwd, domain.RolePartsman},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		deletedProducts:    make(map[string]bool),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]*domain.Transaction),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-brake-pad-01", Name: "Brake Pad Front", PartNumber: "BP-4410", Brand: "Aspira", PriceCents: 8500, QuantityRemaining: 24},
		{ID: "prd-oil-filter-01", Name: "Oil Filter", PartNumber: "OF-1120", Brand: "Denso", PriceCents: 3200, QuantityRemaining: 60},
		{ID: "prd-spark-plug-01", Name: "Spark Plug Iridium", PartNumber: "SP-7703", Brand: "NGK", PriceCents: 4500, QuantityRemaining: 40},
		{ID: "prd-chain-kit-01", Name: "Drive Chain Kit", PartNumber: "CK-428H", Brand: "SSS", PriceCents: 21000, QuantityRemaining: 6},
		{ID: "prd-clutch-plate-01", Name: "Clutch Plate Set", PartNumber: "CP-2201", Brand: "Exedy", PriceCents: 16500, QuantityRemaining: 4},
		{ID: "prd-air-filter-01", Name: "Air Filter", PartNumber: "AF-3308", Brand: "Ferrox", PriceCents: 5200, QuantityRemaining: 18},
		{ID: "prd-engine-oil-01", Name: "Engine Oil 10W-40 1L", PartNumber: "EO-1040", Brand: "Motul", PriceCents: 9800, QuantityRemaining: 80},
		{ID: "prd-brake-shoe-01", Name: "Brake Shoe Rear", PartNumber: "BS-5512", Brand: "Aspira", PriceCents: 6100, QuantityRemaining: 0},
		{ID: "prd-headlamp-01", Name: "Headlamp Bulb H4", PartNumber: "HL-H4", Brand: "Osram", PriceCents: 3900, QuantityRemaining: 30},
		{ID: "prd-battery-01", Name: "Battery MF 5Ah", PartNumber: "BT-5L", Brand: "Yuasa", PriceCents: 27500, QuantityRemaining: 3},
	}

	s := New()
	for _, p := range products {
		p.QuantityThreshold = defaultThreshold
		p.CreatedAt = now
		s.products[p.ID] = p
	}
	s.usersByUsername = seedUsers(logger)
	return s
}

func (s *Store) SearchProducts(_ context.Context, query store.ProductQuery) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query.Search))
	matched := make([]domain.Product, 0, len(s.products))
	for id, p := range s.products {
		if s.deletedProducts[id] {
			continue
		}
		p = withStatus(p)
		if query.Status != "" && p.Status != query.Status {
			continue
		}
		if needle != "" && !productMatches(p, needle) {
			continue
		}
		matched = append(matched, p)
	}
	slices.SortFunc(matched, func(a, b domain.Product) int {
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	total := len(matched)
	return page(matched, query.Offset, query.Limit), total, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok || s.deletedProducts[id] {
			continue
		}
		out[id] = withStatus(p)
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	for id, existing := range s.products {
		if s.deletedProducts[id] || product.PartNumber == "" {
			continue
		}
		if strings.EqualFold(existing.PartNumber, product.PartNumber) {
			return nil, fmt.Errorf("%w: part number %s", store.ErrDuplicate, product.PartNumber)
		}
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.QuantitySold = 0
	s.products[product.ID] = product
	out := withStatus(product)
	return &out, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok || s.deletedProducts[id] {
		return store.ErrNotFound
	}
	s.deletedProducts[id] = true
	return nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) CreateTransaction(_ context.Context, in store.NewTransaction) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		if existing, ok := s.transactionsByIdem[in.IdempotencyKey]; ok {
			return cloneTransaction(existing), false, nil
		}
	}
	if in.Status != domain.TxStatusReserved && in.Status != domain.TxStatusCompleted {
		return nil, false, store.ErrInvalidTransaction
	}

	items, err := s.resolveItems(in.Lines, nil)
	if err != nil {
		return nil, false, err
	}
	subtotal := subtotalOf(items)
	discountCents, total := domain.ApplyDiscount(subtotal, in.Discount)

	s.takeStock(items, in.Status == domain.TxStatusCompleted)

	s.invoiceSeq++
	tx := domain.Transaction{
		ID:             in.ID,
		InvoiceID:      xid.Invoice(s.invoiceSeq),
		IdempotencyKey: in.IdempotencyKey,
		Items:          items,
		CashierID:      in.CashierID,
		PartsmanID:     in.PartsmanID,
		SubtotalCents:  subtotal,
		Discount:       in.Discount,
		DiscountCents:  discountCents,
		TotalCents:     total,
		Status:         in.Status,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.CreatedAt,
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
		tx.UpdatedAt = tx.CreatedAt
	}

	txCopy := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = txCopy
	if tx.IdempotencyKey != "" {
		s.transactionsByIdem[tx.IdempotencyKey] = txCopy
	}
	return cloneTransaction(txCopy), true, nil
}

func (s *Store) UpdateReservedTransaction(_ context.Context, change store.TransactionChange) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[change.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusReserved {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrIllegalTransition, tx.Status)
	}
	if change.Status != domain.TxStatusReserved && change.Status != domain.TxStatusCompleted {
		return nil, fmt.Errorf("%w: cannot update to %s", store.ErrIllegalTransition, change.Status)
	}

	held := make(map[string]int, len(tx.Items))
	for _, item := range tx.Items {
		held[item.ProductID] += item.Count
	}
	items, err := s.resolveItems(change.Lines, held)
	if err != nil {
		return nil, err
	}

	s.putStock(tx.Items, false)
	s.takeStock(items, change.Status == domain.TxStatusCompleted)

	subtotal := subtotalOf(items)
	discountCents, total := domain.ApplyDiscount(subtotal, change.Discount)
	tx.Items = items
	tx.SubtotalCents = subtotal
	tx.Discount = change.Discount
	tx.DiscountCents = discountCents
	tx.TotalCents = total
	tx.PartsmanID = change.PartsmanID
	tx.Status = change.Status
	tx.UpdatedAt = change.At
	return cloneTransaction(tx), nil
}

func (s *Store) RestockTransaction(_ context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != from {
		return nil, fmt.Errorf("%w: transaction is %s", store.ErrIllegalTransition, tx.Status)
	}

	s.putStock(tx.Items, from == domain.TxStatusCompleted)
	tx.Status = to
	tx.UpdatedAt = at
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		if filter.CashierID != "" && tx.CashierID != filter.CashierID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if needle != "" && !transactionMatches(tx, needle) {
			continue
		}
		matched = append(matched, *cloneTransaction(tx))
	}
	sortNewestFirst(matched)

	total := len(matched)
	return page(matched, filter.Offset, filter.Limit), total, nil
}

func (s *Store) ListTransactionsBetween(_ context.Context, cashierID string, status domain.TransactionStatus, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactionsByID {
		if cashierID != "" && tx.CashierID != cashierID {
			continue
		}
		if status != "" && tx.Status != status {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// resolveItems prices lines from the product table and checks them against
// stock. held lists counts already taken by the transaction being edited;
// those units count as available again. Caller holds s.mu.
func (s *Store) resolveItems(lines []domain.TransactionLine, held map[string]int) ([]domain.TransactionItem, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	merged := mergeLines(lines)
	items := make([]domain.TransactionItem, 0, len(merged))
	for _, line := range merged {
		if line.Count < 1 {
			return nil, store.ErrInvalidTransaction
		}
		product, ok := s.products[line.ProductID]
		if !ok || s.deletedProducts[line.ProductID] {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidTransaction, line.ProductID)
		}
		if product.QuantityRemaining+held[line.ProductID] < line.Count {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
		}
		items = append(items, domain.TransactionItem{
			ProductID:      product.ID,
			Name:           product.Name,
			Count:          line.Count,
			UnitPriceCents: product.PriceCents,
		})
	}
	return items, nil
}

func (s *Store) takeStock(items []domain.TransactionItem, sold bool) {
	for _, item := range items {
		p := s.products[item.ProductID]
		p.QuantityRemaining -= item.Count
		if sold {
			p.QuantitySold += item.Count
		}
		s.products[item.ProductID] = p
	}
}

func (s *Store) putStock(items []domain.TransactionItem, unsold bool) {
	for _, item := range items {
		p, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		p.QuantityRemaining += item.Count
		if unsold {
			p.QuantitySold = max(0, p.QuantitySold-item.Count)
		}
		s.products[item.ProductID] = p
	}
}

func mergeLines(lines []domain.TransactionLine) []domain.TransactionLine {
	index := make(map[string]int, len(lines))
	merged := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			merged[i].Count += line.Count
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

func subtotalOf(items []domain.TransactionItem) int64 {
	subtotal := int64(0)
	for _, item := range items {
		subtotal += int64(item.Count) * item.UnitPriceCents
	}
	return subtotal
}

func withStatus(p domain.Product) domain.Product {
	p.Status = domain.DeriveProductStatus(p.QuantityRemaining, p.QuantityThreshold)
	return p
}

func productMatches(p domain.Product, needle string) bool {
	return strings.Contains(strings.ToLower(p.Name), needle) ||
		strings.Contains(strings.ToLower(p.PartNumber), needle) ||
		strings.Contains(strings.ToLower(p.Brand), needle)
}

func transactionMatches(tx *domain.Transaction, needle string) bool {
	if strings.Contains(strings.ToLower(tx.InvoiceID), needle) ||
		strings.Contains(strings.ToLower(tx.PartsmanID), needle) {
		return true
	}
	for _, item := range tx.Items {
		if strings.Contains(strings.ToLower(item.Name), needle) {
			return true
		}
	}
	return false
}

func sortNewestFirst(txs []domain.Transaction) {
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.InvoiceID, a.InvoiceID)
	})
}

func page[T any](items []T, offset int, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	return &dup
}
