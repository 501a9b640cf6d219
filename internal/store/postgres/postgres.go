package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"partsdesk/internal/domain"
	"partsdesk/internal/store"
	"partsdesk/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// serializableAttempts bounds retries of a checkout that lost a
// serialization race against another one touching the same products.
const serializableAttempts = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const productColumns = `id, name, part_number, brand, price_cents, quantity_remaining, quantity_sold, quantity_threshold, created_at`

const productStatusExpr = `CASE
	WHEN quantity_remaining <= 0 THEN 'out_of_stock'
	WHEN quantity_remaining <= quantity_threshold THEN 'low_in_stock'
	ELSE 'available' END`

func (s *Store) SearchProducts(ctx context.Context, query store.ProductQuery) ([]domain.Product, int, error) {
	where := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 4)
	if needle := strings.TrimSpace(query.Search); needle != "" {
		args = append(args, likePattern(needle))
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR part_number ILIKE $%d OR brand ILIKE $%d)", n, n, n))
	}
	if query.Status != "" {
		args = append(args, string(query.Status))
		where = append(where, fmt.Sprintf("(%s) = $%d", productStatusExpr, len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM products WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, nullLimit(query.Limit), max(query.Offset, 0))
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM products
		WHERE %s
		ORDER BY lower(name) ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, productColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE deleted_at IS NULL AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 0 || product.QuantityRemaining < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.QuantitySold = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, part_number, brand, price_cents, quantity_remaining, quantity_sold, quantity_threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$8)
	`, product.ID, product.Name, product.PartNumber, product.Brand, product.PriceCents,
		product.QuantityRemaining, product.QuantityThreshold, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s", store.ErrDuplicate, product.PartNumber)
		}
		return nil, err
	}

	product.Status = domain.DeriveProductStatus(product.QuantityRemaining, product.QuantityThreshold)
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, s.db, "idempotency_key", key)
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, s.db, "id", id)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const transactionColumns = `id, invoice_id, COALESCE(idempotency_key,''), cashier_id, partsman_id,
	subtotal_cents, discount, discount_cents, total_cents, status, created_at, updated_at`

func (s *Store) findTransaction(ctx context.Context, q querier, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s = $1
	`, transactionColumns, column), value)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := loadItems(ctx, q, []string{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = items[tx.ID]
	return &tx, nil
}

func (s *Store) CreateTransaction(ctx context.Context, in store.NewTransaction) (*domain.Transaction, bool, error) {
	if in.Status != domain.TxStatusReserved && in.Status != domain.TxStatusCompleted {
		return nil, false, store.ErrInvalidTransaction
	}
	if len(in.Lines) == 0 {
		return nil, false, store.ErrInvalidTransaction
	}
	if in.ID == "" {
		in.ID = xid.New("tx")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	if in.IdempotencyKey != "" {
		existing, err := s.FindTransactionByIdempotency(ctx, in.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	var created *domain.Transaction
	err := s.serializable(ctx, func(pgTx *sql.Tx) error {
		var err error
		created, err = s.insertTransaction(ctx, pgTx, in)
		return err
	})
	if err != nil {
		if in.IdempotencyKey != "" && isUniqueViolation(err) {
			// Lost the race to a concurrent submit of the same cart.
			existing, findErr := s.FindTransactionByIdempotency(ctx, in.IdempotencyKey)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

func (s *Store) insertTransaction(ctx context.Context, pgTx *sql.Tx, in store.NewTransaction) (*domain.Transaction, error) {
	lines := mergeLines(in.Lines)
	stock, err := lockProducts(ctx, pgTx, productIDs(lines, nil))
	if err != nil {
		return nil, err
	}
	items, err := resolveItems(lines, stock, nil)
	if err != nil {
		return nil, err
	}

	sold := in.Status == domain.TxStatusCompleted
	for _, item := range items {
		if err := adjustStock(ctx, pgTx, item.ProductID, -item.Count, soldDelta(sold, item.Count)); err != nil {
			return nil, err
		}
	}

	var seq int64
	if err := pgTx.QueryRowContext(ctx, `SELECT nextval('invoice_seq')`).Scan(&seq); err != nil {
		return nil, err
	}

	subtotal := subtotalOf(items)
	discountCents, total := domain.ApplyDiscount(subtotal, in.Discount)
	tx := domain.Transaction{
		ID:             in.ID,
		InvoiceID:      xid.Invoice(seq),
		IdempotencyKey: in.IdempotencyKey,
		Items:          items,
		CashierID:      in.CashierID,
		PartsmanID:     in.PartsmanID,
		SubtotalCents:  subtotal,
		Discount:       in.Discount,
		DiscountCents:  discountCents,
		TotalCents:     total,
		Status:         in.Status,
		CreatedAt:      in.CreatedAt.UTC(),
		UpdatedAt:      in.CreatedAt.UTC(),
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, invoice_id, idempotency_key, cashier_id, partsman_id,
			subtotal_cents, discount, discount_cents, total_cents, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, tx.ID, tx.InvoiceID, nullIfEmpty(tx.IdempotencyKey), tx.CashierID, nullIfEmpty(tx.PartsmanID),
		tx.SubtotalCents, tx.Discount, tx.DiscountCents, tx.TotalCents, string(tx.Status), tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := insertItems(ctx, pgTx, tx.ID, items); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) UpdateReservedTransaction(ctx context.Context, change store.TransactionChange) (*domain.Transaction, error) {
	if change.Status != domain.TxStatusReserved && change.Status != domain.TxStatusCompleted {
		return nil, fmt.Errorf("%w: cannot update to %s", store.ErrIllegalTransition, change.Status)
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	var updated *domain.Transaction
	err := s.serializable(ctx, func(pgTx *sql.Tx) error {
		current, err := lockTransaction(ctx, s, pgTx, change.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.TxStatusReserved {
			return fmt.Errorf("%w: transaction is %s", store.ErrIllegalTransition, current.Status)
		}

		held := make(map[string]int, len(current.Items))
		for _, item := range current.Items {
			held[item.ProductID] += item.Count
		}
		lines := mergeLines(change.Lines)
		stock, err := lockProducts(ctx, pgTx, productIDs(lines, held))
		if err != nil {
			return err
		}
		items, err := resolveItems(lines, stock, held)
		if err != nil {
			return err
		}

		// Net each product once: give back what was held, take the new count.
		next := make(map[string]int, len(items))
		for _, item := range items {
			next[item.ProductID] += item.Count
		}
		sold := change.Status == domain.TxStatusCompleted
		for _, id := range productIDs(lines, held) {
			delta := held[id] - next[id]
			if delta == 0 && !sold {
				continue
			}
			if err := adjustStock(ctx, pgTx, id, delta, soldDelta(sold, next[id])); err != nil {
				return err
			}
		}

		if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, current.ID); err != nil {
			return err
		}
		if err := insertItems(ctx, pgTx, current.ID, items); err != nil {
			return err
		}

		subtotal := subtotalOf(items)
		discountCents, total := domain.ApplyDiscount(subtotal, change.Discount)
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions
			SET subtotal_cents = $2, discount = $3, discount_cents = $4, total_cents = $5,
				partsman_id = $6, status = $7, updated_at = $8
			WHERE id = $1
		`, current.ID, subtotal, change.Discount, discountCents, total,
			nullIfEmpty(change.PartsmanID), string(change.Status), change.At)
		if err != nil {
			return err
		}

		current.Items = items
		current.SubtotalCents = subtotal
		current.Discount = change.Discount
		current.DiscountCents = discountCents
		current.TotalCents = total
		current.PartsmanID = change.PartsmanID
		current.Status = change.Status
		current.UpdatedAt = change.At.UTC()
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RestockTransaction(ctx context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, at time.Time) (*domain.Transaction, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var restocked *domain.Transaction
	err := s.serializable(ctx, func(pgTx *sql.Tx) error {
		current, err := lockTransaction(ctx, s, pgTx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return fmt.Errorf("%w: transaction is %s", store.ErrIllegalTransition, current.Status)
		}

		unsold := from == domain.TxStatusCompleted
		for _, item := range current.Items {
			if err := adjustStock(ctx, pgTx, item.ProductID, item.Count, -soldDelta(unsold, item.Count)); err != nil {
				return err
			}
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1
		`, id, string(to), at); err != nil {
			return err
		}

		current.Status = to
		current.UpdatedAt = at.UTC()
		restocked = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restocked, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	where := []string{"true"}
	args := make([]any, 0, 5)
	if filter.CashierID != "" {
		args = append(args, filter.CashierID)
		where = append(where, fmt.Sprintf("t.cashier_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if needle := strings.TrimSpace(filter.Search); needle != "" {
		args = append(args, likePattern(needle))
		n := len(args)
		where = append(where, fmt.Sprintf(`(t.invoice_id ILIKE $%d OR COALESCE(t.partsman_id,'') ILIKE $%d OR EXISTS (
			SELECT 1 FROM transaction_items ti WHERE ti.transaction_id = t.id AND ti.name ILIKE $%d))`, n, n, n))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions t WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, nullLimit(filter.Limit), max(filter.Offset, 0))
	txs, err := s.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s
		FROM transactions t
		WHERE %s
		ORDER BY t.created_at DESC, t.invoice_id DESC
		LIMIT $%d OFFSET $%d
	`, transactionColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (s *Store) ListTransactionsBetween(ctx context.Context, cashierID string, status domain.TransactionStatus, from time.Time, to time.Time) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ($1::text = '' OR cashier_id = $1)
			AND ($2::text = '' OR status = $2)
			AND created_at >= $3 AND created_at < $4
		ORDER BY created_at DESC, invoice_id DESC
	`, cashierID, string(status), from, to)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 16)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	items, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		txs[i].Items = items[txs[i].ID]
	}
	return txs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, name, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.Username, user.Name, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, name, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Name, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// serializable runs fn in a serializable transaction, retrying when Postgres
// aborts it with a serialization failure.
func (s *Store) serializable(ctx context.Context, fn func(pgTx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < serializableAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(pgTx *sql.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(pgTx); err != nil {
		return err
	}
	return pgTx.Commit()
}

type lockedProduct struct {
	id        string
	name      string
	price     int64
	remaining int
	deleted   bool
}

// lockProducts takes row locks in id order so concurrent checkouts over the
// same parts never deadlock.
func lockProducts(ctx context.Context, pgTx *sql.Tx, ids []string) (map[string]lockedProduct, error) {
	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, price_cents, quantity_remaining, deleted_at IS NOT NULL
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locked := make(map[string]lockedProduct, len(ids))
	for rows.Next() {
		var p lockedProduct
		if err := rows.Scan(&p.id, &p.name, &p.price, &p.remaining, &p.deleted); err != nil {
			return nil, err
		}
		locked[p.id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locked, nil
}

func lockTransaction(ctx context.Context, s *Store, pgTx *sql.Tx, id string) (*domain.Transaction, error) {
	var status string
	err := pgTx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.findTransaction(ctx, pgTx, "id", id)
}

// resolveItems prices lines from locked product rows and checks stock. held
// lists units the transaction being edited already took off the shelf.
func resolveItems(lines []domain.TransactionLine, stock map[string]lockedProduct, held map[string]int) ([]domain.TransactionItem, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	items := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		if line.Count < 1 {
			return nil, store.ErrInvalidTransaction
		}
		product, ok := stock[line.ProductID]
		if !ok || product.deleted {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidTransaction, line.ProductID)
		}
		if product.remaining+held[line.ProductID] < line.Count {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.name)
		}
		items = append(items, domain.TransactionItem{
			ProductID:      product.id,
			Name:           product.name,
			Count:          line.Count,
			UnitPriceCents: product.price,
		})
	}
	return items, nil
}

func adjustStock(ctx context.Context, pgTx *sql.Tx, productID string, remainingDelta int, soldDelta int) error {
	_, err := pgTx.ExecContext(ctx, `
		UPDATE products
		SET quantity_remaining = quantity_remaining + $2,
			quantity_sold = GREATEST(0, quantity_sold + $3),
			updated_at = now()
		WHERE id = $1
	`, productID, remainingDelta, soldDelta)
	return err
}

func soldDelta(sold bool, count int) int {
	if !sold {
		return 0
	}
	return count
}

func insertItems(ctx context.Context, pgTx *sql.Tx, transactionID string, items []domain.TransactionItem) error {
	for _, item := range items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, name, count, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, transactionID, item.ProductID, item.Name, item.Count, item.UnitPriceCents)
		if err != nil {
			return err
		}
	}
	return nil
}

func loadItems(ctx context.Context, q querier, transactionIDs []string) (map[string][]domain.TransactionItem, error) {
	out := make(map[string][]domain.TransactionItem, len(transactionIDs))
	if len(transactionIDs) == 0 {
		return out, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT transaction_id, product_id, name, count, unit_price_cents
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`, transactionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var txID string
		var item domain.TransactionItem
		if err := rows.Scan(&txID, &item.ProductID, &item.Name, &item.Count, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		out[txID] = append(out[txID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.PartNumber, &p.Brand, &p.PriceCents,
		&p.QuantityRemaining, &p.QuantitySold, &p.QuantityThreshold, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.Status = domain.DeriveProductStatus(p.QuantityRemaining, p.QuantityThreshold)
	return p, nil
}

func scanTransaction(row scanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var partsman sql.NullString
	var status string
	err := row.Scan(
		&tx.ID,
		&tx.InvoiceID,
		&tx.IdempotencyKey,
		&tx.CashierID,
		&partsman,
		&tx.SubtotalCents,
		&tx.Discount,
		&tx.DiscountCents,
		&tx.TotalCents,
		&status,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	if partsman.Valid {
		tx.PartsmanID = partsman.String
	}
	tx.Status = domain.TransactionStatus(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
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

// productIDs returns the sorted union of ids named by lines and held.
func productIDs(lines []domain.TransactionLine, held map[string]int) []string {
	set := make(map[string]struct{}, len(lines)+len(held))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		set[line.ProductID] = struct{}{}
	}
	for id := range held {
		set[id] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func subtotalOf(items []domain.TransactionItem) int64 {
	subtotal := int64(0)
	for _, item := range items {
		subtotal += int64(item.Count) * item.UnitPriceCents
	}
	return subtotal
}

func likePattern(needle string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(needle) + "%"
}

func nullLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
