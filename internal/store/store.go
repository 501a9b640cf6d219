package store

import (
	"context"
	"errors"
	"time"

	"partsdesk/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicate          = errors.New("already exists")
)

// ProductQuery is the store-level form of a product search.
type ProductQuery struct {
	Search string
	Status domain.ProductStatus
	Offset int
	Limit  int
}

// NewTransaction carries what the service has validated for a create. Prices
// and totals are resolved by the store from the product rows it locks.
type NewTransaction struct {
	ID             string
	IdempotencyKey string
	Lines          []domain.TransactionLine
	CashierID      string
	PartsmanID     string
	Discount       float64
	Status         domain.TransactionStatus
	CreatedAt      time.Time
}

// TransactionChange replaces the items of a reserved transaction and
// optionally moves it to completed.
type TransactionChange struct {
	ID         string
	Lines      []domain.TransactionLine
	Discount   float64
	PartsmanID string
	Status     domain.TransactionStatus
	At         time.Time
}

type Repository interface {
	SearchProducts(ctx context.Context, query ProductQuery) ([]domain.Product, int, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	// CreateTransaction returns the existing row and created=false when the
	// idempotency key was already used.
	CreateTransaction(ctx context.Context, tx NewTransaction) (*domain.Transaction, bool, error)
	UpdateReservedTransaction(ctx context.Context, change TransactionChange) (*domain.Transaction, error)
	// RestockTransaction moves a transaction from one status to another and
	// puts its items back on the shelf.
	RestockTransaction(ctx context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus, at time.Time) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error)
	ListTransactionsBetween(ctx context.Context, cashierID string, status domain.TransactionStatus, from time.Time, to time.Time) ([]domain.Transaction, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
