package pos

import (
	"context"

	"partsdesk/internal/domain"
)

// TransactionStore is the remote write side of the transaction service.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, req domain.TransactionUpdateRequest) (*domain.Transaction, error)
	CancelTransaction(ctx context.Context, id string) (*domain.StatusChangeResponse, error)
	ReturnTransaction(ctx context.Context, id string) (*domain.StatusChangeResponse, error)
}

type ProductSearcher interface {
	SearchProducts(ctx context.Context, req domain.ProductSearchRequest) (*domain.ProductSearchResponse, error)
}

// TransactionReader serves the operator's own history and sales figures.
type TransactionReader interface {
	MyTransactions(ctx context.Context, req domain.TransactionListRequest) (*domain.TransactionListResponse, error)
	MyStatistics(ctx context.Context) (*domain.TransactionStatistics, error)
}

// PartsmanDirectory lists the staff a sale can be attributed to.
type PartsmanDirectory interface {
	Partsmen(ctx context.Context) ([]Partsman, error)
}

// Notifier receives committed mutations. *Reconciler implements it.
type Notifier interface {
	AfterMutation(m Mutation)
}

// Notifiers passes each mutation to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) AfterMutation(m Mutation) {
	for _, n := range ns {
		if n != nil {
			n.AfterMutation(m)
		}
	}
}

type noopNotifier struct{}

func (noopNotifier) AfterMutation(Mutation) {}
