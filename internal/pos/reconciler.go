package pos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"partsdesk/internal/domain"
)

var errEmptyResponse = fmt.Errorf("%w: empty response", ErrTransport)

type MutationKind uint8

const (
	CartSubmitted MutationKind = iota + 1
	StatusTransitioned
	ProductDeleted
)

func (k MutationKind) String() string {
	switch k {
	case CartSubmitted:
		return "cart_submitted"
	case StatusTransitioned:
		return "status_transitioned"
	case ProductDeleted:
		return "product_deleted"
	default:
		return fmt.Sprintf("mutation(%d)", uint8(k))
	}
}

// Mutation describes a change the server has already committed.
type Mutation struct {
	Kind          MutationKind
	TransactionID string
	Status        domain.TransactionStatus
}

// Refresh is a set of read queries to re-issue.
type Refresh uint8

const (
	RefreshProducts Refresh = 1 << iota
	RefreshTransactions
	RefreshStatistics

	RefreshAll = RefreshProducts | RefreshTransactions | RefreshStatistics
)

func (k MutationKind) refresh() Refresh {
	switch k {
	case CartSubmitted, StatusTransitioned:
		return RefreshAll
	case ProductDeleted:
		return RefreshProducts
	default:
		return 0
	}
}

type ReconcilerOption func(*Reconciler)

// WithFailureHook registers fn to receive refresh failures in addition to the
// log line.
func WithFailureHook(fn func(error)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onFailure = fn
	}
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler re-reads server state after mutations on its own goroutine.
// Requests that arrive while a refresh is running are merged into the next
// one. A failed refresh is reported and never undoes the mutation.
type Reconciler struct {
	products     ProductSearcher
	transactions TransactionReader
	views        *Views
	logger       *zap.Logger
	onFailure    func(error)
	now          func() time.Time

	mu      sync.Mutex
	pending Refresh
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func NewReconciler(products ProductSearcher, transactions TransactionReader, views *Views, logger *zap.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		products:     products,
		transactions: transactions,
		views:        views,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// AfterMutation schedules the refresh for m and returns immediately.
func (r *Reconciler) AfterMutation(m Mutation) {
	if m.TransactionID != "" && m.Status != "" {
		r.views.ApplyStatus(m.TransactionID, m.Status)
	}
	r.schedule(m.Kind.refresh())
}

func (r *Reconciler) schedule(needs Refresh) {
	if needs == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending |= needs
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Refresh runs the given queries synchronously, for the initial load and for
// explicit reloads by the operator.
func (r *Reconciler) Refresh(ctx context.Context, needs Refresh) error {
	return r.run(ctx, needs)
}

// Close stops accepting work, finishes anything already scheduled and waits
// for the goroutine to exit.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.wake)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Reconciler) loop() {
	defer close(r.done)
	for range r.wake {
		r.drain()
	}
	r.drain()
}

func (r *Reconciler) drain() {
	r.mu.Lock()
	needs := r.pending
	r.pending = 0
	r.mu.Unlock()
	if needs == 0 {
		return
	}
	_ = r.run(context.Background(), needs)
}

func (r *Reconciler) run(ctx context.Context, needs Refresh) error {
	var errs []error
	if needs&RefreshProducts != 0 {
		errs = append(errs, r.report("products", r.refreshProducts(ctx)))
	}
	if needs&RefreshTransactions != 0 {
		errs = append(errs, r.report("transactions", r.refreshTransactions(ctx)))
	}
	if needs&RefreshStatistics != 0 {
		errs = append(errs, r.report("statistics", r.refreshStatistics(ctx)))
	}
	return errors.Join(errs...)
}

func (r *Reconciler) report(view string, err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("refresh %s: %w", view, err)
	r.logger.Warn("view refresh failed", zap.String("view", view), zap.Error(err))
	if r.onFailure != nil {
		r.onFailure(err)
	}
	return err
}

func (r *Reconciler) refreshProducts(ctx context.Context) error {
	query, ticket := r.views.productRequest()
	resp, err := r.products.SearchProducts(ctx, query)
	if err != nil {
		return err
	}
	if resp == nil {
		return errEmptyResponse
	}
	at := r.now()
	if !r.views.storeProducts(ticket, SnapshotsFromProducts(resp.Products, at), resp.Pagination, at) {
		r.logger.Debug("dropped superseded product results", zap.String("search", query.Search))
	}
	return nil
}

func (r *Reconciler) refreshTransactions(ctx context.Context) error {
	query, ticket := r.views.transactionRequest()
	resp, err := r.transactions.MyTransactions(ctx, query)
	if err != nil {
		return err
	}
	if resp == nil {
		return errEmptyResponse
	}
	if !r.views.storeTransactions(ticket, *resp) {
		r.logger.Debug("dropped superseded transaction list", zap.Int("page", query.Page))
	}
	return nil
}

func (r *Reconciler) refreshStatistics(ctx context.Context) error {
	stats, err := r.transactions.MyStatistics(ctx)
	if err != nil {
		return err
	}
	if stats == nil {
		return errEmptyResponse
	}
	r.views.SetStatistics(*stats, r.now())
	return nil
}
