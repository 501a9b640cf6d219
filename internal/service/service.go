package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"partsdesk/internal/cache"
	"partsdesk/internal/domain"
	"partsdesk/internal/store"
	"partsdesk/internal/xid"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	searchCache       cache.ProductSearchCache
	cacheTTL          time.Duration
	lowStockThreshold int
	logger            *zap.Logger
	now               func() time.Time
}

func New(repo store.Repository, searchCache cache.ProductSearchCache, cacheTTL time.Duration, lowStockThreshold int, logger *zap.Logger) *Service {
	if searchCache == nil {
		searchCache = cache.NoopProductSearchCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if lowStockThreshold < 0 {
		lowStockThreshold = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:              repo,
		searchCache:       searchCache,
		cacheTTL:          cacheTTL,
		lowStockThreshold: lowStockThreshold,
		logger:            logger.Named("service"),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SearchProducts(ctx context.Context, req domain.ProductSearchRequest) (domain.ProductSearchResponse, error) {
	req.Page, req.Limit = normalizePage(req.Page, req.Limit)
	req.Search = strings.TrimSpace(req.Search)
	switch req.Status {
	case "", domain.ProductStatusAvailable, domain.ProductStatusLowInStock, domain.ProductStatusOutOfStock:
	default:
		return domain.ProductSearchResponse{}, fmt.Errorf("%w: unknown product status %q", store.ErrInvalidTransaction, req.Status)
	}

	key := cache.SearchKey(req)
	if cached, ok, err := s.searchCache.Get(ctx, key); err != nil {
		s.logger.Warn("product search cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	products, total, err := s.repo.SearchProducts(ctx, store.ProductQuery{
		Search: req.Search,
		Status: req.Status,
		Offset: (req.Page - 1) * req.Limit,
		Limit:  req.Limit,
	})
	if err != nil {
		return domain.ProductSearchResponse{}, err
	}

	resp := domain.ProductSearchResponse{
		Products:   products,
		Pagination: domain.NewPagination(total, req.Page, req.Limit),
	}
	if err := s.searchCache.Set(ctx, key, &resp, s.cacheTTL); err != nil {
		s.logger.Warn("product search cache write failed", zap.Error(err))
	}
	return resp, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.PartNumber = strings.ToUpper(strings.TrimSpace(req.PartNumber))
	req.Brand = strings.TrimSpace(req.Brand)
	if req.Name == "" || req.PartNumber == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.PriceCents < 1 || req.QuantityRemaining < 0 || req.QuantityThreshold < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.QuantityThreshold == 0 {
		req.QuantityThreshold = s.lowStockThreshold
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:                xid.New("prd"),
		Name:              req.Name,
		PartNumber:        req.PartNumber,
		Brand:             req.Brand,
		PriceCents:        req.PriceCents,
		QuantityRemaining: req.QuantityRemaining,
		QuantityThreshold: req.QuantityThreshold,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateSearch(ctx)
	s.logger.Info("product created", zap.String("product_id", created.ID), zap.String("part_number", created.PartNumber))
	return *created, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidTransaction
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateSearch(ctx)
	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}

// CreateTransaction records a reservation or a completed sale. A repeated
// idempotency key returns the original transaction with Duplicate set.
func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.TransactionResponse, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	if req.Status != domain.TxStatusReserved && req.Status != domain.TxStatusCompleted {
		return domain.TransactionResponse{}, fmt.Errorf("%w: new transactions must be reserved or completed", store.ErrInvalidTransaction)
	}
	lines, err := normalizeLines(req.Items)
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	if !domain.ValidDiscount(req.Discount) {
		return domain.TransactionResponse{}, fmt.Errorf("%w: discount must be within [0, 1]", store.ErrInvalidTransaction)
	}
	cashier := strings.TrimSpace(req.Cashier)
	if cashier != "" && cashier != actor.Username && actor.Role != domain.RoleAdmin {
		return domain.TransactionResponse{}, fmt.Errorf("%w: cannot record sales for %s", store.ErrForbidden, cashier)
	}
	if cashier == "" {
		cashier = actor.Username
	}
	partsman, err := s.validatePartsman(ctx, req.Partsman)
	if err != nil {
		return domain.TransactionResponse{}, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = xid.New("idem")
	}
	if existing, err := s.repo.FindTransactionByIdempotency(ctx, key); err == nil {
		s.logger.Info("duplicate transaction submit", zap.String("transaction_id", existing.ID), zap.String("idempotency_key", key))
		return domain.TransactionResponse{Transaction: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.TransactionResponse{}, err
	}

	created, isNew, err := s.repo.CreateTransaction(ctx, store.NewTransaction{
		ID:             xid.New("tx"),
		IdempotencyKey: key,
		Lines:          lines,
		CashierID:      cashier,
		PartsmanID:     partsman,
		Discount:       req.Discount,
		Status:         req.Status,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	if !isNew {
		return domain.TransactionResponse{Transaction: *created, Duplicate: true}, nil
	}

	if req.TotalCents != 0 && req.TotalCents != created.TotalCents {
		s.logger.Info("client total differs from recorded total",
			zap.String("transaction_id", created.ID),
			zap.Int64("client_total_cents", req.TotalCents),
			zap.Int64("total_cents", created.TotalCents),
		)
	}
	s.invalidateSearch(ctx)
	s.logger.Info("transaction created",
		zap.String("transaction_id", created.ID),
		zap.String("invoice_id", created.InvoiceID),
		zap.String("status", string(created.Status)),
		zap.String("cashier", created.CashierID),
		zap.Int64("total_cents", created.TotalCents),
	)
	return domain.TransactionResponse{Transaction: *created}, nil
}

// UpdateTransaction edits a reserved transaction and may complete it.
// Cancel and return have their own operations.
func (s *Service) UpdateTransaction(ctx context.Context, id string, req domain.TransactionUpdateRequest) (domain.Transaction, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.Transaction{}, err
	}
	existing, err := s.ownedTransaction(ctx, actor, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if existing.Status != domain.TxStatusReserved {
		return domain.Transaction{}, fmt.Errorf("%w: transaction is %s", store.ErrIllegalTransition, existing.Status)
	}

	next := domain.TxStatusReserved
	if req.Status != nil {
		next = *req.Status
	}
	switch next {
	case domain.TxStatusReserved:
	case domain.TxStatusCompleted:
		if _, err := domain.Next(existing.Status, domain.ActionProcess); err != nil {
			return domain.Transaction{}, fmt.Errorf("%w: %v", store.ErrIllegalTransition, err)
		}
	default:
		return domain.Transaction{}, fmt.Errorf("%w: use the %s operation", store.ErrIllegalTransition, next)
	}

	lines := existing.Lines()
	if req.Items != nil {
		if lines, err = normalizeLines(req.Items); err != nil {
			return domain.Transaction{}, err
		}
	}
	discount := existing.Discount
	if req.Discount != nil {
		if !domain.ValidDiscount(*req.Discount) {
			return domain.Transaction{}, fmt.Errorf("%w: discount must be within [0, 1]", store.ErrInvalidTransaction)
		}
		discount = *req.Discount
	}
	partsman := existing.PartsmanID
	if req.Partsman != nil {
		if partsman, err = s.validatePartsman(ctx, *req.Partsman); err != nil {
			return domain.Transaction{}, err
		}
	}

	updated, err := s.repo.UpdateReservedTransaction(ctx, store.TransactionChange{
		ID:         existing.ID,
		Lines:      lines,
		Discount:   discount,
		PartsmanID: partsman,
		Status:     next,
		At:         s.now(),
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	s.invalidateSearch(ctx)
	s.logger.Info("transaction updated",
		zap.String("transaction_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Int64("total_cents", updated.TotalCents),
	)
	return *updated, nil
}

func (s *Service) CancelTransaction(ctx context.Context, id string) (domain.StatusChangeResponse, error) {
	return s.transition(ctx, id, domain.ActionCancel, "Transaction cancelled successfully")
}

func (s *Service) ReturnTransaction(ctx context.Context, id string) (domain.StatusChangeResponse, error) {
	return s.transition(ctx, id, domain.ActionReturn, "Transaction returned successfully")
}

func (s *Service) transition(ctx context.Context, id string, action domain.Action, message string) (domain.StatusChangeResponse, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.StatusChangeResponse{}, err
	}
	existing, err := s.ownedTransaction(ctx, actor, id)
	if err != nil {
		return domain.StatusChangeResponse{}, err
	}
	next, err := domain.Next(existing.Status, action)
	if err != nil {
		return domain.StatusChangeResponse{}, fmt.Errorf("%w: %v", store.ErrIllegalTransition, err)
	}

	tx, err := s.repo.RestockTransaction(ctx, existing.ID, existing.Status, next, s.now())
	if err != nil {
		return domain.StatusChangeResponse{}, err
	}
	s.invalidateSearch(ctx)
	s.logger.Info("transaction status changed",
		zap.String("transaction_id", tx.ID),
		zap.String("action", string(action)),
		zap.String("status", string(tx.Status)),
		zap.String("actor", actor.Username),
	)
	return domain.StatusChangeResponse{Status: "success", Message: message, Transaction: tx}, nil
}

// MyTransactions lists the caller's transactions, or everyone's for admins.
func (s *Service) MyTransactions(ctx context.Context, req domain.TransactionListRequest) (domain.TransactionListResponse, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.TransactionListResponse{}, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.TransactionListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransaction, req.Status)
	}
	req.Page, req.Limit = normalizePage(req.Page, req.Limit)

	txs, total, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{
		CashierID: scopeFor(actor),
		Search:    strings.TrimSpace(req.Search),
		Status:    req.Status,
		Offset:    (req.Page - 1) * req.Limit,
		Limit:     req.Limit,
	})
	if err != nil {
		return domain.TransactionListResponse{}, err
	}
	return domain.TransactionListResponse{
		Data:       txs,
		Pagination: domain.NewPagination(total, req.Page, req.Limit),
	}, nil
}

func (s *Service) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	role = strings.TrimSpace(role)
	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		if role != "" && account.Role != role {
			continue
		}
		if !account.Active {
			continue
		}
		users = append(users, account.Public())
	}
	return users, nil
}

func (s *Service) ownedTransaction(ctx context.Context, actor domain.Actor, id string) (*domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && tx.CashierID != actor.Username {
		return nil, fmt.Errorf("%w: transaction belongs to another cashier", store.ErrForbidden)
	}
	return tx, nil
}

func (s *Service) validatePartsman(ctx context.Context, username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return "", nil
	}
	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	for _, account := range accounts {
		if account.Username == username && account.Role == domain.RolePartsman && account.Active {
			return username, nil
		}
	}
	return "", fmt.Errorf("%w: unknown partsman %s", store.ErrInvalidTransaction, username)
}

func (s *Service) invalidateSearch(ctx context.Context) {
	if err := s.searchCache.Invalidate(ctx); err != nil {
		s.logger.Warn("product search cache invalidation failed", zap.Error(err))
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	if len(roles) == 0 {
		return actor, nil
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role cannot perform this action", store.ErrForbidden, actor.Role)
}

func scopeFor(actor domain.Actor) string {
	if actor.Role == domain.RoleAdmin {
		return ""
	}
	return actor.Username
}

func normalizeLines(items []domain.TransactionLine) ([]domain.TransactionLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", store.ErrInvalidTransaction)
	}
	index := make(map[string]int, len(items))
	lines := make([]domain.TransactionLine, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Count < 1 {
			return nil, fmt.Errorf("%w: invalid item %q x%d", store.ErrInvalidTransaction, item.ProductID, item.Count)
		}
		if i, ok := index[id]; ok {
			lines[i].Count += item.Count
			continue
		}
		index[id] = len(lines)
		lines = append(lines, domain.TransactionLine{ProductID: id, Count: item.Count})
	}
	return lines, nil
}

func normalizePage(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
