package pos

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"partsdesk/internal/domain"
)

// Actions lists what the operator may do with a transaction in its current
// status.
func Actions(tx domain.Transaction) []domain.Action {
	return domain.PermittedActions(tx.Status)
}

// StateMachine issues status changes for existing transactions. The local
// table is a pre-check only; the server decides.
type StateMachine struct {
	store    TransactionStore
	notifier Notifier
	logger   *zap.Logger
}

func NewStateMachine(store TransactionStore, notifier Notifier, logger *zap.Logger) *StateMachine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{store: store, notifier: notifier, logger: logger}
}

// Apply performs action on tx. tx is updated in place only on success.
func (m *StateMachine) Apply(ctx context.Context, tx *domain.Transaction, action domain.Action) error {
	if tx == nil || tx.ID == "" {
		return ErrNoTransaction
	}
	if action == "" || !action.Valid() {
		return fmt.Errorf("%w: %q", ErrNoActionSelected, action)
	}
	next, err := domain.Next(tx.Status, action)
	if err != nil {
		if errors.Is(err, domain.ErrNotPermitted) || errors.Is(err, domain.ErrUnknownStatus) {
			return fmt.Errorf("%w: %s on %s transaction", ErrIllegalTransition, action, tx.Status)
		}
		return err
	}

	updated, err := m.call(ctx, tx, action, next)
	if err != nil {
		m.logger.Warn("transaction status change failed",
			zap.String("transaction_id", tx.ID),
			zap.String("action", string(action)),
			zap.String("status", string(tx.Status)),
			zap.Error(err),
		)
		return fmt.Errorf("%s transaction %s: %w", action, tx.ID, err)
	}

	if updated != nil && updated.ID == tx.ID {
		*tx = *updated
	}
	tx.Status = next
	m.logger.Info("transaction status changed",
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(next)),
	)
	m.notifier.AfterMutation(Mutation{Kind: StatusTransitioned, TransactionID: tx.ID, Status: next})
	return nil
}

func (m *StateMachine) call(ctx context.Context, tx *domain.Transaction, action domain.Action, next domain.TransactionStatus) (*domain.Transaction, error) {
	switch action {
	case domain.ActionProcess:
		return m.store.UpdateTransaction(ctx, tx.ID, domain.TransactionUpdateRequest{
			Items:  tx.Lines(),
			Status: &next,
		})
	case domain.ActionCancel:
		return changed(m.store.CancelTransaction(ctx, tx.ID))
	case domain.ActionReturn:
		return changed(m.store.ReturnTransaction(ctx, tx.ID))
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoActionSelected, action)
	}
}

func changed(resp *domain.StatusChangeResponse, err error) (*domain.Transaction, error) {
	if err != nil || resp == nil {
		return nil, err
	}
	return resp.Transaction, nil
}
