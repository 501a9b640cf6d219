package pos

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"partsdesk/internal/domain"
)

type Mode string

const (
	ModeReserve Mode = "reserve"
	ModePay     Mode = "pay"
)

func (m Mode) status() domain.TransactionStatus {
	if m == ModePay {
		return domain.TxStatusCompleted
	}
	return domain.TxStatusReserved
}

func (m Mode) valid() bool {
	return m == ModeReserve || m == ModePay
}

// Submitter turns a session's cart into a create or update call, depending on
// whether the session is editing an existing transaction.
type Submitter struct {
	store    TransactionStore
	notifier Notifier
	logger   *zap.Logger
}

func NewSubmitter(store TransactionStore, notifier Notifier, logger *zap.Logger) *Submitter {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{store: store, notifier: notifier, logger: logger}
}

// Submit sends the cart. On success the session is cleared and a refresh is
// scheduled; on failure the session is left as it was.
func (s *Submitter) Submit(ctx context.Context, session *Session, mode Mode) (*domain.Transaction, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: mode %q", ErrNoActionSelected, mode)
	}
	sub, err := session.beginSubmit(mode)
	if err != nil {
		return nil, err
	}

	var tx *domain.Transaction
	if sub.transactionID == "" {
		tx, err = s.store.CreateTransaction(ctx, sub.create)
	} else {
		tx, err = s.store.UpdateTransaction(ctx, sub.transactionID, sub.update)
	}
	if err == nil && tx == nil {
		err = fmt.Errorf("%w: empty response", ErrTransport)
	}
	session.finishSubmit(err == nil)
	if err != nil {
		s.logger.Warn("submit transaction failed",
			zap.String("mode", string(mode)),
			zap.String("transaction_id", sub.transactionID),
			zap.Error(err),
		)
		if sub.transactionID != "" {
			return nil, fmt.Errorf("update transaction %s: %w", sub.transactionID, err)
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.Info("transaction submitted",
		zap.String("transaction_id", tx.ID),
		zap.String("invoice_id", tx.InvoiceID),
		zap.String("status", string(tx.Status)),
	)
	s.notifier.AfterMutation(Mutation{Kind: CartSubmitted, TransactionID: tx.ID, Status: tx.Status})
	return tx, nil
}
