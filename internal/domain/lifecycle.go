package domain

import (
	"errors"
	"fmt"
)

type TransactionStatus string

const (
	TxStatusReserved  TransactionStatus = "reserved"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusCancelled TransactionStatus = "cancelled"
	TxStatusReturned  TransactionStatus = "returned"
)

// Action is an operator-initiated status change on an existing transaction.
type Action string

const (
	ActionProcess Action = "process"
	ActionCancel  Action = "cancel"
	ActionReturn  Action = "return"
)

var (
	ErrUnknownStatus = errors.New("unknown transaction status")
	ErrUnknownAction = errors.New("unknown transaction action")
	ErrNotPermitted  = errors.New("transition not permitted")
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxStatusReserved, TxStatusCompleted, TxStatusCancelled, TxStatusReturned:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status change may be issued.
func (s TransactionStatus) Terminal() bool {
	return len(PermittedActions(s)) == 0
}

// HoldsStock reports whether the server counts this transaction's items as
// taken out of stock.
func (s TransactionStatus) HoldsStock() bool {
	return s == TxStatusReserved || s == TxStatusCompleted
}

func (a Action) Valid() bool {
	switch a {
	case ActionProcess, ActionCancel, ActionReturn:
		return true
	default:
		return false
	}
}

// PermittedActions is the single source of the lifecycle table. Adding a
// status means adding a case here.
func PermittedActions(status TransactionStatus) []Action {
	switch status {
	case TxStatusReserved:
		return []Action{ActionProcess, ActionCancel}
	case TxStatusCompleted:
		return []Action{ActionReturn}
	case TxStatusCancelled, TxStatusReturned:
		return nil
	default:
		return nil
	}
}

func target(action Action) TransactionStatus {
	switch action {
	case ActionProcess:
		return TxStatusCompleted
	case ActionCancel:
		return TxStatusCancelled
	case ActionReturn:
		return TxStatusReturned
	default:
		return ""
	}
}

// Next returns the status reached by applying action to status.
func Next(status TransactionStatus, action Action) (TransactionStatus, error) {
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	for _, allowed := range PermittedActions(status) {
		if allowed == action {
			return target(action), nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrNotPermitted, action, status)
}
