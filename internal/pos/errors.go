package pos

import "errors"

// Client validation. These are returned before any remote call is made.
var (
	ErrStockExceeded     = errors.New("quantity exceeds remaining stock")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidDiscount   = errors.New("discount must not be negative")
	ErrNoActionSelected  = errors.New("no action selected")
	ErrIllegalTransition = errors.New("action not permitted for transaction status")
	ErrItemNotFound      = errors.New("cart item not found")
	ErrNoTransaction     = errors.New("no transaction")
	ErrBusy              = errors.New("submission in progress")
)

// Remote failures. Implementations of the remote interfaces wrap these so
// callers can branch with errors.Is.
var (
	ErrRemoteStockExceeded     = errors.New("server reports insufficient stock")
	ErrRemoteIllegalTransition = errors.New("server rejected status change")
	ErrTransport               = errors.New("transaction service unreachable")
)
