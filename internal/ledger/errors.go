package ledger

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUnknownAccount      = errors.New("unknown_account")
	ErrInsufficientFunds   = errors.New("insufficient_funds")
	ErrNotAuthorized       = errors.New("not_authorized")
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrWrongPassword       = errors.New("wrong_password")
	ErrStoreUnavailable    = errors.New("store_unavailable")

	ErrSelfTransfer         = errors.New("self_transfer")
	ErrInvalidSession       = errors.New("invalid_session_id")
	ErrSessionExists        = errors.New("session_exists")
	ErrConfirmationRequired = errors.New("confirmation_required")
	ErrDuplicateRequest     = errors.New("duplicate_request")
	ErrInvalidRecord        = errors.New("invalid_transaction_record")
)

// IsRetryable reports whether the operation may be submitted again unchanged.
// Every ledger write is all-or-nothing, so a transient store failure leaves
// no partial state behind.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsValidation reports errors that are shown to the initiating user as-is.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrWrongPassword) ||
		errors.Is(err, ErrSelfTransfer)
}
