package httptransport

import (
	"errors"
	"net/http"

	"monobank/internal/app/bank"
	"monobank/internal/ledger"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrSelfTransfer, http.StatusBadRequest},
	{ledger.ErrInvalidSession, http.StatusBadRequest},
	{ledger.ErrConfirmationRequired, http.StatusBadRequest},
	{bank.ErrInvalidRequest, http.StatusBadRequest},
	{ledger.ErrWrongPassword, http.StatusForbidden},
	{ledger.ErrNotAuthorized, http.StatusForbidden},
	{ledger.ErrSessionNotFound, http.StatusNotFound},
	{ledger.ErrUnknownAccount, http.StatusNotFound},
	{ledger.ErrTransactionNotFound, http.StatusNotFound},
	{ledger.ErrInsufficientFunds, http.StatusConflict},
	{ledger.ErrSessionExists, http.StatusConflict},
	{ledger.ErrDuplicateRequest, http.StatusConflict},
	{ledger.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{bank.ErrNoSessionID, http.StatusServiceUnavailable},
}

// MapError returns the HTTP status and error code for a service error.
func MapError(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code := MapError(err)
	WriteHTTPError(w, status, code)
}
