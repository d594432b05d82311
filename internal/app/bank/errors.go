package bank

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNoSessionID    = errors.New("session_id_exhausted")
)
