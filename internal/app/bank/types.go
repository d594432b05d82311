package bank

import "monobank/internal/ledger"

type CreateSessionRequest struct {
	Name     string
	Password string
	// Nil selects the default; zero is kept.
	StartBalance *int64
	StartBonus   *int64
}

type JoinResult struct {
	Session ledger.Session
	Account ledger.Account
	Created bool
}

// Result describes a committed (or replayed) ledger operation.
type Result struct {
	TransactionID string
	// Transaction is the appended record, or the removed one for an undo.
	// It is nil when a replayed undo no longer has the record.
	Transaction *ledger.Transaction
	Replayed    bool
	Changes     []ledger.Change
	Anomalies   []ledger.Anomaly
}

// SessionView is the session as one member sees it.
type SessionView struct {
	Session ledger.Session
	Me      ledger.Account
}
