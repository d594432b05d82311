package store

import (
	"context"

	"monobank/internal/ledger"
)

// Backend is the session store used by the bank service. Store (Postgres)
// and memstore.Store implement it.
type Backend interface {
	// CreateSession inserts the session together with its admin account.
	// It fails with ledger.ErrSessionExists when the id is taken.
	CreateSession(ctx context.Context, sess ledger.Session, admin ledger.Account) ([]ledger.Change, error)
	GetSession(ctx context.Context, sessionID string) (ledger.Session, error)
	// EnsureAccount creates the account unless it already exists. An existing
	// account is returned unchanged with created == false.
	EnsureAccount(ctx context.Context, acc ledger.Account) (got ledger.Account, created bool, changes []ledger.Change, err error)
	DeleteSession(ctx context.Context, sessionID string) error

	// InTx runs fn inside one atomic store transaction scoped to a session.
	// Nothing fn writes is visible unless fn returns nil.
	InTx(ctx context.Context, sessionID string, fn func(tx Tx) error) error

	Snapshot(ctx context.Context, sessionID string) (SessionState, error)
	ListAccounts(ctx context.Context, sessionID string) ([]ledger.Account, error)
	ListTransactions(ctx context.Context, sessionID string) ([]ledger.Transaction, error)
	ChangesAfter(ctx context.Context, sessionID string, afterSeq int64) ([]ledger.Change, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is the view of one ledger write transaction.
type Tx interface {
	Session() ledger.Session
	// LockAccounts locks and returns the named accounts. Unknown ids are
	// left out of the snapshot.
	LockAccounts(ctx context.Context, principalIDs ...string) (ledger.Snapshot, error)
	// LockTransaction returns ledger.ErrTransactionNotFound when absent.
	LockTransaction(ctx context.Context, txID string) (*ledger.Transaction, error)
	// LookupRequest reports the transaction recorded for requestID.
	LookupRequest(ctx context.Context, requestID string) (txID string, found bool, err error)
	// Apply persists the delta and returns the change rows it produced.
	// A non-empty requestID is recorded for replay detection.
	Apply(ctx context.Context, d ledger.Delta, requestID string) ([]ledger.Change, error)
}

// SessionState is a consistent read of a whole session at change Seq.
type SessionState struct {
	Session      ledger.Session
	Accounts     []ledger.Account
	Transactions []ledger.Transaction
	Seq          int64
}
