package store

import (
	"context"

	"monobank/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `id, session_id, from_id, to_id, amount, kind, created_at`

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var r ledger.Record
	var from, to pgtype.Text
	var kind string
	if err := row.Scan(&r.ID, &r.SessionID, &from, &to, &r.Amount, &kind, &r.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	r.From = textPtr(from)
	r.To = textPtr(to)
	r.Kind = ledger.Kind(kind)
	return r.Transaction()
}

func (s *Store) ListAccounts(ctx context.Context, sessionID string) ([]ledger.Account, error) {
	return listAccounts(ctx, s.Pool, sessionID)
}

func (s *Store) ListTransactions(ctx context.Context, sessionID string) ([]ledger.Transaction, error) {
	return listTransactions(ctx, s.Pool, sessionID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listAccounts(ctx context.Context, q querier, sessionID string) ([]ledger.Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+`
		FROM accounts WHERE session_id = $1 ORDER BY is_admin DESC, name, principal_id`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

// listTransactions returns the history newest first.
func listTransactions(ctx context.Context, q querier, sessionID string) ([]ledger.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE session_id = $1 ORDER BY created_at DESC, id DESC`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

// Snapshot reads the session under one repeatable-read transaction so the
// accounts, history and seq agree with each other.
func (s *Store) Snapshot(ctx context.Context, sessionID string) (SessionState, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return SessionState{}, classify(err)
	}
	defer tx.Rollback(ctx)

	sess, err := getSession(ctx, tx, sessionID, "")
	if err != nil {
		return SessionState{}, err
	}
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT last_seq FROM sessions WHERE id = $1`, sessionID).Scan(&seq); err != nil {
		return SessionState{}, mapNotFound(err, ledger.ErrSessionNotFound)
	}
	accounts, err := listAccounts(ctx, tx, sessionID)
	if err != nil {
		return SessionState{}, err
	}
	txs, err := listTransactions(ctx, tx, sessionID)
	if err != nil {
		return SessionState{}, err
	}
	return SessionState{Session: sess, Accounts: accounts, Transactions: txs, Seq: seq}, nil
}
