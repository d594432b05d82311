package store

import (
	"context"
	"errors"
	"fmt"

	"monobank/internal/ledger"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `session_id, principal_id, name, balance, is_admin, version, updated_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.SessionID, &a.PrincipalID, &a.Name, &a.Balance, &a.IsAdmin, &a.Version, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateSession(ctx context.Context, sess ledger.Session, admin ledger.Account) ([]ledger.Change, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `INSERT INTO sessions (id, admin_id, password, start_balance, start_bonus)
		VALUES ($1,$2,$3,$4,$5) RETURNING created_at`,
		sess.ID, sess.AdminID, sess.Password, sess.StartBalance, sess.StartBonus,
	).Scan(&sess.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.ErrSessionExists
		}
		return nil, classify(err)
	}
	admin.SessionID = sess.ID
	admin.IsAdmin = true
	acc, err := insertAccount(ctx, tx, admin)
	if err != nil {
		return nil, classify(err)
	}
	changes, err := writeChanges(ctx, tx, sess.ID, []ledger.Change{ledger.AccountChange(ledger.OpAdded, acc)})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return changes, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (ledger.Session, error) {
	return getSession(ctx, s.Pool, sessionID, "")
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSession(ctx context.Context, q queryRower, sessionID, lock string) (ledger.Session, error) {
	var sess ledger.Session
	err := q.QueryRow(ctx, `SELECT id, admin_id, password, start_balance, start_bonus, created_at
		FROM sessions WHERE id = $1 `+lock, sessionID).
		Scan(&sess.ID, &sess.AdminID, &sess.Password, &sess.StartBalance, &sess.StartBonus, &sess.CreatedAt)
	if err != nil {
		return ledger.Session{}, mapNotFound(err, ledger.ErrSessionNotFound)
	}
	return sess, nil
}

func (s *Store) EnsureAccount(ctx context.Context, acc ledger.Account) (ledger.Account, bool, []ledger.Change, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.Account{}, false, nil, classify(err)
	}
	defer tx.Rollback(ctx)

	if _, err := getSession(ctx, tx, acc.SessionID, "FOR KEY SHARE"); err != nil {
		return ledger.Account{}, false, nil, err
	}
	existing, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+`
		FROM accounts WHERE session_id = $1 AND principal_id = $2`, acc.SessionID, acc.PrincipalID))
	if err == nil {
		return existing, false, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, false, nil, classify(err)
	}

	created, err := insertAccount(ctx, tx, acc)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent join of the same principal.
			got, getErr := scanAccount(s.Pool.QueryRow(ctx, `SELECT `+accountColumns+`
				FROM accounts WHERE session_id = $1 AND principal_id = $2`, acc.SessionID, acc.PrincipalID))
			if getErr != nil {
				return ledger.Account{}, false, nil, classify(getErr)
			}
			return got, false, nil, nil
		}
		return ledger.Account{}, false, nil, classify(err)
	}
	changes, err := writeChanges(ctx, tx, acc.SessionID, []ledger.Change{ledger.AccountChange(ledger.OpAdded, created)})
	if err != nil {
		return ledger.Account{}, false, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Account{}, false, nil, classify(err)
	}
	return created, true, changes, nil
}

func insertAccount(ctx context.Context, tx pgx.Tx, acc ledger.Account) (ledger.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `INSERT INTO accounts (session_id, principal_id, name, balance, is_admin)
		VALUES ($1,$2,$3,$4,$5) RETURNING `+accountColumns,
		acc.SessionID, acc.PrincipalID, acc.Name, acc.Balance, acc.IsAdmin))
}

// DeleteSession removes the session and everything that belongs to it.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete session %s: %w", sessionID, ledger.ErrSessionNotFound)
	}
	return nil
}
