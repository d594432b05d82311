package store

import (
	"context"
	"errors"
	"sort"

	"monobank/internal/ledger"

	"github.com/jackc/pgx/v5"
)

func (s *Store) InTx(ctx context.Context, sessionID string, fn func(tx Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	sess, err := getSession(ctx, tx, sessionID, "FOR KEY SHARE")
	if err != nil {
		return err
	}
	if err := fn(&pgTx{tx: tx, sess: sess}); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

type pgTx struct {
	tx   pgx.Tx
	sess ledger.Session
}

func (t *pgTx) Session() ledger.Session { return t.sess }

func (t *pgTx) LockAccounts(ctx context.Context, principalIDs ...string) (ledger.Snapshot, error) {
	ids := append([]string(nil), principalIDs...)
	sort.Strings(ids)
	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+`
		FROM accounts WHERE session_id = $1 AND principal_id = ANY($2)
		ORDER BY principal_id FOR UPDATE`, t.sess.ID, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	snap := ledger.Snapshot{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err)
		}
		snap[a.PrincipalID] = a
	}
	return snap, classify(rows.Err())
}

func (t *pgTx) LockTransaction(ctx context.Context, txID string) (*ledger.Transaction, error) {
	tx, err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE session_id = $1 AND id = $2 FOR UPDATE`, t.sess.ID, txID))
	if err != nil {
		return nil, mapNotFound(err, ledger.ErrTransactionNotFound)
	}
	return &tx, nil
}

func (t *pgTx) LookupRequest(ctx context.Context, requestID string) (string, bool, error) {
	if requestID == "" {
		return "", false, nil
	}
	var txID string
	err := t.tx.QueryRow(ctx, `SELECT transaction_id FROM request_keys WHERE session_id = $1 AND request_id = $2`,
		t.sess.ID, requestID).Scan(&txID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return txID, true, nil
}

func (t *pgTx) Apply(ctx context.Context, d ledger.Delta, requestID string) ([]ledger.Change, error) {
	var pending []ledger.Change
	for _, adj := range d.Adjustments {
		acc, err := scanAccount(t.tx.QueryRow(ctx, `UPDATE accounts
			SET balance = balance + $3, version = version + 1, updated_at = now()
			WHERE session_id = $1 AND principal_id = $2
			RETURNING `+accountColumns, t.sess.ID, adj.PrincipalID, adj.Amount))
		if err != nil {
			return nil, mapNotFound(err, ledger.ErrUnknownAccount)
		}
		pending = append(pending, ledger.AccountChange(ledger.OpModified, acc))
	}

	var txID string
	switch {
	case d.Append != nil:
		r := d.Append.Record()
		_, err := t.tx.Exec(ctx, `INSERT INTO transactions (id, session_id, from_id, to_id, amount, kind, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			r.ID, t.sess.ID, textParam(r.From), textParam(r.To), r.Amount, string(r.Kind), r.CreatedAt)
		if err != nil {
			return nil, classify(err)
		}
		txID = r.ID
		pending = append(pending, ledger.TransactionChange(ledger.OpAdded, *d.Append))
	case d.Remove != nil:
		tag, err := t.tx.Exec(ctx, `DELETE FROM transactions WHERE session_id = $1 AND id = $2`, t.sess.ID, d.Remove.ID)
		if err != nil {
			return nil, classify(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ledger.ErrTransactionNotFound
		}
		txID = d.Remove.ID
		pending = append(pending, ledger.TransactionChange(ledger.OpRemoved, *d.Remove))
	}

	if requestID != "" {
		_, err := t.tx.Exec(ctx, `INSERT INTO request_keys (session_id, request_id, transaction_id) VALUES ($1,$2,$3)`,
			t.sess.ID, requestID, txID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ledger.ErrDuplicateRequest
			}
			return nil, classify(err)
		}
	}
	return writeChanges(ctx, t.tx, t.sess.ID, pending)
}
