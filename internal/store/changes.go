package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"monobank/internal/ledger"

	"github.com/jackc/pgx/v5"
)

// writeChanges assigns consecutive seqs by bumping sessions.last_seq. The
// row lock taken by the update is held until commit, so seqs of one session
// follow commit order.
func writeChanges(ctx context.Context, tx pgx.Tx, sessionID string, changes []ledger.Change) ([]ledger.Change, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	var last int64
	var now time.Time
	err := tx.QueryRow(ctx, `UPDATE sessions SET last_seq = last_seq + $2 WHERE id = $1 RETURNING last_seq, now()`,
		sessionID, len(changes)).Scan(&last, &now)
	if err != nil {
		return nil, mapNotFound(err, ledger.ErrSessionNotFound)
	}
	first := last - int64(len(changes)) + 1

	out := make([]ledger.Change, len(changes))
	batch := &pgx.Batch{}
	for i, c := range changes {
		c.Seq = first + int64(i)
		c.SessionID = sessionID
		c.CommittedAt = now.UTC()
		payload, err := changePayload(c)
		if err != nil {
			return nil, err
		}
		batch.Queue(`INSERT INTO changes (session_id, seq, doc, doc_id, op, payload, committed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`, sessionID, c.Seq, string(c.Doc), c.DocID, string(c.Op), payload, c.CommittedAt)
		out[i] = c
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func changePayload(c ledger.Change) ([]byte, error) {
	switch c.Doc {
	case ledger.DocAccount:
		return json.Marshal(c.Account)
	case ledger.DocTransaction:
		return json.Marshal(c.Transaction)
	}
	return nil, fmt.Errorf("change payload: unknown doc %q", c.Doc)
}

func decodeChange(c *ledger.Change, payload []byte) error {
	switch c.Doc {
	case ledger.DocAccount:
		var a ledger.Account
		if err := json.Unmarshal(payload, &a); err != nil {
			return fmt.Errorf("decode account change %d: %w", c.Seq, err)
		}
		c.Account = &a
	case ledger.DocTransaction:
		var t ledger.Transaction
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("decode transaction change %d: %w", c.Seq, err)
		}
		c.Transaction = &t
	default:
		return fmt.Errorf("decode change %d: unknown doc %q", c.Seq, c.Doc)
	}
	return nil
}

func (s *Store) ChangesAfter(ctx context.Context, sessionID string, afterSeq int64) ([]ledger.Change, error) {
	rows, err := s.Pool.Query(ctx, `SELECT seq, doc, doc_id, op, payload, committed_at
		FROM changes WHERE session_id = $1 AND seq > $2 ORDER BY seq`, sessionID, afterSeq)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []ledger.Change{}
	for rows.Next() {
		c := ledger.Change{SessionID: sessionID}
		var doc, op string
		var payload []byte
		if err := rows.Scan(&c.Seq, &doc, &c.DocID, &op, &payload, &c.CommittedAt); err != nil {
			return nil, classify(err)
		}
		c.Doc = ledger.DocType(doc)
		c.Op = ledger.Op(op)
		if err := decodeChange(&c, payload); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, classify(rows.Err())
}
