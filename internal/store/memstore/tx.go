package memstore

import (
	"context"

	"monobank/internal/ledger"
	"monobank/internal/store"
)

// InTx holds the session mutex for the whole of fn. Writes are staged on
// the tx and only merged into the session when fn returns nil.
func (s *Store) InTx(ctx context.Context, sessionID string, fn func(tx store.Tx) error) error {
	d, err := s.session(sessionID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleted {
		return ledger.ErrSessionNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{d: d, accounts: map[string]ledger.Account{}}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit(s)
	return nil
}

type memTx struct {
	d *sessionData

	accounts  map[string]ledger.Account
	appended  *ledger.Transaction
	removed   *ledger.Transaction
	requestID string
	pending   []ledger.Change
	out       []ledger.Change
}

func (t *memTx) Session() ledger.Session { return t.d.sess }

func (t *memTx) account(id string) (ledger.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	a, ok := t.d.accounts[id]
	return a, ok
}

func (t *memTx) LockAccounts(_ context.Context, principalIDs ...string) (ledger.Snapshot, error) {
	snap := ledger.Snapshot{}
	for _, id := range principalIDs {
		if a, ok := t.account(id); ok {
			snap[id] = a
		}
	}
	return snap, nil
}

func (t *memTx) LockTransaction(_ context.Context, txID string) (*ledger.Transaction, error) {
	if t.removed != nil && t.removed.ID == txID {
		return nil, ledger.ErrTransactionNotFound
	}
	if t.appended != nil && t.appended.ID == txID {
		tx := *t.appended
		return &tx, nil
	}
	tx, ok := t.d.transactions[txID]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return &tx, nil
}

func (t *memTx) LookupRequest(_ context.Context, requestID string) (string, bool, error) {
	if requestID == "" {
		return "", false, nil
	}
	txID, ok := t.d.requests[requestID]
	return txID, ok, nil
}

func (t *memTx) Apply(_ context.Context, d ledger.Delta, requestID string) ([]ledger.Change, error) {
	if t.appended != nil || t.removed != nil {
		return nil, ledger.ErrDuplicateRequest
	}
	if requestID != "" {
		if _, ok := t.d.requests[requestID]; ok {
			return nil, ledger.ErrDuplicateRequest
		}
	}
	var pending []ledger.Change
	staged := map[string]ledger.Account{}
	for _, adj := range d.Adjustments {
		acc, ok := staged[adj.PrincipalID]
		if !ok {
			acc, ok = t.account(adj.PrincipalID)
		}
		if !ok {
			return nil, ledger.ErrUnknownAccount
		}
		acc.Balance += adj.Amount
		acc.Version++
		staged[adj.PrincipalID] = acc
		pending = append(pending, ledger.AccountChange(ledger.OpModified, acc))
	}
	switch {
	case d.Append != nil:
		if _, exists := t.d.transactions[d.Append.ID]; exists {
			return nil, ledger.ErrDuplicateRequest
		}
		tx := *d.Append
		t.appended = &tx
		pending = append(pending, ledger.TransactionChange(ledger.OpAdded, tx))
	case d.Remove != nil:
		if _, exists := t.d.transactions[d.Remove.ID]; !exists {
			return nil, ledger.ErrTransactionNotFound
		}
		tx := *d.Remove
		t.removed = &tx
		pending = append(pending, ledger.TransactionChange(ledger.OpRemoved, tx))
	}
	for id, acc := range staged {
		t.accounts[id] = acc
	}
	t.requestID = requestID
	t.pending = pending

	// Seqs are provisional until commit; nothing else can write to the
	// session while the tx holds its mutex, so they are final.
	out := make([]ledger.Change, len(pending))
	for i, c := range pending {
		c.Seq = t.d.lastSeq + int64(i) + 1
		c.SessionID = t.d.sess.ID
		out[i] = c
	}
	t.out = out
	return out, nil
}

func (t *memTx) commit(s *Store) {
	if len(t.pending) == 0 {
		return
	}
	now := s.now().UTC()
	for id, acc := range t.accounts {
		acc.UpdatedAt = now
		t.d.accounts[id] = acc
	}
	var txID string
	if t.appended != nil {
		t.d.transactions[t.appended.ID] = *t.appended
		txID = t.appended.ID
	}
	if t.removed != nil {
		delete(t.d.transactions, t.removed.ID)
		txID = t.removed.ID
	}
	if t.requestID != "" {
		t.d.requests[t.requestID] = txID
	}
	for _, c := range t.pending {
		if c.Account != nil {
			c.Account.UpdatedAt = now
		}
	}
	committed := t.d.commitChanges(now, t.pending...)
	for i := range t.out {
		t.out[i].CommittedAt = committed[i].CommittedAt
	}
}
