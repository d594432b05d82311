package ledger

import "time"

// Engine decides ledger operations against an account snapshot. It holds no
// state besides its clock and id source.
type Engine struct {
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now, newID: NewID}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves amount from the requesting principal to an account or the bank.
func (e *Engine) Transfer(sc SessionContext, snap Snapshot, to Endpoint, amount int64) (Delta, error) {
	if amount <= 0 {
		return Delta{}, ErrInvalidAmount
	}
	from, ok := snap[sc.PrincipalID]
	if !ok || !to.Valid() {
		return Delta{}, ErrUnknownAccount
	}
	adjustments := []Adjustment{{PrincipalID: from.PrincipalID, Amount: -amount}}
	var entry Entry
	if toID, isAccount := to.PrincipalID(); isAccount {
		if toID == from.PrincipalID {
			return Delta{}, ErrSelfTransfer
		}
		if _, ok := snap[toID]; !ok {
			return Delta{}, ErrUnknownAccount
		}
		entry = PlayerTransfer{FromID: from.PrincipalID, ToID: toID, Amt: amount}
		adjustments = append(adjustments, Adjustment{PrincipalID: toID, Amount: amount})
	} else {
		entry = BankPayment{FromID: from.PrincipalID, Amt: amount}
	}
	if from.Balance < amount {
		return Delta{}, ErrInsufficientFunds
	}
	return Delta{Adjustments: adjustments, Append: e.newTransaction(sc, entry)}, nil
}

// AdminAdd credits bank money to an account. Bank operations skip the
// balance check.
func (e *Engine) AdminAdd(sc SessionContext, snap Snapshot, toID string, amount int64) (Delta, error) {
	if err := requireAdmin(sc, snap); err != nil {
		return Delta{}, err
	}
	if amount <= 0 {
		return Delta{}, ErrInvalidAmount
	}
	if _, ok := snap[toID]; !ok {
		return Delta{}, ErrUnknownAccount
	}
	return e.credit(sc, AdminCredit{ToID: toID, Amt: amount}), nil
}

func (e *Engine) GrantStartBonus(sc SessionContext, snap Snapshot, sess Session, toID string) (Delta, error) {
	if err := requireAdmin(sc, snap); err != nil {
		return Delta{}, err
	}
	if _, ok := snap[toID]; !ok {
		return Delta{}, ErrUnknownAccount
	}
	if sess.StartBonus <= 0 {
		return Delta{}, ErrInvalidAmount
	}
	return e.credit(sc, StartBonus{ToID: toID, Amt: sess.StartBonus}), nil
}

// Undo removes tx and reverses its balance effect. Adjustments for accounts
// missing from snap are reported as anomalies and skipped so the record can
// still be removed.
func (e *Engine) Undo(sc SessionContext, snap Snapshot, tx *Transaction) (Delta, error) {
	if err := requireAdmin(sc, snap); err != nil {
		return Delta{}, err
	}
	if tx == nil || tx.Entry == nil {
		return Delta{}, ErrTransactionNotFound
	}
	d := Delta{Remove: tx}
	adjust := func(principalID string, amount int64) {
		if _, ok := snap[principalID]; !ok {
			d.Anomalies = append(d.Anomalies, Anomaly{TransactionID: tx.ID, PrincipalID: principalID, Amount: amount})
			return
		}
		d.Adjustments = append(d.Adjustments, Adjustment{PrincipalID: principalID, Amount: amount})
	}
	switch entry := tx.Entry.(type) {
	case PlayerTransfer:
		adjust(entry.FromID, entry.Amt)
		adjust(entry.ToID, -entry.Amt)
	case BankPayment:
		adjust(entry.FromID, entry.Amt)
	case AdminCredit:
		adjust(entry.ToID, -entry.Amt)
	case StartBonus:
		adjust(entry.ToID, -entry.Amt)
	default:
		return Delta{}, ErrInvalidRecord
	}
	return d, nil
}

// Principals lists the accounts Undo needs to read for tx.
func Principals(tx Transaction) []string {
	out := make([]string, 0, 2)
	if id, ok := tx.From().PrincipalID(); ok {
		out = append(out, id)
	}
	if id, ok := tx.To().PrincipalID(); ok {
		out = append(out, id)
	}
	return out
}

func (e *Engine) credit(sc SessionContext, entry Entry) Delta {
	toID, _ := entry.To().PrincipalID()
	return Delta{
		Adjustments: []Adjustment{{PrincipalID: toID, Amount: entry.Amount()}},
		Append:      e.newTransaction(sc, entry),
	}
}

func (e *Engine) newTransaction(sc SessionContext, entry Entry) *Transaction {
	return &Transaction{
		ID:        e.newID(),
		SessionID: sc.SessionID,
		CreatedAt: e.now().UTC(),
		Entry:     entry,
	}
}

func requireAdmin(sc SessionContext, snap Snapshot) error {
	acc, ok := snap[sc.PrincipalID]
	if !ok || !acc.IsAdmin {
		return ErrNotAuthorized
	}
	return nil
}
