package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindTransfer   Kind = "transfer"
	KindToBank     Kind = "to-bank"
	KindAdminAdd   Kind = "admin-add"
	KindStartBonus Kind = "start-bonus"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTransfer, KindToBank, KindAdminAdd, KindStartBonus:
		return true
	default:
		return false
	}
}

// Entry is the closed set of balance-affecting events. Each variant carries
// exactly the fields it needs.
type Entry interface {
	Kind() Kind
	From() Endpoint
	To() Endpoint
	Amount() int64
	entry()
}

// PlayerTransfer moves money between two accounts.
type PlayerTransfer struct {
	FromID string
	ToID   string
	Amt    int64
}

// BankPayment moves money from an account out to the bank.
type BankPayment struct {
	FromID string
	Amt    int64
}

// AdminCredit is bank money granted by the admin.
type AdminCredit struct {
	ToID string
	Amt  int64
}

// StartBonus is the configured bonus paid by the bank.
type StartBonus struct {
	ToID string
	Amt  int64
}

func (PlayerTransfer) Kind() Kind       { return KindTransfer }
func (e PlayerTransfer) From() Endpoint { return AccountOf(e.FromID) }
func (e PlayerTransfer) To() Endpoint   { return AccountOf(e.ToID) }
func (e PlayerTransfer) Amount() int64  { return e.Amt }
func (PlayerTransfer) entry()           {}
func (BankPayment) Kind() Kind          { return KindToBank }
func (e BankPayment) From() Endpoint    { return AccountOf(e.FromID) }
func (BankPayment) To() Endpoint        { return Bank() }
func (e BankPayment) Amount() int64     { return e.Amt }
func (BankPayment) entry()              {}
func (AdminCredit) Kind() Kind          { return KindAdminAdd }
func (AdminCredit) From() Endpoint      { return Bank() }
func (e AdminCredit) To() Endpoint      { return AccountOf(e.ToID) }
func (e AdminCredit) Amount() int64     { return e.Amt }
func (AdminCredit) entry()              {}
func (StartBonus) Kind() Kind           { return KindStartBonus }
func (StartBonus) From() Endpoint       { return Bank() }
func (e StartBonus) To() Endpoint       { return AccountOf(e.ToID) }
func (e StartBonus) Amount() int64      { return e.Amt }
func (StartBonus) entry()               {}

// Transaction is a committed, immutable ledger entry.
type Transaction struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Entry     Entry
}

func (t Transaction) Kind() Kind     { return t.Entry.Kind() }
func (t Transaction) From() Endpoint { return t.Entry.From() }
func (t Transaction) To() Endpoint   { return t.Entry.To() }
func (t Transaction) Amount() int64  { return t.Entry.Amount() }

// Involves reports whether principalID is the source or the destination.
func (t Transaction) Involves(principalID string) bool {
	if id, ok := t.From().PrincipalID(); ok && id == principalID {
		return true
	}
	if id, ok := t.To().PrincipalID(); ok && id == principalID {
		return true
	}
	return false
}

// Record is the flat persisted shape of a Transaction.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	From      *string   `json:"from"`
	To        *string   `json:"to"`
	Amount    int64     `json:"amount"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"timestamp"`
}

func (t Transaction) Record() Record {
	return Record{
		ID:        t.ID,
		SessionID: t.SessionID,
		From:      t.From().IDPtr(),
		To:        t.To().IDPtr(),
		Amount:    t.Amount(),
		Kind:      t.Kind(),
		CreatedAt: t.CreatedAt,
	}
}

// Transaction validates the record shape against its kind.
func (r Record) Transaction() (Transaction, error) {
	if r.Amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: amount %d", ErrInvalidRecord, r.Amount)
	}
	if r.From == nil && r.To == nil {
		return Transaction{}, fmt.Errorf("%w: both endpoints are the bank", ErrInvalidRecord)
	}
	var e Entry
	switch r.Kind {
	case KindTransfer:
		if r.From == nil || r.To == nil {
			return Transaction{}, fmt.Errorf("%w: transfer needs two accounts", ErrInvalidRecord)
		}
		e = PlayerTransfer{FromID: *r.From, ToID: *r.To, Amt: r.Amount}
	case KindToBank:
		if r.From == nil || r.To != nil {
			return Transaction{}, fmt.Errorf("%w: to-bank needs a source account only", ErrInvalidRecord)
		}
		e = BankPayment{FromID: *r.From, Amt: r.Amount}
	case KindAdminAdd:
		if r.To == nil || r.From != nil {
			return Transaction{}, fmt.Errorf("%w: admin-add needs a destination account only", ErrInvalidRecord)
		}
		e = AdminCredit{ToID: *r.To, Amt: r.Amount}
	case KindStartBonus:
		if r.To == nil || r.From != nil {
			return Transaction{}, fmt.Errorf("%w: start-bonus needs a destination account only", ErrInvalidRecord)
		}
		e = StartBonus{ToID: *r.To, Amt: r.Amount}
	default:
		return Transaction{}, fmt.Errorf("%w: kind %q", ErrInvalidRecord, r.Kind)
	}
	return Transaction{ID: r.ID, SessionID: r.SessionID, CreatedAt: r.CreatedAt, Entry: e}, nil
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Record())
}

func (t *Transaction) UnmarshalJSON(b []byte) error {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	tx, err := r.Transaction()
	if err != nil {
		return err
	}
	*t = tx
	return nil
}
