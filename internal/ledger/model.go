package ledger

import (
	"crypto/subtle"
	"time"
)

const (
	DefaultStartBalance int64 = 1500
	DefaultStartBonus   int64 = 200
)

// SessionContext identifies who is acting in which session. It is passed
// explicitly to every engine, store and sync call.
type SessionContext struct {
	SessionID   string
	PrincipalID string
}

type Session struct {
	ID           string    `json:"id"`
	AdminID      string    `json:"admin_id"`
	Password     string    `json:"password,omitempty"`
	StartBalance int64     `json:"start_balance"`
	StartBonus   int64     `json:"start_bonus"`
	CreatedAt    time.Time `json:"created_at"`
}

// StartAmount resolves an optional start balance or bonus. Nil selects def;
// zero is kept.
func StartAmount(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}

// CheckPassword accepts anything when the stored password is empty.
func (s Session) CheckPassword(password string) error {
	if s.Password == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(s.Password), []byte(password)) != 1 {
		return ErrWrongPassword
	}
	return nil
}

type Account struct {
	SessionID   string    `json:"session_id"`
	PrincipalID string    `json:"principal_id"`
	Name        string    `json:"name"`
	Balance     int64     `json:"balance"`
	IsAdmin     bool      `json:"is_admin"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot holds the accounts an operation reads, keyed by principal id.
type Snapshot map[string]Account

func SnapshotOf(accounts ...Account) Snapshot {
	s := make(Snapshot, len(accounts))
	for _, a := range accounts {
		s[a.PrincipalID] = a
	}
	return s
}

type Adjustment struct {
	PrincipalID string
	Amount      int64
}

// Anomaly records an undo adjustment that could not be applied because the
// account no longer exists.
type Anomaly struct {
	TransactionID string
	PrincipalID   string
	Amount        int64
}

// Delta is the outcome of one engine decision. Exactly one of Append and
// Remove is set.
type Delta struct {
	Adjustments []Adjustment
	Append      *Transaction
	Remove      *Transaction
	Anomalies   []Anomaly
}

// Net is the change in the sum of all account balances.
func (d Delta) Net() int64 {
	var n int64
	for _, a := range d.Adjustments {
		n += a.Amount
	}
	return n
}

// Touched lists the principals whose balance changes.
func (d Delta) Touched() []string {
	out := make([]string, 0, len(d.Adjustments))
	for _, a := range d.Adjustments {
		out = append(out, a.PrincipalID)
	}
	return out
}

// ApplyTo returns a copy of snap with the adjustments applied.
func (d Delta) ApplyTo(snap Snapshot) Snapshot {
	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	for _, adj := range d.Adjustments {
		acc, ok := out[adj.PrincipalID]
		if !ok {
			continue
		}
		acc.Balance += adj.Amount
		acc.Version++
		out[adj.PrincipalID] = acc
	}
	return out
}
