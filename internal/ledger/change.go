package ledger

import "time"

type DocType string

const (
	DocAccount     DocType = "account"
	DocTransaction DocType = "transaction"
)

type Op string

const (
	OpAdded    Op = "added"
	OpModified Op = "modified"
	OpRemoved  Op = "removed"
)

// Change is one committed document write. Seq is assigned by the store and
// increases in commit order within a session.
type Change struct {
	Seq         int64        `json:"seq"`
	SessionID   string       `json:"session_id"`
	Doc         DocType      `json:"doc"`
	DocID       string       `json:"doc_id"`
	Op          Op           `json:"op"`
	Account     *Account     `json:"account,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	CommittedAt time.Time    `json:"committed_at"`
}

// VisibleTo applies the player view filter: accounts are always visible,
// transactions only to their source or destination.
func (c Change) VisibleTo(principalID string, admin bool) bool {
	if admin || c.Doc != DocTransaction {
		return true
	}
	if c.Transaction == nil {
		return false
	}
	return c.Transaction.Involves(principalID)
}

func AccountChange(op Op, a Account) Change {
	acc := a
	return Change{
		SessionID: a.SessionID,
		Doc:       DocAccount,
		DocID:     a.PrincipalID,
		Op:        op,
		Account:   &acc,
	}
}

func TransactionChange(op Op, t Transaction) Change {
	tx := t
	return Change{
		SessionID:   t.SessionID,
		Doc:         DocTransaction,
		DocID:       t.ID,
		Op:          op,
		Transaction: &tx,
	}
}
