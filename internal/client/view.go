package client

import (
	"sort"
	"sync"

	"monobank/internal/ledger"
	"monobank/internal/syncchan"
)

// View is the client's replica of one session, built from subscription
// batches. It answers display-name lookups for notifications.
type View struct {
	mu           sync.RWMutex
	seq          int64
	accounts     map[string]ledger.Account
	transactions map[string]ledger.Transaction
}

func NewView() *View {
	return &View{
		accounts:     map[string]ledger.Account{},
		transactions: map[string]ledger.Transaction{},
	}
}

// Apply folds a batch into the replica. An initial batch replaces the
// previous contents.
func (v *View) Apply(b syncchan.Batch) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b.Initial {
		v.accounts = map[string]ledger.Account{}
		v.transactions = map[string]ledger.Transaction{}
	}
	for _, c := range b.Changes {
		switch c.Doc {
		case ledger.DocAccount:
			if c.Op == ledger.OpRemoved {
				delete(v.accounts, c.DocID)
			} else if c.Account != nil {
				v.accounts[c.DocID] = *c.Account
			}
		case ledger.DocTransaction:
			if c.Op == ledger.OpRemoved {
				delete(v.transactions, c.DocID)
			} else if c.Transaction != nil {
				v.transactions[c.DocID] = *c.Transaction
			}
		}
	}
	if b.Seq > v.seq || b.Initial {
		v.seq = b.Seq
	}
}

func (v *View) Seq() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seq
}

// Accounts returns the accounts ordered by name.
func (v *View) Accounts() []ledger.Account {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]ledger.Account, 0, len(v.accounts))
	for _, a := range v.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].PrincipalID < out[j].PrincipalID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Transactions returns the visible history, newest first.
func (v *View) Transactions() []ledger.Transaction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]ledger.Transaction, 0, len(v.transactions))
	for _, t := range v.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (v *View) Account(principalID string) (ledger.Account, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	a, ok := v.accounts[principalID]
	return a, ok
}

func (v *View) DisplayName(principalID string) (string, bool) {
	a, ok := v.Account(principalID)
	if !ok {
		return "", false
	}
	return a.Name, true
}
