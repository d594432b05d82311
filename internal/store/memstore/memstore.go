// Package memstore is an in-memory session store with the same atomicity
// guarantees as the Postgres store. Writes to one session are serialized by
// a per-session mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"monobank/internal/ledger"
	"monobank/internal/store"
)

type sessionData struct {
	mu sync.Mutex

	sess         ledger.Session
	accounts     map[string]ledger.Account
	transactions map[string]ledger.Transaction
	changes      []ledger.Change
	requests     map[string]string
	lastSeq      int64
	deleted      bool
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData
	now      func() time.Time
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{sessions: make(map[string]*sessionData), now: time.Now}
}

func (s *Store) session(id string) (*sessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[id]
	if !ok {
		return nil, ledger.ErrSessionNotFound
	}
	return d, nil
}

func (s *Store) CreateSession(_ context.Context, sess ledger.Session, admin ledger.Account) ([]ledger.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return nil, ledger.ErrSessionExists
	}
	now := s.now().UTC()
	sess.CreatedAt = now
	d := &sessionData{
		sess:         sess,
		accounts:     make(map[string]ledger.Account),
		transactions: make(map[string]ledger.Transaction),
		requests:     make(map[string]string),
	}
	admin.SessionID = sess.ID
	admin.IsAdmin = true
	admin.Version = 1
	admin.UpdatedAt = now
	d.accounts[admin.PrincipalID] = admin
	changes := d.commitChanges(now, ledger.AccountChange(ledger.OpAdded, admin))
	s.sessions[sess.ID] = d
	return changes, nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (ledger.Session, error) {
	d, err := s.session(sessionID)
	if err != nil {
		return ledger.Session{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess, nil
}

func (s *Store) EnsureAccount(_ context.Context, acc ledger.Account) (ledger.Account, bool, []ledger.Change, error) {
	d, err := s.session(acc.SessionID)
	if err != nil {
		return ledger.Account{}, false, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleted {
		return ledger.Account{}, false, nil, ledger.ErrSessionNotFound
	}
	if existing, ok := d.accounts[acc.PrincipalID]; ok {
		return existing, false, nil, nil
	}
	now := s.now().UTC()
	acc.Version = 1
	acc.UpdatedAt = now
	d.accounts[acc.PrincipalID] = acc
	return acc, true, d.commitChanges(now, ledger.AccountChange(ledger.OpAdded, acc)), nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	d, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ledger.ErrSessionNotFound
	}
	d.mu.Lock()
	d.deleted = true
	d.mu.Unlock()
	return nil
}

// commitChanges stamps seqs onto changes and appends them to the log.
// Callers hold d.mu.
func (d *sessionData) commitChanges(now time.Time, changes ...ledger.Change) []ledger.Change {
	out := make([]ledger.Change, 0, len(changes))
	for _, c := range changes {
		d.lastSeq++
		c.Seq = d.lastSeq
		c.SessionID = d.sess.ID
		c.CommittedAt = now
		d.changes = append(d.changes, c)
		out = append(out, c)
	}
	return out
}

func (s *Store) Snapshot(_ context.Context, sessionID string) (store.SessionState, error) {
	d, err := s.session(sessionID)
	if err != nil {
		return store.SessionState{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return store.SessionState{
		Session:      d.sess,
		Accounts:     d.sortedAccounts(),
		Transactions: d.sortedTransactions(),
		Seq:          d.lastSeq,
	}, nil
}

func (s *Store) ListAccounts(_ context.Context, sessionID string) ([]ledger.Account, error) {
	d, err := s.session(sessionID)
	if err != nil {
		return []ledger.Account{}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedAccounts(), nil
}

func (s *Store) ListTransactions(_ context.Context, sessionID string) ([]ledger.Transaction, error) {
	d, err := s.session(sessionID)
	if err != nil {
		return []ledger.Transaction{}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedTransactions(), nil
}

func (s *Store) ChangesAfter(_ context.Context, sessionID string, afterSeq int64) ([]ledger.Change, error) {
	d, err := s.session(sessionID)
	if err != nil {
		return []ledger.Change{}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.changes), func(i int) bool { return d.changes[i].Seq > afterSeq })
	return append([]ledger.Change{}, d.changes[i:]...), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// Same order as the Postgres listing: admin first, then by name.
func (d *sessionData) sortedAccounts() []ledger.Account {
	out := make([]ledger.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsAdmin != out[j].IsAdmin {
			return out[i].IsAdmin
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	return out
}

// Newest first.
func (d *sessionData) sortedTransactions() []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(d.transactions))
	for _, t := range d.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
