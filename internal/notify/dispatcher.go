// Package notify raises one-shot "payment received" alerts from the batches
// a client receives over its subscription.
package notify

import (
	"sync"
	"time"

	"monobank/internal/ledger"
	"monobank/internal/syncchan"
)

const (
	DefaultTTL       = 4 * time.Second
	DefaultBankLabel = "Banka"
	pulseDuration    = 200 * time.Millisecond
)

type State uint8

const (
	Initializing State = iota
	Live
)

func (s State) String() string {
	if s == Live {
		return "live"
	}
	return "initializing"
}

type Alert struct {
	TransactionID string
	FromID        string
	FromName      string
	FromBank      bool
	Amount        int64
	RaisedAt      time.Time
}

// AlertSink shows alerts to the user. Dismiss is called once the TTL of an
// alert has passed.
type AlertSink interface {
	Show(Alert)
	Dismiss(transactionID string)
}

type Haptics interface {
	Supported() bool
	Pulse(d time.Duration)
}

// Directory resolves principal ids to display names.
type Directory interface {
	DisplayName(principalID string) (string, bool)
}

type Option func(*Dispatcher)

func WithTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithHaptics pairs every alert with a pulse when enabled and supported.
func WithHaptics(h Haptics, enabled bool) Option {
	return func(d *Dispatcher) {
		d.haptics = h
		d.vibrate = enabled
	}
}

func WithBankLabel(label string) Option {
	return func(d *Dispatcher) {
		if label != "" {
			d.bankLabel = label
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher tracks one attachment of a local principal to a session.
type Dispatcher struct {
	principalID string
	sink        AlertSink
	dir         Directory
	haptics     Haptics
	vibrate     bool
	ttl         time.Duration
	bankLabel   string
	now         func() time.Time

	mu      sync.Mutex
	state   State
	seen    map[string]struct{}
	pending map[string]*time.Timer
	closed  bool
}

func NewDispatcher(principalID string, sink AlertSink, dir Directory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		principalID: principalID,
		sink:        sink,
		dir:         dir,
		ttl:         DefaultTTL,
		bankLabel:   DefaultBankLabel,
		now:         time.Now,
		seen:        map[string]struct{}{},
		pending:     map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetVibrate toggles the haptic pulse setting.
func (d *Dispatcher) SetVibrate(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vibrate = enabled
}

// Handle consumes one delivered batch. The first batch after attach only
// primes the dedup set; later batches alert on incoming transactions.
func (d *Dispatcher) Handle(b syncchan.Batch) []Alert {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	var raised []Alert
	if d.state == Initializing {
		for _, c := range b.Changes {
			if c.Doc == ledger.DocTransaction {
				d.seen[c.DocID] = struct{}{}
			}
		}
		d.state = Live
		d.mu.Unlock()
		return nil
	}
	for _, c := range b.Changes {
		alert, ok := d.alertFor(c)
		if !ok {
			continue
		}
		d.seen[alert.TransactionID] = struct{}{}
		raised = append(raised, alert)
		id := alert.TransactionID
		d.pending[id] = time.AfterFunc(d.ttl, func() { d.dismiss(id) })
	}
	pulse := len(raised) > 0 && d.vibrate && d.haptics != nil && d.haptics.Supported()
	d.mu.Unlock()

	for _, a := range raised {
		d.sink.Show(a)
	}
	if pulse {
		d.haptics.Pulse(pulseDuration)
	}
	return raised
}

// alertFor reports whether c is a new incoming payment. Callers hold d.mu.
func (d *Dispatcher) alertFor(c ledger.Change) (Alert, bool) {
	if c.Doc != ledger.DocTransaction || c.Op != ledger.OpAdded || c.Transaction == nil {
		return Alert{}, false
	}
	tx := c.Transaction
	to, ok := tx.To().PrincipalID()
	if !ok || to != d.principalID {
		return Alert{}, false
	}
	from, fromAccount := tx.From().PrincipalID()
	if fromAccount && from == d.principalID {
		return Alert{}, false
	}
	if _, dup := d.seen[tx.ID]; dup {
		return Alert{}, false
	}
	a := Alert{
		TransactionID: tx.ID,
		Amount:        tx.Amount(),
		RaisedAt:      d.now(),
	}
	if fromAccount {
		a.FromID = from
		a.FromName = from
		if d.dir != nil {
			if name, ok := d.dir.DisplayName(from); ok {
				a.FromName = name
			}
		}
	} else {
		a.FromBank = true
		a.FromName = d.bankLabel
	}
	return a, true
}

func (d *Dispatcher) dismiss(id string) {
	d.mu.Lock()
	if _, ok := d.pending[id]; !ok || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	d.mu.Unlock()
	d.sink.Dismiss(id)
}

// Reattach returns to Initializing after a resync. Already alerted ids stay
// in the dedup set.
func (d *Dispatcher) Reattach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.state = Initializing
}

// Pending reports how many alerts are still shown.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close drops the dedup set and pending dismiss timers. Later batches are
// ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
	d.seen = map[string]struct{}{}
	d.state = Initializing
}
