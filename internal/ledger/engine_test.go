package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testEngine() *Engine {
	n := 0
	return NewEngine(
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		WithIDs(func() string {
			n++
			return fmt.Sprintf("tx%03d", n)
		}),
	)
}

func testSnapshot() Snapshot {
	return SnapshotOf(
		Account{SessionID: "ABCDE", PrincipalID: "admin", Name: "Admin", Balance: 1500, IsAdmin: true},
		Account{SessionID: "ABCDE", PrincipalID: "p1", Name: "Petra", Balance: 1500},
		Account{SessionID: "ABCDE", PrincipalID: "p2", Name: "Karel", Balance: 100},
	)
}

func TestTransferToPlayer(t *testing.T) {
	e := testEngine()
	d, err := e.Transfer(SessionContext{SessionID: "ABCDE", PrincipalID: "p1"}, testSnapshot(), AccountOf("p2"), 300)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if d.Append == nil || d.Append.Kind() != KindTransfer {
		t.Fatalf("unexpected appended tx: %+v", d.Append)
	}
	if d.Net() != 0 {
		t.Fatalf("player transfer net = %d, want 0", d.Net())
	}
	after := d.ApplyTo(testSnapshot())
	if after["p1"].Balance != 1200 || after["p2"].Balance != 400 {
		t.Fatalf("balances after transfer: p1=%d p2=%d", after["p1"].Balance, after["p2"].Balance)
	}
}

func TestTransferToBank(t *testing.T) {
	e := testEngine()
	d, err := e.Transfer(SessionContext{SessionID: "ABCDE", PrincipalID: "p1"}, testSnapshot(), Bank(), 700)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if d.Append.Kind() != KindToBank || !d.Append.To().IsBank() {
		t.Fatalf("unexpected tx: %+v", d.Append.Record())
	}
	if d.Net() != -700 {
		t.Fatalf("net = %d, want -700", d.Net())
	}
}

func TestTransferFailures(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		to     Endpoint
		amount int64
		want   error
	}{
		{"zero amount", "p1", AccountOf("p2"), 0, ErrInvalidAmount},
		{"negative amount", "p1", Bank(), -5, ErrInvalidAmount},
		{"unknown source", "ghost", AccountOf("p2"), 10, ErrUnknownAccount},
		{"unknown destination", "p1", AccountOf("ghost"), 10, ErrUnknownAccount},
		{"invalid endpoint", "p1", Endpoint{}, 10, ErrUnknownAccount},
		{"self", "p1", AccountOf("p1"), 10, ErrSelfTransfer},
		{"insufficient", "p2", AccountOf("p1"), 101, ErrInsufficientFunds},
		{"insufficient to bank", "p2", Bank(), 101, ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testEngine().Transfer(SessionContext{SessionID: "ABCDE", PrincipalID: tt.from}, testSnapshot(), tt.to, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTransferExactBalanceAllowed(t *testing.T) {
	d, err := testEngine().Transfer(SessionContext{SessionID: "ABCDE", PrincipalID: "p2"}, testSnapshot(), Bank(), 100)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if got := d.ApplyTo(testSnapshot())["p2"].Balance; got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestAdminAdd(t *testing.T) {
	admin := SessionContext{SessionID: "ABCDE", PrincipalID: "admin"}
	d, err := testEngine().AdminAdd(admin, testSnapshot(), "p2", 50)
	if err != nil {
		t.Fatalf("AdminAdd() error = %v", err)
	}
	if d.Append.Kind() != KindAdminAdd || !d.Append.From().IsBank() {
		t.Fatalf("unexpected tx: %+v", d.Append.Record())
	}
	if _, err := testEngine().AdminAdd(SessionContext{SessionID: "ABCDE", PrincipalID: "p1"}, testSnapshot(), "p2", 50); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin err = %v", err)
	}
	if _, err := testEngine().AdminAdd(admin, testSnapshot(), "p2", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v", err)
	}
	if _, err := testEngine().AdminAdd(admin, testSnapshot(), "ghost", 5); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("unknown account err = %v", err)
	}
}

func TestGrantStartBonusUsesSessionConfig(t *testing.T) {
	admin := SessionContext{SessionID: "ABCDE", PrincipalID: "admin"}
	for _, bonus := range []int64{DefaultStartBonus, 350} {
		d, err := testEngine().GrantStartBonus(admin, testSnapshot(), Session{ID: "ABCDE", StartBonus: bonus}, "p1")
		if err != nil {
			t.Fatalf("GrantStartBonus() error = %v", err)
		}
		if d.Append.Kind() != KindStartBonus || d.Append.Amount() != bonus {
			t.Fatalf("bonus tx = %+v, want amount %d", d.Append.Record(), bonus)
		}
	}
	if _, err := testEngine().GrantStartBonus(admin, testSnapshot(), Session{ID: "ABCDE"}, "p1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero bonus err = %v, want ErrInvalidAmount", err)
	}
	if _, err := testEngine().GrantStartBonus(SessionContext{SessionID: "ABCDE", PrincipalID: "p2"}, testSnapshot(), Session{}, "p1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin err = %v", err)
	}
}

func TestUndoIsInverse(t *testing.T) {
	admin := SessionContext{SessionID: "ABCDE", PrincipalID: "admin"}
	player := SessionContext{SessionID: "ABCDE", PrincipalID: "p1"}
	ops := []func(e *Engine, s Snapshot) (Delta, error){
		func(e *Engine, s Snapshot) (Delta, error) { return e.Transfer(player, s, AccountOf("p2"), 250) },
		func(e *Engine, s Snapshot) (Delta, error) { return e.Transfer(player, s, Bank(), 700) },
		func(e *Engine, s Snapshot) (Delta, error) { return e.AdminAdd(admin, s, "p2", 40) },
		func(e *Engine, s Snapshot) (Delta, error) {
			return e.GrantStartBonus(admin, s, Session{StartBonus: DefaultStartBonus}, "p1")
		},
	}
	for i, op := range ops {
		e := testEngine()
		before := testSnapshot()
		d, err := op(e, before)
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		mid := d.ApplyTo(before)
		u, err := e.Undo(admin, mid, d.Append)
		if err != nil {
			t.Fatalf("op %d undo: %v", i, err)
		}
		if u.Remove == nil || u.Remove.ID != d.Append.ID {
			t.Fatalf("op %d undo removes %+v", i, u.Remove)
		}
		after := u.ApplyTo(mid)
		for id, acc := range before {
			if after[id].Balance != acc.Balance {
				t.Fatalf("op %d: %s balance = %d, want %d", i, id, after[id].Balance, acc.Balance)
			}
		}
	}
}

func TestUndoMissingAccountIsAnomaly(t *testing.T) {
	admin := SessionContext{SessionID: "ABCDE", PrincipalID: "admin"}
	tx := &Transaction{ID: "tx1", SessionID: "ABCDE", Entry: PlayerTransfer{FromID: "p1", ToID: "gone", Amt: 10}}
	d, err := testEngine().Undo(admin, testSnapshot(), tx)
	if err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if d.Remove == nil {
		t.Fatal("undo must still remove the record")
	}
	if len(d.Anomalies) != 1 || d.Anomalies[0].PrincipalID != "gone" {
		t.Fatalf("anomalies = %+v", d.Anomalies)
	}
	if len(d.Adjustments) != 1 || d.Adjustments[0].PrincipalID != "p1" {
		t.Fatalf("adjustments = %+v", d.Adjustments)
	}
}

func TestUndoFailures(t *testing.T) {
	tx := &Transaction{ID: "tx1", Entry: AdminCredit{ToID: "p1", Amt: 10}}
	if _, err := testEngine().Undo(SessionContext{PrincipalID: "p1"}, testSnapshot(), tx); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin err = %v", err)
	}
	if _, err := testEngine().Undo(SessionContext{PrincipalID: "admin"}, testSnapshot(), nil); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("missing tx err = %v", err)
	}
}

func TestConservationOverSequence(t *testing.T) {
	e := testEngine()
	admin := SessionContext{SessionID: "ABCDE", PrincipalID: "admin"}
	snap := SnapshotOf(
		Account{PrincipalID: "admin", Balance: 1500, IsAdmin: true},
		Account{PrincipalID: "p1", Balance: 1500},
		Account{PrincipalID: "p2", Balance: 1500},
	)
	var log []Transaction
	step := func(d Delta, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		snap = d.ApplyTo(snap)
		if d.Append != nil {
			log = append(log, *d.Append)
		}
		if d.Remove != nil {
			for i := range log {
				if log[i].ID == d.Remove.ID {
					log = append(log[:i], log[i+1:]...)
					break
				}
			}
		}
		accounts := make([]Account, 0, len(snap))
		for _, a := range snap {
			accounts = append(accounts, a)
		}
		if !Conserved(accounts, 1500, log) {
			t.Fatalf("conservation broken: total=%d expected=%d", Total(accounts), ExpectedTotal(len(accounts), 1500, log))
		}
	}
	step(e.GrantStartBonus(admin, snap, Session{StartBonus: 200}, "p1"))
	step(e.Transfer(SessionContext{PrincipalID: "p1"}, snap, AccountOf("p2"), 900))
	step(e.Transfer(SessionContext{PrincipalID: "p2"}, snap, Bank(), 1200))
	step(e.AdminAdd(admin, snap, "p2", 75))
	last := log[len(log)-1]
	step(e.Undo(admin, snap, &last))
	first := log[0]
	step(e.Undo(admin, snap, &first))
}

func TestStartAmount(t *testing.T) {
	zero, custom := int64(0), int64(350)
	if got := StartAmount(nil, DefaultStartBonus); got != DefaultStartBonus {
		t.Fatalf("unset = %d", got)
	}
	if got := StartAmount(&zero, DefaultStartBonus); got != 0 {
		t.Fatalf("explicit zero = %d", got)
	}
	if got := StartAmount(&custom, DefaultStartBonus); got != 350 {
		t.Fatalf("custom = %d", got)
	}
}
