package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"monobank/internal/ledger"
	"monobank/internal/store"
	"monobank/internal/store/memstore"
	"monobank/internal/syncchan"
	"monobank/internal/testutil"
)

type backendFactory struct {
	name string
	open func(t *testing.T) store.Backend
}

var backends = []backendFactory{
	{"memory", func(t *testing.T) store.Backend { return memstore.New() }},
	{"postgres", func(t *testing.T) store.Backend {
		st, cleanup := testutil.OpenTestStore(t)
		t.Cleanup(cleanup)
		return st
	}},
}

func eachBackend(t *testing.T, fn func(t *testing.T, svc *Service, hub *syncchan.Hub)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			st := b.open(t)
			hub := syncchan.NewHub(st)
			t.Cleanup(hub.Close)
			bus := syncchan.NewLocalBus(hub.Handle)
			fn(t, NewService(st, hub, bus), hub)
		})
	}
}

type table struct {
	id    string
	admin ledger.SessionContext
	p1    ledger.SessionContext
	p2    ledger.SessionContext
}

func setupTable(t *testing.T, svc *Service, req CreateSessionRequest) table {
	t.Helper()
	ctx := context.Background()
	req.Name = "Admin"
	sess, err := svc.CreateSession(ctx, "admin", req)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, p := range []string{"p1", "p2"} {
		if _, err := svc.JoinSession(ctx, p, "Player "+p, sess.ID, req.Password); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	return table{
		id:    sess.ID,
		admin: ledger.SessionContext{SessionID: sess.ID, PrincipalID: "admin"},
		p1:    ledger.SessionContext{SessionID: sess.ID, PrincipalID: "p1"},
		p2:    ledger.SessionContext{SessionID: sess.ID, PrincipalID: "p2"},
	}
}

func amount(v int64) *int64 { return &v }

func balances(t *testing.T, svc *Service, sc ledger.SessionContext) map[string]int64 {
	t.Helper()
	accounts, err := svc.Accounts(context.Background(), sc)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	out := map[string]int64{}
	for _, a := range accounts {
		out[a.PrincipalID] = a.Balance
	}
	return out
}

func assertConserved(t *testing.T, svc *Service, tb table, startBalance int64) {
	t.Helper()
	ctx := context.Background()
	accounts, err := svc.Accounts(ctx, tb.admin)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	txs, err := svc.Transactions(ctx, tb.admin)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if !ledger.Conserved(accounts, startBalance, txs) {
		t.Fatalf("conservation broken: total=%d expected=%d", ledger.Total(accounts), ledger.ExpectedTotal(len(accounts), startBalance, txs))
	}
}

func TestScenarioBonusPaymentUndo(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{StartBalance: amount(1500), StartBonus: amount(200)})

		if got := balances(t, svc, tb.admin)["p1"]; got != 1500 {
			t.Fatalf("start balance = %d", got)
		}
		if _, err := svc.GrantStartBonus(ctx, tb.admin, "p1", ""); err != nil {
			t.Fatalf("bonus: %v", err)
		}
		if got := balances(t, svc, tb.admin)["p1"]; got != 1700 {
			t.Fatalf("after bonus = %d, want 1700", got)
		}
		assertConserved(t, svc, tb, 1500)

		res, err := svc.Transfer(ctx, tb.p1, ledger.Bank(), 700, "")
		if err != nil {
			t.Fatalf("to bank: %v", err)
		}
		if res.Transaction == nil || res.Transaction.Kind() != ledger.KindToBank {
			t.Fatalf("unexpected result: %+v", res)
		}
		if got := balances(t, svc, tb.admin)["p1"]; got != 1000 {
			t.Fatalf("after payment = %d, want 1000", got)
		}
		assertConserved(t, svc, tb, 1500)

		if _, err := svc.Undo(ctx, tb.admin, res.TransactionID, ""); err != nil {
			t.Fatalf("undo: %v", err)
		}
		if got := balances(t, svc, tb.admin)["p1"]; got != 1700 {
			t.Fatalf("after undo = %d, want 1700", got)
		}
		txs, err := svc.Transactions(ctx, tb.admin)
		if err != nil {
			t.Fatalf("transactions: %v", err)
		}
		if len(txs) != 1 || txs[0].Kind() != ledger.KindStartBonus {
			t.Fatalf("history after undo = %+v", txs)
		}
		assertConserved(t, svc, tb, 1500)
	})
}

func TestJoinSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{Password: "tajne"})

		if _, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("p2"), 300, ""); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		res, err := svc.JoinSession(ctx, "p1", "Another name", " "+strings.ToLower(tb.id)+" ", "tajne")
		if err != nil {
			t.Fatalf("rejoin: %v", err)
		}
		if res.Created || res.Account.Balance != 1200 || res.Account.Name != "Player p1" {
			t.Fatalf("rejoin changed account: %+v", res)
		}
		if res.Session.Password != "" {
			t.Fatal("player must not see the password")
		}

		tests := []struct {
			name     string
			id       string
			password string
			want     error
		}{
			{"wrong password", tb.id, "nope", ledger.ErrWrongPassword},
			{"unknown session", "ZZZZ9", "tajne", ledger.ErrSessionNotFound},
			{"malformed id", "AB", "tajne", ledger.ErrInvalidSession},
		}
		for _, tt := range tests {
			if _, err := svc.JoinSession(ctx, "p3", "P3", tt.id, tt.password); !errors.Is(err, tt.want) {
				t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
			}
		}
		if _, err := svc.JoinSession(ctx, "p3", "  ", tb.id, "tajne"); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("empty name err = %v", err)
		}
	})
}

func TestCreateSessionRetriesOnCollision(t *testing.T) {
	st := memstore.New()
	hub := syncchan.NewHub(st)
	defer hub.Close()
	ids := []string{"AAAAA", "AAAAA", "AAAAA", "BBBBB"}
	var n int32
	svc := NewService(st, hub, syncchan.NewLocalBus(hub.Handle), WithSessionIDs(func() string {
		return ids[atomic.AddInt32(&n, 1)-1]
	}))
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, "a1", CreateSessionRequest{Name: "A"})
	if err != nil || first.ID != "AAAAA" {
		t.Fatalf("first = %+v, err = %v", first, err)
	}
	second, err := svc.CreateSession(ctx, "a2", CreateSessionRequest{Name: "B", StartBalance: amount(2000)})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != "BBBBB" || second.AdminID != "a2" || second.StartBalance != 2000 {
		t.Fatalf("second = %+v", second)
	}
	kept, err := st.GetSession(ctx, "AAAAA")
	if err != nil || kept.AdminID != "a1" {
		t.Fatalf("first session overwritten: %+v err=%v", kept, err)
	}
}

func TestCreateSessionGivesUpAfterAttempts(t *testing.T) {
	st := memstore.New()
	hub := syncchan.NewHub(st)
	defer hub.Close()
	svc := NewService(st, hub, syncchan.NewLocalBus(hub.Handle), WithSessionIDs(func() string { return "CCCCC" }))
	ctx := context.Background()
	if _, err := svc.CreateSession(ctx, "a1", CreateSessionRequest{Name: "A"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.CreateSession(ctx, "a2", CreateSessionRequest{Name: "B"}); !errors.Is(err, ErrNoSessionID) {
		t.Fatalf("err = %v, want ErrNoSessionID", err)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		sess, err := svc.CreateSession(context.Background(), "admin", CreateSessionRequest{Name: "Admin"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if sess.StartBalance != 1500 || sess.StartBonus != 200 {
			t.Fatalf("defaults = %+v", sess)
		}
		if _, err := svc.CreateSession(context.Background(), "admin", CreateSessionRequest{Name: " "}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("empty name err = %v", err)
		}
	})
}

func TestOperationErrors(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{})

		tests := []struct {
			name string
			run  func() error
			want error
		}{
			{"overdraw", func() error {
				_, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("p2"), 1501, "")
				return err
			}, ledger.ErrInsufficientFunds},
			{"zero", func() error {
				_, err := svc.Transfer(ctx, tb.p1, ledger.Bank(), 0, "")
				return err
			}, ledger.ErrInvalidAmount},
			{"unknown target", func() error {
				_, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("ghost"), 1, "")
				return err
			}, ledger.ErrUnknownAccount},
			{"player admin add", func() error {
				_, err := svc.AdminAdd(ctx, tb.p1, "p1", 100, "")
				return err
			}, ledger.ErrNotAuthorized},
			{"player bonus", func() error {
				_, err := svc.GrantStartBonus(ctx, tb.p2, "p2", "")
				return err
			}, ledger.ErrNotAuthorized},
			{"player undo", func() error {
				_, err := svc.Undo(ctx, tb.p1, "missing", "")
				return err
			}, ledger.ErrNotAuthorized},
			{"undo missing", func() error {
				_, err := svc.Undo(ctx, tb.admin, "missing", "")
				return err
			}, ledger.ErrTransactionNotFound},
			{"unknown session", func() error {
				_, err := svc.Transfer(ctx, ledger.SessionContext{SessionID: "QQQQQ", PrincipalID: "p1"}, ledger.Bank(), 1, "")
				return err
			}, ledger.ErrSessionNotFound},
		}
		for _, tt := range tests {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
			}
		}
		assertConserved(t, svc, tb, 1500)
	})
}

func TestReplayedRequestAppliesOnce(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{})

		first, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("p2"), 250, "req-1")
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		second, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("p2"), 250, "req-1")
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if !second.Replayed || second.TransactionID != first.TransactionID {
			t.Fatalf("second = %+v, want replay of %s", second, first.TransactionID)
		}
		if got := balances(t, svc, tb.admin)["p1"]; got != 1250 {
			t.Fatalf("p1 = %d, want 1250", got)
		}
	})
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{})

		var ok, rejected int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("p2"), 100, fmt.Sprintf("r%d", i))
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, ledger.ErrInsufficientFunds):
					atomic.AddInt32(&rejected, 1)
				default:
					t.Errorf("transfer %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()
		if ok != 15 || rejected != 5 {
			t.Fatalf("ok=%d rejected=%d, want 15/5", ok, rejected)
		}
		b := balances(t, svc, tb.admin)
		if b["p1"] != 0 || b["p2"] != 3000 {
			t.Fatalf("balances = %+v", b)
		}
		assertConserved(t, svc, tb, 1500)
	})
}

func TestPlayerSeesOnlyOwnTransactions(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{Password: "x"})
		if _, err := svc.AdminAdd(ctx, tb.admin, "p1", 50, ""); err != nil {
			t.Fatalf("admin add: %v", err)
		}
		if _, err := svc.Transfer(ctx, tb.p2, ledger.Bank(), 10, ""); err != nil {
			t.Fatalf("to bank: %v", err)
		}
		mine, err := svc.Transactions(ctx, tb.p1)
		if err != nil {
			t.Fatalf("transactions: %v", err)
		}
		if len(mine) != 1 || mine[0].Kind() != ledger.KindAdminAdd {
			t.Fatalf("p1 history = %+v", mine)
		}
		all, err := svc.Transactions(ctx, tb.admin)
		if err != nil || len(all) != 2 {
			t.Fatalf("admin history = %+v err=%v", all, err)
		}
		view, err := svc.Session(ctx, tb.admin)
		if err != nil || view.Session.Password != "x" {
			t.Fatalf("admin view = %+v err=%v", view, err)
		}
		if _, err := svc.Transactions(ctx, ledger.SessionContext{SessionID: tb.id, PrincipalID: "outsider"}); !errors.Is(err, ledger.ErrNotAuthorized) {
			t.Fatalf("outsider err = %v", err)
		}
	})
}

func TestSubscribersReceiveCommittedChanges(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, hub *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{})

		sub, err := svc.Subscribe(ctx, tb.p2, 0)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Close()
		if sub.View() != syncchan.ViewPlayer {
			t.Fatalf("view = %s", sub.View())
		}
		first := <-sub.C()
		if !first.Initial || len(first.Changes) != 3 {
			t.Fatalf("first batch = %+v", first)
		}
		res, err := svc.Transfer(ctx, tb.p1, ledger.AccountOf("p2"), 40, "")
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
		select {
		case b := <-sub.C():
			last := b.Changes[len(b.Changes)-1]
			if last.Transaction == nil || last.Transaction.ID != res.TransactionID {
				t.Fatalf("batch = %+v", b)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no live batch")
		}

		adminSub, err := svc.Subscribe(ctx, tb.admin, 0)
		if err != nil {
			t.Fatalf("admin subscribe: %v", err)
		}
		defer adminSub.Close()
		if adminSub.View() != syncchan.ViewAdmin {
			t.Fatalf("admin view = %s", adminSub.View())
		}
		if err := svc.Resync(ctx, tb.p1); !errors.Is(err, ledger.ErrNotAuthorized) {
			t.Fatalf("player resync err = %v", err)
		}
		if err := svc.Resync(ctx, tb.admin); err != nil {
			t.Fatalf("resync: %v", err)
		}
		for range sub.C() {
		}
		if !errors.Is(sub.Err(), syncchan.ErrResync) {
			t.Fatalf("sub err = %v", sub.Err())
		}
		if hub.Subscribers(tb.id) != 0 {
			t.Fatalf("subscribers left: %d", hub.Subscribers(tb.id))
		}
	})
}

func TestResetSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{})
		sub, err := svc.Subscribe(ctx, tb.p1, 0)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}

		if err := svc.ResetSession(ctx, tb.p1, tb.id); !errors.Is(err, ledger.ErrNotAuthorized) {
			t.Fatalf("player reset err = %v", err)
		}
		if err := svc.ResetSession(ctx, tb.admin, "WRONG"); !errors.Is(err, ledger.ErrConfirmationRequired) {
			t.Fatalf("unconfirmed reset err = %v", err)
		}
		if err := svc.ResetSession(ctx, tb.admin, tb.id); err != nil {
			t.Fatalf("reset: %v", err)
		}
		for range sub.C() {
		}
		if !errors.Is(sub.Err(), syncchan.ErrSessionReset) {
			t.Fatalf("sub err = %v", sub.Err())
		}
		if _, err := svc.JoinSession(ctx, "p1", "P1", tb.id, ""); !errors.Is(err, ledger.ErrSessionNotFound) {
			t.Fatalf("join after reset err = %v", err)
		}
	})
}

func TestDisplayNameNormalizes(t *testing.T) {
	if got := displayName("  Zděnek "); got != "Zděnek" {
		t.Fatalf("displayName = %q, want NFC form", got)
	}
}

func TestExplicitZeroStartConfigIsKept(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *syncchan.Hub) {
		ctx := context.Background()
		tb := setupTable(t, svc, CreateSessionRequest{StartBalance: amount(0), StartBonus: amount(0)})

		view, err := svc.Session(ctx, tb.admin)
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		if view.Session.StartBalance != 0 || view.Session.StartBonus != 0 {
			t.Fatalf("config = %+v, want zeros kept", view.Session)
		}
		for id, b := range balances(t, svc, tb.admin) {
			if b != 0 {
				t.Fatalf("%s starts with %d", id, b)
			}
		}
		if _, err := svc.GrantStartBonus(ctx, tb.admin, "p1", ""); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("zero bonus grant err = %v, want ErrInvalidAmount", err)
		}
		if _, err := svc.CreateSession(ctx, "admin", CreateSessionRequest{Name: "A", StartBonus: amount(-1)}); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("negative bonus err = %v", err)
		}
	})
}
