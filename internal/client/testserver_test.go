package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"monobank/internal/app/bank"
	"monobank/internal/auth"
	"monobank/internal/config"
	"monobank/internal/store/memstore"
	"monobank/internal/syncchan"
	httptransport "monobank/internal/transport/http"

	"github.com/stretchr/testify/require"
)

var testSigner = func() *auth.Signer {
	s, err := auth.NewSigner("client-test-secret")
	if err != nil {
		panic(err)
	}
	return s
}()

func tokenFor(t *testing.T, principal string) string {
	t.Helper()
	token, err := testSigner.Issue(principal)
	require.NoError(t, err)
	return token
}

// as returns a client authenticated as principal.
func as(t *testing.T, srv *httptest.Server, principal string) *Client {
	t.Helper()
	return New(srv.URL, WithCredentials(principal, tokenFor(t, principal)))
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memstore.New()
	hub := syncchan.NewHub(st)
	svc := bank.NewService(st, hub, syncchan.NewLocalBus(hub.Handle))
	srv := httptest.NewServer(httptransport.NewRouter(svc, st, testSigner, config.ServerConfig{SSEPingInterval: time.Hour}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv
}

type table struct {
	id    string
	admin *Client
	p1    *Client
	p2    *Client
}

func newTable(t *testing.T, srv *httptest.Server) table {
	t.Helper()
	ctx := context.Background()
	admin := as(t, srv, "admin")
	info, err := admin.CreateSession(ctx, CreateSessionParams{Name: "Banker", Password: "pw"})
	require.NoError(t, err)
	tb := table{
		id:    info.Session.ID,
		admin: admin,
		p1:    as(t, srv, "p1"),
		p2:    as(t, srv, "p2"),
	}
	_, err = tb.p1.JoinSession(ctx, tb.id, "Alice", "pw")
	require.NoError(t, err)
	_, err = tb.p2.JoinSession(ctx, tb.id, "Bob", "pw")
	require.NoError(t, err)
	return tb
}
