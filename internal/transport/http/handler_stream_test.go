package httptransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"monobank/internal/syncchan"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, id, principal string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws?access_token=" + tokenFor(t, principal)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial ws: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) syncchan.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f syncchan.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWSSnapshotThenLiveChanges(t *testing.T) {
	srv := newTestServer(t)
	id := createTable(t, srv)
	conn := dialWS(t, srv, id, "admin")

	first := readFrame(t, conn)
	if first.Type != syncchan.FrameBatch || first.Batch == nil || !first.Batch.Initial {
		t.Fatalf("first frame = %+v", first)
	}

	call(t, srv, http.MethodPost, "/api/sessions/"+id+"/admin-adds", "admin", creditBody{To: "p2", Amount: 300}, nil)

	live := readFrame(t, conn)
	if live.Batch == nil || live.Batch.Initial || live.Batch.Seq <= first.Batch.Seq {
		t.Fatalf("live frame = %+v", live)
	}
}

func TestWSClosedOnReset(t *testing.T) {
	srv := newTestServer(t)
	id := createTable(t, srv)
	conn := dialWS(t, srv, id, "p1")
	readFrame(t, conn)

	if status := call(t, srv, http.MethodDelete, "/api/sessions/"+id+"?confirm="+id, "admin", nil, nil); status != http.StatusOK {
		t.Fatalf("reset status=%d", status)
	}
	f := readFrame(t, conn)
	if f.Type != syncchan.FrameClosed || f.Reason != "session_reset" {
		t.Fatalf("frame after reset = %+v", f)
	}
}

func TestResumeSeq(t *testing.T) {
	tests := []struct {
		header string
		query  string
		want   int64
		ok     bool
	}{
		{"", "", 0, true},
		{"12", "", 12, true},
		{"", "7", 7, true},
		{"3", "9", 3, true},
		{"x", "", 0, false},
		{"-1", "", 0, false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/sessions/ABCDE/events?after="+tt.query, nil)
		if tt.header != "" {
			r.Header.Set("Last-Event-ID", tt.header)
		}
		got, ok := resumeSeq(r)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("resumeSeq(%q,%q) = %d,%v want %d,%v", tt.header, tt.query, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMapError(t *testing.T) {
	status, code := MapError(syncchan.ErrLagging)
	if status != http.StatusInternalServerError || code != "internal_error" {
		t.Fatalf("unknown error mapped to %d %q", status, code)
	}
}
