package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"monobank/internal/app/bank"
	"monobank/internal/auth"
	"monobank/internal/ledger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SessionHandlers struct {
	svc    *bank.Service
	store  Pinger
	signer *auth.Signer
}

func NewSessionHandlers(svc *bank.Service, st Pinger, signer *auth.Signer) *SessionHandlers {
	return &SessionHandlers{svc: svc, store: st, signer: signer}
}

func (h *SessionHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "store": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "store": "up"})
	}
}

// Anonymous issues a fresh principal id and the token that proves it.
// Clients keep both and send the token as a bearer credential.
func (h *SessionHandlers) Anonymous() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		id, token, err := h.signer.NewPrincipal()
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"principal_id": id, "token": token})
	}
}

type createSessionBody struct {
	Name         string `json:"name"`
	Password     string `json:"password"`
	StartBalance *int64 `json:"start_balance"`
	StartBonus   *int64 `json:"start_bonus"`
}

type sessionResponse struct {
	Session ledger.Session  `json:"session"`
	Account *ledger.Account `json:"account,omitempty"`
	Created bool            `json:"created,omitempty"`
}

func (h *SessionHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricSessionCreateTotal.Add(1)
		var body createSessionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			metricSessionCreateErrors.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		principal, _ := PrincipalFromContext(r.Context())
		sess, err := h.svc.CreateSession(r.Context(), principal, bank.CreateSessionRequest{
			Name:         body.Name,
			Password:     body.Password,
			StartBalance: body.StartBalance,
			StartBonus:   body.StartBonus,
		})
		if err != nil {
			metricSessionCreateErrors.Add(1)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionResponse{Session: sess})
	}
}

type joinBody struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *SessionHandlers) Join() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricSessionJoinTotal.Add(1)
		var body joinBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		sc := sessionContext(r)
		res, err := h.svc.JoinSession(r.Context(), sc.PrincipalID, body.Name, sc.SessionID, body.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: res.Session, Account: &res.Account, Created: res.Created})
	}
}

func (h *SessionHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.svc.Session(r.Context(), sessionContext(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: view.Session, Account: &view.Me})
	}
}

// Reset deletes the session. The confirm query parameter must repeat the
// session id.
func (h *SessionHandlers) Reset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.ResetSession(r.Context(), sessionContext(r), r.URL.Query().Get("confirm")); err != nil {
			writeServiceError(w, err)
			return
		}
		metricSessionResetTotal.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *SessionHandlers) Accounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.svc.Accounts(r.Context(), sessionContext(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (h *SessionHandlers) Transactions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		items, err := h.svc.Transactions(r.Context(), sessionContext(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		total := len(items)
		if offset > total {
			offset = total
		}
		end := offset + limit
		if end > total {
			end = total
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":  items[offset:end],
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func (h *SessionHandlers) Resync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.Resync(r.Context(), sessionContext(r)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
