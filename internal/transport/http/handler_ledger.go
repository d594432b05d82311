package httptransport

import (
	"encoding/json"
	"net/http"

	"monobank/internal/app/bank"
	"monobank/internal/ledger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type LedgerHandlers struct {
	svc *bank.Service
}

func NewLedgerHandlers(svc *bank.Service) *LedgerHandlers {
	return &LedgerHandlers{svc: svc}
}

type transferBody struct {
	To        ledger.Endpoint `json:"to"`
	Amount    int64           `json:"amount"`
	RequestID string          `json:"request_id"`
}

type creditBody struct {
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id"`
}

type anomalyResponse struct {
	TransactionID string `json:"transaction_id"`
	PrincipalID   string `json:"principal_id"`
	Amount        int64  `json:"amount"`
}

type ResultResponse struct {
	TransactionID string              `json:"transaction_id"`
	Transaction   *ledger.Transaction `json:"transaction,omitempty"`
	Replayed      bool                `json:"replayed"`
	Changes       []ledger.Change     `json:"changes"`
	Anomalies     []anomalyResponse   `json:"anomalies,omitempty"`
}

func (h *LedgerHandlers) Transfer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body transferBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.fail(w, "transfer", http.StatusBadRequest, "invalid_json")
			return
		}
		if !body.To.Valid() {
			h.fail(w, "transfer", http.StatusBadRequest, ledger.ErrUnknownAccount.Error())
			return
		}
		res, err := h.svc.Transfer(r.Context(), sessionContext(r), body.To, body.Amount, body.RequestID)
		h.respond(w, r, "transfer", res, err)
	}
}

func (h *LedgerHandlers) AdminAdd() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body creditBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.fail(w, "admin_add", http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.AdminAdd(r.Context(), sessionContext(r), body.To, body.Amount, body.RequestID)
		h.respond(w, r, "admin_add", res, err)
	}
}

func (h *LedgerHandlers) StartBonus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body creditBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.fail(w, "start_bonus", http.StatusBadRequest, "invalid_json")
			return
		}
		res, err := h.svc.GrantStartBonus(r.Context(), sessionContext(r), body.To, body.RequestID)
		h.respond(w, r, "start_bonus", res, err)
	}
}

// Undo takes its request id from the request_id query parameter.
func (h *LedgerHandlers) Undo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID := chi.URLParam(r, "tx_id")
		res, err := h.svc.Undo(r.Context(), sessionContext(r), txID, r.URL.Query().Get("request_id"))
		h.respond(w, r, "undo", res, err)
	}
}

func (h *LedgerHandlers) respond(w http.ResponseWriter, r *http.Request, op string, res bank.Result, err error) {
	metricLedgerOpTotal.Add(op, 1)
	if err != nil {
		status, code := MapError(err)
		if status >= http.StatusInternalServerError {
			sc := sessionContext(r)
			log.Error().Err(err).
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("session_id", sc.SessionID).
				Str("principal_id", sc.PrincipalID).
				Str("op", op).
				Msg("ledger operation failed")
		}
		metricLedgerOpErrors.Add(op, 1)
		WriteHTTPError(w, status, code)
		return
	}
	if res.Replayed {
		metricLedgerOpReplayed.Add(1)
	}
	metricLedgerAnomalies.Add(int64(len(res.Anomalies)))
	writeJSON(w, http.StatusOK, toResultResponse(res))
}

func (h *LedgerHandlers) fail(w http.ResponseWriter, op string, status int, code string) {
	metricLedgerOpTotal.Add(op, 1)
	metricLedgerOpErrors.Add(op, 1)
	WriteHTTPError(w, status, code)
}

func toResultResponse(res bank.Result) ResultResponse {
	out := ResultResponse{
		TransactionID: res.TransactionID,
		Transaction:   res.Transaction,
		Replayed:      res.Replayed,
		Changes:       res.Changes,
	}
	if out.Changes == nil {
		out.Changes = []ledger.Change{}
	}
	for _, a := range res.Anomalies {
		out.Anomalies = append(out.Anomalies, anomalyResponse{
			TransactionID: a.TransactionID,
			PrincipalID:   a.PrincipalID,
			Amount:        a.Amount,
		})
	}
	return out
}
