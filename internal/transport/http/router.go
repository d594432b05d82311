package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"monobank/internal/app/bank"
	"monobank/internal/auth"
	"monobank/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

func NewRouter(svc *bank.Service, st Pinger, signer *auth.Signer, cfg config.ServerConfig) *chi.Mux {
	sessionHandlers := NewSessionHandlers(svc, st, signer)
	ledgerHandlers := NewLedgerHandlers(svc)
	streamHandlers := NewStreamHandlers(svc, cfg.SSEPingInterval)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", sessionHandlers.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Post("/auth/anonymous", sessionHandlers.Anonymous())
		r.Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(PrincipalMiddleware(signer))
			r.Post("/sessions", sessionHandlers.Create())
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", sessionHandlers.Get())
				r.Delete("/", sessionHandlers.Reset())
				r.Post("/join", sessionHandlers.Join())
				r.Get("/accounts", sessionHandlers.Accounts())
				r.Get("/transactions", sessionHandlers.Transactions())
				r.Post("/resync", sessionHandlers.Resync())
				r.Get("/events", streamHandlers.Events())
				r.Get("/ws", streamHandlers.WS())

				r.Group(func(r chi.Router) {
					r.Use(BodyCaptureMiddleware(4096))
					r.Post("/transfers", ledgerHandlers.Transfer())
					r.Post("/admin-adds", ledgerHandlers.AdminAdd())
					r.Post("/start-bonuses", ledgerHandlers.StartBonus())
					r.Delete("/transactions/{tx_id}", ledgerHandlers.Undo())
				})
			})
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
