package bank

import (
	"context"
	"errors"
	"strings"

	"monobank/internal/ledger"
	"monobank/internal/store"
	"monobank/internal/syncchan"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

const createSessionAttempts = 8

type Service struct {
	store        store.Backend
	hub          *syncchan.Hub
	bus          syncchan.Bus
	engine       *ledger.Engine
	newSessionID func() string
}

type Option func(*Service)

func WithEngine(e *ledger.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(gen func() string) Option {
	return func(s *Service) { s.newSessionID = gen }
}

func NewService(st store.Backend, hub *syncchan.Hub, bus syncchan.Bus, opts ...Option) *Service {
	s := &Service{
		store:        st,
		hub:          hub,
		bus:          bus,
		engine:       ledger.NewEngine(),
		newSessionID: ledger.NewSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a session administered by principalID. A generated
// id that is already taken is replaced by a fresh one.
func (s *Service) CreateSession(ctx context.Context, principalID string, req CreateSessionRequest) (ledger.Session, error) {
	name := displayName(req.Name)
	if principalID == "" || name == "" {
		return ledger.Session{}, ErrInvalidRequest
	}
	startBalance := ledger.StartAmount(req.StartBalance, ledger.DefaultStartBalance)
	startBonus := ledger.StartAmount(req.StartBonus, ledger.DefaultStartBonus)
	if startBalance < 0 || startBonus < 0 {
		return ledger.Session{}, ledger.ErrInvalidAmount
	}
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; attempt < createSessionAttempts; attempt++ {
		sess := ledger.Session{
			ID:           s.newSessionID(),
			AdminID:      principalID,
			Password:     req.Password,
			StartBalance: startBalance,
			StartBonus:   startBonus,
		}
		admin := ledger.Account{
			SessionID:   sess.ID,
			PrincipalID: principalID,
			Name:        name,
			Balance:     sess.StartBalance,
			IsAdmin:     true,
		}
		changes, err := s.store.CreateSession(ctx, sess, admin)
		if errors.Is(err, ledger.ErrSessionExists) {
			log.Warn().Str("session_id", sess.ID).Int("attempt", attempt+1).Msg("session id collision")
			continue
		}
		if err != nil {
			return ledger.Session{}, err
		}
		s.publish(ctx, sess.ID, changes)
		created, err := s.store.GetSession(ctx, sess.ID)
		if err != nil {
			return ledger.Session{}, err
		}
		log.Info().Str("session_id", sess.ID).Str("principal_id", principalID).Msg("session created")
		return created, nil
	}
	return ledger.Session{}, ErrNoSessionID
}

// JoinSession adds principalID to the session. Joining again leaves the
// existing account untouched.
func (s *Service) JoinSession(ctx context.Context, principalID, name, rawSessionID, password string) (JoinResult, error) {
	sessionID, err := ledger.NormalizeSessionID(rawSessionID)
	if err != nil {
		return JoinResult{}, err
	}
	name = displayName(name)
	if principalID == "" || name == "" {
		return JoinResult{}, ErrInvalidRequest
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	if err := sess.CheckPassword(password); err != nil {
		return JoinResult{}, err
	}
	ctx = context.WithoutCancel(ctx)
	acc, created, changes, err := s.store.EnsureAccount(ctx, ledger.Account{
		SessionID:   sessionID,
		PrincipalID: principalID,
		Name:        name,
		Balance:     sess.StartBalance,
	})
	if err != nil {
		return JoinResult{}, err
	}
	if created {
		s.publish(ctx, sessionID, changes)
		log.Info().Str("session_id", sessionID).Str("principal_id", principalID).Msg("player joined")
	}
	return JoinResult{Session: redact(sess, acc), Account: acc, Created: created}, nil
}

// ResetSession deletes the session and everything in it. The caller must be
// the admin and confirm by repeating the session id.
func (s *Service) ResetSession(ctx context.Context, sc ledger.SessionContext, confirm string) error {
	sessionID, err := ledger.NormalizeSessionID(sc.SessionID)
	if err != nil {
		return err
	}
	if c, err := ledger.NormalizeSessionID(confirm); err != nil || c != sessionID {
		return ledger.ErrConfirmationRequired
	}
	sc.SessionID = sessionID
	me, err := s.member(ctx, sc)
	if err != nil {
		return err
	}
	if !me.IsAdmin {
		return ledger.ErrNotAuthorized
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, syncchan.Message{Kind: syncchan.MessageReset, SessionID: sessionID}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("publish reset failed")
		s.hub.Handle(syncchan.Message{Kind: syncchan.MessageReset, SessionID: sessionID})
	}
	log.Info().Str("session_id", sessionID).Str("principal_id", sc.PrincipalID).Msg("session reset")
	return nil
}

// Resync asks every subscriber of the session to re-subscribe.
func (s *Service) Resync(ctx context.Context, sc ledger.SessionContext) error {
	me, err := s.member(ctx, sc)
	if err != nil {
		return err
	}
	if !me.IsAdmin {
		return ledger.ErrNotAuthorized
	}
	return s.bus.Publish(ctx, syncchan.Message{Kind: syncchan.MessageResync, SessionID: sc.SessionID})
}

// Subscribe attaches a live subscriber. The view follows the stored admin
// flag of the principal.
func (s *Service) Subscribe(ctx context.Context, sc ledger.SessionContext, afterSeq int64) (*syncchan.Subscription, error) {
	me, err := s.member(ctx, sc)
	if err != nil {
		return nil, err
	}
	view := syncchan.ViewPlayer
	if me.IsAdmin {
		view = syncchan.ViewAdmin
	}
	return s.hub.Subscribe(ctx, sc, view, afterSeq)
}

func (s *Service) Session(ctx context.Context, sc ledger.SessionContext) (SessionView, error) {
	sess, err := s.store.GetSession(ctx, sc.SessionID)
	if err != nil {
		return SessionView{}, err
	}
	me, err := s.member(ctx, sc)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{Session: redact(sess, me), Me: me}, nil
}

func (s *Service) Accounts(ctx context.Context, sc ledger.SessionContext) ([]ledger.Account, error) {
	if _, err := s.store.GetSession(ctx, sc.SessionID); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := find(accounts, sc.PrincipalID); !ok {
		return nil, ledger.ErrNotAuthorized
	}
	return accounts, nil
}

// Transactions lists the history newest first. Players only see records
// they are a party to.
func (s *Service) Transactions(ctx context.Context, sc ledger.SessionContext) ([]ledger.Transaction, error) {
	me, err := s.member(ctx, sc)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}
	if me.IsAdmin {
		return txs, nil
	}
	out := make([]ledger.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Involves(sc.PrincipalID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// member returns the caller's account, or ErrNotAuthorized when the caller
// has not joined.
func (s *Service) member(ctx context.Context, sc ledger.SessionContext) (ledger.Account, error) {
	if sc.PrincipalID == "" {
		return ledger.Account{}, ledger.ErrNotAuthorized
	}
	if _, err := s.store.GetSession(ctx, sc.SessionID); err != nil {
		return ledger.Account{}, err
	}
	accounts, err := s.store.ListAccounts(ctx, sc.SessionID)
	if err != nil {
		return ledger.Account{}, err
	}
	me, ok := find(accounts, sc.PrincipalID)
	if !ok {
		return ledger.Account{}, ledger.ErrNotAuthorized
	}
	return me, nil
}

func (s *Service) publish(ctx context.Context, sessionID string, changes []ledger.Change) {
	if len(changes) == 0 {
		return
	}
	msg := syncchan.Message{Kind: syncchan.MessageChanges, SessionID: sessionID, Changes: changes}
	if err := s.bus.Publish(ctx, msg); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Int64("seq", changes[len(changes)-1].Seq).Msg("publish changes failed")
		// Local subscribers still get the changes; remote ones recover
		// through gap filling on the next delivery.
		s.hub.Publish(sessionID, changes)
	}
}

func find(accounts []ledger.Account, principalID string) (ledger.Account, bool) {
	for _, a := range accounts {
		if a.PrincipalID == principalID {
			return a, true
		}
	}
	return ledger.Account{}, false
}

// displayName trims and NFC-normalizes a player name so that visually equal
// names compare equal.
func displayName(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// redact hides the password from everyone but the admin.
func redact(sess ledger.Session, viewer ledger.Account) ledger.Session {
	if !viewer.IsAdmin {
		sess.Password = ""
	}
	return sess
}
