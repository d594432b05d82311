package bank

import (
	"context"
	"errors"

	"monobank/internal/ledger"
	"monobank/internal/store"

	"github.com/rs/zerolog/log"
)

// decision reads what it needs under lock inside tx and returns the delta.
type decision func(ctx context.Context, tx store.Tx) (ledger.Delta, error)

// Transfer moves amount from the caller to another account or to the bank.
func (s *Service) Transfer(ctx context.Context, sc ledger.SessionContext, to ledger.Endpoint, amount int64, requestID string) (Result, error) {
	return s.run(ctx, sc, requestID, func(ctx context.Context, tx store.Tx) (ledger.Delta, error) {
		ids := []string{sc.PrincipalID}
		if id, ok := to.PrincipalID(); ok {
			ids = append(ids, id)
		}
		snap, err := tx.LockAccounts(ctx, ids...)
		if err != nil {
			return ledger.Delta{}, err
		}
		return s.engine.Transfer(sc, snap, to, amount)
	})
}

func (s *Service) AdminAdd(ctx context.Context, sc ledger.SessionContext, toID string, amount int64, requestID string) (Result, error) {
	return s.run(ctx, sc, requestID, func(ctx context.Context, tx store.Tx) (ledger.Delta, error) {
		snap, err := tx.LockAccounts(ctx, sc.PrincipalID, toID)
		if err != nil {
			return ledger.Delta{}, err
		}
		return s.engine.AdminAdd(sc, snap, toID, amount)
	})
}

func (s *Service) GrantStartBonus(ctx context.Context, sc ledger.SessionContext, toID string, requestID string) (Result, error) {
	return s.run(ctx, sc, requestID, func(ctx context.Context, tx store.Tx) (ledger.Delta, error) {
		snap, err := tx.LockAccounts(ctx, sc.PrincipalID, toID)
		if err != nil {
			return ledger.Delta{}, err
		}
		return s.engine.GrantStartBonus(sc, snap, tx.Session(), toID)
	})
}

// Undo removes a transaction and reverses its balance effects. The record
// row is locked before the accounts, which are locked in id order.
func (s *Service) Undo(ctx context.Context, sc ledger.SessionContext, txID string, requestID string) (Result, error) {
	return s.run(ctx, sc, requestID, func(ctx context.Context, tx store.Tx) (ledger.Delta, error) {
		record, err := tx.LockTransaction(ctx, txID)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			snap, lockErr := tx.LockAccounts(ctx, sc.PrincipalID)
			if lockErr != nil {
				return ledger.Delta{}, lockErr
			}
			return s.engine.Undo(sc, snap, nil)
		}
		if err != nil {
			return ledger.Delta{}, err
		}
		snap, err := tx.LockAccounts(ctx, append(ledger.Principals(*record), sc.PrincipalID)...)
		if err != nil {
			return ledger.Delta{}, err
		}
		return s.engine.Undo(sc, snap, record)
	})
}

// run executes one ledger operation atomically and publishes its changes.
// The write is detached from ctx cancellation so it either commits or fails
// on its own. A request id seen before returns the original outcome.
func (s *Service) run(ctx context.Context, sc ledger.SessionContext, requestID string, decide decision) (Result, error) {
	sessionID, err := ledger.NormalizeSessionID(sc.SessionID)
	if err != nil {
		return Result{}, err
	}
	if sc.PrincipalID == "" {
		return Result{}, ledger.ErrNotAuthorized
	}
	sc.SessionID = sessionID
	ctx = context.WithoutCancel(ctx)

	var res Result
	err = s.store.InTx(ctx, sessionID, func(tx store.Tx) error {
		res = Result{}
		prior, found, err := tx.LookupRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if found {
			res = s.replayed(ctx, tx, prior)
			return nil
		}
		d, err := decide(ctx, tx)
		if err != nil {
			return err
		}
		changes, err := tx.Apply(ctx, d, requestID)
		if err != nil {
			return err
		}
		res.Changes = changes
		res.Anomalies = d.Anomalies
		switch {
		case d.Append != nil:
			res.Transaction = d.Append
			res.TransactionID = d.Append.ID
		case d.Remove != nil:
			res.Transaction = d.Remove
			res.TransactionID = d.Remove.ID
		}
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		// A concurrent request with the same id committed first.
		return s.replay(ctx, sessionID, requestID)
	}
	if err != nil {
		return Result{}, err
	}
	if res.Replayed {
		log.Debug().Str("session_id", sessionID).Str("request_id", requestID).Str("tx_id", res.TransactionID).Msg("request replayed")
		return res, nil
	}
	for _, a := range res.Anomalies {
		log.Warn().Str("session_id", sessionID).Str("tx_id", a.TransactionID).Str("principal_id", a.PrincipalID).
			Int64("amount", a.Amount).Msg("undo skipped adjustment for missing account")
	}
	s.publish(ctx, sessionID, res.Changes)
	return res, nil
}

func (s *Service) replay(ctx context.Context, sessionID, requestID string) (Result, error) {
	var res Result
	err := s.store.InTx(ctx, sessionID, func(tx store.Tx) error {
		prior, found, err := tx.LookupRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !found {
			return ledger.ErrDuplicateRequest
		}
		res = s.replayed(ctx, tx, prior)
		return nil
	})
	return res, err
}

func (s *Service) replayed(ctx context.Context, tx store.Tx, txID string) Result {
	res := Result{TransactionID: txID, Replayed: true}
	if record, err := tx.LockTransaction(ctx, txID); err == nil {
		res.Transaction = record
	}
	return res
}
