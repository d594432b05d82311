// Package client talks to the bank server over HTTP and keeps a local
// replica of one session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"monobank/internal/ledger"
)

// APIError is a non-2xx response. It unwraps to the matching ledger error
// when the server code names one.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bank api: %d %s", e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	return knownErrors[e.Code]
}

var knownErrors = func() map[string]error {
	m := map[string]error{}
	for _, err := range []error{
		ledger.ErrInvalidAmount,
		ledger.ErrUnknownAccount,
		ledger.ErrInsufficientFunds,
		ledger.ErrNotAuthorized,
		ledger.ErrTransactionNotFound,
		ledger.ErrSessionNotFound,
		ledger.ErrWrongPassword,
		ledger.ErrStoreUnavailable,
		ledger.ErrSelfTransfer,
		ledger.ErrInvalidSession,
		ledger.ErrSessionExists,
		ledger.ErrConfirmationRequired,
		ledger.ErrDuplicateRequest,
	} {
		m[err.Error()] = err
	}
	return m
}()

type Client struct {
	baseURL   string
	http      *http.Client
	principal string
	token     string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCredentials sets the principal id and the bearer token issued for it.
func WithCredentials(principalID, token string) Option {
	return func(c *Client) { c.setCredentials(principalID, token) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Principal() string { return c.principal }

func (c *Client) Token() string { return c.token }

func (c *Client) setCredentials(principalID, token string) {
	c.principal, c.token = principalID, token
}

// Anonymous obtains a fresh principal id and token from the server and uses
// them for every later request.
func (c *Client) Anonymous(ctx context.Context) (string, error) {
	var out struct {
		PrincipalID string `json:"principal_id"`
		Token       string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/anonymous", nil, &out); err != nil {
		return "", err
	}
	c.setCredentials(out.PrincipalID, out.Token)
	return out.PrincipalID, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

type CreateSessionParams struct {
	Name         string `json:"name"`
	Password     string `json:"password"`
	StartBalance *int64 `json:"start_balance,omitempty"`
	StartBonus   *int64 `json:"start_bonus,omitempty"`
}

type SessionInfo struct {
	Session ledger.Session  `json:"session"`
	Account *ledger.Account `json:"account,omitempty"`
	Created bool            `json:"created,omitempty"`
}

type Result struct {
	TransactionID string              `json:"transaction_id"`
	Transaction   *ledger.Transaction `json:"transaction,omitempty"`
	Replayed      bool                `json:"replayed"`
	Changes       []ledger.Change     `json:"changes"`
	Anomalies     []struct {
		TransactionID string `json:"transaction_id"`
		PrincipalID   string `json:"principal_id"`
		Amount        int64  `json:"amount"`
	} `json:"anomalies,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, p CreateSessionParams) (SessionInfo, error) {
	var out SessionInfo
	err := c.do(ctx, http.MethodPost, "/api/sessions", p, &out)
	return out, err
}

func (c *Client) JoinSession(ctx context.Context, sessionID, name, password string) (SessionInfo, error) {
	var out SessionInfo
	body := map[string]string{"name": name, "password": password}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/join"), body, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, sessionID string) (SessionInfo, error) {
	var out SessionInfo
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &out)
	return out, err
}

func (c *Client) Accounts(ctx context.Context, sessionID string) ([]ledger.Account, error) {
	var out struct {
		Items []ledger.Account `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/accounts"), nil, &out)
	return out.Items, err
}

// Transactions returns the visible history, newest first.
func (c *Client) Transactions(ctx context.Context, sessionID string, limit, offset int) ([]ledger.Transaction, int, error) {
	var out struct {
		Items []ledger.Transaction `json:"items"`
		Total int                  `json:"total"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	path := sessionPath(sessionID, "/transactions")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Items, out.Total, err
}

func (c *Client) Transfer(ctx context.Context, sessionID string, to ledger.Endpoint, amount int64, requestID string) (Result, error) {
	var out Result
	body := map[string]any{"to": to, "amount": amount, "request_id": requestID}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/transfers"), body, &out)
	return out, err
}

func (c *Client) AdminAdd(ctx context.Context, sessionID, toID string, amount int64, requestID string) (Result, error) {
	var out Result
	body := map[string]any{"to": toID, "amount": amount, "request_id": requestID}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/admin-adds"), body, &out)
	return out, err
}

func (c *Client) GrantStartBonus(ctx context.Context, sessionID, toID, requestID string) (Result, error) {
	var out Result
	body := map[string]any{"to": toID, "request_id": requestID}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/start-bonuses"), body, &out)
	return out, err
}

func (c *Client) Undo(ctx context.Context, sessionID, txID, requestID string) (Result, error) {
	var out Result
	path := sessionPath(sessionID, "/transactions/"+url.PathEscape(txID)) + "?request_id=" + url.QueryEscape(requestID)
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

// Reset deletes the session. confirm must repeat the session id.
func (c *Client) Reset(ctx context.Context, sessionID, confirm string) error {
	path := sessionPath(sessionID, "") + "?confirm=" + url.QueryEscape(confirm)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Resync(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/resync"), nil, nil)
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sessions/" + url.PathEscape(strings.ToUpper(strings.TrimSpace(sessionID))) + suffix
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error}
}

// IsRetryable reports whether err may succeed when submitted again with the
// same request id.
func IsRetryable(err error) bool {
	if ledger.IsRetryable(err) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError
}
