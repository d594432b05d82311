package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"monobank/internal/ledger"

	"gopkg.in/yaml.v3"
)

// LastSession is what the client remembers to rejoin after a restart.
type LastSession struct {
	SessionID   string `yaml:"session_id"`
	Name        string `yaml:"name"`
	Password    string `yaml:"password,omitempty"`
	PrincipalID string `yaml:"principal_id"`
	Token       string `yaml:"token"`
}

// LoadLastSession returns nil without error when no record exists.
func LoadLastSession(path string) (*LastSession, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last session: %w", err)
	}
	var ls LastSession
	if err := yaml.Unmarshal(data, &ls); err != nil {
		return nil, fmt.Errorf("parse last session %s: %w", path, err)
	}
	if ls.SessionID == "" || ls.PrincipalID == "" || ls.Token == "" {
		return nil, nil
	}
	return &ls, nil
}

func SaveLastSession(path string, ls LastSession) error {
	data, err := yaml.Marshal(ls)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ClearLastSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Rejoiner replays the remembered join at most once per process.
type Rejoiner struct {
	path string

	once sync.Once
	info SessionInfo
	ls   *LastSession
	err  error
}

func NewRejoiner(path string) *Rejoiner {
	return &Rejoiner{path: path}
}

// Rejoin joins the remembered session with c, adopting the remembered
// principal. It returns a nil record when there is nothing to rejoin. A
// session that no longer exists, a new password or a token the server no
// longer accepts clears the record.
func (r *Rejoiner) Rejoin(ctx context.Context, c *Client) (*LastSession, SessionInfo, error) {
	r.once.Do(func() {
		ls, err := LoadLastSession(r.path)
		if err != nil || ls == nil {
			r.err = err
			return
		}
		c.setCredentials(ls.PrincipalID, ls.Token)
		info, err := c.JoinSession(ctx, ls.SessionID, ls.Name, ls.Password)
		if errors.Is(err, ledger.ErrSessionNotFound) || errors.Is(err, ledger.ErrWrongPassword) || isUnauthorized(err) {
			_ = ClearLastSession(r.path)
		}
		if err != nil {
			r.err = err
			return
		}
		r.ls, r.info = ls, info
	})
	return r.ls, r.info, r.err
}
