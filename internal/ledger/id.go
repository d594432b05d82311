package ledger

import (
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidEntropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
	ulidEntropyMu sync.Mutex
)

// NewID returns a time-sortable transaction id.
func NewID() string {
	ulidEntropyMu.Lock()
	defer ulidEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

const (
	SessionIDLength   = 5
	sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewSessionID draws a short join code. Uniqueness is enforced by the store.
func NewSessionID() string {
	const limit = 256 - 256%len(sessionIDAlphabet)
	out := make([]byte, 0, SessionIDLength)
	buf := make([]byte, 16)
	for len(out) < SessionIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("session id entropy: %v", err))
		}
		for _, b := range buf {
			if int(b) >= limit || len(out) == SessionIDLength {
				continue
			}
			out = append(out, sessionIDAlphabet[int(b)%len(sessionIDAlphabet)])
		}
	}
	return string(out)
}

func NormalizeSessionID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if len(id) != SessionIDLength {
		return "", ErrInvalidSession
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(sessionIDAlphabet, rune(id[i])) {
			return "", ErrInvalidSession
		}
	}
	return id, nil
}
