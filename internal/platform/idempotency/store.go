// Package idempotency makes retried checkout calls safe: the first request carrying an
// Idempotency-Key runs, later requests with the same key receive the stored response.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Outcome tells the middleware what to do with a request after Begin.
type Outcome int

const (
	// Proceed means the key was free and is now held by the caller.
	Proceed Outcome = iota
	// Replay means a completed response is stored for the key.
	Replay
	// InFlight means another request holds the key.
	InFlight
)

// Response is a captured HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Entry is the stored state of a key.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists idempotency entries. Implementations must make Begin atomic.
type Store interface {
	// Begin claims key for fingerprint. A live entry with another fingerprint yields ErrKeyReused.
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	// Complete stores the response for a key claimed by Begin.
	Complete(ctx context.Context, key string, resp Response, now time.Time, ttl time.Duration) error
	// Abandon frees a claimed key so the client may retry.
	Abandon(ctx context.Context, key string) error
	// CleanupExpired deletes up to limit expired entries.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// replayableHeaders drops hop-by-hop and per-response headers before a response is stored.
func replayableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer", "Te":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
