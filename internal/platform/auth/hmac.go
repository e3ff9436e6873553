package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 10 * time.Minute

	maxSignedBody = 1 << 20
)

// SecretProvider resolves the shared secret of a carrier by name.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type SecretProviderFunc func(context.Context, string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore remembers nonces so a captured callback cannot be replayed.
type NonceStore interface {
	// UseNonce returns false when the nonce was already used within scope.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a process-local NonceStore. Cloud Run instances do not share it, so
// replay protection is per instance.
type InMemoryNonceStore struct {
	mu      sync.Mutex
	nonces  map[string]time.Time
	now     func() time.Time
	swept   time.Time
	sweepAt time.Duration
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{
		nonces:  make(map[string]time.Time),
		now:     time.Now,
		sweepAt: time.Minute,
	}
}

func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.swept) >= s.sweepAt {
		for k, exp := range s.nonces {
			if !exp.After(now) {
				delete(s.nonces, k)
			}
		}
		s.swept = now
	}

	key := scope + "\x00" + nonce
	if exp, ok := s.nonces[key]; ok && exp.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACValidator authenticates carrier callbacks. A carrier signs
//
//	METHOD \n PATH \n TIMESTAMP \n NONCE \n hex(sha256(body))
//
// with HMAC-SHA256 under its shared secret and sends the base64 or hex digest together with
// the timestamp and nonce headers.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore
	logger   Logger
	counter  metric.Int64Counter
	now      func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration

	secrets sync.Map
}

type HMACOption func(*HMACValidator)

func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          discardLogger{},
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACCounter counts verifications by outcome.
func WithHMACCounter(counter metric.Int64Counter) HMACOption {
	return func(v *HMACValidator) {
		v.counter = counter
	}
}

func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders renames the signature, timestamp and nonce headers. Blank names keep the default.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes the verified signature for downstream handlers.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacMetadataKey struct{}

func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacMetadataKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

type signatureError struct {
	status int
	code   string
	msg    string
}

func (e *signatureError) Error() string { return e.code + ": " + e.msg }

func unauthorized(code, msg string) *signatureError {
	return &signatureError{status: http.StatusUnauthorized, code: code, msg: msg}
}

func unavailable(msg string) *signatureError {
	return &signatureError{status: http.StatusServiceUnavailable, code: "verification_unavailable", msg: msg}
}

// RequireHMAC verifies requests against the named secret.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta, err := v.verify(r, secretName)
			if err != nil {
				v.count(r.Context(), err.code)
				reject(r, w, err.status, err.code, err.msg)
				return
			}
			v.count(r.Context(), "ok")
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), hmacMetadataKey{}, meta)))
		})
	}
}

// RequireHMACResolver picks the secret per request, typically from the carrier path segment.
// Requests the resolver does not recognise are rejected before any secret lookup.
func (v *HMACValidator) RequireHMACResolver(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolve == nil {
				reject(r, w, http.StatusServiceUnavailable, "verification_unavailable", "signature secret resolver not configured")
				return
			}
			name, ok := resolve(r)
			if !ok || strings.TrimSpace(name) == "" {
				v.count(r.Context(), "unknown_provider")
				reject(r, w, http.StatusUnauthorized, "unknown_provider", "callback sender not recognised")
				return
			}
			v.RequireHMAC(name)(next).ServeHTTP(w, r)
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, secretName string) (*HMACMetadata, *signatureError) {
	ctx := r.Context()
	if secretName == "" {
		return nil, unavailable("signature secret not configured")
	}
	secret, err := v.secret(ctx, secretName)
	if err != nil {
		v.logger.Printf("auth: signature secret %q unavailable: %v", secretName, err)
		return nil, unavailable("signature secret unavailable")
	}

	header := func(name string) string { return strings.TrimSpace(r.Header.Get(name)) }
	rawSignature, rawTimestamp, nonce := header(v.signatureHeader), header(v.timestampHeader), header(v.nonceHeader)
	switch {
	case rawSignature == "":
		return nil, unauthorized("signature_missing", "signature header missing")
	case rawTimestamp == "":
		return nil, unauthorized("timestamp_missing", "signature timestamp missing")
	case nonce == "":
		return nil, unauthorized("nonce_missing", "signature nonce missing")
	}

	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return nil, unauthorized("timestamp_invalid", "signature timestamp invalid")
	}
	now := v.now()
	if skew := now.Sub(timestamp).Abs(); skew > v.clockSkew {
		return nil, unauthorized("timestamp_skew", "signature timestamp outside allowed window")
	}

	body, err := bufferBody(r)
	if err != nil {
		return nil, &signatureError{status: http.StatusBadRequest, code: "invalid_body", msg: "request body unreadable"}
	}
	signature, err := decodeSignature(rawSignature)
	if err != nil {
		return nil, unauthorized("signature_invalid", "signature encoding invalid")
	}
	if !hmac.Equal(signature, signPayload(secret, canonicalRequest(r, body, rawTimestamp, nonce))) {
		return nil, unauthorized("signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return nil, unavailable("nonce store unavailable")
	}
	fresh, err := v.nonces.UseNonce(ctx, secretName, nonce, now.Add(v.nonceTTL))
	if err != nil {
		v.logger.Printf("auth: nonce store error: %v", err)
		return nil, unavailable("nonce storage error")
	}
	if !fresh {
		return nil, unauthorized("nonce_replay", "duplicate signature nonce")
	}
	return &HMACMetadata{SecretName: secretName, Timestamp: timestamp, Nonce: nonce}, nil
}

func (v *HMACValidator) secret(ctx context.Context, name string) ([]byte, error) {
	if cached, ok := v.secrets.Load(name); ok {
		return cached.([]byte), nil
	}
	if v.provider == nil {
		return nil, errors.New("secret provider not configured")
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("secret is empty")
	}
	v.secrets.Store(name, []byte(raw))
	return []byte(raw), nil
}

func (v *HMACValidator) count(ctx context.Context, outcome string) {
	if v.counter == nil {
		return
	}
	v.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", "hmac"),
		attribute.String("outcome", outcome),
	))
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseSignatureTimestamp accepts RFC 3339 or unix seconds.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func canonicalRequest(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}, "\n"))
}

func signPayload(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
