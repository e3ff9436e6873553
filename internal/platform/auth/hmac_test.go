package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

const carrierSecretName = "carrier-yamato"

type countingProvider struct {
	secrets map[string]string
	calls   int
}

func (p *countingProvider) GetSecret(_ context.Context, name string) (string, error) {
	p.calls++
	secret, ok := p.secrets[name]
	if !ok {
		return "", errors.New("secret not found")
	}
	return secret, nil
}

type signedCallback struct {
	path      string
	body      string
	timestamp string
	nonce     string
	secret    string
	hexDigest bool
}

func (c signedCallback) request() *http.Request {
	req := httptest.NewRequest(http.MethodPost, c.path, bytes.NewReader([]byte(c.body)))
	digest := signPayload([]byte(c.secret), canonicalRequest(req, []byte(c.body), c.timestamp, c.nonce))
	if c.hexDigest {
		req.Header.Set(defaultSignatureHeader, hex.EncodeToString(digest))
	} else {
		req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(digest))
	}
	req.Header.Set(defaultTimestampHeader, c.timestamp)
	req.Header.Set(defaultNonceHeader, c.nonce)
	return req
}

func newTestValidator(now time.Time) (*HMACValidator, *countingProvider) {
	provider := &countingProvider{secrets: map[string]string{carrierSecretName: "s3cret"}}
	return NewHMACValidator(provider, NewInMemoryNonceStore(), WithHMACClock(func() time.Time { return now })), provider
}

func TestRequireHMACAcceptsSignedCallback(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	validator, provider := newTestValidator(now)

	for i, cb := range []signedCallback{
		{path: "/webhooks/carriers/yamato", body: `{"delivery_id":"dlv_1","status":"delivered"}`, timestamp: now.Format(time.RFC3339), nonce: "n-1", secret: "s3cret"},
		{path: "/webhooks/carriers/yamato", body: `{"delivery_id":"dlv_2","status":"returned"}`, timestamp: strconv.FormatInt(now.Unix(), 10), nonce: "n-2", secret: "s3cret", hexDigest: true},
	} {
		rr := httptest.NewRecorder()
		validator.RequireHMAC(carrierSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta, ok := HMACMetadataFromContext(r.Context())
			if !ok || meta.SecretName != carrierSecretName || meta.Nonce != cb.nonce {
				t.Fatalf("unexpected metadata %+v", meta)
			}
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(r.Body)
			if buf.String() != cb.body {
				t.Fatalf("expected body to be readable after verification")
			}
			w.WriteHeader(http.StatusAccepted)
		})).ServeHTTP(rr, cb.request())
		if rr.Code != http.StatusAccepted {
			t.Fatalf("callback %d: expected 202, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}
	if provider.calls != 1 {
		t.Fatalf("expected the secret to be cached, got %d lookups", provider.calls)
	}
}

func TestRequireHMACRejections(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	valid := signedCallback{
		path:      "/webhooks/carriers/yamato",
		body:      `{"status":"delivered"}`,
		timestamp: now.Format(time.RFC3339),
		nonce:     "n-1",
		secret:    "s3cret",
	}

	cases := []struct {
		name   string
		mutate func(*http.Request) *http.Request
		secret string
		status int
		code   string
	}{
		{
			name: "tampered body",
			mutate: func(r *http.Request) *http.Request {
				tampered := httptest.NewRequest(http.MethodPost, r.URL.Path, bytes.NewReader([]byte(`{"status":"returned"}`)))
				tampered.Header = r.Header
				return tampered
			},
			secret: carrierSecretName,
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name: "stale timestamp",
			mutate: func(r *http.Request) *http.Request {
				stale := valid
				stale.timestamp = now.Add(-10 * time.Minute).Format(time.RFC3339)
				return stale.request()
			},
			secret: carrierSecretName,
			status: http.StatusUnauthorized,
			code:   "timestamp_skew",
		},
		{
			name: "missing nonce",
			mutate: func(r *http.Request) *http.Request {
				r.Header.Del(defaultNonceHeader)
				return r
			},
			secret: carrierSecretName,
			status: http.StatusUnauthorized,
			code:   "nonce_missing",
		},
		{
			name:   "unknown secret",
			mutate: func(r *http.Request) *http.Request { return r },
			secret: "carrier-sagawa",
			status: http.StatusServiceUnavailable,
			code:   "verification_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator, _ := newTestValidator(now)
			rr := httptest.NewRecorder()
			validator.RequireHMAC(tc.secret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})).ServeHTTP(rr, tc.mutate(valid.request()))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, got)
			}
		})
	}
}

func TestRequireHMACRejectsReplay(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	validator, _ := newTestValidator(now)
	cb := signedCallback{path: "/webhooks/carriers/yamato", body: `{}`, timestamp: now.Format(time.RFC3339), nonce: "once", secret: "s3cret"}
	handler := validator.RequireHMAC(carrierSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, cb.request())
	if first.Code != http.StatusOK {
		t.Fatalf("expected first delivery to pass, got %d", first.Code)
	}
	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, cb.request())
	if replay.Code != http.StatusUnauthorized || errorCode(t, replay) != "nonce_replay" {
		t.Fatalf("expected replay rejection, got %d %s", replay.Code, replay.Body.String())
	}
}

func TestRequireHMACResolverRejectsUnknownCarrier(t *testing.T) {
	validator, provider := newTestValidator(time.Now())
	rr := httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) { return "", false })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/carriers/unknown", nil))

	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "unknown_provider" {
		t.Fatalf("expected unknown_provider, got %d", rr.Code)
	}
	if provider.calls != 0 {
		t.Fatalf("expected no secret lookup for unknown carriers")
	}
}

func TestInMemoryNonceStoreExpires(t *testing.T) {
	store := NewInMemoryNonceStore()
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := store.UseNonce(ctx, "a", "n", now.Add(time.Minute)); !ok {
		t.Fatalf("expected first use to succeed")
	}
	if ok, _ := store.UseNonce(ctx, "b", "n", now.Add(time.Minute)); !ok {
		t.Fatalf("expected nonces to be scoped")
	}
	if ok, _ := store.UseNonce(ctx, "a", "n", now.Add(time.Minute)); ok {
		t.Fatalf("expected replay within ttl to fail")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := store.UseNonce(ctx, "a", "n", now.Add(time.Minute)); !ok {
		t.Fatalf("expected nonce to be reusable after expiry")
	}
	if _, err := store.UseNonce(ctx, "", "n", now); err == nil {
		t.Fatalf("expected error for blank scope")
	}
}
