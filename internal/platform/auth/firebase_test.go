package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	return s.token, s.err
}

type stubProfileRecorder struct {
	calls  int
	uid    string
	locale string
	err    error
}

func (s *stubProfileRecorder) RecordLocale(_ context.Context, uid, locale string) error {
	s.calls++
	s.uid, s.locale = uid, locale
	return s.err
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func serveWithToken(t *testing.T, authn *Authenticator, header string, roles []string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	authn.RequireFirebaseAuth(roles...)(next).ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthPopulatesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":   []any{"Staff", "admin", "staff"},
			"locale": "ja-JP",
			"email":  " clerk@example.com ",
		},
	}}
	profiles := &stubProfileRecorder{}
	authn := NewAuthenticator(verifier, WithProfileRecorder(profiles))

	called := false
	rr := serveWithToken(t, authn, "bearer token-value", []string{RoleStaff}, func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "clerk@example.com" || identity.Locale != "ja-JP" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 {
			t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
		}
		if !identity.IsStaff() || !identity.Owns("someone-else") {
			t.Fatalf("expected staff to own every order")
		}
		if identity.Token() == nil {
			t.Fatalf("expected decoded token to be kept")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %q", verifier.received)
	}
	if profiles.calls != 1 || profiles.uid != "uid-123" || profiles.locale != "ja-JP" {
		t.Fatalf("expected locale recorded once, got %+v", profiles)
	}
}

func TestRequireFirebaseAuthLogsLocaleFailures(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]any{"locale": "en-US"}}}
	profiles := &stubProfileRecorder{err: errors.New("firestore unavailable")}
	logs := &recordingLogger{}
	authn := NewAuthenticator(verifier, WithProfileRecorder(profiles), WithAuthenticatorLogger(logs))

	rr := serveWithToken(t, authn, "Bearer token", nil, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent {
		t.Fatalf("locale failures must not reject the request, got %d", rr.Code)
	}
	if len(logs.lines) != 1 || !strings.Contains(logs.lines[0], "uid-9") || !strings.Contains(logs.lines[0], "firestore unavailable") {
		t.Fatalf("expected the failure to be logged, got %v", logs.lines)
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		roles    []string
		status   int
		code     string
	}{
		{
			name:     "missing header",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		{
			name:     "basic scheme",
			header:   "Basic dXNlcjpwYXNz",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		{
			name:     "expired",
			header:   "Bearer expired",
			verifier: &stubTokenVerifier{err: fmt.Errorf("%w: exp in the past", ErrTokenExpired)},
			status:   http.StatusUnauthorized,
			code:     "token_expired",
		},
		{
			name:     "invalid",
			header:   "Bearer garbage",
			verifier: &stubTokenVerifier{err: ErrTokenInvalid},
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		{
			name:     "shopper on staff route",
			header:   "Bearer shopper",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{}}},
			roles:    []string{RoleAdmin},
			status:   http.StatusForbidden,
			code:     "insufficient_role",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier)
			rr := serveWithToken(t, authn, tc.header, tc.roles, func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected error %q, got %q", tc.code, got)
			}
		})
	}
}

func TestRequireFirebaseAuthDefaultsToUserRole(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-456", Claims: map[string]any{}}})

	rr := serveWithToken(t, authn, "Bearer t", []string{RoleUser}, func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("expected user role, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRolesClaimShapes(t *testing.T) {
	if got := rolesClaim("Admin"); len(got) != 1 || got[0] != RoleAdmin {
		t.Fatalf("string claim: %v", got)
	}
	if got := rolesClaim(map[string]any{"staff": true, "admin": false, "user": "yes"}); len(got) != 1 || got[0] != RoleStaff {
		t.Fatalf("map claim: %v", got)
	}
	if got := rolesClaim(42); got != nil {
		t.Fatalf("expected nil for unsupported claim, got %v", got)
	}
}

func TestIdentityOwns(t *testing.T) {
	shopper := &Identity{UID: "user-1", Roles: []string{RoleUser}}
	if !shopper.Owns("user-1") {
		t.Fatalf("expected owner access")
	}
	if shopper.Owns("user-2") || shopper.Owns("") {
		t.Fatalf("expected foreign orders to be denied")
	}
	var anonymous *Identity
	if anonymous.Owns("user-1") || anonymous.HasRole(RoleUser) {
		t.Fatalf("expected nil identity to hold nothing")
	}
}
