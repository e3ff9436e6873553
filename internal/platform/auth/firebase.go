package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/commerce/internal/platform/config"
)

const (
	roleClaim     = "role"
	localeClaim   = "locale"
	emailClaim    = "email"
	verifyTimeout = 5 * time.Second
)

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// ProfileRecorder keeps the locale claim of an authenticated shopper on the user profile so
// carts opened later default to the right country and currency.
type ProfileRecorder interface {
	RecordLocale(ctx context.Context, uid, locale string) error
}

// FirebaseVerifier verifies tokens with the Admin SDK and maps SDK failures to ErrTokenExpired
// and ErrTokenInvalid.
type FirebaseVerifier struct {
	client *firebaseauth.Client
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	token, err := v.client.VerifyIDToken(ctx, idToken)
	switch {
	case err == nil:
		return token, nil
	case firebaseauth.IsIDTokenExpired(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenInvalid(err):
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return nil, err
	}
}

// Authenticator turns verified Firebase tokens into an Identity on the request context.
type Authenticator struct {
	verifier TokenVerifier
	profiles ProfileRecorder
	timeout  time.Duration
	logger   Logger
}

type Option func(*Authenticator)

// WithProfileRecorder records the locale of every authenticated shopper. Failures are logged and
// never reject the request.
func WithProfileRecorder(recorder ProfileRecorder) Option {
	return func(a *Authenticator) {
		a.profiles = recorder
	}
}

func WithAuthenticatorLogger(logger Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: verifyTimeout, logger: discardLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth admits requests carrying a valid bearer ID token. When roles are given
// the identity must hold one of them. Tokens without a role claim act as RoleUser.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(r, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				reject(r, w, http.StatusServiceUnavailable, "verification_unavailable", "authentication unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			defer cancel()

			token, err := a.verifier.VerifyIDToken(ctx, raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					reject(r, w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
				} else {
					reject(r, w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
				}
				return
			}

			identity := identityFromToken(token)
			if len(allowed) > 0 && !identity.hasAllowed(allowed) {
				reject(r, w, http.StatusForbidden, "insufficient_role", "identity does not have a required role")
				return
			}

			if a.profiles != nil && identity.Locale != "" {
				if err := a.profiles.RecordLocale(ctx, identity.UID, identity.Locale); err != nil {
					a.logger.Printf("auth: record locale for %s: %v", identity.UID, err)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:    token.UID,
		Email:  stringClaim(token.Claims, emailClaim),
		Locale: stringClaim(token.Claims, localeClaim),
		Roles:  rolesClaim(token.Claims[roleClaim]),
		token:  token,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleUser}
	}
	return identity
}

func (i *Identity) hasAllowed(allowed map[string]bool) bool {
	for _, role := range i.Roles {
		if allowed[normaliseRole(role)] {
			return true
		}
	}
	return false
}

// rolesClaim accepts "admin", ["staff","admin"] or {"admin": true}.
func rolesClaim(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				candidates = append(candidates, role)
			}
		}
	}

	var roles []string
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		role := normaliseRole(c)
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}
