package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSTTL     = 15 * time.Minute
	defaultJWKSTimeout = 5 * time.Second
	iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"
)

// JWKSCache holds the signing keys published at a JWKS URL. Keys are refetched once the
// Cache-Control max-age (or the configured TTL) elapses, or when a token names an unknown kid.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  Logger
	now     func() time.Time
	ttl     time.Duration
	timeout time.Duration

	mu      sync.Mutex
	keys    map[string]jose.JSONWebKey
	expires time.Time
}

type JWKSOption func(*JWKSCache)

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     url,
		client:  http.DefaultClient,
		logger:  discardLogger{},
		now:     time.Now,
		ttl:     defaultJWKSTTL,
		timeout: defaultJWKSTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSTTL sets how long keys are trusted when the response carries no max-age.
func WithJWKSTTL(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys == nil || !c.now().Before(c.expires) {
		if err := c.fetchLocked(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := c.keys[kid]; ok {
		return key.Key, nil
	}
	// Unknown kid usually means the issuer rotated keys since the last fetch.
	if err := c.fetchLocked(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.keys[kid]; ok {
		return key.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

func (c *JWKSCache) fetchLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.KeyID != "" && key.Valid() && key.IsPublic() {
			keys[key.KeyID] = key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}

	ttl := c.ttl
	if maxAge, ok := cacheMaxAge(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}
	c.keys = keys
	c.expires = c.now().Add(ttl)
	c.logger.Printf("auth: loaded %d signing keys from %s (ttl %s)", len(keys), c.url, ttl)
	return nil
}

func cacheMaxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

// OIDCValidator authenticates Google service accounts (Cloud Tasks, Scheduler, Pub/Sub push
// or IAP) calling the internal routes.
type OIDCValidator struct {
	keys    *JWKSCache
	logger  Logger
	counter metric.Int64Counter
}

type OIDCOption func(*OIDCValidator)

func NewOIDCValidator(keys *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{keys: keys, logger: discardLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCCounter counts verifications by outcome.
func WithOIDCCounter(counter metric.Int64Counter) OIDCOption {
	return func(v *OIDCValidator) {
		v.counter = counter
	}
}

// RequireOIDC admits RS256 tokens whose audience contains audience and, when issuers is not
// empty, whose issuer is listed. A blank audience rejects every request.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	var allowedIssuers []string
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers = append(allowedIssuers, issuer)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, outcome, status := v.authenticate(r, audience, allowedIssuers)
			v.count(r, outcome)
			if identity == nil {
				code := "invalid_token"
				switch status {
				case http.StatusServiceUnavailable:
					code = "verification_unavailable"
				case http.StatusUnauthorized:
					if outcome == "token_missing" {
						code = "unauthenticated"
					}
				}
				reject(r, w, status, code, "oidc "+strings.ReplaceAll(outcome, "_", " "))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(r.Context(), identity)))
		})
	}
}

func (v *OIDCValidator) authenticate(r *http.Request, audience string, issuers []string) (*ServiceIdentity, string, int) {
	if audience == "" {
		return nil, "audience_not_configured", http.StatusServiceUnavailable
	}
	if v == nil || v.keys == nil {
		return nil, "keys_unavailable", http.StatusServiceUnavailable
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		raw = strings.TrimSpace(r.Header.Get(iapAssertionHeader))
	}
	if raw == "" {
		return nil, "token_missing", http.StatusUnauthorized
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	token, err := parser.ParseWithClaims(raw, claims, v.keys.keyfunc(r.Context()))
	if err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.logger.Printf("auth: oidc keys unavailable: %v", err)
			return nil, "keys_unavailable", http.StatusServiceUnavailable
		}
		v.logger.Printf("auth: oidc token rejected: %v", err)
		return nil, "token_invalid", http.StatusUnauthorized
	}

	issuer, _ := claims["iss"].(string)
	if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
		v.logger.Printf("auth: oidc issuer %q not allowed", issuer)
		return nil, "issuer_mismatch", http.StatusUnauthorized
	}
	if !claims.VerifyAudience(audience, true) {
		v.logger.Printf("auth: oidc audience mismatch, want %q", audience)
		return nil, "audience_mismatch", http.StatusUnauthorized
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	copied := make(map[string]any, len(claims))
	for k, val := range claims {
		copied[k] = val
	}
	return &ServiceIdentity{
		Subject:  subject,
		Email:    email,
		Issuer:   issuer,
		Audience: audience,
		Token:    token,
		Claims:   copied,
	}, "ok", http.StatusOK
}

func (v *OIDCValidator) count(r *http.Request, outcome string) {
	if v == nil || v.counter == nil {
		return
	}
	v.counter.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("kind", "oidc"),
		attribute.String("outcome", outcome),
	))
}
