package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultWorkTopic     = "commerce-work-queue"
	defaultDispatchTopic = "commerce-dispatch"

	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACNonceHeader     = "X-Signature-Nonce"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute

	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// SecretResolver resolves secret://project/name references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or malformed field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError wraps a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to nothing. Names are redacted
// for logging since they can reveal which carriers are configured.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Clone(e.names)
}

func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	slices.Sort(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv file. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret fields that must resolve to a value, such as
// "PSP.StripeAPIKey" or "Security.HMAC.Secrets[yamato]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// lookup layers the explicit map over the process environment over the dotenv file.
func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	var dotenv map[string]string
	if o.envFile != "" {
		values, err := godotenv.Read(o.envFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", o.envFile, err)
		default:
			dotenv = values
		}
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotenv[key]
		return value, ok
	}, nil
}

// LoadBootstrap reads the settings needed to build the secret fetcher, using the same sources
// and precedence as Load.
func LoadBootstrap(opts ...Option) (Bootstrap, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return Bootstrap{}, err
	}
	r := &reader{lookup: lookup}

	b := Bootstrap{
		Environment:     strings.ToLower(r.str("API_SECURITY_ENVIRONMENT", defaultEnvironment)),
		ProjectID:       r.str("API_FIREBASE_PROJECT_ID", ""),
		CredentialsFile: r.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		Secrets: SecretsConfig{
			ProjectIDs:   r.pairs("API_SECRET_PROJECT_IDS"),
			VersionPins:  make(map[string]string),
			FallbackFile: r.str("API_SECRET_FALLBACK_FILE", defaultSecretsFile),
		},
		BuildVersion: r.str("API_BUILD_VERSION", ""),
		BuildCommit:  r.str("API_BUILD_COMMIT_SHA", ""),
	}
	b.Secrets.DefaultProject = r.str("API_SECRET_DEFAULT_PROJECT_ID", b.ProjectID)

	// Pin references keep their case; only the sm:// shorthand is normalised.
	for _, entry := range r.list("API_SECRET_VERSION_PINS") {
		ref, version, ok := strings.Cut(entry, "=")
		ref, version = strings.TrimSpace(ref), strings.TrimSpace(version)
		if !ok || ref == "" || version == "" {
			r.fail("API_SECRET_VERSION_PINS")
			continue
		}
		if !isSecretReference(ref) {
			ref = "secret://" + ref
		}
		b.Secrets.VersionPins[normalizeSecretReference(ref)] = version
	}
	for carrier := range r.pairs("API_SECURITY_HMAC_SECRETS") {
		b.Carriers = append(b.Carriers, carrier)
	}
	slices.Sort(b.Carriers)

	if len(r.invalid) > 0 {
		return Bootstrap{}, &ValidationError{fields: r.invalid}
	}
	return b, nil
}

// Load builds the runtime configuration from a dotenv file, the environment and Secret
// Manager references. Values that are present but malformed fail validation.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}
	r := &reader{lookup: lookup}

	cfg := Config{
		Server: ServerConfig{
			Port:         r.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  r.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: r.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  r.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       r.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: r.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    r.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: r.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:      r.str("API_PUBSUB_PROJECT_ID", ""),
			WorkQueueTopic: r.str("API_PUBSUB_WORK_QUEUE_TOPIC", defaultWorkTopic),
			DispatchTopic:  r.str("API_PUBSUB_DISPATCH_TOPIC", defaultDispatchTopic),
		},
		Storage: StorageConfig{
			DocumentsBucket: r.str("API_STORAGE_DOCUMENTS_BUCKET", ""),
			DocumentLocale:  r.str("API_STORAGE_DOCUMENT_LOCALE", defaultLocale),
			SignerKey:       r.str("API_STORAGE_SIGNER_KEY", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        r.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: r.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			StripeCurrencies:    upper(r.list("API_PSP_STRIPE_CURRENCIES")),
			StripeFee:           r.integer("API_PSP_STRIPE_FEE", 0),
			DefaultProvider:     strings.ToLower(r.str("API_PSP_DEFAULT_PROVIDER", defaultPSP)),
		},
		Delivery: DeliveryConfig{
			ShippingFee:           r.integer("API_DELIVERY_SHIPPING_FEE", 0),
			ShippingManualRelease: r.boolean("API_DELIVERY_SHIPPING_MANUAL_RELEASE", false),
			ShippingCountries:     upper(r.list("API_DELIVERY_SHIPPING_COUNTRIES")),
		},
		Checkout: CheckoutConfig{
			AutoConfirm:         r.boolean("API_CHECKOUT_AUTO_CONFIRM", true),
			AutoFulfill:         r.boolean("API_CHECKOUT_AUTO_FULFILL", true),
			OrderNumberPrefix:   r.str("API_CHECKOUT_ORDER_NUMBER_PREFIX", defaultOrderPrefix),
			ConfirmationRetries: int(r.integer("API_CHECKOUT_CONFIRMATION_RETRIES", defaultConfirmTries)),
			DefaultCountry:      strings.ToUpper(r.str("API_CHECKOUT_DEFAULT_COUNTRY", defaultCountry)),
		},
		Discounts: DiscountConfig{
			Coupons:          r.coupons("API_DISCOUNT_COUPONS"),
			ThresholdAmounts: r.amounts("API_DISCOUNT_THRESHOLD_AMOUNT"),
			ThresholdRate:    r.rate("API_DISCOUNT_THRESHOLD_RATE"),
			VoucherAmounts:   r.amounts("API_DISCOUNT_VOUCHER_AMOUNT"),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(r.str("API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  r.str("API_SECURITY_OIDC_JWKS_URL", defaultJWKSURL),
				Audience: r.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  r.list("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         r.pairs("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: r.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: r.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     r.str("API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       r.duration("API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        r.duration("API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           r.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              r.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  r.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: int(r.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize)),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{googleIssuer, iapIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = r.pairs("API_SECURITY_OIDC_AUDIENCES")[cfg.Security.Environment]
	}

	if err := validate(cfg, r.invalid); err != nil {
		return Config{}, err
	}

	resolved := make(map[string]string)
	resolve := func(name string, field *string) error {
		value, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
		return nil
	}
	fields := []struct {
		name  string
		field *string
	}{
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
	}
	for _, f := range fields {
		if err := resolve(f.name, f.field); err != nil {
			return Config{}, err
		}
	}
	for carrier, value := range cfg.Security.HMAC.Secrets {
		if err := resolve(fmt.Sprintf("Security.HMAC.Secrets[%s]", carrier), &value); err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[carrier] = value
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config, invalid []string) error {
	fields := slices.Clone(invalid)
	check := func(ok bool, field string) {
		if !ok {
			fields = append(fields, field)
		}
	}
	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(cfg.Storage.DocumentsBucket != "", "Storage.DocumentsBucket")
	check(cfg.PubSub.WorkQueueTopic != "", "PubSub.WorkQueueTopic")
	check(cfg.PubSub.DispatchTopic != "", "PubSub.DispatchTopic")
	check(cfg.Checkout.OrderNumberPrefix != "", "Checkout.OrderNumberPrefix")
	check(cfg.Checkout.ConfirmationRetries >= 0, "Checkout.ConfirmationRetries")
	check(len(cfg.Checkout.DefaultCountry) == 2, "Checkout.DefaultCountry")
	check(cfg.Delivery.ShippingFee >= 0, "Delivery.ShippingFee")
	check(cfg.PSP.StripeFee >= 0, "PSP.StripeFee")
	check(cfg.Idempotency.Header != "", "Idempotency.Header")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(missing, name) || resolved[name] != "" {
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func upper(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToUpper(v)
	}
	return values
}
