package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID":      "hc-dev",
		"API_STORAGE_DOCUMENTS_BUCKET": "hc-documents-dev",
	}
}

func withEnv(extra map[string]string) map[string]string {
	env := baseEnv()
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	opts = append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	return Load(context.Background(), opts...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, baseEnv())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != defaultPort || cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "hc-dev" || cfg.PubSub.ProjectID != "hc-dev" {
		t.Errorf("expected projects to cascade from firebase, got %q %q", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.WorkQueueTopic != defaultWorkTopic || cfg.PubSub.DispatchTopic != defaultDispatchTopic {
		t.Errorf("unexpected topics %+v", cfg.PubSub)
	}
	if !cfg.Checkout.AutoConfirm || !cfg.Checkout.AutoFulfill {
		t.Errorf("expected auto confirm and fulfil, got %+v", cfg.Checkout)
	}
	if cfg.Checkout.OrderNumberPrefix != "HC" || cfg.Checkout.ConfirmationRetries != 5 || cfg.Checkout.DefaultCountry != "JP" {
		t.Errorf("unexpected checkout defaults %+v", cfg.Checkout)
	}
	if cfg.PSP.DefaultProvider != "stripe" || cfg.Storage.DocumentLocale != "ja" {
		t.Errorf("unexpected defaults provider=%q locale=%q", cfg.PSP.DefaultProvider, cfg.Storage.DocumentLocale)
	}
	if len(cfg.Discounts.Coupons) != 0 || !cfg.Discounts.ThresholdRate.IsZero() {
		t.Errorf("expected no discounts, got %+v", cfg.Discounts)
	}
	if !slices.Equal(cfg.Security.OIDC.Issuers, []string{googleIssuer, iapIssuer}) {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.TTL != 24*time.Hour || cfg.Idempotency.CleanupBatchSize != 200 {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	env := withEnv(map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_PUBSUB_PROJECT_ID":             "hc-events",
		"API_PSP_STRIPE_API_KEY":            "sm://hc-dev/stripe-key",
		"API_PSP_STRIPE_WEBHOOK_SECRET":     "secret://hc-dev/stripe-webhook",
		"API_PSP_STRIPE_CURRENCIES":         "jpy, eur",
		"API_PSP_DEFAULT_PROVIDER":          "Stripe",
		"API_STORAGE_SIGNER_KEY":            "secret://hc-dev/documents-signer",
		"API_DELIVERY_SHIPPING_COUNTRIES":   "jp,de",
		"API_CHECKOUT_AUTO_CONFIRM":         "false",
		"API_CHECKOUT_DEFAULT_COUNTRY":      "de",
		"API_CHECKOUT_CONFIRMATION_RETRIES": "0",
		"API_DISCOUNT_COUPONS":              "welcome=0.1,vip=0.25",
		"API_DISCOUNT_THRESHOLD_AMOUNT":     "jpy=10000,EUR=10000",
		"API_DISCOUNT_THRESHOLD_RATE":       "0.05",
		"API_DISCOUNT_VOUCHER_AMOUNT":       "JPY=500",
		"API_SECURITY_ENVIRONMENT":          "PROD",
		"API_SECURITY_OIDC_AUDIENCES":       "prod=https://api.hanko-field.example,stg=https://stg.example",
		"API_SECURITY_OIDC_ISSUERS":         "https://issuer.example",
		"API_SECURITY_HMAC_SECRETS":         "Yamato=secret://hc-dev/yamato,sagawa=plain",
		"API_IDEMPOTENCY_TTL":               "2h",
	})
	resolved := make(map[string]bool)
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		resolved[ref] = true
		return "value-of-" + strings.TrimPrefix(ref, "secret://hc-dev/"), nil
	})

	cfg, err := load(t, env, WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.PubSub.ProjectID != "hc-events" {
		t.Errorf("overrides not applied: %+v %+v", cfg.Server, cfg.PubSub)
	}
	if cfg.PSP.StripeAPIKey != "value-of-stripe-key" || cfg.PSP.StripeWebhookSecret != "value-of-stripe-webhook" {
		t.Errorf("stripe secrets not resolved: %+v", cfg.PSP)
	}
	if !resolved["secret://hc-dev/stripe-key"] {
		t.Errorf("expected sm:// reference to be normalised, resolved %v", resolved)
	}
	if cfg.Storage.SignerKey != "value-of-documents-signer" {
		t.Errorf("signer key not resolved: %q", cfg.Storage.SignerKey)
	}
	if !slices.Equal(cfg.PSP.StripeCurrencies, []string{"JPY", "EUR"}) || cfg.PSP.DefaultProvider != "stripe" {
		t.Errorf("unexpected psp config %+v", cfg.PSP)
	}
	if !slices.Equal(cfg.Delivery.ShippingCountries, []string{"JP", "DE"}) {
		t.Errorf("unexpected countries %v", cfg.Delivery.ShippingCountries)
	}
	if cfg.Checkout.AutoConfirm || cfg.Checkout.DefaultCountry != "DE" || cfg.Checkout.ConfirmationRetries != 0 {
		t.Errorf("unexpected checkout config %+v", cfg.Checkout)
	}
	if len(cfg.Discounts.Coupons) != 2 || cfg.Discounts.Coupons[0].Code != "VIP" || !cfg.Discounts.Coupons[0].Rate.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("unexpected coupons %+v", cfg.Discounts.Coupons)
	}
	if cfg.Discounts.ThresholdAmounts["JPY"] != 10000 || cfg.Discounts.ThresholdAmounts["EUR"] != 10000 {
		t.Errorf("unexpected thresholds %v", cfg.Discounts.ThresholdAmounts)
	}
	if !cfg.Discounts.ThresholdRate.Equal(decimal.RequireFromString("0.05")) || cfg.Discounts.VoucherAmounts["JPY"] != 500 {
		t.Errorf("unexpected discounts %+v", cfg.Discounts)
	}
	if cfg.Security.Environment != "prod" || cfg.Security.OIDC.Audience != "https://api.hanko-field.example" {
		t.Errorf("unexpected security config %+v", cfg.Security)
	}
	if !slices.Equal(cfg.Security.OIDC.Issuers, []string{"https://issuer.example"}) {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.Secrets["yamato"] != "value-of-yamato" || cfg.Security.HMAC.Secrets["sagawa"] != "plain" {
		t.Errorf("unexpected hmac secrets %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Idempotency.TTL != 2*time.Hour {
		t.Errorf("unexpected ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadReportsMalformedValues(t *testing.T) {
	env := withEnv(map[string]string{
		"API_SERVER_READ_TIMEOUT":       "soon",
		"API_CHECKOUT_AUTO_FULFILL":     "maybe",
		"API_DISCOUNT_COUPONS":          "WELCOME=1.5",
		"API_DISCOUNT_THRESHOLD_AMOUNT": "JPY=-1",
		"API_DISCOUNT_THRESHOLD_RATE":   "abc",
		"API_CHECKOUT_DEFAULT_COUNTRY":  "JPN",
		"API_SECURITY_HMAC_SECRETS":     "yamato",
	})
	_, err := load(t, env)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{
		"API_SERVER_READ_TIMEOUT",
		"API_CHECKOUT_AUTO_FULFILL",
		"API_DISCOUNT_COUPONS",
		"API_DISCOUNT_THRESHOLD_AMOUNT",
		"API_DISCOUNT_THRESHOLD_RATE",
		"API_SECURITY_HMAC_SECRETS",
		"Checkout.DefaultCountry",
	} {
		if !slices.Contains(verr.Fields(), field) {
			t.Errorf("expected %s in %v", field, verr.Fields())
		}
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := load(t, map[string]string{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"Firebase.ProjectID", "Firestore.ProjectID", "Storage.DocumentsBucket"} {
		if !slices.Contains(verr.Fields(), field) {
			t.Errorf("expected %s in %v", field, verr.Fields())
		}
	}
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	contents := "API_FIREBASE_PROJECT_ID=from-file\nAPI_STORAGE_DOCUMENTS_BUCKET=\"file-bucket\"\nexport API_SERVER_PORT=7070\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-file" || cfg.Storage.DocumentsBucket != "file-bucket" {
		t.Errorf("dotenv values not applied: %+v %+v", cfg.Firebase, cfg.Storage)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("explicit map should win over dotenv, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	boom := errors.New("permission denied")
	env := withEnv(map[string]string{"API_PSP_STRIPE_API_KEY": "secret://hc-dev/stripe-key"})
	_, err := load(t, env, WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", boom
	})))
	var serr *SecretError
	if !errors.As(err, &serr) || serr.Ref != "secret://hc-dev/stripe-key" || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped secret error, got %v", err)
	}
}

func TestLoadWithoutResolverRejectsReferences(t *testing.T) {
	env := withEnv(map[string]string{"API_PSP_STRIPE_API_KEY": "sm://hc-dev/stripe-key"})
	_, err := load(t, env)
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := withEnv(map[string]string{"API_SECURITY_HMAC_SECRETS": "yamato=secret://hc-dev/yamato"})
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) { return " ", nil })

	_, err := load(t, env,
		WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.StripeAPIKey", "Security.HMAC.Secrets[yamato]", "PSP.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if !slices.Equal(missing.Names(), []string{"PSP.StripeAPIKey", "Security.HMAC.Secrets[yamato]"}) {
		t.Errorf("unexpected names %v", missing.Names())
	}
	for _, redacted := range missing.RedactedNames() {
		if len(redacted) != 16 || strings.Contains(err.Error(), "yamato") {
			t.Errorf("secret names leaked: %v", err)
		}
	}
}

func TestLoadBootstrap(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":       "hc-dev",
		"API_FIREBASE_CREDENTIALS_FILE": "/etc/creds.json",
		"API_SECURITY_ENVIRONMENT":      "Stg",
		"API_SECRET_PROJECT_IDS":        "STG=hc-secrets-stg,prod=hc-secrets",
		"API_SECRET_VERSION_PINS":       "sm://hc-dev/Stripe-Key=3,yamato=latest",
		"API_SECURITY_HMAC_SECRETS":     "sagawa=x,Yamato=y",
		"API_BUILD_VERSION":             "1.4.0",
		"API_BUILD_COMMIT_SHA":          "abc123",
	}
	b, err := LoadBootstrap(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if b.Environment != "stg" || b.ProjectID != "hc-dev" || b.CredentialsFile != "/etc/creds.json" {
		t.Errorf("unexpected bootstrap %+v", b)
	}
	if b.Secrets.DefaultProject != "hc-dev" || b.Secrets.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected secrets config %+v", b.Secrets)
	}
	if b.Secrets.ProjectIDs["stg"] != "hc-secrets-stg" {
		t.Errorf("unexpected project map %v", b.Secrets.ProjectIDs)
	}
	if b.Secrets.VersionPins["secret://hc-dev/Stripe-Key"] != "3" || b.Secrets.VersionPins["secret://yamato"] != "latest" {
		t.Errorf("unexpected pins %v", b.Secrets.VersionPins)
	}
	if !slices.Equal(b.Carriers, []string{"sagawa", "yamato"}) {
		t.Errorf("unexpected carriers %v", b.Carriers)
	}
	if b.BuildVersion != "1.4.0" || b.BuildCommit != "abc123" {
		t.Errorf("unexpected build info %+v", b)
	}

	_, err = LoadBootstrap(WithEnvMap(map[string]string{"API_SECRET_VERSION_PINS": "broken"}), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for malformed pins, got %v", err)
	}
}
