// Package config reads the API configuration from the environment, a local .env file and
// Secret Manager references.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Delivery    DeliveryConfig
	Checkout    CheckoutConfig
	Discounts   DiscountConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig points at the database. EmulatorHost wins over FIRESTORE_EMULATOR_HOST.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics background work is published to.
type PubSubConfig struct {
	ProjectID      string
	WorkQueueTopic string
	DispatchTopic  string
}

type StorageConfig struct {
	DocumentsBucket string
	// DocumentLocale selects number formatting in rendered documents.
	DocumentLocale string
	// SignerKey is a service account JSON key for download URLs. Empty means sign as the
	// runtime service account.
	SignerKey string
}

type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeCurrencies    []string
	StripeFee           int64
	DefaultProvider     string
}

type DeliveryConfig struct {
	ShippingFee           int64
	ShippingManualRelease bool
	ShippingCountries     []string
}

// CheckoutConfig controls order progression after checkout.
type CheckoutConfig struct {
	AutoConfirm         bool
	AutoFulfill         bool
	OrderNumberPrefix   string
	ConfirmationRetries int
	DefaultCountry      string
}

// CouponConfig is a statically configured discount code.
type CouponConfig struct {
	Code string
	Rate decimal.Decimal
}

type DiscountConfig struct {
	Coupons []CouponConfig
	// ThresholdAmounts maps a currency to the net item value, in minor units, that
	// activates the threshold discount.
	ThresholdAmounts map[string]int64
	ThresholdRate    decimal.Decimal
	// VoucherAmounts maps a currency to the fixed value of an issued voucher code.
	VoucherAmounts map[string]int64
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification on internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// HMACConfig controls carrier webhook signatures. Secrets is keyed by lower-case carrier.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Bootstrap is what the process needs before secrets can be resolved.
type Bootstrap struct {
	Environment     string
	ProjectID       string
	CredentialsFile string
	Secrets         SecretsConfig
	// Carriers lists the carriers with a configured webhook secret.
	Carriers     []string
	BuildVersion string
	BuildCommit  string
}

// SecretsConfig locates Secret Manager. ProjectIDs and VersionPins may be keyed by environment.
type SecretsConfig struct {
	DefaultProject string
	ProjectIDs     map[string]string
	VersionPins    map[string]string
	FallbackFile   string
}

const (
	defaultEnvFile      = ".env"
	defaultSecretsFile  = ".secrets.local"
	defaultEnvironment  = "local"
	defaultJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer        = "https://accounts.google.com"
	iapIssuer           = "https://cloud.google.com/iap"
	defaultOrderPrefix  = "HC"
	defaultCountry      = "JP"
	defaultLocale       = "ja"
	defaultPSP          = "stripe"
	defaultConfirmTries = 5
)
