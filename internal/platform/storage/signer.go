package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2/google"
)

// Signer signs V4 URL payloads as a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with a service account key held in memory.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewKeySigner parses a service account JSON key file.
func NewKeySigner(serviceAccountJSON []byte) (*KeySigner, error) {
	if len(serviceAccountJSON) == 0 {
		return nil, errors.New("storage: service account key is empty")
	}
	cfg, err := google.JWTConfigFromJSON(serviceAccountJSON)
	if err != nil {
		return nil, fmt.Errorf("storage: service account key: %w", err)
	}
	if cfg.Email == "" {
		return nil, errors.New("storage: service account key has no client_email")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("storage: service account private key: %w", err)
	}
	return &KeySigner{email: cfg.Email, key: key}, nil
}

func (s *KeySigner) Email() string { return s.email }

// SignBytes returns an RSASSA-PKCS1-v1_5 SHA-256 signature of payload.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
}
