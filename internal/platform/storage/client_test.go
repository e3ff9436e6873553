package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/hanko-field/commerce/internal/platform/auth"
)

type recordingSigner struct {
	payloads int
}

func (s *recordingSigner) Email() string { return "documents@hanko-prod.iam.gserviceaccount.com" }

func (s *recordingSigner) SignBytes(context.Context, []byte) ([]byte, error) {
	s.payloads++
	return []byte("signature"), nil
}

// Signing checks the expiry against the wall clock, so the fixed time has to be recent.
var downloadTime = time.Now().UTC().Truncate(time.Second)

func newTestClient(t *testing.T) (*Client, *recordingSigner) {
	t.Helper()
	signer := &recordingSigner{}
	client, err := NewClient(signer, WithClock(func() time.Time { return downloadTime }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, signer
}

func TestDownloadURLSignsForOwner(t *testing.T) {
	client, signer := newTestClient(t)

	res, err := client.DownloadURL(context.Background(), "documents", "orders/ord_1/documents/INVOICE-doc_1.html", DownloadOptions{
		OwnerID:      "user-1",
		Identity:     &auth.Identity{UID: "user-1"},
		ResponseType: "text/html",
	})
	if err != nil {
		t.Fatalf("download url: %v", err)
	}
	if res.Method != "GET" || !res.ExpiresAt.Equal(downloadTime.Add(defaultDownloadExpiry)) {
		t.Fatalf("unexpected result %+v", res)
	}
	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if q.Get("X-Goog-Signature") == "" || q.Get("response-content-type") != "text/html" {
		t.Fatalf("unexpected query %s", parsed.RawQuery)
	}
	if q.Get("X-Goog-Credential") == "" {
		t.Fatalf("expected credential scope in %s", parsed.RawQuery)
	}
	if signer.payloads != 1 {
		t.Fatalf("expected one signature, got %d", signer.payloads)
	}
}

func TestDownloadURLRejections(t *testing.T) {
	owner := &auth.Identity{UID: "owner"}
	cases := []struct {
		name string
		opts DownloadOptions
		want error
	}{
		{name: "other shopper", opts: DownloadOptions{OwnerID: "owner", Identity: &auth.Identity{UID: "someone-else"}}, want: ErrPermissionDenied},
		{name: "anonymous", opts: DownloadOptions{OwnerID: "owner"}, want: ErrPermissionDenied},
		{name: "write method", opts: DownloadOptions{OwnerID: "owner", Identity: owner, Method: "PUT"}, want: errMethodNotAllowed},
		{name: "long expiry", opts: DownloadOptions{OwnerID: "owner", Identity: owner, ExpiresIn: time.Hour}, want: errExpiryTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, signer := newTestClient(t)
			_, err := client.DownloadURL(context.Background(), "documents", "object", tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if signer.payloads != 0 {
				t.Fatalf("rejected requests must not be signed")
			}
		})
	}
}

func TestDownloadURLAllowsStaff(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.DownloadURL(context.Background(), "documents", "object", DownloadOptions{
		OwnerID:  "owner",
		Identity: &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}},
		Method:   "head",
	})
	if err != nil {
		t.Fatalf("expected staff download, got %v", err)
	}
}

func TestNewKeySignerSignsWithServiceAccountKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	raw, _ := json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": "documents@hanko-prod.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"token_uri":    "https://oauth2.googleapis.com/token",
	})

	signer, err := NewKeySigner(raw)
	if err != nil {
		t.Fatalf("new key signer: %v", err)
	}
	if signer.Email() != "documents@hanko-prod.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %q", signer.Email())
	}
	sig, err := signer.SignBytes(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	digest := sha256.Sum256([]byte("payload"))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}

	if _, err := NewKeySigner([]byte(`{"type":"service_account","client_email":"x@y","private_key":"nope"}`)); err == nil {
		t.Fatalf("expected invalid key to be rejected")
	}
}
