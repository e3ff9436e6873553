// Package storage writes rendered order documents to Cloud Storage and hands out short-lived
// signed download links for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/hanko-field/commerce/internal/platform/auth"
)

const (
	defaultDownloadExpiry = 5 * time.Minute
	maxDownloadExpiry     = 15 * time.Minute
)

var (
	errInvalidBucket    = errors.New("storage: bucket name is required")
	errInvalidObject    = errors.New("storage: object name is required")
	errMethodNotAllowed = errors.New("storage: only GET and HEAD may be signed")
	errExpiryTooLong    = errors.New("storage: expiry exceeds 15 minutes")
)

type signFunc func(ctx context.Context, bucket, object string, opts *gcs.SignedURLOptions) (string, error)

// Client signs download URLs for order documents.
type Client struct {
	sign signFunc
	now  func() time.Time
}

type ClientOption func(*Client)

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient signs with an explicit service account signer.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errors.New("storage: signer is required")
	}
	sign := func(ctx context.Context, bucket, object string, o *gcs.SignedURLOptions) (string, error) {
		o.GoogleAccessID = signer.Email()
		o.SignBytes = func(payload []byte) ([]byte, error) {
			return signer.SignBytes(ctx, payload)
		}
		return gcs.SignedURL(bucket, object, o)
	}
	return newClient(sign, opts), nil
}

// NewDetectedClient signs with whatever credentials the Cloud Storage client runs as. On Cloud
// Run this goes through the IAM signBlob API, so no key file is needed.
func NewDetectedClient(client *gcs.Client, opts ...ClientOption) (*Client, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	sign := func(_ context.Context, bucket, object string, o *gcs.SignedURLOptions) (string, error) {
		return client.Bucket(bucket).SignedURL(object, o)
	}
	return newClient(sign, opts), nil
}

func newClient(sign signFunc, opts []ClientOption) *Client {
	c := &Client{sign: sign, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// DownloadOptions describe one download link.
type DownloadOptions struct {
	Method       string
	ExpiresIn    time.Duration
	Disposition  string
	ResponseType string
	// OwnerID is the user owning the order the document belongs to.
	OwnerID  string
	Identity *auth.Identity
}

type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// DownloadURL signs bucket/object after checking the caller may read the owner's documents.
func (c *Client) DownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	bucket, object = strings.TrimSpace(bucket), strings.TrimSpace(object)
	switch {
	case bucket == "":
		return SignedURLResult{}, errInvalidBucket
	case object == "":
		return SignedURLResult{}, errInvalidObject
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return SignedURLResult{}, errMethodNotAllowed
	}
	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultDownloadExpiry
	}
	if expiry > maxDownloadExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}
	if err := AuthorizeDownload(opts.Identity, opts.OwnerID); err != nil {
		return SignedURLResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SignedURLResult{}, err
	}

	expiresAt := c.now().Add(expiry)
	query := url.Values{}
	if opts.Disposition != "" {
		query.Set("response-content-disposition", opts.Disposition)
	}
	if opts.ResponseType != "" {
		query.Set("response-content-type", opts.ResponseType)
	}
	signed, err := c.sign(ctx, bucket, object, &gcs.SignedURLOptions{
		Scheme:          gcs.SigningSchemeV4,
		Method:          method,
		Expires:         expiresAt,
		QueryParameters: query,
	})
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return SignedURLResult{URL: signed, Method: method, ExpiresAt: expiresAt}, nil
}
