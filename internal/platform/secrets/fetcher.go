// Package secrets resolves secret:// references from configuration against Google Secret
// Manager, with a dotenv fallback file for local development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	latestVersion = "latest"
	meterName     = "github.com/hanko-field/commerce/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves and caches secret values for the lifetime of the process. Values are
// cached per resolved version, so pinning a new version in configuration takes effect on restart.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger

	env         string
	defaultProj string
	projects    map[string]string
	pins        map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	group   singleflight.Group
	mu      sync.RWMutex
	cache   map[string]string
	latency metric.Float64Histogram
}

type settings struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projects     map[string]string
	pins         map[string]string
	fallbackPath string
	meter        metric.Meter
	client       accessClient
	clientOpts   []option.ClientOption
}

type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnvironment selects the entry of the project map, e.g. "prod" or "stg".
func WithEnvironment(env string) Option {
	return func(s *settings) {
		s.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject is used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) {
		s.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environment labels to GCP project ids.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) {
		s.projects = projects
	}
}

// WithVersionPins pins secrets to a version. Keys are references ("secret://name") optionally
// prefixed with an environment label ("prod:secret://name").
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		s.pins = pins
	}
}

// WithFallbackFile names a dotenv file keyed by secret name that answers when Secret Manager
// is unreachable or no project is configured.
func WithFallbackFile(path string) Option {
	return func(s *settings) {
		s.fallbackPath = strings.TrimSpace(path)
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(s *settings) {
		s.meter = meter
	}
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

func withClient(client accessClient) Option {
	return func(s *settings) {
		s.client = client
	}
}

// NewFetcher builds a Fetcher. Failing to create the Secret Manager client is not fatal; the
// fetcher then answers from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{logger: zap.NewNop(), env: "local"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := s.meter.Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}

	f := &Fetcher{
		client:       s.client,
		logger:       s.logger,
		env:          s.env,
		defaultProj:  s.defaultProj,
		projects:     lowerKeys(s.projects),
		pins:         s.pins,
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]string),
		latency:      latency,
	}
	if f.client == nil {
		client, err := newAccessClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

// parseReference accepts secret://name, optionally with ?version= and ?project= overrides.
func parseReference(raw string) (reference, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// Resolve returns the value behind ref.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := ref.canonical + "@" + version

	f.mu.RLock()
	value, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		f.observe(ctx, start, "cache")
		return value, nil
	}

	result, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, ref, version)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = value
		f.mu.Unlock()
		f.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		f.observe(ctx, start, "error")
		return "", err
	}
	return result.(string), nil
}

func (f *Fetcher) load(ctx context.Context, ref reference, version string) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.projects[f.env]
	}
	if project == "" {
		project = f.defaultProj
	}

	if project != "" && f.client != nil {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case !transient(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secret manager unreachable, trying fallback", zap.String("secret", ref.name), zap.Error(err))
	}

	if value, ok := f.fallbackValue(ref.name); ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.canonical)
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) fallbackValue(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secret fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[name]
	return value, ok
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// transient errors allow the fallback file to answer; anything else (NotFound, bad
// arguments) is a configuration mistake and is surfaced.
func transient(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
