package handlers

import (
	"net/http"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// BuildInfo identifies the running binary in health responses.
type BuildInfo struct {
	Version   string
	CommitSHA string
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	build   BuildInfo
	started time.Time
	clock   func() time.Time
	checks  repositories.HealthRepository
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the version reported by the probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthChecks sets the dependency probes run by /readyz.
func WithHealthChecks(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.checks = repo
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.started = h.clock()
	return h
}

type healthResponse struct {
	Status    string                         `json:"status"`
	Version   string                         `json:"version,omitempty"`
	Commit    string                         `json:"commit,omitempty"`
	Uptime    string                         `json:"uptime"`
	Timestamp string                         `json:"timestamp"`
	Checks    map[string]healthCheckResponse `json:"checks,omitempty"`
}

type healthCheckResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.response(domain.HealthStatusOK))
}

// Readyz probes the dependencies. Degraded dependencies still report ready; errors do not.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.checks == nil {
		writeJSONResponse(w, http.StatusOK, h.response(domain.HealthStatusOK))
		return
	}
	report, err := h.checks.Collect(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, h.response(domain.HealthStatusError))
		return
	}

	payload := h.response(report.Status)
	payload.Checks = make(map[string]healthCheckResponse, len(report.Checks))
	for name, check := range report.Checks {
		payload.Checks[name] = healthCheckResponse{
			Status:    check.Status,
			Detail:    strings.TrimSpace(check.Detail),
			LatencyMS: check.Latency.Milliseconds(),
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

func (h *HealthHandlers) response(status string) healthResponse {
	now := h.clock()
	return healthResponse{
		Status:    status,
		Version:   h.build.Version,
		Commit:    h.build.CommitSHA,
		Uptime:    now.Sub(h.started).Truncate(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}
