package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/commerce/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// API groups in mount order. A group without a registrar answers 501 so clients can tell a
// disabled surface from a typo.
const (
	groupCart     = "cart"
	groupOrders   = "orders"
	groupAdmin    = "admin"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

var groupOrder = []string{groupCart, groupOrders, groupAdmin, groupWebhooks, groupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter mounts /healthz, /readyz and the API groups below /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []middlewareFunc{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, name := range groupOrder {
		cfg.groups[name] = &routeGroup{}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range groupOrder {
			group := cfg.groups[name]
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				group.registrar(sub)
			})
		}
	})

	return r
}

func withGroup(name string, fn func(*routeGroup)) Option {
	return func(cfg *routerConfig) {
		fn(cfg.groups[name])
	}
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func WithCartRoutes(reg RouteRegistrar) Option {
	return withGroup(groupCart, func(g *routeGroup) { g.registrar = reg })
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return withGroup(groupOrders, func(g *routeGroup) { g.registrar = reg })
}

func WithAdminRoutes(reg RouteRegistrar) Option {
	return withGroup(groupAdmin, func(g *routeGroup) { g.registrar = reg })
}

func WithWebhookRoutes(reg RouteRegistrar) Option {
	return withGroup(groupWebhooks, func(g *routeGroup) { g.registrar = reg })
}

// WithWebhookMiddlewares applies middleware to the whole /webhooks group. Carrier signatures
// are checked per route by the webhook handlers instead.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroup(groupWebhooks, func(g *routeGroup) { g.middlewares = append(g.middlewares, mw...) })
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return withGroup(groupInternal, func(g *routeGroup) { g.registrar = reg })
}

// WithInternalMiddlewares guards the /internal group, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroup(groupInternal, func(g *routeGroup) { g.middlewares = append(g.middlewares, mw...) })
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
