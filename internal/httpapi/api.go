package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"gatherly.app/internal/access"
	"gatherly.app/internal/assign"
	"gatherly.app/internal/auth"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/obs"
	"gatherly.app/internal/space"
	"gatherly.app/internal/subscription"
	"gatherly.app/internal/txn"
)

const serviceName = "gatherly-api"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness reports whether the service can serve, e.g. via a database
// ping. A nil store is always ready.
type Readiness struct {
	Store Pinger
}

func (rp Readiness) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Services are the core components the handlers drive.
type Services struct {
	Spaces        *space.Service
	Items         *item.Service
	Members       *member.Service
	Assignments   *assign.Engine
	Access        *access.Engine
	Subscriptions *subscription.Service
	Users         identity.Directory
	// Tx groups an item write with its mention sync.
	Tx txn.Runner
}

// Options tune the HTTP layer.
type Options struct {
	Version        string
	Issuer         *auth.Issuer
	DevTokens      bool
	RateBurst      int
	RatePerSec     float64
	AllowedOrigins []string
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	svc     Services
	ready   Readiness
	opts    Options
	limiter *RateLimiter
	logger  *zap.Logger
}

func New(svc Services, rp Readiness, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = obs.Logger()
	}
	a := &API{
		svc:     svc,
		ready:   rp,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateBurst, opts.RatePerSec),
		logger:  logger,
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, Logging(a.logger), SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           600,
	}))
	r.Use(a.limiter.Middleware, MaxBodyBytes(a.opts.MaxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", a.handleAuthToken)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/me/subscription", a.handleAssignPlan)

			r.Get("/spaces", a.handleListSpaces)
			r.Post("/spaces", a.handleCreateSpace)
			r.Route("/spaces/{space}", func(r chi.Router) {
				r.Get("/", a.handleGetSpace)
				r.Put("/", a.handleUpdateSpace)
				r.Delete("/", a.handleDeleteSpace)

				r.Get("/members", a.handleListMembers)
				r.Post("/members", a.handleAddMember)
				r.Get("/members/search", a.handleSearchMembers)
				r.Put("/members/{user}", a.handleUpdateMember)
				r.Delete("/members/{user}", a.handleRemoveMember)

				r.Get("/items", a.handleListItems)
				r.Post("/items", a.handleCreateItem)
				r.Put("/items/{item}", a.handleUpdateItem)
				r.Delete("/items/{item}", a.handleDeleteItem)
				r.Get("/items/{item}/assignees", a.handleListAssignees)
				r.Delete("/items/{item}/assignees/{user}", a.handleRemoveAssignee)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// Close stops background work owned by the API.
func (a *API) Close() {
	a.limiter.Stop()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
