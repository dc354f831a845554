package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"notify-service/internal/middleware"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// RouterDeps are the handlers and middleware mounted by the router.
// Limiters may be nil to disable rate limiting.
type RouterDeps struct {
	Send          *SendHandler
	Notifications *NotificationHandler
	Webhooks      *WebhookHandler
	Auth          *middleware.AuthMiddleware
	SendLimiter   *middleware.RateLimiter
	HookLimiter   *middleware.RateLimiter
	Checks        map[string]HealthCheck
}

// Router sets up HTTP routes
type Router struct {
	deps RouterDeps
	log  zerolog.Logger
}

// NewRouter creates a new router
func NewRouter(deps RouterDeps, log zerolog.Logger) *Router {
	return &Router{
		deps: deps,
		log:  log,
	}
}

// Setup configures all routes
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging(rt.log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", rt.ready)

	r.Route("/api/v1/notifications", func(r chi.Router) {
		// Service-to-service routes
		r.Group(func(r chi.Router) {
			r.Use(rt.deps.Auth.APIKey)
			if rt.deps.SendLimiter != nil {
				r.Use(rt.deps.SendLimiter.Limit)
			}

			r.Post("/email", rt.deps.Send.SendEmail)
			r.Post("/sms", rt.deps.Send.SendSMS)
			r.Post("/push", rt.deps.Send.SendPush)
			r.Post("/push/tokens", rt.deps.Send.AddTarget)
			r.Delete("/push/tokens", rt.deps.Send.RemoveTarget)
		})

		// User routes
		r.Group(func(r chi.Router) {
			r.Use(rt.deps.Auth.Auth)

			r.Get("/", rt.deps.Notifications.List)
			r.Delete("/", rt.deps.Notifications.DeleteAll)
			r.Get("/stats", rt.deps.Notifications.Stats)
			r.Patch("/{id}/read", rt.deps.Notifications.MarkRead)
			r.Delete("/{id}", rt.deps.Notifications.Delete)
		})
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if rt.deps.HookLimiter != nil {
			r.Use(rt.deps.HookLimiter.Limit)
		}

		r.With(rt.deps.Auth.APIKey).Post("/delivery", rt.deps.Webhooks.Delivery)
		r.Post("/twilio", rt.deps.Webhooks.Twilio)
		r.Post("/postmark", rt.deps.Webhooks.Postmark)
	})

	return r
}

// ready runs every dependency check and answers 503 when one fails
func (rt *Router) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(rt.deps.Checks))
	for name, check := range rt.deps.Checks {
		if err := check(ctx); err != nil {
			rt.log.Error().Err(err).Str("dependency", name).Msg("readiness check failed")
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	writeJSON(w, status, results)
}
