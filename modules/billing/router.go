package billing

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// RouterOptions configures the billing module router.
type RouterOptions struct {
	// HealthChecks are probed by GET /healthz; with none the endpoint is a
	// plain liveness probe.
	HealthChecks []func(context.Context) error
}

// Router assembles the billing module's HTTP surface:
//
//	POST /subscription               create (authenticated)
//	POST /subscription/cancel        cancel at period end
//	POST /subscription/resume        clear a scheduled cancellation
//	POST /subscription/change-plan   switch price
//	GET  /subscription/details       read model with payment method and invoices
//	GET  /admin/subscribers          paginated subscriber listing (admin)
//	POST /admin/users/{userID}/override  manual access grant (admin)
//	POST /webhooks/billing           provider event ingress (signature auth)
//	GET  /healthz                    liveness/readiness probe
func Router(svc subscription.Service, auth *Authenticator, log *slog.Logger, opts RouterOptions) chi.Router {
	if svc == nil {
		panic("billing: subscription.Service is required")
	}
	if auth == nil {
		panic("billing: Authenticator is required")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &handlers{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/subscription", func(sub chi.Router) {
		sub.Use(auth.Middleware)
		sub.Post("/", h.createSubscription)
		sub.Post("/cancel", h.cancelSubscription)
		sub.Post("/resume", h.resumeSubscription)
		sub.Post("/change-plan", h.changePlan)
		sub.Get("/details", h.subscriptionDetails)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(auth.Middleware, RequireAdmin)
		admin.Get("/subscribers", h.listSubscribers)
		admin.Post("/users/{userID}/override", h.setOverride)
	})

	// Webhooks authenticate by signature, not bearer token.
	r.Post("/webhooks/billing", h.webhook)

	r.Get("/healthz", httpserver.HealthHandler(log, opts.HealthChecks...))

	return r
}
