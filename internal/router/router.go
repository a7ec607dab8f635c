package router

import (
	"net/http"

	"github.com/finanspro/dbo/internal/catalog"
	"github.com/finanspro/dbo/internal/client"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/metrics"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/response"
	"github.com/finanspro/dbo/internal/server"
	"github.com/finanspro/dbo/internal/servicerequest"
	"github.com/finanspro/dbo/internal/subscription"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	Client         *client.ClientHandler
	Ledger         *ledger.LedgerHandler
	Catalog        *catalog.CatalogHandler
	ServiceRequest *servicerequest.RequestHandler
	Subscription   *subscription.SubscriptionHandler
}

func NewRouter(s *server.Server, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	mw := middleware.NewMiddlewares(s)

	// Apply middleware in order
	r.Use(middleware.RequestID)
	r.Use(mw.Tracing.NewRelicMiddleware())
	r.Use(mw.ContextEnhancer.EnhanceContext)
	r.Use(mw.Global.RequestLogger)

	r.Get("/healthz", health(s))
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth.Authenticate)
		r.Use(mw.Tracing.EnhanceTracing)

		// Client onboarding
		r.Route("/clients", func(r chi.Router) {
			r.Post("/", h.Client.Create)
			r.Get("/{id}", h.Client.Get)
		})

		// Cards and transfers
		r.Route("/cards", func(r chi.Router) {
			r.Get("/", h.Ledger.ListCards)
			r.Post("/", h.Ledger.OpenCard)
			r.Post("/{id}/primary", h.Ledger.SetPrimary)
			r.Post("/{id}/block", h.Ledger.Block)
			r.Post("/{id}/deposit", h.Ledger.Deposit)
			r.Get("/{id}/transactions", h.Ledger.History)
		})
		r.With(mw.Idempotency.Middleware).Post("/transfers", h.Ledger.Transfer)

		// Catalog and subscriptions
		r.Get("/categories", h.Catalog.ListCategories)
		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.Catalog.ListServices)
			r.Get("/{id}", h.Catalog.GetService)
			r.With(mw.Idempotency.Middleware).Post("/{id}/connect", h.Subscription.Connect)
			r.Post("/{id}/disconnect", h.Subscription.Disconnect)
		})
		r.Get("/subscriptions", h.Subscription.List)

		// Service request workflow
		r.Route("/service-requests", func(r chi.Router) {
			r.With(mw.SubmitLimit.PerUser("submit"), mw.Idempotency.Middleware).Post("/", h.ServiceRequest.Submit)
			r.Get("/mine", h.ServiceRequest.Mine)
			r.Get("/pending", h.ServiceRequest.Pending)
			r.Get("/{id}", h.ServiceRequest.Get)
			r.Post("/{id}/review", h.ServiceRequest.Review)
		})
	})

	return r
}

// health reports 503 while any backend the API depends on is unreachable.
func health(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := s.Ping(r.Context())

		status := http.StatusOK
		body := make(map[string]string, len(checks))
		for name, err := range checks {
			if err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}

		response.JSON(w, status, body)
	}
}
