// Package v1 implements the first version of the forecast service API.
package v1

import (
	"github.com/go-chi/chi/v5"

	"github.com/volarelabs/flightcast/audit"
	"github.com/volarelabs/flightcast/auth"
	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/metrics"
	"github.com/volarelabs/flightcast/submit"
)

type ContextKey string

const (
	// RequestIDContextKey is used to set a request id for tracing
	// in a request context.
	RequestIDContextKey ContextKey = "request_id"
	moduleName                     = "api_v1"
)

// Handler is the forecast service V1 API handler.
type Handler struct {
	ledger     ledger.Client
	pipeline   *submit.Pipeline
	reconciler *audit.Reconciler
	verifier   *auth.Verifier
	logger     *log.Logger
	metrics    metrics.RequestMetrics
}

// NewHandler creates a new V1 API handler.
func NewHandler(lc ledger.Client, pipeline *submit.Pipeline, reconciler *audit.Reconciler, verifier *auth.Verifier, l *log.Logger) *Handler {
	return &Handler{
		ledger:     lc,
		pipeline:   pipeline,
		reconciler: reconciler,
		verifier:   verifier,
		logger:     l.WithModule(moduleName),
		metrics:    metrics.NewDefaultRequestMetrics(moduleName),
	}
}

// RegisterMiddlewares implements the APIHandler interface.
func (h *Handler) RegisterMiddlewares(r chi.Router) {
	r.Use(h.MetricsMiddleware)
}

// RegisterRoutes implements the APIHandler interface.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		// Status endpoint.
		r.Get("/", h.GetStatus)

		// Authentication endpoints.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/nonce", h.IssueNonce)
			r.Post("/login", h.Login)
		})

		// Batch endpoints.
		r.Route("/batches/{batch_hash}", func(r chi.Router) {
			r.Get("/", h.GetBatch)
			r.Get("/timeline", h.GetTimeline)

			// Provider endpoints. Mutations require a bearer session
			// from /auth/login issued to the same address.
			r.Route("/providers/{address}", func(r chi.Router) {
				r.Get("/", h.GetProviderSummary)
				r.Post("/join", h.Join)
				r.Post("/submissions", h.Submit)
				r.Post("/reveals", h.Reveal)
				r.Get("/latest", h.GetLatest)
				r.Get("/selected", h.GetSelected)
			})
		})
	})
}

// Name implements the APIHandler interface.
func (h *Handler) Name() string {
	return "v1"
}
