// Package api defines API handlers for the forecast service API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/volarelabs/flightcast/log"
)

const moduleName = "api"

// APIHandler is a handler that handles API requests.
type APIHandler interface {
	// RegisterMiddlewares registers the middlewares for this API handler.
	RegisterMiddlewares(chi.Router)

	// RegisterRoutes registers routes for this API handler.
	RegisterRoutes(chi.Router)

	// Name returns the name of this API handler.
	Name() string
}

// CorsMiddleware allows browser clients to read timelines and post
// submissions. Credentials stay disallowed; authentication is the
// signed login message, not cookies.
var CorsMiddleware func(http.Handler) http.Handler = cors.New(cors.Options{
	AllowedMethods: []string{
		http.MethodGet,
		http.MethodPost,
	},
	AllowedHeaders:   []string{"Content-Type"},
	AllowCredentials: false,
}).Handler

// ForecastAPI is the HTTP API of the forecast service.
type ForecastAPI struct {
	router   *chi.Mux
	handlers []APIHandler
	logger   *log.Logger
}

// NewForecastAPI creates a new forecast API over the given handlers.
func NewForecastAPI(handlers []APIHandler, l *log.Logger) *ForecastAPI {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)
	for _, handler := range handlers {
		handler.RegisterMiddlewares(r)
	}
	for _, handler := range handlers {
		handler.RegisterRoutes(r)
	}

	return &ForecastAPI{
		router:   r,
		handlers: handlers,
		logger:   l.WithModule(moduleName),
	}
}

// Router gets the router for this API.
func (a *ForecastAPI) Router() *chi.Mux {
	return a.router
}
