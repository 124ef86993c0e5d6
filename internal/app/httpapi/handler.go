// Package httpapi exposes the settlement engines over JSON/HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/ScrapCrafters/scrap_layer/internal/app"
	"github.com/ScrapCrafters/scrap_layer/internal/app/metrics"
	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
	"github.com/ScrapCrafters/scrap_layer/internal/httputil"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
	"github.com/ScrapCrafters/scrap_layer/internal/middleware"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// RateLimit configures per-caller throttling.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Config controls the outer middleware chain.
type Config struct {
	// AuthSecret enables HS256 bearer verification when non-empty.
	AuthSecret  string
	CORSOrigins []string
	// RateLimit is nil when throttling is disabled.
	RateLimit *RateLimit
	Logger    *logging.Logger
}

// publicPaths never require a token.
var publicPaths = []string{"/", "/health", "/metrics"}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// NewHandler returns the full API with its middleware chain.
func NewHandler(application *app.Application, cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	var handler http.Handler = h.router()
	if cfg.RateLimit != nil {
		handler = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log).Handler(handler)
	}
	if cfg.AuthSecret != "" {
		handler = middleware.NewAuthMiddleware(cfg.AuthSecret, log, publicPaths).Handler(handler)
	} else {
		log.Warn("SUPABASE_JWT_SECRET not set; actor ids are taken from request parameters")
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.NewCORSMiddleware(origins).Handler(handler)
}

func (h *handler) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(h.log), middleware.MetricsMiddleware())
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, string(svcerrors.CodeNotFound), "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.HandleFunc("/", h.root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	scrap := r.PathPrefix("/scrap").Subrouter()
	scrap.HandleFunc("/donate", h.donate).Methods(http.MethodPost)
	scrap.HandleFunc("/requests", h.listRequests).Methods(http.MethodGet)
	scrap.HandleFunc("/requests/available", h.availableRequests).Methods(http.MethodGet)
	scrap.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)
	scrap.HandleFunc("/requests/{id}/accept", h.acceptRequest).Methods(http.MethodPut)
	scrap.HandleFunc("/requests/{id}/complete", h.completeRequest).Methods(http.MethodPut)

	ind := r.PathPrefix("/industry").Subrouter()
	ind.HandleFunc("/requirements", h.createRequirement).Methods(http.MethodPost)
	ind.HandleFunc("/requirements", h.listRequirements).Methods(http.MethodGet)
	ind.HandleFunc("/requirements/{id}", h.getRequirement).Methods(http.MethodGet)
	ind.HandleFunc("/requirements/{id}/fulfill", h.fulfillRequirement).Methods(http.MethodPost)
	ind.HandleFunc("/dealers/match/{id}", h.matchDealers).Methods(http.MethodGet)
	ind.HandleFunc("/dealers/{dealer_id}/inventory", h.dealerInventory).Methods(http.MethodGet)
	ind.HandleFunc("/payments", h.listPayments).Methods(http.MethodGet)
	ind.HandleFunc("/payments/{id}", h.getPayment).Methods(http.MethodGet)
	ind.HandleFunc("/payments/{id}/retry", h.retryPayment).Methods(http.MethodPost)

	r.HandleFunc("/products", h.createProduct).Methods(http.MethodPost)
	r.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", h.getProduct).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}/purchase", h.purchaseProduct).Methods(http.MethodPost)

	c := r.PathPrefix("/coins").Subrouter()
	c.HandleFunc("/balance/{user_id}", h.balance).Methods(http.MethodGet)
	c.HandleFunc("/history/{user_id}", h.history).Methods(http.MethodGet)
	c.HandleFunc("/reconcile/{user_id}", h.reconcile).Methods(http.MethodGet)

	r.HandleFunc("/contracts", h.createContract).Methods(http.MethodPost)
	r.HandleFunc("/contracts", h.listContracts).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}", h.getContract).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}/status", h.updateContractStatus).Methods(http.MethodPut)

	return r
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"name":    "ScrapCrafters API",
		"version": Version,
		"status":  "running",
		"endpoints": map[string]string{
			"scrap":     "/scrap",
			"industry":  "/industry",
			"products":  "/products",
			"coins":     "/coins",
			"contracts": "/contracts",
		},
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// actor returns the acting user: the token subject when authenticated,
// otherwise the named request value.
func actor(r *http.Request, field, fallback string) (string, error) {
	if id := middleware.GetUserID(r.Context()); id != "" {
		return id, nil
	}
	if fallback == "" {
		return "", svcerrors.InvalidInput(field, field+" is required")
	}
	return fallback, nil
}

// queryActor resolves the actor from a query parameter.
func queryActor(r *http.Request, param string) (string, error) {
	return actor(r, param, httputil.QueryString(r, param))
}

// fail writes err, logging unexpected failures.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteServiceError(w, err)
}
