package api

import (
	"net/http"
	"simcontroller/internal/health"
	"simcontroller/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Simulations   Simulations
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Simulations, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Probes and discovery - no auth required
	mux.HandleFunc("GET /heartbeat", handler.Heartbeat)
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)
	mux.HandleFunc("GET /mappings", handler.ListMappings)
	mux.HandleFunc("GET /mappings/{mappingId}", handler.GetMapping)

	// Simulation endpoints - auth required
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /transformations", auth(http.HandlerFunc(handler.CreateSimulation)))
	mux.Handle("GET /transformations", auth(http.HandlerFunc(handler.ListSimulations)))
	mux.Handle("GET /transformations/{id}", auth(http.HandlerFunc(handler.GetSimulation)))
	mux.Handle("GET /transformations/{id}/state", auth(http.HandlerFunc(handler.GetState)))
	mux.Handle("PATCH /transformations/{id}", auth(http.HandlerFunc(handler.UpdateState)))
	mux.Handle("DELETE /transformations/{id}", auth(http.HandlerFunc(handler.DeleteSimulation)))
	mux.Handle("GET /results", auth(http.HandlerFunc(handler.GetResult)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
