package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcalzada-xor/chira/internal/adapters/web/middleware"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.LoggingMiddleware(s.logger)))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/dashboard", s.DashboardHandler.HandleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/liveness", s.DashboardHandler.HandleLiveness).Methods(http.MethodGet)
	api.HandleFunc("/granularity", s.DashboardHandler.HandleGetGranularity).Methods(http.MethodGet)
	api.HandleFunc("/granularity", s.DashboardHandler.HandleSetGranularity).Methods(http.MethodPut)
	api.HandleFunc("/transitions", s.DashboardHandler.HandleTransitions).Methods(http.MethodGet)

	// PDF rendering is comparatively expensive
	api.Handle("/report", middleware.RateLimitMiddleware(s.reportLimiter)(http.HandlerFunc(s.ReportHandler.HandleReport))).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.WSManager.HandleWebSocket).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.DashboardHandler.HandleHealth).Methods(http.MethodGet)

	return r
}

const (
	reportLimit  = 10
	reportWindow = 1 * time.Minute
)
