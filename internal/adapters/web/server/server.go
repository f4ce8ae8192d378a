package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/chira/internal/adapters/reporting"
	"github.com/lcalzada-xor/chira/internal/adapters/web"
	"github.com/lcalzada-xor/chira/internal/adapters/web/handlers"
	"github.com/lcalzada-xor/chira/internal/adapters/web/middleware"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr             string
	Service          ports.DashboardService
	WSManager        *web.WSManager
	DashboardHandler *handlers.DashboardHandler
	ReportHandler    *handlers.ReportHandler

	reportLimiter *middleware.RateLimiter
	logger        *slog.Logger
	srv           *http.Server
}

// NewServer creates a new web server. ws is shared with the dashboard
// service, which publishes views through it.
func NewServer(addr string, service ports.DashboardService, ws *web.WSManager, pdfExporter *reporting.PDFExporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")
	if ws == nil {
		ws = web.NewWSManager(nil, logger)
	}

	return &Server{
		Addr:             addr,
		Service:          service,
		WSManager:        ws,
		DashboardHandler: handlers.NewDashboardHandler(service),
		ReportHandler:    handlers.NewReportHandler(service, pdfExporter, logger),
		reportLimiter:    middleware.NewRateLimiter(reportLimit, reportWindow),
		logger:           logger,
	}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	// "chira-server" is the name of the operation (span)
	return otelhttp.NewHandler(SetupRoutes(s), "chira-server")
}

// Run listens on Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info("Web server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Web server shutdown error", "error", err)
		}
		s.WSManager.Close()
		s.reportLimiter.Stop()
	}()

	s.logger.Info("Web server listening", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}
