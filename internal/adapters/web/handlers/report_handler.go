package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lcalzada-xor/chira/internal/adapters/reporting"
	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

const reportHistory = 50

// ReportHandler renders the dashboard as a downloadable PDF.
type ReportHandler struct {
	Service     ports.DashboardService
	PDFExporter *reporting.PDFExporter
	Logger      *slog.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(service ports.DashboardService, exporter *reporting.PDFExporter, logger *slog.Logger) *ReportHandler {
	if exporter == nil {
		exporter = reporting.NewPDFExporter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{Service: service, PDFExporter: exporter, Logger: logger}
}

func (h *ReportHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	view := h.Service.View()

	transitions, err := h.Service.Transitions(r.Context(), reportHistory)
	if err != nil {
		// Fail graceful
		h.Logger.Warn("Report: transitions unavailable", "error", err)
		transitions = []domain.LivenessTransition{}
	}

	data, err := h.PDFExporter.ExportDashboard(reporting.Report{View: view, Transitions: transitions})
	if err != nil {
		h.Logger.Error("Report generation failed", "error", err)
		http.Error(w, "Failed to generate report", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("chira-report-%s.pdf", view.GeneratedAt.Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
