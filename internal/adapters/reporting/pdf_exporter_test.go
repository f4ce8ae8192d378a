package reporting

import (
	"bytes"
	"testing"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

func sampleView(online bool) domain.DashboardView {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	labels := make([]string, 24)
	values := make([]int64, 24)
	for i := range labels {
		labels[i] = time.Date(2024, 6, 15, i, 0, 0, 0, time.UTC).Format("15:04")
	}
	values[8], values[9], values[10] = 4, 7, 2

	view := domain.DashboardView{
		Status: domain.StatusPanel{
			Current: domain.StateGrabbing,
			Label:   domain.StateGrabbing.Label(),
		},
		Liveness: domain.LivenessState{IsOnline: online, LastSeenAt: &now},
		Gauges: []domain.Gauge{
			{Label: "Sudut 1", Value: 90, Max: 180, Display: "90.00°"},
			{Label: "Sudut 2", Value: 45, Max: 180, Display: "45.00°"},
			{Label: "Sudut 3", Value: 10, Max: 180, Display: "10.00°"},
			{Label: "EE Angle", Value: 0, Max: 180, Display: "0.00°"},
		},
		DetectedObject: &domain.Position{X: 12.5, Y: 3, Z: 0.75},
		Stats: domain.StatCards{
			TotalPicked:   13,
			TotalAttempts: 15,
			SuccessRate:   "86.67",
			PeriodTotal:   13,
			AverageCycle:  "4.2s",
		},
		Chart: domain.ChartView{
			Granularity:  domain.Hourly,
			Title:        "Today",
			DatasetLabel: domain.DatasetLabel,
			Labels:       labels,
			Values:       values,
			SourcePath:   "hourly_chili_picks/2024-06-15",
		},
		GeneratedAt: now,
	}
	if !online {
		view.Status.Current = domain.StateOffline
		view.Status.Label = domain.StateOffline.Label()
		view.Status.Error = "2 minutes 5 seconds"
		view.Status.ShowError = true
		view.Liveness.Reason = "2 minutes 5 seconds"
	}
	return view
}

func TestPDFExporterExportDashboard(t *testing.T) {
	exporter := NewPDFExporter()

	report := Report{
		View: sampleView(false),
		Transitions: []domain.LivenessTransition{
			{Online: false, Reason: "2 minutes 5 seconds", At: time.Now()},
			{Online: true, At: time.Now().Add(-time.Hour)},
		},
	}

	pdfData, err := exporter.ExportDashboard(report)
	if err != nil {
		t.Fatalf("ExportDashboard() error = %v", err)
	}

	if !bytes.HasPrefix(pdfData, []byte("%PDF-")) {
		t.Error("Generated data does not have PDF header")
	}

	// Should be at least 1KB and well under 1MB for a single page
	if len(pdfData) < 1000 {
		t.Errorf("PDF file size %d bytes seems too small", len(pdfData))
	}
	if len(pdfData) > 1000000 {
		t.Errorf("PDF file size %d bytes seems too large", len(pdfData))
	}

	t.Logf("Generated PDF size: %d bytes", len(pdfData))
}

func TestPDFExporterWithMinimalData(t *testing.T) {
	exporter := NewPDFExporter()

	pdfData, err := exporter.ExportDashboard(Report{Title: "Empty", View: domain.DashboardView{}})
	if err != nil {
		t.Fatalf("ExportDashboard() with minimal data error = %v", err)
	}
	if !bytes.HasPrefix(pdfData, []byte("%PDF-")) {
		t.Error("Minimal report does not have PDF header")
	}
}

func TestPDFExporterLongHistory(t *testing.T) {
	exporter := NewPDFExporter()

	transitions := make([]domain.LivenessTransition, 80)
	for i := range transitions {
		transitions[i] = domain.LivenessTransition{Online: i%2 == 0, Reason: "a very long reason that certainly does not fit in the table column width", At: time.Now()}
	}

	pdfData, err := exporter.ExportDashboard(Report{View: sampleView(true), Transitions: transitions})
	if err != nil {
		t.Fatalf("ExportDashboard() error = %v", err)
	}
	if len(pdfData) == 0 {
		t.Fatal("PDF data is empty")
	}
}
