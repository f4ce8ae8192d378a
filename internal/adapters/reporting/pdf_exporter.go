package reporting

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// Report is what the exporter renders: a dashboard snapshot plus recent
// liveness history.
type Report struct {
	Title       string
	View        domain.DashboardView
	Transitions []domain.LivenessTransition
}

// PDFExporter exports dashboard snapshots to PDF format
type PDFExporter struct{}

// NewPDFExporter creates a new PDF exporter instance
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ExportDashboard renders a one-page report of the dashboard state.
func (e *PDFExporter) ExportDashboard(report Report) ([]byte, error) {
	if report.Title == "" {
		report.Title = "ChiRa Harvesting Report"
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	e.addHeader(pdf, report)
	e.addLiveness(pdf, report.View)
	e.addStatus(pdf, tr, report.View)
	e.addStatistics(pdf, report.View.Stats)
	e.addSeries(pdf, report.View.Chart)
	e.addTransitions(pdf, report.Transitions)
	e.addFooter(pdf, report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, report Report) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 15, report.Title, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", report.View.GeneratedAt.Format("2006-01-02 15:04:05")), "", 1, "L", false, 0, "")
	pdf.Ln(6)
}

// addLiveness draws the online/offline banner.
func (e *PDFExporter) addLiveness(pdf *gofpdf.Fpdf, view domain.DashboardView) {
	r, g, b := e.getLivenessColor(view.Liveness.IsOnline)
	pdf.SetFillColor(r, g, b)
	y := pdf.GetY()
	pdf.Rect(20, y, 170, 22, "F")

	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(25, y+4)
	state := "ONLINE"
	if !view.Liveness.IsOnline {
		state = "OFFLINE"
	}
	pdf.CellFormat(60, 14, state, "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetXY(90, y+4)
	detail := "Receiving live data"
	if !view.Liveness.IsOnline {
		detail = "Last update: " + view.Liveness.Reason
	}
	if view.Liveness.LastSeenAt != nil {
		detail += fmt.Sprintf(" (seen %s)", view.Liveness.LastSeenAt.Format("15:04:05"))
	}
	pdf.CellFormat(95, 14, detail, "", 0, "L", false, 0, "")

	pdf.SetY(y + 27)
	pdf.Ln(3)
}

func (e *PDFExporter) getLivenessColor(online bool) (r, g, b int) {
	if online {
		return 52, 199, 89 // Green
	}
	return 220, 53, 69 // Red
}

func (e *PDFExporter) addStatus(pdf *gofpdf.Fpdf, tr func(string) string, view domain.DashboardView) {
	sectionTitle(pdf, "Robot Status")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(50, 7, "Current state:", "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, view.Status.Label, "", 1, "L", false, 0, "")

	if view.Status.ShowError {
		pdf.SetFont("Arial", "", 11)
		pdf.SetTextColor(220, 53, 69)
		pdf.CellFormat(50, 7, "Error:", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, tr(view.Status.Error), "", 1, "L", false, 0, "")
	}

	if obj := view.DetectedObject; obj != nil {
		pdf.SetFont("Arial", "", 11)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(50, 7, "Detected object:", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, fmt.Sprintf("x=%.1f cm  y=%.1f cm  z=%.1f cm", obj.X, obj.Y, obj.Z), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	for _, g := range view.Gauges {
		pdf.CellFormat(42.5, 8, g.Label, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	for _, g := range view.Gauges {
		pdf.CellFormat(42.5, 8, tr(g.Display), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(14)
}

func (e *PDFExporter) addStatistics(pdf *gofpdf.Fpdf, stats domain.StatCards) {
	sectionTitle(pdf, "Harvest Statistics")

	rows := []struct {
		label string
		value string
	}{
		{"Chili Picked", fmt.Sprintf("%d", stats.TotalPicked)},
		{"Picking Attempts", fmt.Sprintf("%d", stats.TotalAttempts)},
		{"Success Rate", stats.SuccessRate + "%"},
		{"Picked This Period", fmt.Sprintf("%d", stats.PeriodTotal)},
		{"Average Pick Time", stats.AverageCycle},
	}

	colWidth := 85.0
	for i, row := range rows {
		x := 20.0
		if i%2 == 1 {
			x = 105.0
		}
		pdf.SetXY(x, pdf.GetY())

		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(50, 7, row.label+":", "", 0, "L", false, 0, "")

		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(0, 102, 204)
		pdf.CellFormat(colWidth-50, 7, row.value, "", 0, "R", false, 0, "")

		if i%2 == 1 || i == len(rows)-1 {
			pdf.Ln(7)
		}
	}
	pdf.Ln(8)
}

// addSeries lists the non-empty buckets of the chart.
func (e *PDFExporter) addSeries(pdf *gofpdf.Fpdf, chart domain.ChartView) {
	sectionTitle(pdf, fmt.Sprintf("%s - %s", chart.DatasetLabel, chart.Title))

	var rows int
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(40, 8, "Period", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, "Picked", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for i, label := range chart.Labels {
		if i >= len(chart.Values) || chart.Values[i] == 0 {
			continue
		}
		if pdf.GetY() > 260 {
			pdf.AddPage()
		}
		pdf.CellFormat(40, 7, label, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 7, fmt.Sprintf("%d", chart.Values[i]), "1", 1, "C", false, 0, "")
		rows++
	}
	if rows == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No picks recorded in this period", "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)
}

func (e *PDFExporter) addTransitions(pdf *gofpdf.Fpdf, transitions []domain.LivenessTransition) {
	if len(transitions) == 0 {
		return
	}
	if pdf.GetY() > 230 {
		pdf.AddPage()
	}
	sectionTitle(pdf, "Connectivity History")

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(50, 8, "Time", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 8, "State", "1", 0, "C", true, 0, "")
	pdf.CellFormat(90, 8, "Reason", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, t := range transitions {
		if pdf.GetY() > 265 {
			pdf.AddPage()
		}
		state := "Online"
		r, g, b := e.getLivenessColor(t.Online)
		if !t.Online {
			state = "Offline"
		}
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(50, 7, t.At.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(30, 7, state, "1", 0, "C", false, 0, "")
		pdf.SetTextColor(60, 60, 60)

		reason := t.Reason
		if len(reason) > 50 {
			reason = reason[:47] + "..."
		}
		pdf.CellFormat(90, 7, reason, "1", 1, "L", false, 0, "")
	}
	pdf.Ln(5)
}

func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, report Report) {
	pdf.SetY(-20)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)

	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	footer := fmt.Sprintf("ChiRa robot monitor | Chart source: %s", report.View.Chart.SourcePath)
	pdf.CellFormat(0, 5, footer, "", 1, "C", false, 0, "")
}
