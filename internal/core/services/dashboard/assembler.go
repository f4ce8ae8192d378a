package dashboard

import (
	"fmt"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// Assemble maps a state onto the view model. Deterministic for a given state.
func Assemble(s State) domain.DashboardView {
	view := domain.DashboardView{
		Status:      statusPanel(s.Robot),
		Liveness:    s.Liveness,
		Gauges:      gauges(s.Robot),
		Stats:       statCards(s),
		Chart:       chart(s),
		GeneratedAt: s.Now,
	}
	if s.Robot.DetectedObject != nil {
		obj := *s.Robot.DetectedObject
		view.DetectedObject = &obj
	}
	if s.Liveness.LastSeenAt != nil {
		seen := *s.Liveness.LastSeenAt
		view.Liveness.LastSeenAt = &seen
	}
	return view
}

func statusPanel(r domain.RobotStatus) domain.StatusPanel {
	panel := domain.StatusPanel{
		Current: r.Status,
		Label:   r.Status.Label(),
		Error:   r.Error,
	}
	panel.ShowError = r.Status == domain.StateOffline && r.Error != ""

	for _, st := range domain.RobotStates() {
		panel.Items = append(panel.Items, domain.StatusItem{
			ID:     st,
			Label:  st.Label(),
			Active: st == r.Status,
		})
	}
	return panel
}

func gauges(r domain.RobotStatus) []domain.Gauge {
	return []domain.Gauge{
		newGauge("Sudut 1", r.Joint1),
		newGauge("Sudut 2", r.Joint2),
		newGauge("Sudut 3", r.Joint3),
		newGauge("EE Angle", r.EEAngle),
	}
}

func newGauge(label string, value float64) domain.Gauge {
	frac := value / domain.GaugeMax
	switch {
	case frac < 0:
		frac = 0
	case frac > 1:
		frac = 1
	}
	return domain.Gauge{
		Label:    label,
		Value:    value,
		Max:      domain.GaugeMax,
		Display:  fmt.Sprintf("%.2f°", value),
		Fraction: frac,
	}
}

func statCards(s State) domain.StatCards {
	return domain.StatCards{
		TotalPicked:   s.Stats.TotalPicked,
		TotalAttempts: s.Stats.TotalAttempts,
		SuccessRate:   s.Stats.SuccessRate(),
		PeriodTotal:   s.Series.Total(),
		AverageCycle:  s.Cycles.FormatAverage(),
	}
}

func chart(s State) domain.ChartView {
	return domain.ChartView{
		Granularity:  s.Granularity,
		Title:        s.Granularity.Title(),
		DatasetLabel: domain.DatasetLabel,
		Labels:       s.Series.Labels(),
		Values:       s.Series.Values(),
		SourcePath:   s.SourcePath,
	}
}
