package domain

import "time"

// GaugeMax is the full-scale value of the joint angle gauges, in degrees.
const GaugeMax = 180.0

// DatasetLabel names the chart dataset.
const DatasetLabel = "Chili Picked"

// DashboardView is everything the presentation widgets need.
type DashboardView struct {
	Status         StatusPanel   `json:"status"`
	Liveness       LivenessState `json:"liveness"`
	Gauges         []Gauge       `json:"gauges"`
	DetectedObject *Position     `json:"detected_object_cm"`
	Stats          StatCards     `json:"stats"`
	Chart          ChartView     `json:"chart"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// StatusPanel lists every operating mode with the current one highlighted.
type StatusPanel struct {
	Current RobotState   `json:"current"`
	Label   string       `json:"label"`
	Items   []StatusItem `json:"items"`
	Error   string       `json:"error,omitempty"`
	// ShowError is true while the arm is offline and an error is known.
	ShowError bool `json:"show_error"`
}

// StatusItem is one row of the status panel.
type StatusItem struct {
	ID     RobotState `json:"id"`
	Label  string     `json:"label"`
	Active bool       `json:"active"`
}

// Gauge is a half-circle angle gauge.
type Gauge struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Max     float64 `json:"max"`
	Display string  `json:"display"`
	// Fraction is Value/Max clamped to [0,1].
	Fraction float64 `json:"fraction"`
}

// StatCards are the summary tiles above the chart.
type StatCards struct {
	TotalPicked   int64  `json:"total_picked"`
	TotalAttempts int64  `json:"total_attempts"`
	SuccessRate   string `json:"success_rate"`
	PeriodTotal   int64  `json:"period_total"`
	AverageCycle  string `json:"average_cycle"`
}

// ChartView is the bar chart of picks per bucket.
type ChartView struct {
	Granularity  Granularity `json:"granularity"`
	Title        string      `json:"title"`
	DatasetLabel string      `json:"dataset_label"`
	Labels       []string    `json:"labels"`
	Values       []int64     `json:"values"`
	SourcePath   string      `json:"source_path"`
}
