package ports

import (
	"context"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// ViewPublisher pushes assembled views to connected clients.
type ViewPublisher interface {
	PublishView(view domain.DashboardView)
}

// LivenessReporter mirrors liveness into another surface (gRPC health, metrics).
type LivenessReporter interface {
	ReportLiveness(online bool)
}

// DashboardService is what the web adapter needs from the core.
type DashboardService interface {
	// View returns the latest assembled view.
	View() domain.DashboardView

	// Granularity returns the chart resolution currently selected.
	Granularity() domain.Granularity

	// SetGranularity switches the chart resolution and resubscribes.
	SetGranularity(ctx context.Context, g domain.Granularity) error

	// Transitions lists persisted liveness changes, newest first.
	Transitions(ctx context.Context, limit int) ([]domain.LivenessTransition, error)
}
