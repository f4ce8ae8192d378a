package web

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// MockDashboardService is a mock of ports.DashboardService
type MockDashboardService struct {
	mock.Mock
}

func (m *MockDashboardService) View() domain.DashboardView {
	args := m.Called()
	return args.Get(0).(domain.DashboardView)
}

func (m *MockDashboardService) Granularity() domain.Granularity {
	args := m.Called()
	return args.Get(0).(domain.Granularity)
}

func (m *MockDashboardService) SetGranularity(ctx context.Context, g domain.Granularity) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockDashboardService) Transitions(ctx context.Context, limit int) ([]domain.LivenessTransition, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LivenessTransition), args.Error(1)
}
