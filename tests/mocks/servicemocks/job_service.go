// Package servicemocks holds mocks of the ingestion service. It lives apart
// from tests/mocks so packages that ingest depends on can use those mocks.
package servicemocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/welldanyogia/evidence-ingest/internal/ingest"
	"github.com/welldanyogia/evidence-ingest/internal/models"
)

// MockJobService implements ingest.JobService
type MockJobService struct {
	mock.Mock
}

// StartJob submits a job
func (m *MockJobService) StartJob(ctx context.Context, req ingest.StartRequest) (uint, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uint), args.Error(1)
}

// GetJobStatus returns job status
func (m *MockJobService) GetJobStatus(ctx context.Context, jobID uint) (*models.JobStatusView, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobStatusView), args.Error(1)
}

// GetJobResult returns the result of a terminal job
func (m *MockJobService) GetJobResult(ctx context.Context, jobID uint) (*models.JobResult, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobResult), args.Error(1)
}

// CancelJob requests cancellation
func (m *MockJobService) CancelJob(ctx context.Context, jobID uint) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// Rethread re-runs threading
func (m *MockJobService) Rethread(ctx context.Context, jobID uint) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}
