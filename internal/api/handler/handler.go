package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/jobs"
	"github.com/cuongbtq/render-farm/internal/metadata"
	"github.com/cuongbtq/render-farm/internal/objectstore"
)

// defaultMaxSpecBytes bounds job spec documents read from the object store
const defaultMaxSpecBytes = 1 << 20

// Submitter submits job specs
type Submitter interface {
	Submit(ctx context.Context, spec domain.JobSpec) (*jobs.SubmitResult, error)
}

// HealthChecker is a dependency probed by the health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Submitter    Submitter
	Store        metadata.Store
	Objects      objectstore.Store
	MaxSpecBytes int64
	// HealthChecks are probed by GET /health, keyed by dependency name
	HealthChecks map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	submitter    Submitter
	store        metadata.Store
	objects      objectstore.Store
	maxSpecBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxSpec := deps.MaxSpecBytes
	if maxSpec <= 0 {
		maxSpec = defaultMaxSpecBytes
	}
	return &JobHandler{
		logger:       deps.Logger,
		submitter:    deps.Submitter,
		store:        deps.Store,
		objects:      deps.Objects,
		maxSpecBytes: maxSpec,
	}
}
