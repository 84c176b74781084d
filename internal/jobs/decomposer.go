// Package jobs turns a submitted job spec into a job record and per-frame render tasks.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/metadata"
	"github.com/cuongbtq/render-farm/internal/queue"
	"github.com/cuongbtq/render-farm/internal/task"
	"github.com/google/uuid"
)

// Config holds decomposer dependencies and settings
type Config struct {
	Logger       *slog.Logger
	Store        metadata.Store
	Queue        queue.Sender
	OutputBucket string
	TTL          time.Duration
	// RetryAttempts is how many times failed batch entries are resent
	RetryAttempts int
	RetryInterval time.Duration
	Now           func() time.Time
	NewID         func() string
	// MaxFrames caps frame_count; zero means domain.MaxFrameCount
	MaxFrames int
}

// Decomposer submits jobs
type Decomposer struct {
	logger        *slog.Logger
	store         metadata.Store
	queue         queue.Sender
	outputBucket  string
	ttl           time.Duration
	retryAttempts int
	retryInterval time.Duration
	maxFrames     int
	now           func() time.Time
	newID         func() string
}

// NewDecomposer creates a decomposer, filling defaults for unset settings
func NewDecomposer(cfg *Config) *Decomposer {
	d := &Decomposer{
		logger:        cfg.Logger,
		store:         cfg.Store,
		queue:         cfg.Queue,
		outputBucket:  cfg.OutputBucket,
		ttl:           cfg.TTL,
		retryAttempts: cfg.RetryAttempts,
		retryInterval: cfg.RetryInterval,
		maxFrames:     cfg.MaxFrames,
		now:           cfg.Now,
		newID:         cfg.NewID,
	}
	if d.ttl <= 0 {
		d.ttl = domain.DefaultJobTTL
	}
	if d.retryAttempts < 0 {
		d.retryAttempts = 0
	}
	if d.maxFrames <= 0 {
		d.maxFrames = domain.MaxFrameCount
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	return d
}

// SubmitResult describes a submitted job
type SubmitResult struct {
	Job      *domain.JobRecord
	Tasks    []*domain.RenderTask
	Enqueued int
	// Failed lists task entries that could not be enqueued after all retries
	Failed []queue.FailedEntry
}

// Submit validates spec, records the job and enqueues one task per frame.
// A metadata failure aborts before anything is enqueued. Queue failures are partial:
// the result lists the failed entries and the error wraps domain.ErrPartialEnqueue.
func (d *Decomposer) Submit(ctx context.Context, spec domain.JobSpec) (*SubmitResult, error) {
	if err := d.validateSpec(spec); err != nil {
		return nil, err
	}

	created := d.now().UTC().Truncate(time.Second)
	jobID := d.newID()
	outputName := NormalizeName(spec.OutputName)

	rec := &domain.JobRecord{
		JobID:      jobID,
		StartTime:  created,
		TTL:        d.ttl,
		SourceFile: spec.SourceFile,
		FrameCount: spec.FrameCount,
		OutputPath: OutputPrefix(spec.SourceFile, jobID, created) + outputName,
	}

	if err := d.store.PutJob(ctx, rec); err != nil {
		d.logger.Error("Failed to store job record, nothing enqueued",
			append([]any{slog.String("job_id", jobID)}, domain.ErrorAttrs(err)...)...,
		)
		if !domain.IsDependency(err) {
			err = domain.NewDependencyError("metadata.put_job", err)
		}
		return nil, fmt.Errorf("failed to store job record: %w", err)
	}

	tasks := d.buildTasks(rec)
	entries := make([]queue.SendEntry, 0, len(tasks))
	for _, t := range tasks {
		entry, err := task.Encode(t)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	failed := d.enqueue(ctx, jobID, entries)
	result := &SubmitResult{
		Job:      rec,
		Tasks:    tasks,
		Enqueued: len(entries) - len(failed),
		Failed:   failed,
	}

	if len(failed) > 0 {
		d.logger.Error("Job partially enqueued",
			slog.String("job_id", jobID),
			slog.Int("enqueued", result.Enqueued),
			slog.Int("failed", len(failed)),
		)
		return result, domain.NewDependencyError("queue.send_batch",
			fmt.Errorf("%w: %d of %d tasks", domain.ErrPartialEnqueue, len(failed), len(entries)))
	}

	d.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("source_file", spec.SourceFile),
		slog.Int("frame_count", spec.FrameCount),
		slog.String("output_path", rec.OutputPath),
	)
	return result, nil
}

func (d *Decomposer) validateSpec(spec domain.JobSpec) error {
	if strings.TrimSpace(spec.SourceFile) == "" {
		return domain.NewValidationError(domain.ErrInvalidJobSpec, "source_file", "is required")
	}
	if SourceToken(spec.SourceFile) == "" {
		return domain.NewValidationError(domain.ErrInvalidJobSpec, "source_file", "has no usable file name")
	}
	if spec.FrameCount < 1 {
		return domain.NewValidationError(domain.ErrInvalidJobSpec, "frame_count", "must be a positive integer")
	}
	if spec.FrameCount > d.maxFrames {
		return domain.NewValidationError(domain.ErrInvalidJobSpec, "frame_count", fmt.Sprintf("must not exceed %d", d.maxFrames))
	}
	if strings.TrimSpace(spec.OutputName) == "" {
		return domain.NewValidationError(domain.ErrInvalidJobSpec, "output_name", "is required")
	}
	if NormalizeName(spec.OutputName) == "" {
		return domain.NewValidationError(domain.ErrInvalidJobSpec, "output_name", "has no usable characters")
	}
	return nil
}

func (d *Decomposer) buildTasks(rec *domain.JobRecord) []*domain.RenderTask {
	tasks := make([]*domain.RenderTask, rec.FrameCount)
	for i := range tasks {
		tasks[i] = &domain.RenderTask{
			JobID:             rec.JobID,
			FrameIndex:        i,
			SourceFile:        rec.SourceFile,
			DestinationBucket: d.outputBucket,
			DestinationKey:    DestinationKey(rec.OutputPath, i+1),
		}
	}
	return tasks
}

// enqueue sends entries in batches and resends failed entries by id.
// It returns the entries that still failed after the last attempt.
func (d *Decomposer) enqueue(ctx context.Context, jobID string, entries []queue.SendEntry) []queue.FailedEntry {
	pending := entries
	for attempt := 0; ; attempt++ {
		failed := d.sendBatches(ctx, pending)
		if len(failed) == 0 || attempt >= d.retryAttempts {
			return failed
		}

		byID := make(map[string]queue.SendEntry, len(pending))
		for _, e := range pending {
			byID[e.ID] = e
		}
		pending = pending[:0:0]
		for _, f := range failed {
			if e, ok := byID[f.ID]; ok {
				pending = append(pending, e)
			}
		}

		backoff := d.retryInterval * time.Duration(1<<uint(attempt))
		d.logger.Warn("Failed to enqueue some tasks, retrying",
			slog.String("job_id", jobID),
			slog.Int("failed", len(failed)),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", d.retryAttempts),
			slog.Duration("retry_after", backoff),
		)

		select {
		case <-ctx.Done():
			return failed
		case <-time.After(backoff):
		}
	}
}

func (d *Decomposer) sendBatches(ctx context.Context, entries []queue.SendEntry) []queue.FailedEntry {
	var failed []queue.FailedEntry
	for _, batch := range queue.Chunk(entries, queue.MaxBatchSize) {
		res, err := d.queue.SendBatch(ctx, batch)
		if err != nil {
			d.logger.Error("Batch send failed",
				append([]any{slog.Int("entries", len(batch))}, domain.ErrorAttrs(err)...)...,
			)
			for _, e := range batch {
				failed = append(failed, queue.FailedEntry{ID: e.ID, Err: err})
			}
			continue
		}
		for _, f := range res.Failed {
			d.logger.Warn("Batch entry rejected",
				slog.String("entry_id", f.ID),
				slog.Any("error", f.Err),
			)
		}
		failed = append(failed, res.Failed...)
	}
	return failed
}
