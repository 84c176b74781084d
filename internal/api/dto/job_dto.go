package dto

import (
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/jobs"
)

// ImportJobRequest points at a job spec document in the object store
type ImportJobRequest struct {
	Bucket string `json:"bucket" binding:"required"`
	Key    string `json:"key" binding:"required"`
}

type SubmitJobResponse struct {
	JobID        string   `json:"job_id"`
	OutputPath   string   `json:"output_path"`
	StartTime    string   `json:"start_time"`
	FrameCount   int      `json:"frame_count"`
	Enqueued     int      `json:"enqueued"`
	FailedFrames []string `json:"failed_frames,omitempty"`
}

type JobDTO struct {
	JobID      string `json:"job_id"`
	StartTime  string `json:"start_time"`
	TTLSeconds int64  `json:"ttl_seconds"`
	ExpiresAt  string `json:"expires_at"`
	SourceFile string `json:"source_file"`
	FrameCount int    `json:"frame_count"`
	OutputPath string `json:"output_path"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// NewSubmitJobResponse builds the response for a submitted job
func NewSubmitJobResponse(res *jobs.SubmitResult) SubmitJobResponse {
	resp := SubmitJobResponse{
		JobID:      res.Job.JobID,
		OutputPath: res.Job.OutputPath,
		StartTime:  res.Job.FormattedStartTime(),
		FrameCount: res.Job.FrameCount,
		Enqueued:   res.Enqueued,
	}
	for _, f := range res.Failed {
		resp.FailedFrames = append(resp.FailedFrames, f.ID)
	}
	return resp
}

// NewJobDTO converts a job record for the API
func NewJobDTO(rec *domain.JobRecord) JobDTO {
	return JobDTO{
		JobID:      rec.JobID,
		StartTime:  rec.FormattedStartTime(),
		TTLSeconds: rec.TTLSeconds(),
		ExpiresAt:  rec.ExpiresAt().UTC().Format(time.RFC3339),
		SourceFile: rec.SourceFile,
		FrameCount: rec.FrameCount,
		OutputPath: rec.OutputPath,
	}
}
