// Package metadata persists job records with an expiry.
package metadata

import (
	"context"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
)

// Store persists job records. Implementations return domain.ErrJobNotFound for missing or
// expired records and *domain.DependencyError for backend failures.
type Store interface {
	PutJob(ctx context.Context, rec *domain.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error)
}

// Purger is implemented by stores that do not expire records on their own
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Document is the serialized form of a job record
type Document struct {
	JobID      string `json:"job_id"`
	StartTime  string `json:"start_time"`
	TTLSeconds int64  `json:"ttl_seconds"`
	SourceFile string `json:"source_file"`
	FrameCount int    `json:"frame_count"`
	OutputPath string `json:"output_path"`
}

// ToDocument converts a record to its serialized form
func ToDocument(rec *domain.JobRecord) Document {
	return Document{
		JobID:      rec.JobID,
		StartTime:  rec.FormattedStartTime(),
		TTLSeconds: rec.TTLSeconds(),
		SourceFile: rec.SourceFile,
		FrameCount: rec.FrameCount,
		OutputPath: rec.OutputPath,
	}
}

// FromDocument converts a serialized record back into a job record
func FromDocument(doc Document) (*domain.JobRecord, error) {
	start, err := time.ParseInLocation(domain.StartTimeLayout, doc.StartTime, time.UTC)
	if err != nil {
		return nil, err
	}

	return &domain.JobRecord{
		JobID:      doc.JobID,
		StartTime:  start,
		TTL:        time.Duration(doc.TTLSeconds) * time.Second,
		SourceFile: doc.SourceFile,
		FrameCount: doc.FrameCount,
		OutputPath: doc.OutputPath,
	}, nil
}
