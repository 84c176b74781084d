package domain

import "time"

// JobSpec is the user-submitted render request
type JobSpec struct {
	SourceFile string `json:"source_file"`
	FrameCount int    `json:"frame_count"`
	OutputName string `json:"output_name"`
}

// JobRecord is the persisted metadata of a submitted job.
// A record is written once per submission and never mutated.
type JobRecord struct {
	JobID      string
	StartTime  time.Time
	TTL        time.Duration
	SourceFile string
	FrameCount int
	OutputPath string
}

// TTLSeconds returns the record time-to-live in whole seconds
func (r *JobRecord) TTLSeconds() int64 {
	return int64(r.TTL / time.Second)
}

// ExpiresAt returns the instant after which the record may be reclaimed
func (r *JobRecord) ExpiresAt() time.Time {
	return r.StartTime.Add(r.TTL)
}

// FormattedStartTime returns the start time in the form used as part of the record key
func (r *JobRecord) FormattedStartTime() string {
	return r.StartTime.UTC().Format(StartTimeLayout)
}
