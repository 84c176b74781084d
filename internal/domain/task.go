package domain

// RenderTask is the unit of work for a single frame of a job
type RenderTask struct {
	JobID             string
	FrameIndex        int // 0-based
	SourceFile        string
	DestinationBucket string
	DestinationKey    string
}

// FrameNumber returns the 1-based frame number used in object keys and passed to the engine
func (t *RenderTask) FrameNumber() int {
	return t.FrameIndex + 1
}
