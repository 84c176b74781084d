package domain

import "time"

const (
	// OutputNamespace is the literal root of every job output path
	OutputNamespace = "render-output"

	// SourceExtension is the scene file extension stripped when building path tokens
	SourceExtension = ".blend"

	// PathFiller replaces whitespace in path tokens
	PathFiller = "_"

	// FrameDigits is the zero-padding width of frame numbers in object keys
	FrameDigits = 5

	// JobIDPrefixLen is the number of job id characters embedded in the output path
	JobIDPrefixLen = 8

	// PathTimeLayout formats the creation time inside output paths
	PathTimeLayout = "2006-01-02_15-04-05"

	// StartTimeLayout formats the creation time stored with job metadata
	StartTimeLayout = "2006-01-02 15:04:05"

	// DefaultJobTTL is how long job metadata is kept before the store may reclaim it
	DefaultJobTTL = 300 * time.Second

	// MaxFrameCount is the largest frame count a job may request
	MaxFrameCount = 100_000
)

// Queue message attribute names
const (
	AttrJobID      = "JobId"
	AttrSourceFile = "SourceFile"
	AttrFrameIndex = "FrameIndex"
)

// AckPolicy selects when a task message is deleted from the queue
type AckPolicy string

const (
	// AckAfterSuccess deletes the message only after render and upload succeed (at-least-once)
	AckAfterSuccess AckPolicy = "after_success"

	// AckAfterDecode deletes the message as soon as it decodes (at-most-once)
	AckAfterDecode AckPolicy = "after_decode"
)

// Valid reports whether p is a known policy
func (p AckPolicy) Valid() bool {
	return p == AckAfterSuccess || p == AckAfterDecode
}
