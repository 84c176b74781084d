// Package queue defines the task queue contract shared by the job producer and the workers.
//
// A queue delivers each message to one receiver at a time. A received message stays hidden from
// other receivers until it is deleted with its delivery handle or until its visibility timeout
// elapses, after which it becomes eligible for redelivery and the old handle is invalid.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// MaxBatchSize is the maximum number of entries accepted by one SendBatch call
const MaxBatchSize = 10

// Attribute data types
const (
	DataTypeString = "String"
	DataTypeNumber = "Number"
)

// Attribute is a typed message attribute value
type Attribute struct {
	DataType    string
	StringValue string
}

// StringAttribute creates a String attribute
func StringAttribute(v string) Attribute {
	return Attribute{DataType: DataTypeString, StringValue: v}
}

// NumberAttribute creates a Number attribute
func NumberAttribute(n int) Attribute {
	return Attribute{DataType: DataTypeNumber, StringValue: strconv.Itoa(n)}
}

// Int parses a Number attribute as an int
func (a Attribute) Int() (int, error) {
	if a.DataType != DataTypeNumber {
		return 0, fmt.Errorf("attribute is %q, not %q", a.DataType, DataTypeNumber)
	}
	return strconv.Atoi(a.StringValue)
}

// Message is one delivery of a queued message
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]Attribute
	// Handle acknowledges this delivery and nothing else
	Handle string
}

// SendEntry is one message of a batch send. ID must be unique within the batch.
type SendEntry struct {
	ID         string
	Body       []byte
	Attributes map[string]Attribute
}

// FailedEntry reports a batch entry that was not accepted by the queue
type FailedEntry struct {
	ID  string
	Err error
}

// BatchResult reports per-entry outcomes of a batch send. Batches are not transactional.
type BatchResult struct {
	Successful []string
	Failed     []FailedEntry
}

// Sender enqueues messages in batches of at most MaxBatchSize
type Sender interface {
	SendBatch(ctx context.Context, entries []SendEntry) (*BatchResult, error)
}

// Receiver polls messages and acknowledges them by handle
type Receiver interface {
	// Receive returns up to maxMessages messages, waiting at most wait for the first one
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	// Delete acknowledges a delivery. Expired or unknown handles return domain.ErrHandleExpired.
	Delete(ctx context.Context, handle string) error
}

// Client is a full queue client
type Client interface {
	Sender
	Receiver
}

// Chunk splits items into consecutive groups of at most size elements, preserving order
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = MaxBatchSize
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ValidateBatch checks the batch constraints every implementation enforces
func ValidateBatch(entries []SendEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("batch is empty")
	}
	if len(entries) > MaxBatchSize {
		return fmt.Errorf("batch has %d entries, maximum is %d", len(entries), MaxBatchSize)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("batch entry id is required")
		}
		if _, ok := seen[e.ID]; ok {
			return fmt.Errorf("duplicate batch entry id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}
