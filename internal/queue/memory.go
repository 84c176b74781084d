package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/google/uuid"
)

const memoryPollInterval = 50 * time.Millisecond

type memoryMessage struct {
	id           string
	body         []byte
	attributes   map[string]Attribute
	handle       string
	visibleAt    time.Time
	receiveCount int
}

// Memory is an in-process queue with visibility timeouts, used for local runs and tests
type Memory struct {
	mu         sync.Mutex
	messages   []*memoryMessage
	visibility time.Duration
	now        func() time.Time
}

// NewMemory creates an in-memory queue with the given visibility timeout
func NewMemory(visibility time.Duration) *Memory {
	return &Memory{
		visibility: visibility,
		now:        time.Now,
	}
}

// SetClock replaces the queue clock
func (q *Memory) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// SendBatch enqueues every entry of a valid batch
func (q *Memory) SendBatch(ctx context.Context, entries []SendEntry) (*BatchResult, error) {
	if err := ValidateBatch(entries); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	result := &BatchResult{}
	for _, e := range entries {
		q.messages = append(q.messages, &memoryMessage{
			id:         uuid.NewString(),
			body:       append([]byte(nil), e.Body...),
			attributes: copyAttributes(e.Attributes),
		})
		result.Successful = append(result.Successful, e.ID)
	}
	return result, nil
}

// Receive returns up to maxMessages visible messages, polling until wait elapses
func (q *Memory) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		return nil, fmt.Errorf("maxMessages must be greater than 0")
	}

	deadline := time.Now().Add(wait)
	for {
		if msgs := q.take(maxMessages); len(msgs) > 0 {
			return msgs, nil
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(memoryPollInterval):
		}
	}
}

func (q *Memory) take(maxMessages int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, m := range q.messages {
		if len(out) == maxMessages {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}

		m.handle = uuid.NewString()
		m.visibleAt = now.Add(q.visibility)
		m.receiveCount++

		out = append(out, Message{
			ID:         m.id,
			Body:       append([]byte(nil), m.body...),
			Attributes: copyAttributes(m.attributes),
			Handle:     m.handle,
		})
	}
	return out
}

// Delete removes the message delivered with handle while its visibility timeout holds
func (q *Memory) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, m := range q.messages {
		if m.handle != handle {
			continue
		}
		if !m.visibleAt.After(now) {
			return domain.ErrHandleExpired
		}
		q.messages = append(q.messages[:i], q.messages[i+1:]...)
		return nil
	}
	return domain.ErrHandleExpired
}

// Len returns the number of messages not yet deleted, in flight or not
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// ReceiveCount returns how many times the message with id has been delivered
func (q *Memory) ReceiveCount(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.messages {
		if m.id == id {
			return m.receiveCount
		}
	}
	return 0
}

func copyAttributes(in map[string]Attribute) map[string]Attribute {
	out := make(map[string]Attribute, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
