// Package task converts render tasks to and from queue messages.
package task

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/queue"
)

// MessageBody is the JSON body of a task message
type MessageBody struct {
	DestinationBucket string `json:"destination_bucket"`
	DestinationKey    string `json:"destination_key"`
}

// EntryID returns the batch entry id of a task, unique within its job
func EntryID(t *domain.RenderTask) string {
	return fmt.Sprintf("frame-%0*d", domain.FrameDigits, t.FrameNumber())
}

// Encode builds the queue entry for a task
func Encode(t *domain.RenderTask) (queue.SendEntry, error) {
	body, err := json.Marshal(MessageBody{
		DestinationBucket: t.DestinationBucket,
		DestinationKey:    t.DestinationKey,
	})
	if err != nil {
		return queue.SendEntry{}, fmt.Errorf("failed to marshal task body: %w", err)
	}

	return queue.SendEntry{
		ID:   EntryID(t),
		Body: body,
		Attributes: map[string]queue.Attribute{
			domain.AttrJobID:      queue.StringAttribute(t.JobID),
			domain.AttrSourceFile: queue.StringAttribute(t.SourceFile),
			domain.AttrFrameIndex: queue.NumberAttribute(t.FrameIndex),
		},
	}, nil
}

// Decode extracts a task from a received message.
// The returned error is always a ValidationError wrapping domain.ErrInvalidTaskMessage.
func Decode(msg queue.Message) (*domain.RenderTask, error) {
	var body MessageBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, "body", fmt.Sprintf("malformed JSON: %v", err))
	}
	if body.DestinationBucket == "" {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, "destination_bucket", "is required")
	}
	if body.DestinationKey == "" {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, "destination_key", "is required")
	}

	sourceAttr, ok := msg.Attributes[domain.AttrSourceFile]
	if !ok || sourceAttr.StringValue == "" {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, domain.AttrSourceFile, "missing attribute")
	}

	frameAttr, ok := msg.Attributes[domain.AttrFrameIndex]
	if !ok {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, domain.AttrFrameIndex, "missing attribute")
	}
	frameIndex, err := frameAttr.Int()
	if err != nil {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, domain.AttrFrameIndex, err.Error())
	}
	if frameIndex < 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidTaskMessage, domain.AttrFrameIndex, "must not be negative")
	}

	return &domain.RenderTask{
		JobID:             msg.Attributes[domain.AttrJobID].StringValue,
		FrameIndex:        frameIndex,
		SourceFile:        sourceAttr.StringValue,
		DestinationBucket: body.DestinationBucket,
		DestinationKey:    body.DestinationKey,
	}, nil
}
