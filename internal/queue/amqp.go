package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultVisibilityTimeout = 5 * time.Minute
	defaultPollInterval      = time.Second

	headerDataType = "data_type"
	headerValue    = "value"
)

// Broker is the subset of an AMQP client used by the queue
type Broker interface {
	PublishConfirmed(ctx context.Context, msgs []amqp.Publishing) []error
	Get(ctx context.Context) (amqp.Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// AMQPConfig holds AMQP queue settings
type AMQPConfig struct {
	Logger *slog.Logger
	Broker Broker
	// VisibilityTimeout is how long a received message stays hidden before it is requeued
	VisibilityTimeout time.Duration
	// PollInterval is the pause between empty polls while Receive waits
	PollInterval time.Duration
}

type inflight struct {
	tag   uint64
	timer *time.Timer
}

// AMQP is a queue on top of an AMQP broker. Receive polls with basic.get and keeps deliveries
// unacknowledged; a delivery not deleted within the visibility timeout is requeued.
type AMQP struct {
	logger       *slog.Logger
	broker       Broker
	visibility   time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*inflight
}

// NewAMQP creates an AMQP backed queue
func NewAMQP(cfg *AMQPConfig) *AMQP {
	q := &AMQP{
		logger:       cfg.Logger,
		broker:       cfg.Broker,
		visibility:   cfg.VisibilityTimeout,
		pollInterval: cfg.PollInterval,
		inflight:     make(map[string]*inflight),
	}
	if q.visibility <= 0 {
		q.visibility = defaultVisibilityTimeout
	}
	if q.pollInterval <= 0 {
		q.pollInterval = defaultPollInterval
	}
	return q
}

// SendBatch publishes a valid batch and reports the outcome of every entry
func (q *AMQP) SendBatch(ctx context.Context, entries []SendEntry) (*BatchResult, error) {
	if err := ValidateBatch(entries); err != nil {
		return nil, err
	}

	msgs := make([]amqp.Publishing, len(entries))
	for i, e := range entries {
		msgs[i] = amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Headers:      EncodeHeaders(e.Attributes),
			Body:         e.Body,
		}
	}

	errs := q.broker.PublishConfirmed(ctx, msgs)

	result := &BatchResult{}
	for i, e := range entries {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		if err != nil {
			result.Failed = append(result.Failed, FailedEntry{
				ID:  e.ID,
				Err: domain.NewDependencyError("queue.publish", err),
			})
			continue
		}
		result.Successful = append(result.Successful, e.ID)
	}
	return result, nil
}

// Receive returns up to maxMessages messages, polling until at least one arrives or wait elapses
func (q *AMQP) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		return nil, fmt.Errorf("maxMessages must be greater than 0")
	}

	deadline := time.Now().Add(wait)
	for {
		var out []Message
		for len(out) < maxMessages {
			d, ok, err := q.broker.Get(ctx)
			if err != nil {
				if len(out) > 0 {
					return out, nil
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, domain.NewDependencyError("queue.receive", err)
			}
			if !ok {
				break
			}
			out = append(out, q.track(d))
		}
		if len(out) > 0 {
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(min(q.pollInterval, remaining)):
		}
	}
}

// track registers a delivery as in flight and starts its visibility timer
func (q *AMQP) track(d amqp.Delivery) Message {
	handle := uuid.NewString()

	q.mu.Lock()
	q.inflight[handle] = &inflight{
		tag:   d.DeliveryTag,
		timer: time.AfterFunc(q.visibility, func() { q.expire(handle) }),
	}
	q.mu.Unlock()

	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}
	return Message{
		ID:         id,
		Body:       d.Body,
		Attributes: DecodeHeaders(d.Headers),
		Handle:     handle,
	}
}

func (q *AMQP) expire(handle string) {
	q.mu.Lock()
	f, ok := q.inflight[handle]
	delete(q.inflight, handle)
	q.mu.Unlock()
	if !ok {
		return
	}

	q.logger.Warn("Visibility timeout elapsed, message requeued",
		slog.Uint64("delivery_tag", f.tag),
	)
	if err := q.broker.Nack(f.tag, true); err != nil {
		q.logger.Error("Failed to requeue expired message",
			slog.Uint64("delivery_tag", f.tag),
			slog.Any("error", err),
		)
	}
}

// Delete acknowledges the delivery behind handle
func (q *AMQP) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	f, ok := q.inflight[handle]
	if !ok || !f.timer.Stop() {
		q.mu.Unlock()
		return domain.ErrHandleExpired
	}
	delete(q.inflight, handle)
	q.mu.Unlock()

	if err := q.broker.Ack(f.tag); err != nil {
		return domain.NewDependencyError("queue.delete", err)
	}
	return nil
}

// InFlight returns the number of received messages not yet deleted or expired
func (q *AMQP) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Release requeues every in-flight message immediately
func (q *AMQP) Release() {
	q.mu.Lock()
	pending := q.inflight
	q.inflight = make(map[string]*inflight)
	q.mu.Unlock()

	for _, f := range pending {
		if !f.timer.Stop() {
			continue
		}
		if err := q.broker.Nack(f.tag, true); err != nil {
			q.logger.Error("Failed to release message",
				slog.Uint64("delivery_tag", f.tag),
				slog.Any("error", err),
			)
		}
	}
	if len(pending) > 0 {
		q.logger.Info("Released in-flight messages", slog.Int("count", len(pending)))
	}
}

// EncodeHeaders stores attributes as AMQP headers of the form {data_type, value}
func EncodeHeaders(attrs map[string]Attribute) amqp.Table {
	if len(attrs) == 0 {
		return nil
	}
	headers := make(amqp.Table, len(attrs))
	for name, a := range attrs {
		headers[name] = amqp.Table{
			headerDataType: a.DataType,
			headerValue:    a.StringValue,
		}
	}
	return headers
}

// DecodeHeaders reads attributes written by EncodeHeaders. Plain string and integer
// headers are accepted as String and Number attributes. Other headers are ignored.
func DecodeHeaders(headers amqp.Table) map[string]Attribute {
	attrs := make(map[string]Attribute, len(headers))
	for name, raw := range headers {
		switch v := raw.(type) {
		case amqp.Table:
			if a, ok := attributeFromTable(v); ok {
				attrs[name] = a
			}
		case map[string]interface{}:
			if a, ok := attributeFromTable(v); ok {
				attrs[name] = a
			}
		case string:
			attrs[name] = StringAttribute(v)
		case int:
			attrs[name] = NumberAttribute(v)
		case int32:
			attrs[name] = NumberAttribute(int(v))
		case int64:
			attrs[name] = Attribute{DataType: DataTypeNumber, StringValue: strconv.FormatInt(v, 10)}
		}
	}
	return attrs
}

func attributeFromTable(t map[string]interface{}) (Attribute, bool) {
	dataType, ok := t[headerDataType].(string)
	if !ok {
		return Attribute{}, false
	}
	value, ok := t[headerValue].(string)
	if !ok {
		return Attribute{}, false
	}
	return Attribute{DataType: dataType, StringValue: value}, true
}
