package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/objectstore"
	"github.com/cuongbtq/render-farm/internal/queue"
	"github.com/cuongbtq/render-farm/internal/render"
	"github.com/google/uuid"
)

const (
	defaultMaxMessages  = 1
	defaultPollWait     = 20 * time.Second
	defaultErrorBackoff = 5 * time.Second
)

// Renderer renders one frame and returns the produced artifact path
type Renderer interface {
	Render(ctx context.Context, inv render.Invocation) (string, error)
}

// DeviceSelector picks the accelerator used for every render of this worker
type DeviceSelector interface {
	Select(ctx context.Context) (domain.GPUDescriptor, bool)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	WorkerID     string
	Queue        queue.Receiver
	Objects      objectstore.Store
	SourceBucket string
	Renderer     Renderer
	Selector     DeviceSelector
	AckPolicy    domain.AckPolicy
	MaxMessages  int
	PollWait     time.Duration
	ErrorBackoff time.Duration
	// WorkDir is the parent of per-task scratch directories; empty means the OS temp dir
	WorkDir string
	// TaskTimeout bounds one task; zero means no limit
	TaskTimeout time.Duration
}

// Worker pulls render tasks and processes them one at a time
type Worker struct {
	logger       *slog.Logger
	workerID     string
	queue        queue.Receiver
	objects      objectstore.Store
	sourceBucket string
	renderer     Renderer
	selector     DeviceSelector
	ackPolicy    domain.AckPolicy
	maxMessages  int
	pollWait     time.Duration
	errorBackoff time.Duration
	workDir      string
	taskTimeout  time.Duration

	device   *domain.GPUDescriptor
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:       cfg.Logger,
		workerID:     cfg.WorkerID,
		queue:        cfg.Queue,
		objects:      cfg.Objects,
		sourceBucket: cfg.SourceBucket,
		renderer:     cfg.Renderer,
		selector:     cfg.Selector,
		ackPolicy:    cfg.AckPolicy,
		maxMessages:  cfg.MaxMessages,
		pollWait:     cfg.PollWait,
		errorBackoff: cfg.ErrorBackoff,
		workDir:      cfg.WorkDir,
		taskTimeout:  cfg.TaskTimeout,
		stopChan:     make(chan struct{}),
	}
	if w.workerID == "" {
		w.workerID = uuid.NewString()
	}
	if !w.ackPolicy.Valid() {
		w.ackPolicy = domain.AckAfterSuccess
	}
	if w.maxMessages <= 0 {
		w.maxMessages = defaultMaxMessages
	}
	if w.pollWait <= 0 {
		w.pollWait = defaultPollWait
	}
	if w.errorBackoff <= 0 {
		w.errorBackoff = defaultErrorBackoff
	}
	w.logger = w.logger.With(slog.String("worker_id", w.workerID))
	// released when Start returns, so Stop waits even if Start has not begun yet
	w.wg.Add(1)
	return w
}

// Start selects the render device and processes tasks until ctx is canceled or Stop is called.
// A task already being processed is finished before Start returns. Start must be called once.
func (w *Worker) Start(ctx context.Context) error {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case <-w.stopChan:
		cancel()
	default:
	}
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.logger.Info("Starting worker",
		slog.String("ack_policy", string(w.ackPolicy)),
		slog.String("source_bucket", w.sourceBucket),
		slog.Int("max_messages", w.maxMessages),
		slog.Duration("poll_wait", w.pollWait),
	)

	w.selectDevice(ctx)
	w.consume(ctx)

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// Device returns the device chosen at startup, nil when rendering on the default device
func (w *Worker) Device() *domain.GPUDescriptor {
	return w.device
}

func (w *Worker) selectDevice(ctx context.Context) {
	if w.selector == nil {
		return
	}
	device, ok := w.selector.Select(ctx)
	if !ok {
		w.logger.Warn("No GPU available, rendering on the default device")
		return
	}
	w.device = &device
	w.logger.Info("Render device selected",
		slog.Int("gpu_index", device.Index),
		slog.String("gpu_name", device.Name),
		slog.Bool("preferred", device.HasTag(domain.TagPreferredTier)),
	)
}
