package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/queue"
	"github.com/cuongbtq/render-farm/internal/render"
	"github.com/cuongbtq/render-farm/internal/task"
)

// inputFileName is the local name of the downloaded scene inside a task directory
const inputFileName = "input" + domain.SourceExtension

// processMessage decodes msg, renders its frame and acknowledges it according to the ack policy.
// Messages that are not acknowledged become visible again after the visibility timeout.
func (w *Worker) processMessage(ctx context.Context, msg queue.Message) error {
	t, err := task.Decode(msg)
	if err != nil {
		w.logger.Error("Failed to decode task message",
			append([]any{slog.String("message_id", msg.ID)}, domain.ErrorAttrs(err)...)...,
		)
		return err
	}

	logger := w.logger.With(
		slog.String("job_id", t.JobID),
		slog.Int("frame", t.FrameNumber()),
		slog.String("destination_key", t.DestinationKey),
	)

	if w.ackPolicy == domain.AckAfterDecode {
		if err := w.queue.Delete(ctx, msg.Handle); err != nil {
			logger.Error("Failed to delete task message", domain.ErrorAttrs(err)...)
			return err
		}
	}

	start := time.Now()
	key, err := w.processTask(ctx, t)
	if err != nil {
		attrs := append([]any{slog.Duration("elapsed", time.Since(start))}, domain.ErrorAttrs(err)...)
		if w.ackPolicy == domain.AckAfterDecode {
			logger.Error("Task failed after acknowledgement, frame is lost", attrs...)
		} else {
			logger.Error("Task failed, it will be redelivered", attrs...)
		}
		return err
	}

	if w.ackPolicy == domain.AckAfterSuccess {
		if err := w.queue.Delete(ctx, msg.Handle); err != nil {
			if errors.Is(err, domain.ErrHandleExpired) {
				logger.Warn("Task finished after its visibility timeout, it may be rendered again",
					slog.String("uploaded_key", key),
				)
			} else {
				logger.Error("Failed to delete task message", domain.ErrorAttrs(err)...)
			}
			return err
		}
	}

	logger.Info("Task completed",
		slog.String("uploaded_key", key),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// processTask downloads the scene, renders the frame and uploads the artifact.
// It returns the uploaded object key. The task directory is always removed.
func (w *Worker) processTask(ctx context.Context, t *domain.RenderTask) (string, error) {
	if w.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.taskTimeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp(w.workDir, fmt.Sprintf("render-%05d-", t.FrameNumber()))
	if err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			w.logger.Warn("Failed to remove task directory",
				slog.String("path", workDir),
				slog.Any("error", err),
			)
		}
	}()

	inputPath := filepath.Join(workDir, inputFileName)
	if err := w.objects.Download(ctx, w.sourceBucket, t.SourceFile, inputPath); err != nil {
		return "", fmt.Errorf("failed to download source %s: %w", t.SourceFile, err)
	}

	output, err := w.renderer.Render(ctx, render.Invocation{
		InputPath: inputPath,
		WorkDir:   workDir,
		Frame:     t.FrameNumber(),
		GPU:       w.device,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render frame %d: %w", t.FrameNumber(), err)
	}

	key := t.DestinationKey + filepath.Ext(output)
	if err := w.objects.Upload(ctx, t.DestinationBucket, key, output); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return key, nil
}
