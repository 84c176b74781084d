package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
)

// consume polls the queue and handles received messages sequentially
func (w *Worker) consume(ctx context.Context) {
	w.logger.Info("Task consumer started")

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := w.queue.Receive(ctx, w.maxMessages, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to receive tasks",
				append([]any{slog.Duration("retry_after", w.errorBackoff)}, domain.ErrorAttrs(err)...)...,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errorBackoff):
			}
			continue
		}

		if len(msgs) == 0 {
			w.logger.Debug("No tasks received")
			continue
		}

		for i, msg := range msgs {
			if ctx.Err() != nil {
				w.logger.Info("Stopping with received tasks left for redelivery",
					slog.Int("remaining", len(msgs)-i),
				)
				return
			}
			// shutdown must not interrupt a task that has started
			w.processMessage(context.WithoutCancel(ctx), msg)
		}
	}
}
