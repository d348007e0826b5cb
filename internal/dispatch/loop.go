// Package dispatch implements the per-task state machine that is the
// heart of the system: report position, await capacity, acquire an
// executor, run it, stream or collect the result, release, and mirror
// every transition to the task store.
package dispatch

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/translate-engine/internal/executor"
	"github.com/PayRpc/translate-engine/internal/executorpool"
	"github.com/PayRpc/translate-engine/internal/frame"
	"github.com/PayRpc/translate-engine/internal/metrics"
	"github.com/PayRpc/translate-engine/internal/taskqueue"
	"github.com/PayRpc/translate-engine/internal/taskstore"
)

// Loop wires the four core components together. One Loop instance is
// shared process-wide; RunUnary and RunStreaming are its two entry
// points, each invocation serving one queue item until terminal state.
type Loop struct {
	Store taskstore.Store
	Queue *taskqueue.Queue
	Pool  *executorpool.Pool

	Classes   []FailureClass
	Extract   executor.Extractor
	Transform executor.Transformer
	Logger    *zap.Logger

	// Now is the loop's clock, overridable in tests.
	Now func() time.Time
}

// New constructs a Loop with the default failure-classification table
// and the default extractor/transformer pair.
func New(store taskstore.Store, queue *taskqueue.Queue, pool *executorpool.Pool, logger *zap.Logger) *Loop {
	return &Loop{
		Store:     store,
		Queue:     queue,
		Pool:      pool,
		Classes:   DefaultFailureClasses,
		Extract:   executor.DefaultExtractor,
		Transform: executor.DefaultTransformer,
		Logger:    logger,
		Now:       time.Now,
	}
}

// RunUnary serves item to completion and returns the result bytes, or
// an error — ErrClientGone, a *FailureError, or a store/context error.
func (d *Loop) RunUnary(ctx context.Context, item *taskqueue.Item, images []image.Image, cfg map[string]any) ([]byte, error) {
	return d.run(ctx, item, images, cfg, nil)
}

// RunStreaming serves item to completion, emitting framed progress
// bytes through emit instead of returning a result. It returns non-nil
// only for operational failures outside the translation itself (a
// cancelled context, a store error) — translation failures and
// disconnects are terminal states reported through emit and the task
// store, not through the return value.
func (d *Loop) RunStreaming(ctx context.Context, item *taskqueue.Item, images []image.Image, cfg map[string]any, emit func([]byte)) error {
	_, err := d.run(ctx, item, images, cfg, emit)
	return err
}

// run is the shared inner state machine behind both entry points. emit
// is nil in unary mode.
func (d *Loop) run(ctx context.Context, item *taskqueue.Item, images []image.Image, cfg map[string]any, emit func([]byte)) ([]byte, error) {
	queuedAt := d.Now()
	for {
		pos, ok := d.Queue.PositionOf(item)
		if !ok {
			return d.handleGone(ctx, item, emit)
		}

		if emit != nil {
			d.emitFrame(emit, frame.Position(pos))
		}
		if err := d.update(ctx, item.TaskID, taskstore.Update{QueuePosition: &pos}); err != nil {
			return nil, err
		}

		if pos >= d.Pool.FreeCount() {
			d.Queue.WaitForChange(ctx)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if item.Conn != nil && item.Conn.Disconnected(ctx) {
			d.Queue.ReapDisconnected(ctx)
			return d.handleGone(ctx, item, emit)
		}

		handle, err := d.Pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("dispatch: acquire failed: %w", err)
		}
		metrics.DispatchWaitDuration.Observe(d.Now().Sub(queuedAt).Seconds())

		d.Queue.Remove(item)

		started := d.Now()
		processing := taskstore.StatusProcessing
		zero := 0
		if err := d.update(ctx, item.TaskID, taskstore.Update{Status: &processing, StartedAt: &started, QueuePosition: &zero}); err != nil {
			d.Pool.Release(handle)
			return nil, err
		}

		if emit != nil {
			d.emitFrame(emit, frame.Dispatched())
		}

		return d.dispatch(ctx, item, handle, images, cfg, emit)
	}
}

// handleGone terminates a reaped or disconnected item before it ever
// reached an executor. Streaming writes status=cancelled and returns
// silently; unary raises ErrClientGone.
func (d *Loop) handleGone(ctx context.Context, item *taskqueue.Item, emit func([]byte)) ([]byte, error) {
	metrics.TasksTerminal.WithLabelValues(string(taskstore.StatusCancelled)).Inc()
	if emit == nil {
		return nil, ErrClientGone
	}
	finished := d.Now()
	cancelled := taskstore.StatusCancelled
	_ = d.update(ctx, item.TaskID, taskstore.Update{Status: &cancelled, FinishedAt: &finished})
	return nil, nil
}

// dispatch runs the executor through the pool's circuit breaker,
// always releasing the handle, and handles success/failure.
func (d *Loop) dispatch(ctx context.Context, item *taskqueue.Item, handle executor.Handle, images []image.Image, cfg map[string]any, emit func([]byte)) ([]byte, error) {
	defer d.Pool.Release(handle)
	started := d.Now()

	if emit == nil {
		result, err := d.Pool.Guard(func() (any, error) {
			return handle.RunUnary(ctx, images, cfg)
		})
		metrics.ExecutorRunDuration.WithLabelValues("unary").Observe(d.Now().Sub(started).Seconds())
		if err != nil {
			return d.fail(ctx, item, err, emit)
		}
		finished := d.Now()
		completed := taskstore.StatusCompleted
		if err := d.update(ctx, item.TaskID, taskstore.Update{Status: &completed, FinishedAt: &finished}); err != nil {
			return nil, err
		}
		metrics.TasksTerminal.WithLabelValues(string(taskstore.StatusCompleted)).Inc()
		return d.Transform(result), nil
	}

	var storeErr error
	_, err := d.Pool.Guard(func() (any, error) {
		return nil, handle.RunStreaming(ctx, images, cfg, func(ev executor.Event) {
			if storeErr != nil {
				return // a prior store write already failed this task; stop mutating it further
			}
			storeErr = d.onProgress(ctx, item, ev, emit)
		})
	})
	metrics.ExecutorRunDuration.WithLabelValues("stream").Observe(d.Now().Sub(started).Seconds())
	if storeErr != nil {
		return nil, storeErr
	}
	if err != nil {
		return d.fail(ctx, item, err, emit)
	}
	// Success: completion was already reported inside the ProgressResult
	// branch of onProgress.
	return nil, nil
}

// onProgress maps one streaming Event to a store mutation plus an
// outgoing frame.
func (d *Loop) onProgress(ctx context.Context, item *taskqueue.Item, ev executor.Event, emit func([]byte)) error {
	switch ev.Code {
	case executor.ProgressResult:
		debugFolder := d.Extract(ev.Blob)
		finished := d.Now()
		completed := taskstore.StatusCompleted
		meta := mergeMeta(item.Meta, map[string]any{"debug_folder": debugFolder})
		if err := d.update(ctx, item.TaskID, taskstore.Update{
			Status: &completed, FinishedAt: &finished, ResultPath: &debugFolder, Meta: meta,
		}); err != nil {
			return err
		}
		metrics.TasksTerminal.WithLabelValues(string(taskstore.StatusCompleted)).Inc()
		d.emitFrame(emit, frame.Result(d.Transform(ev.Blob)))
		return nil

	case executor.ProgressError:
		msg := string(ev.Payload)
		finished := d.Now()
		failed := taskstore.StatusFailed
		if err := d.update(ctx, item.TaskID, taskstore.Update{Status: &failed, Error: &msg, FinishedAt: &finished}); err != nil {
			return err
		}
		metrics.TasksTerminal.WithLabelValues(string(taskstore.StatusFailed)).Inc()
		d.emitFrame(emit, frame.Error(msg))
		return nil

	case executor.ProgressPosition:
		if pos, err := strconv.Atoi(string(ev.Payload)); err == nil {
			if err := d.update(ctx, item.TaskID, taskstore.Update{QueuePosition: &pos}); err != nil {
				return err
			}
		}
		d.emitFrame(emit, frame.Encode(frame.CodePosition, ev.Payload))
		return nil

	default:
		d.emitFrame(emit, frame.Encode(frame.Code(ev.Code), ev.Payload))
		return nil
	}
}

// fail classifies the executor error, writes the terminal record, and
// either emits an error frame (streaming) or returns a *FailureError
// (unary).
func (d *Loop) fail(ctx context.Context, item *taskqueue.Item, execErr error, emit func([]byte)) ([]byte, error) {
	msg := classify(d.Classes, execErr)
	finished := d.Now()
	failed := taskstore.StatusFailed
	if err := d.update(ctx, item.TaskID, taskstore.Update{Status: &failed, Error: &msg, FinishedAt: &finished}); err != nil {
		return nil, err
	}
	metrics.TasksTerminal.WithLabelValues(string(taskstore.StatusFailed)).Inc()
	if emit != nil {
		d.emitFrame(emit, frame.Error(msg))
		return nil, nil
	}
	return nil, &FailureError{Message: msg, Cause: execErr}
}

// emitFrame counts an outgoing frame by its code before handing it to
// the caller-supplied emit function.
func (d *Loop) emitFrame(emit func([]byte), b []byte) {
	if len(b) > 0 {
		metrics.FramesEmitted.WithLabelValues(strconv.Itoa(int(b[0]))).Inc()
	}
	emit(b)
}

func (d *Loop) update(ctx context.Context, taskID string, u taskstore.Update) error {
	if err := d.Store.Update(ctx, taskID, u); err != nil {
		d.Logger.Error("task store update failed", zap.String("task_id", taskID), zap.Error(err))
		return fmt.Errorf("dispatch: store update failed: %w", err)
	}
	return nil
}

func mergeMeta(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
