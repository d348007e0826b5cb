package executor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// Fake is an in-process Handle used by tests and local development when
// no real translation backend is configured. It "translates" a job by
// returning the text "translated N image(s)" as the result payload,
// after sleeping StepDelay once per image.
type Fake struct {
	// StepDelay is slept once per image before producing a result.
	StepDelay time.Duration
	// FailWith, if non-nil, is returned instead of a result — used to
	// exercise the dispatch loop's failure classification in tests.
	FailWith error
}

func (f *Fake) run(ctx context.Context, images []image.Image, progress func(n int)) (ResultBlob, error) {
	if f.FailWith != nil {
		return ResultBlob{}, f.FailWith
	}
	for i := range images {
		select {
		case <-ctx.Done():
			return ResultBlob{}, ctx.Err()
		case <-time.After(f.StepDelay):
		}
		if progress != nil {
			progress(i + 1)
		}
	}
	payload := []byte(fmt.Sprintf("translated %d image(s)", len(images)))
	return ResultBlob{Payload: payload, DebugFolder: ""}, nil
}

// RunUnary implements Handle.
func (f *Fake) RunUnary(ctx context.Context, images []image.Image, cfg map[string]any) (any, error) {
	return f.run(ctx, images, nil)
}

// RunStreaming implements Handle. FailWith is an outer executor-level
// failure (a dropped connection, a backend not yet up) — it is returned
// directly, exactly as RunUnary does, never routed through progress as
// a ProgressError event. A ProgressError event is reserved for a
// translation that the executor itself completed and rejected; Fake
// never produces one since it has no such failure mode to simulate.
func (f *Fake) RunStreaming(ctx context.Context, images []image.Image, cfg map[string]any, progress ProgressFunc) error {
	blob, err := f.run(ctx, images, func(n int) {
		progress(Event{Code: ProgressIncr, Payload: []byte(fmt.Sprintf("%d/%d", n, len(images)))})
	})
	if err != nil {
		return err
	}
	progress(Event{Code: ProgressResult, Blob: blob})
	return nil
}

// ErrExecutorStartup is a canned error whose text matches one of the
// startup-class substrings dispatch classifies as transient — useful
// for exercising the "service is starting up" user-facing message in
// tests.
var ErrExecutorStartup = errors.New("Cannot connect to host 'executor-1': connection refused")
