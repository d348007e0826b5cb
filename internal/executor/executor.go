// Package executor defines the boundary between the dispatch loop and
// the heavy compute workers that actually perform a translation.
//
// The core only depends on the Handle interface below, never on a
// concrete translation implementation, so a real worker transport can
// be swapped in without touching dispatch.
package executor

import (
	"context"
	"image"
)

// ProgressCode mirrors the frame codes a streaming executor call can
// emit: 0 final result, 2 error, 3 queue-position, 4 dispatch-begun, 1
// reserved for intermediate progress.
type ProgressCode int

const (
	ProgressResult   ProgressCode = 0
	ProgressIncr     ProgressCode = 1
	ProgressError    ProgressCode = 2
	ProgressPosition ProgressCode = 3
	ProgressBegun    ProgressCode = 4
)

// Event is what a streaming executor call hands to its ProgressFunc.
// Blob is only populated for ProgressResult — it is an opaque value
// whose only field this repository cares about is a debug-folder path,
// reached through an Extractor below rather than by type-asserting it
// directly.
type Event struct {
	Code    ProgressCode
	Blob    any
	Payload []byte
}

// ProgressFunc receives one Event per progress callback invocation from
// the executor.
type ProgressFunc func(Event)

// ResultBlob is the concrete Blob shape produced by the in-process fake
// executor below. A real executor transport may hand back a different
// concrete type; callers only rely on the Extractor/Transformer pair,
// never on this type directly.
type ResultBlob struct {
	Payload     []byte
	DebugFolder string
}

// Extractor pulls the optional debug-folder path out of an opaque
// result blob. Returns "" if the blob carries none.
type Extractor func(blob any) (debugFolder string)

// Transformer turns an opaque result blob into the bytes a client
// actually receives.
type Transformer func(blob any) []byte

// DefaultExtractor handles the ResultBlob shape produced by the
// in-process fake executor; a deployment wiring a real executor
// transport supplies its own.
func DefaultExtractor(blob any) string {
	if rb, ok := blob.(ResultBlob); ok {
		return rb.DebugFolder
	}
	return ""
}

// DefaultTransformer unwraps ResultBlob.Payload; a deployment wiring a
// real executor transport supplies its own.
func DefaultTransformer(blob any) []byte {
	if rb, ok := blob.(ResultBlob); ok {
		return rb.Payload
	}
	return nil
}

// Handle is an opaque reference to one worker capable of running a
// translation job, unary or streaming.
type Handle interface {
	// RunUnary transforms bitmap(s)+config into a single result blob.
	RunUnary(ctx context.Context, images []image.Image, cfg map[string]any) (any, error)
	// RunStreaming does the same work but emits incremental Events via
	// progress, culminating in one ProgressResult event.
	RunStreaming(ctx context.Context, images []image.Image, cfg map[string]any, progress ProgressFunc) error
}
