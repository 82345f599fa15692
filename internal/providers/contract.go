// Package providers implements dynamic discovery of interchangeable transcription and
// refinement backends from metadata, capability filtering, and a unified cost/token
// accounting contract (spec.md §4.5).
package providers

import (
	"context"

	"github.com/jfima/amanu/internal/models"
)

// RetryPolicy bounds in-stage retries for a transcription call.
type RetryPolicy struct {
	MaxAttempts   int
	DelaySeconds  int
}

// IngestSpecs describes a transcription provider's input requirements.
type IngestSpecs struct {
	NeedsUpstreamCache   bool
	SupportedContainers  []string
	AcceptsURI           bool
}

// SegmentOrEnd is one item of a transcription provider's segment stream. Exactly one of
// Segment or End is set; the executor terminates on End OR stream close, never by counting
// segments (spec.md §4.3, §9 "Streaming transcripts").
type SegmentOrEnd struct {
	Segment *models.TranscriptSegment
	End     bool
}

// TranscriptionProvider implements speech-to-text with speaker labels and timestamps.
type TranscriptionProvider interface {
	IngestSpecs() IngestSpecs
	// Transcribe returns a channel of segments/end-markers and the usage once the call
	// completes. The channel is closed by the provider when the stream ends.
	Transcribe(ctx context.Context, ingest models.IngestResult, languageHint string, retry RetryPolicy) (<-chan SegmentOrEnd, *UsageFuture, error)
}

// UpstreamCacheUploader is an optional capability a provider implements when IngestSpecs
// reports NeedsUpstreamCache: uploading media once up front so later calls reference it by
// handle instead of re-sending the payload.
type UpstreamCacheUploader interface {
	UploadForCache(ctx context.Context, path string) (handle string, err error)
}

// UsageFuture resolves to the call's actual UsageRecord once the provider call completes;
// providers that expose a post-hoc cost endpoint query it here rather than returning a
// precomputed estimate (spec.md §4.5).
type UsageFuture struct {
	done chan struct{}
	rec  models.UsageRecord
	err  error
}

// NewUsageFuture creates an unresolved future.
func NewUsageFuture() *UsageFuture { return &UsageFuture{done: make(chan struct{})} }

// Resolve completes the future exactly once.
func (f *UsageFuture) Resolve(rec models.UsageRecord, err error) {
	f.rec, f.err = rec, err
	close(f.done)
}

// Wait blocks until Resolve is called (or ctx is done) and returns the result.
func (f *UsageFuture) Wait(ctx context.Context) (models.UsageRecord, error) {
	select {
	case <-f.done:
		return f.rec, f.err
	case <-ctx.Done():
		return models.UsageRecord{}, ctx.Err()
	}
}

// RefineInput is either a text transcript (standard mode) or an audio handle (direct mode).
type RefineInput struct {
	TextTranscript string
	AudioHandle    string // upstream cache handle or uploaded URI
	Direct         bool
}

// RefinementProvider implements schema-directed structured extraction from text or audio.
type RefinementProvider interface {
	Refine(ctx context.Context, input RefineInput, schema map[string]models.FieldSchema, languageHint string) (models.EnrichedContext, models.UsageRecord, error)
}
