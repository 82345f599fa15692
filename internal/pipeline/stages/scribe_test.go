package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
	"github.com/jfima/amanu/internal/providers"
)

type stubTranscriber struct{ segments []providers.SegmentOrEnd }

func (s *stubTranscriber) IngestSpecs() providers.IngestSpecs { return providers.IngestSpecs{} }

func (s *stubTranscriber) Transcribe(ctx context.Context, ingest models.IngestResult, languageHint string, retry providers.RetryPolicy) (<-chan providers.SegmentOrEnd, *providers.UsageFuture, error) {
	ch := make(chan providers.SegmentOrEnd, len(s.segments)+1)
	for _, item := range s.segments {
		ch <- item
	}
	close(ch)
	future := providers.NewUsageFuture()
	future.Resolve(models.UsageRecord{}, nil)
	return ch, future, nil
}

func newScribeRegistry(t *testing.T, tp *stubTranscriber) *providers.Registry {
	t.Helper()
	dir := t.TempDir()
	providerDir := filepath.Join(dir, "fake")
	require.NoError(t, os.MkdirAll(providerDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(providerDir, "defaults.yaml"), []byte("name: fake\ncapabilities: [transcription]\n"), 0644))
	reg, err := providers.NewRegistry(dir)
	require.NoError(t, err)
	reg.RegisterFactory("fake", func(desc models.ProviderDescriptor) (any, error) { return tp, nil })
	return reg
}

func newIngestedJob(t *testing.T) *models.Job {
	t.Helper()
	store := jobstore.New(t.TempDir())
	job, err := store.Create("source.mp3", models.Configuration{TranscribeProvider: "fake"})
	require.NoError(t, err)
	require.NoError(t, jobstore.WriteArtifact(filepath.Join(job.Dir, jobstore.FileIngest), models.IngestResult{DurationSeconds: 10}))
	return job
}

func seg(start, end float64) providers.SegmentOrEnd {
	return providers.SegmentOrEnd{Segment: &models.TranscriptSegment{StartTime: start, EndTime: end}}
}

func TestScribeExecuteAcceptsOverlappingSegmentsMonotoneInStartTime(t *testing.T) {
	job := newIngestedJob(t)
	tp := &stubTranscriber{segments: []providers.SegmentOrEnd{
		seg(0, 5),
		seg(3, 8), // overlaps the previous segment's end, but start_time is non-decreasing
		seg(3, 6), // same start_time as the previous segment is allowed
	}}
	s := &Scribe{Registry: newScribeRegistry(t, tp)}
	require.NoError(t, s.Execute(context.Background(), job))

	var segments []models.TranscriptSegment
	require.NoError(t, jobstore.ReadArtifact(filepath.Join(job.Dir, jobstore.FileRawTranscript), &segments))
	assert.Len(t, segments, 3)
}

func TestScribeExecuteRejectsDecreasingStartTime(t *testing.T) {
	job := newIngestedJob(t)
	tp := &stubTranscriber{segments: []providers.SegmentOrEnd{
		seg(5, 9),
		seg(2, 6),
	}}
	s := &Scribe{Registry: newScribeRegistry(t, tp)}
	err := s.Execute(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSegmentOrdering)
}

func TestScribeExecuteRejectsSegmentEndingBeforeItStarts(t *testing.T) {
	job := newIngestedJob(t)
	tp := &stubTranscriber{segments: []providers.SegmentOrEnd{
		seg(5, 3),
	}}
	s := &Scribe{Registry: newScribeRegistry(t, tp)}
	err := s.Execute(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSegmentOrdering)
}
