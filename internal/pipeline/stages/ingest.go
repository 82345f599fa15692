// Package stages implements the five pipeline.Executor stages: INGEST, SCRIBE, REFINE,
// GENERATE, SHELVE (spec.md §4.2-§4.6).
package stages

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
	"github.com/jfima/amanu/internal/providers"
	"github.com/jfima/amanu/pkg/logger"
)

// upstreamCacheThresholdSeconds is the minimum media duration INGEST will pay an upstream
// cache upload for; shorter media is cheap enough to just resend on every call.
const upstreamCacheThresholdSeconds = 5 * 60

// Ingest copies the source file into the job's media/ directory, probes its duration, and
// optionally compresses it, grounded on the teacher's AudioFormatPreprocessor
// (exec.CommandContext against ffmpeg/ffprobe, combined-output error logging).
type Ingest struct {
	FFmpegPath  string
	FFprobePath string
	Registry    *providers.Registry
}

func (i *Ingest) Stage() models.Stage { return models.StageIngest }

// ValidatePrerequisites requires the source file to exist and be non-empty.
func (i *Ingest) ValidatePrerequisites(job *models.Job) error {
	info, err := os.Stat(job.Meta.Source)
	if err != nil {
		return &pipeline.PrerequisiteError{Stage: models.StageIngest, Cause: pipeline.ErrFileMissing, Hint: fmt.Sprintf("check that %s exists", job.Meta.Source)}
	}
	if info.Size() == 0 {
		return &pipeline.PrerequisiteError{Stage: models.StageIngest, Cause: pipeline.ErrFileEmpty}
	}
	return nil
}

func (i *Ingest) Execute(ctx context.Context, job *models.Job) error {
	start := time.Now()
	mediaDir := filepath.Join(job.Dir, jobstore.DirMedia)
	workingCopy := filepath.Join(mediaDir, filepath.Base(job.Meta.Source))

	if err := copyFile(job.Meta.Source, workingCopy); err != nil {
		return &pipeline.StageError{Stage: models.StageIngest, Cause: fmt.Errorf("copy source: %w", err)}
	}

	duration, format, bitrate, err := i.probe(ctx, workingCopy)
	if err != nil {
		logger.Warn("ffprobe failed, continuing with zero-value metadata", "job_id", job.ID, "error", err)
	}

	result := models.IngestResult{
		SourcePath:      job.Meta.Source,
		WorkingCopyPath: workingCopy,
		DurationSeconds: duration,
		Format:          format,
		Bitrate:         bitrate,
	}

	mode := job.Meta.Configuration.CompressionMode
	if mode == "compressed" || mode == "optimized" {
		compressed, err := i.compress(ctx, workingCopy, mode)
		if err != nil {
			logger.Warn("compression failed, continuing with original file", "job_id", job.ID, "error", err)
		} else {
			result.CompressedPath = compressed
		}
	}

	if i.Registry != nil {
		if handle, err := i.uploadForCache(ctx, job, result); err != nil {
			logger.Warn("upstream cache upload failed, continuing without a cache handle", "job_id", job.ID, "error", err)
		} else if handle != "" {
			result.UpstreamCacheHandle = handle
		}
	}

	if err := jobstore.WriteArtifact(filepath.Join(job.Dir, jobstore.FileIngest), result); err != nil {
		return &pipeline.StageError{Stage: models.StageIngest, Cause: err}
	}

	finish := time.Now()
	_ = jobstore.WriteStageDetail(job.Dir, models.StageDetail{
		Stage:      models.StageIngest,
		StartedAt:  start,
		FinishedAt: finish,
		Response:   result,
	})
	return nil
}

// uploadForCache uploads the working (or compressed) copy to the configured transcribe
// provider's upstream cache, if it has one and the media clears the duration threshold.
// Returning an empty handle with a nil error means there was nothing to upload, not a failure.
func (i *Ingest) uploadForCache(ctx context.Context, job *models.Job, result models.IngestResult) (string, error) {
	providerName := job.Meta.Configuration.TranscribeProvider
	if providerName == "" {
		return "", nil
	}
	tp, err := i.Registry.Transcriber(providerName)
	if err != nil {
		return "", nil
	}
	if !shouldUploadForCache(tp.IngestSpecs(), result.DurationSeconds) {
		return "", nil
	}
	uploader, ok := tp.(providers.UpstreamCacheUploader)
	if !ok {
		return "", nil
	}
	path := result.WorkingCopyPath
	if result.CompressedPath != "" {
		path = result.CompressedPath
	}
	return uploader.UploadForCache(ctx, path)
}

// shouldUploadForCache reports whether a provider's upstream cache is worth paying for: it
// must expose one, and the media must clear upstreamCacheThresholdSeconds (spec.md's "source
// file shorter than the upstream-cache threshold: no upload is attempted" boundary case).
func shouldUploadForCache(specs providers.IngestSpecs, durationSeconds float64) bool {
	return specs.NeedsUpstreamCache && durationSeconds >= upstreamCacheThresholdSeconds
}

func (i *Ingest) probe(ctx context.Context, path string) (duration float64, format string, bitrate int, err error) {
	ffprobe := i.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration,bit_rate,format_name",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	out, runErr := cmd.Output()
	if runErr != nil {
		return 0, strings.TrimPrefix(filepath.Ext(path), "."), 0, runErr
	}
	for _, line := range strings.Split(string(out), "\n") {
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "duration":
			duration, _ = strconv.ParseFloat(kv[1], 64)
		case "bit_rate":
			bitrate, _ = strconv.Atoi(kv[1])
		case "format_name":
			format = strings.Split(kv[1], ",")[0]
		}
	}
	return duration, format, bitrate, nil
}

// compress re-encodes the working copy to mono 16kHz for "compressed", or a lower constant
// bitrate mp3 for "optimized", matching the two compression tiers spec.md §4.2 names.
func (i *Ingest) compress(ctx context.Context, path, mode string) (string, error) {
	ffmpeg := i.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_" + mode + ".wav"

	var args []string
	switch mode {
	case "optimized":
		args = []string{"-i", path, "-ar", "16000", "-ac", "1", "-b:a", "32k", "-y", outPath}
	default: // "compressed"
		args = []string{"-i", path, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", "-y", outPath}
	}

	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg compression failed: %w: %s", err, string(output))
	}
	return outPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
