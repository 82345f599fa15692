// Package localengine is a reference TranscriptionProvider backed by a local transcription
// binary, grounded on the teacher's internal/asrengine and internal/diarengine managers: a
// lazily-started external process, readiness probing, and a command built from an
// environment-configurable argv, adapted from a long-lived gRPC daemon to a one-shot
// exec.CommandContext invocation per job since this module carries no gRPC stack.
package localengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/providers"
)

const (
	defaultCmd = "amanu-local-engine"
	envCmd     = "LOCAL_ENGINE_CMD"
	envThreads = "LOCAL_ENGINE_THREADS"
)

// Provider shells out to a local transcription binary, one process per call, serializing
// access so a single CPU-bound engine process is never run concurrently for two jobs.
type Provider struct {
	mu      sync.Mutex
	command []string
	threads int
}

// New builds a Provider reading its invocation command from LOCAL_ENGINE_CMD (space-separated,
// defaulting to "amanu-local-engine").
func New(desc models.ProviderDescriptor) (any, error) {
	cmdStr := strings.TrimSpace(os.Getenv(envCmd))
	if cmdStr == "" {
		cmdStr = defaultCmd
	}
	threads := 0
	if v := os.Getenv(envThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			threads = n
		}
	}
	return &Provider{command: strings.Fields(cmdStr), threads: threads}, nil
}

// IngestSpecs declares that this provider reads the ingested working copy directly, never a
// remote cache handle.
func (p *Provider) IngestSpecs() providers.IngestSpecs {
	return providers.IngestSpecs{
		NeedsUpstreamCache:  false,
		SupportedContainers: []string{"wav", "mp3", "m4a", "flac"},
		AcceptsURI:          false,
	}
}

// engineLine is one line of the engine's newline-delimited JSON stdout protocol: either a
// segment or the terminal summary.
type engineLine struct {
	Type    string  `json:"type"` // "segment" | "done" | "error"
	Speaker string  `json:"speaker,omitempty"`
	Start   float64 `json:"start,omitempty"`
	End     float64 `json:"end,omitempty"`
	Text    string  `json:"text,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Transcribe runs the local engine binary against the ingested file, streaming its
// newline-delimited JSON segments onto the returned channel as they're produced.
func (p *Provider) Transcribe(ctx context.Context, ingest models.IngestResult, languageHint string, retry providers.RetryPolicy) (<-chan providers.SegmentOrEnd, *providers.UsageFuture, error) {
	if len(p.command) == 0 {
		return nil, nil, fmt.Errorf("localengine: no command configured")
	}

	out := make(chan providers.SegmentOrEnd)
	future := providers.NewUsageFuture()

	path := ingest.WorkingCopyPath

	go func() {
		defer close(out)

		p.mu.Lock()
		defer p.mu.Unlock()

		start := time.Now()
		args := append([]string{}, p.command[1:]...)
		args = append(args, "--input", path)
		if languageHint != "" && languageHint != "auto" {
			args = append(args, "--language", languageHint)
		}
		if p.threads > 0 {
			args = append(args, "--threads", strconv.Itoa(p.threads))
		}

		cmd := exec.CommandContext(ctx, p.command[0], args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			future.Resolve(models.UsageRecord{}, err)
			return
		}
		if err := cmd.Start(); err != nil {
			future.Resolve(models.UsageRecord{}, fmt.Errorf("localengine: start: %w", err))
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var runErr error
		for scanner.Scan() {
			var line engineLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue
			}
			switch line.Type {
			case "segment":
				select {
				case out <- providers.SegmentOrEnd{Segment: &models.TranscriptSegment{
					SpeakerID: line.Speaker,
					StartTime: line.Start,
					EndTime:   line.End,
					Text:      line.Text,
				}}:
				case <-ctx.Done():
					_ = cmd.Process.Kill()
					future.Resolve(models.UsageRecord{}, ctx.Err())
					return
				}
			case "error":
				runErr = fmt.Errorf("localengine: %s", line.Message)
			case "done":
				// terminal marker; loop continues draining to EOF, Wait() below reaps the process
			}
		}
		waitErr := cmd.Wait()
		if runErr == nil && waitErr != nil {
			runErr = fmt.Errorf("localengine: %w", waitErr)
		}
		if runErr != nil {
			future.Resolve(models.UsageRecord{}, runErr)
			return
		}

		out <- providers.SegmentOrEnd{End: true}
		future.Resolve(models.UsageRecord{
			Stage:           models.StageScribe,
			Provider:        "localengine",
			Model:           "local",
			DurationSeconds: time.Since(start).Seconds(),
			RequestCount:    1,
		}, nil)
	}()

	return out, future, nil
}
