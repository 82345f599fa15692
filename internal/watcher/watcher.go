// Package watcher implements the watch loop described in spec.md §4.6: a recursive fsnotify
// directory watcher with debounce and copy-then-delete safe handoff into the pipeline driver,
// grounded almost directly on the teacher's internal/dropzone/dropzone.go.
package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/systeminfo"
	"github.com/jfima/amanu/pkg/logger"
)

var audioExtensions = []string{
	".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg", ".wma", ".mp4", ".mkv", ".webm",
}

// Submitter is the subset of the pipeline driver the watcher needs: start a new run for a
// freshly dropped file.
type Submitter interface {
	Run(ctx context.Context, source string, cfg models.Configuration, stopAfter models.Stage) (*models.Job, error)
}

// Watcher monitors InputDir recursively for new audio files and hands each one to Submitter
// once it has finished being written.
type Watcher struct {
	inputDir    string
	debounce    time.Duration
	submitter   Submitter
	defaultCfg  models.Configuration
	fsw         *fsnotify.Watcher
	mu          sync.Mutex
	stopped     chan struct{}
	workers     int
	jobs        chan string
	wg          sync.WaitGroup
}

// New builds a Watcher rooted at inputDir, debouncing file-creation events by debounce before
// handing the file off. The number of files processed concurrently is sized by
// optimalWatcherWorkers, not left to spawn one goroutine per detected file.
func New(inputDir string, debounce time.Duration, submitter Submitter, defaultCfg models.Configuration) *Watcher {
	return &Watcher{
		inputDir:   inputDir,
		debounce:   debounce,
		submitter:  submitter,
		defaultCfg: defaultCfg,
		stopped:    make(chan struct{}),
		workers:    optimalWatcherWorkers(),
		jobs:       make(chan string, 64),
	}
}

// optimalWatcherWorkers sizes the watcher's bounded worker pool from host resources, playing
// the role getOptimalWorkerCount plays for the teacher's transcription task queue: ingest and
// transcription work is CPU/IO heavy, so the pool stays small even on large hosts, and caps at
// one worker on memory-constrained ones regardless of CPU count.
func optimalWatcherWorkers() int {
	numCPU := runtime.NumCPU()
	workers := 1
	switch {
	case numCPU <= 2:
		workers = 1
	case numCPU <= 8:
		workers = 2
	default:
		workers = 4
	}
	const gib = 1024 * 1024 * 1024
	if total, err := systeminfo.TotalMemoryBytes(); err == nil && total < 4*gib {
		workers = 1
	}
	return workers
}

// Start creates the input directory if needed, processes files already sitting in it, then
// begins monitoring for new ones. It returns once the watcher is fully armed; Run continues
// until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.inputDir, 0755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addRecursively(w.inputDir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch input dir: %w", err)
	}

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx)
	}

	w.processExisting(ctx)

	go w.loop(ctx)

	logger.Info("Watcher started", "input_dir", w.inputDir, "workers", w.workers)
	return nil
}

// Stop closes the underlying fsnotify watcher, ending Run's event loop, then drains and shuts
// down the worker pool.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return nil
	}
	close(w.stopped)
	err := w.fsw.Close()
	w.mu.Unlock()

	close(w.jobs)
	w.wg.Wait()
	return err
}

// worker drains jobs until the channel closes or ctx is cancelled, handling one file at a time.
func (w *Watcher) worker(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case path, ok := <-w.jobs:
			if !ok {
				return
			}
			w.handle(ctx, path)
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues path for processing by the worker pool, logging and dropping it if the queue
// is full rather than blocking the fsnotify event loop.
func (w *Watcher) submit(path string) {
	select {
	case w.jobs <- path:
	default:
		logger.Warn("Watcher queue full, deferring file to next detection", "path", path)
	}
}

func (w *Watcher) addRecursively(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logger.Warn("Error walking watch directory", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				logger.Warn("Failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) processExisting(ctx context.Context) {
	_ = filepath.Walk(w.inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if isAudioFile(path) {
			w.submit(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addRecursively(event.Name); err != nil {
					logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
				continue
			}
			if isAudioFile(event.Name) {
				w.submit(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("Watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// handle debounces event.Name (waiting for its size to stabilize, i.e. the writer finished),
// copies it into a staging path under the working root, then deletes the original only after
// the pipeline run has been durably created — copy-then-delete, never delete-then-copy.
func (w *Watcher) handle(ctx context.Context, path string) {
	time.Sleep(w.debounce)

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	size1 := info.Size()
	time.Sleep(w.debounce)
	info2, err := os.Stat(path)
	if err != nil || info2.Size() != size1 {
		logger.Info("File still being written, deferring", "path", path)
		return
	}

	logger.Info("Submitting dropped file", "path", path)
	job, err := w.submitter.Run(ctx, path, w.defaultCfg, models.StageShelve)
	if err != nil {
		logger.Error("Watched file failed to process", "path", path, "error", err)
		return
	}

	if err := os.Remove(path); err != nil {
		logger.Warn("Failed to remove processed file from watch directory", "path", path, "job_id", job.ID, "error", err)
	}
}

func isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range audioExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// copyFile is retained for handoff strategies that stage a copy rather than ingesting the
// original path directly (a custom Submitter may want it).
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
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
