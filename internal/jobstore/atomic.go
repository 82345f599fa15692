package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteArtifact atomically serializes v to path, for use by stage executors writing
// ingest.json, raw_transcript.json, enriched_context.json, and _stages/<stage>.json.
func WriteArtifact(path string, v any) error { return writeJSONAtomic(path, v) }

// ReadArtifact reads and unmarshals path into v, retrying once on transient parse failure.
func ReadArtifact(path string, v any) error { return readJSONRetry(path, v) }

// writeJSONAtomic serializes v to path using write-temp-then-rename so a crash mid-write
// never leaves a torn file behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// readJSONRetry reads and unmarshals path into v, retrying once on parse failure (the reader
// tolerance half of the atomic-write contract: a reader that races a writer's rename sees
// either the old or the new complete file, never a partial one, but we retry once anyway to
// absorb transient OS-level hiccups).
func readJSONRetry(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		data2, err2 := os.ReadFile(path)
		if err2 != nil {
			return err
		}
		if err3 := json.Unmarshal(data2, v); err3 != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}
