// Package config loads the process-level configuration that every job snapshots from at
// creation time. Once a job exists, later edits to the process config never reach it again.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all process-level configuration values.
type Config struct {
	// Directory layout
	WorkDir      string
	InputDir     string
	ResultsDir   string
	ProvidersDir string
	TemplatesDir string

	// Logging
	LogLevel string

	// Defaults for job creation
	DefaultTranscribeProvider string
	DefaultTranscribeModel    string
	DefaultRefineProvider     string
	DefaultRefineModel        string
	DefaultCompressionMode    string
	DefaultShelveMode         string
	DefaultLanguage           string
	DefaultArtifacts          []string
	ShelveFilenamePattern     string

	// Retry / timeout knobs
	RetryMax          int
	RetryDelaySeconds int
	StageTimeout      int // seconds; 0 means absent

	// Watcher
	WatchDebounceMS int

	// Retention
	FailedJobsRetentionDays    int
	CompletedJobsRetentionDays int

	// Status HTTP surface
	StatusAddr      string
	StatusTokenHash string

	// External tools
	FFmpegPath  string
	FFprobePath string

	Debug bool
}

// Load loads configuration from a .env file (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		WorkDir:      getEnv("WORK_DIR", "data/work"),
		InputDir:     getEnv("INPUT_DIR", "data/input"),
		ResultsDir:   getEnv("RESULTS_DIR", "data/results"),
		ProvidersDir: getEnv("PROVIDERS_DIR", "data/providers"),
		TemplatesDir: getEnv("TEMPLATES_DIR", "data/templates"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		DefaultTranscribeProvider: getEnv("DEFAULT_TRANSCRIBE_PROVIDER", "localengine"),
		DefaultTranscribeModel:    getEnv("DEFAULT_TRANSCRIBE_MODEL", "base"),
		DefaultRefineProvider:     getEnv("DEFAULT_REFINE_PROVIDER", "openaicloud"),
		DefaultRefineModel:        getEnv("DEFAULT_REFINE_MODEL", "gpt-4o-mini"),
		DefaultCompressionMode:    getEnv("DEFAULT_COMPRESSION_MODE", "compressed"),
		DefaultShelveMode:         getEnv("DEFAULT_SHELVE_MODE", "timeline"),
		DefaultLanguage:           getEnv("DEFAULT_LANGUAGE", "auto"),
		DefaultArtifacts:          getEnvAsList("DEFAULT_ARTIFACTS", nil),
		ShelveFilenamePattern:     getEnv("SHELVE_FILENAME_PATTERN", ""),

		RetryMax:          getEnvAsInt("RETRY_MAX", 3),
		RetryDelaySeconds: getEnvAsInt("RETRY_DELAY_SECONDS", 5),
		StageTimeout:      getEnvAsInt("STAGE_TIMEOUT_SECONDS", 0),

		WatchDebounceMS: getEnvAsInt("WATCH_DEBOUNCE_MS", 500),

		FailedJobsRetentionDays:    getEnvAsInt("FAILED_JOBS_RETENTION_DAYS", 7),
		CompletedJobsRetentionDays: getEnvAsInt("COMPLETED_JOBS_RETENTION_DAYS", 30),

		StatusAddr:      getEnv("STATUS_ADDR", "127.0.0.1:8090"),
		StatusTokenHash: getEnv("STATUS_TOKEN_HASH", ""),

		FFmpegPath:  findTool("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: findTool("FFPROBE_PATH", "ffprobe"),

		Debug: getEnvAsBool("DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated env var into a trimmed, non-empty slice of entries,
// falling back to defaultValue when the var is unset.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// findTool resolves an external binary from an env var override, else PATH, else the bare name.
func findTool(envKey, fallback string) string {
	if path := os.Getenv(envKey); path != "" {
		return path
	}
	if path, err := exec.LookPath(fallback); err == nil {
		return path
	}
	log.Printf("Warning: %s not found in PATH, using %q as fallback", fallback, fallback)
	return fallback
}

// PersistStatusTokenSecret generates and persists a random bearer-token secret the first time
// the status HTTP surface is started, mirroring the way a dev JWT secret is generated once and
// reused across restarts.
func PersistStatusTokenSecret(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return strings.TrimSpace(string(data)), nil
	}
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(bytes)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return "", err
	}
	return secret, nil
}
