package models

import "time"

// IngestResult is the artifact produced by INGEST (ingest.json).
type IngestResult struct {
	SourcePath         string  `json:"source_path"`
	WorkingCopyPath    string  `json:"working_copy_path"`
	CompressedPath     string  `json:"compressed_path,omitempty"`
	DurationSeconds    float64 `json:"duration_seconds"`
	Format             string  `json:"format"`
	Bitrate            int     `json:"bitrate"`
	UpstreamCacheHandle string  `json:"upstream_cache_handle,omitempty"`
	UploadedURI        string  `json:"uploaded_uri,omitempty"`
}

// TranscriptSegment is one entry of a transcript, monotone-nondecreasing in StartTime.
type TranscriptSegment struct {
	SpeakerID  string  `json:"speaker_id"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// SegmentEndMarker, when received from a transcription provider's segment stream, signals
// stream completion explicitly. The executor also accepts plain channel close as completion.
type SegmentEndMarker struct{}

// EnrichedContext is the structured object produced by REFINE: field name -> value,
// conforming to the job's assembled schema. It always carries provider/model and language.
type EnrichedContext map[string]interface{}

// ProviderModel returns the "provider/model" identifier embedded by REFINE, if present.
func (e EnrichedContext) ProviderModel() string {
	if v, ok := e["_provider_model"].(string); ok {
		return v
	}
	return ""
}

// Language returns the detected language embedded by REFINE, if present.
func (e EnrichedContext) Language() string {
	if v, ok := e["_language"].(string); ok {
		return v
	}
	return ""
}

// GenerateResult is the content GENERATE writes into its stage detail's response: the
// filenames it rendered plus any configured artifacts it skipped because a declared input
// (e.g. a raw transcript, absent in direct mode) wasn't available.
type GenerateResult struct {
	Rendered []string          `json:"rendered"`
	Skipped  []SkippedArtifact `json:"skipped,omitempty"`
}

// SkippedArtifact records one artifact GENERATE declined to render, and why.
type SkippedArtifact struct {
	Plugin   string `json:"plugin"`
	Template string `json:"template"`
	Reason   string `json:"reason"`
}

// UsageRecord is per-call billing and effort data, accumulated into per-job totals.
type UsageRecord struct {
	Stage         Stage   `json:"stage"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	DurationSeconds float64 `json:"duration_seconds"`
	RequestCount  int     `json:"request_count"`
}

// StageDetail is the content written to _stages/<stage>.json.
type StageDetail struct {
	Stage       Stage        `json:"stage"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at,omitempty"`
	Request     any          `json:"request,omitempty"`
	Response    any          `json:"response,omitempty"`
	Usage       *UsageRecord `json:"usage,omitempty"`
	Error       string       `json:"error,omitempty"`
	SkipReason  string       `json:"skip_reason,omitempty"`
}

// ProviderType classifies a provider's execution locale.
type ProviderType string

const (
	ProviderCloud  ProviderType = "cloud"
	ProviderLocal  ProviderType = "local"
	ProviderHybrid ProviderType = "hybrid"
)

// Capability is a declared provider ability.
type Capability string

const (
	CapabilityTranscription Capability = "transcription"
	CapabilityRefinement    Capability = "refinement"
)

// CostTableEntry gives the estimated per-unit price for a model; providers must still query
// actual post-hoc cost where the backend exposes it rather than relying solely on this table.
type CostTableEntry struct {
	Model              string  `yaml:"model" json:"model"`
	InputPerMillion    float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion   float64 `yaml:"output_per_million" json:"output_per_million"`
}

// ProviderDescriptor is the metadata record loaded from a provider's defaults.yaml.
type ProviderDescriptor struct {
	Name              string           `yaml:"name" json:"name"`
	DisplayName       string           `yaml:"display_name" json:"display_name"`
	Type              ProviderType     `yaml:"type" json:"type"`
	Capabilities      []Capability     `yaml:"capabilities" json:"capabilities"`
	APIKeyRequirement string           `yaml:"api_key_requirement" json:"api_key_requirement"` // env var name, or "none"
	Models            []string         `yaml:"models" json:"models"`
	CostTable         []CostTableEntry `yaml:"cost_table" json:"cost_table"`
}

// HasCapability reports whether the descriptor declares the given capability.
func (d ProviderDescriptor) HasCapability(c Capability) bool {
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}
