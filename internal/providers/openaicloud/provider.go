// Package openaicloud is a reference TranscriptionProvider/RefinementProvider implementation
// backed by OpenAI's HTTP API, grounded on the teacher's internal/llm/openai.go: a manual
// net/http client, no vendor SDK, same request/response shapes adapted to the transcription
// and structured-extraction contracts.
package openaicloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements both capabilities the descriptor declares; it is safe to use either
// interface independently.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New builds a Provider reading its API key from the environment variable the descriptor
// names as api_key_requirement.
func New(desc models.ProviderDescriptor) (any, error) {
	key := ""
	if desc.APIKeyRequirement != "" && desc.APIKeyRequirement != "none" {
		key = os.Getenv(desc.APIKeyRequirement)
		if key == "" {
			return nil, fmt.Errorf("%s not set", desc.APIKeyRequirement)
		}
	}
	return &Provider{
		apiKey:  key,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 300 * time.Second},
	}, nil
}

// IngestSpecs declares that this provider exposes an upstream cache via OpenAI's Files API:
// INGEST uploads once for media clearing the duration threshold, and direct-mode REFINE
// references the returned file id instead of re-sending the audio.
func (p *Provider) IngestSpecs() providers.IngestSpecs {
	return providers.IngestSpecs{
		NeedsUpstreamCache:  true,
		SupportedContainers: []string{"wav", "mp3", "m4a", "flac", "ogg"},
		AcceptsURI:          false,
	}
}

// UploadForCache uploads path to OpenAI's Files API under the user_data purpose, returning
// the file id as the opaque upstream cache handle.
func (p *Provider) UploadForCache(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	w.WriteField("purpose", "user_data")
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/files", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	httpResp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai file upload request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("openai file upload %d: %s", httpResp.StatusCode, string(data))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

// Transcribe uploads the ingested file to the whisper transcription endpoint and replays its
// segments on the returned channel. OpenAI's whisper endpoint does not diarize; every segment
// is attributed to a single synthetic speaker.
func (p *Provider) Transcribe(ctx context.Context, ingest models.IngestResult, languageHint string, retry providers.RetryPolicy) (<-chan providers.SegmentOrEnd, *providers.UsageFuture, error) {
	out := make(chan providers.SegmentOrEnd)
	future := providers.NewUsageFuture()

	path := ingest.WorkingCopyPath
	if ingest.CompressedPath != "" {
		path = ingest.CompressedPath
	}

	go func() {
		defer close(out)
		start := time.Now()

		var lastErr error
		var resp *whisperResponse
		attempts := retry.MaxAttempts
		if attempts <= 0 {
			attempts = 1
		}
		for attempt := 0; attempt < attempts; attempt++ {
			resp, lastErr = p.transcribeOnce(ctx, path, languageHint)
			if lastErr == nil {
				break
			}
			select {
			case <-ctx.Done():
				future.Resolve(models.UsageRecord{}, ctx.Err())
				return
			case <-time.After(time.Duration(retry.DelaySeconds) * time.Second):
			}
		}
		if lastErr != nil {
			future.Resolve(models.UsageRecord{}, lastErr)
			return
		}

		for _, seg := range resp.Segments {
			select {
			case out <- providers.SegmentOrEnd{Segment: &models.TranscriptSegment{
				SpeakerID: "speaker_0",
				StartTime: seg.Start,
				EndTime:   seg.End,
				Text:      strings.TrimSpace(seg.Text),
			}}:
			case <-ctx.Done():
				future.Resolve(models.UsageRecord{}, ctx.Err())
				return
			}
		}
		out <- providers.SegmentOrEnd{End: true}

		future.Resolve(models.UsageRecord{
			Stage:           models.StageScribe,
			Provider:        "openaicloud",
			Model:           "whisper-1",
			DurationSeconds: time.Since(start).Seconds(),
			RequestCount:    1,
		}, nil)
	}()

	return out, future, nil
}

func (p *Provider) transcribeOnce(ctx context.Context, path, languageHint string) (*whisperResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	w.WriteField("model", "whisper-1")
	w.WriteField("response_format", "verbose_json")
	if languageHint != "" && languageHint != "auto" {
		w.WriteField("language", languageHint)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai transcription request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		data, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai transcription %d: %s", httpResp.StatusCode, string(data))
	}
	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai transcription %d: %s", httpResp.StatusCode, string(data))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Refine asks a chat model to extract the assembled schema's fields as a JSON object.
func (p *Provider) Refine(ctx context.Context, input providers.RefineInput, schema map[string]models.FieldSchema, languageHint string) (models.EnrichedContext, models.UsageRecord, error) {
	if input.Direct {
		return nil, models.UsageRecord{}, fmt.Errorf("openaicloud: direct audio refinement is not supported, provide a text transcript")
	}

	prompt := buildExtractionPrompt(input.TextTranscript, schema, languageHint)
	reqBody := chatRequest{
		Model: "gpt-4o-mini",
		Messages: []chatMessage{
			{Role: "system", Content: "You extract structured fields from transcripts and respond with strict JSON only."},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, models.UsageRecord{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, models.UsageRecord{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, models.UsageRecord{}, fmt.Errorf("openai chat request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, models.UsageRecord{}, fmt.Errorf("openai chat %d: %s", httpResp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, models.UsageRecord{}, err
	}
	if len(parsed.Choices) == 0 {
		return nil, models.UsageRecord{}, fmt.Errorf("openai chat: empty response")
	}

	var ctxOut models.EnrichedContext
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &ctxOut); err != nil {
		return nil, models.UsageRecord{}, fmt.Errorf("openai chat: non-JSON response: %w", err)
	}
	ctxOut["_provider_model"] = "openaicloud/gpt-4o-mini"
	if languageHint != "" {
		ctxOut["_language"] = languageHint
	}

	usage := models.UsageRecord{
		Stage:        models.StageRefine,
		Provider:     "openaicloud",
		Model:        "gpt-4o-mini",
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		CostUSD:      float64(parsed.Usage.PromptTokens)/1e6*0.15 + float64(parsed.Usage.CompletionTokens)/1e6*0.60,
		DurationSeconds: time.Since(start).Seconds(),
		RequestCount:    1,
	}
	return ctxOut, usage, nil
}

func buildExtractionPrompt(transcript string, schema map[string]models.FieldSchema, languageHint string) string {
	var b strings.Builder
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nExtract the following fields as a single JSON object. Field descriptions:\n")
	for name, field := range schema {
		fmt.Fprintf(&b, "- %s (%s): %s\n", name, field.Structure.Kind, field.Description)
	}
	if languageHint != "" && languageHint != "auto" {
		fmt.Fprintf(&b, "\nRespond in language: %s\n", languageHint)
	}
	return b.String()
}
