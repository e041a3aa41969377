package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/envutil"
	"github.com/lullabyte/lullabyte-backend/internal/platform/httpx"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

type SpeechGeneration struct {
	Bytes    []byte
	MimeType string
}

type ImageGeneration struct {
	Bytes         []byte
	MimeType      string
	RevisedPrompt string
}

// Client is the generation surface the story pipelines run on. All three
// methods fail with a typed apierr generation error after their retry budget
// is spent; callers never retry on top.
type Client interface {
	// GenerateStoryJSON asks the narrative model for a strict-JSON payload.
	// A parse failure triggers one retry with an amended prompt hint.
	GenerateStoryJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)

	// GenerateSpeech renders narration audio (mp3). One retry, fixed delay.
	GenerateSpeech(ctx context.Context, text, voice string) (SpeechGeneration, error)

	// GenerateImage renders an illustration (png). One retry, fixed delay.
	GenerateImage(ctx context.Context, prompt string) (ImageGeneration, error)
}

type client struct {
	log     *logger.Logger
	baseURL string
	apiKey  string

	model       string
	speechModel string
	imageModel  string
	imageSize   string

	httpClient *http.Client

	maxRetries int
	retryDelay time.Duration
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/")

	timeout := envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 120*time.Second)
	maxRetries := envutil.Int("OPENAI_MAX_RETRIES", 1)
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &client{
		log:         log.With("service", "OpenAIClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		speechModel: envutil.String("OPENAI_SPEECH_MODEL", "tts-1"),
		imageModel:  envutil.String("OPENAI_IMAGE_MODEL", "dall-e-3"),
		imageSize:   ImageSizeForAspectRatio(os.Getenv("STORY_IMAGE_ASPECT_RATIO")),
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		retryDelay:  envutil.Seconds("OPENAI_RETRY_DELAY_SECONDS", 2*time.Second),
	}, nil
}

// ImageSizeForAspectRatio maps the configured aspect ratio onto the nearest
// size the images endpoint accepts.
func ImageSizeForAspectRatio(ratio string) string {
	switch strings.TrimSpace(ratio) {
	case "16:9":
		return "1792x1024"
	case "9:16":
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// do runs one request with the bounded retry budget. Retries are only
// attempted for transport-level failures the upstream marks as retryable.
func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	backoff := c.retryDelay

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return raw, nil
		}
		if attempt >= c.maxRetries || !httpx.IsRetryableError(err) {
			return nil, err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

// -------------------- Narrative text --------------------

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

const jsonRetryHint = "\n\nYour previous reply was not valid JSON. Respond with ONLY a single valid JSON object matching the requested schema. No prose, no markdown fences."

func (c *client) GenerateStoryJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, apierr.Generation(apierr.ServiceText, errors.New("schemaName required"))
	}
	if schema == nil {
		return nil, apierr.Generation(apierr.ServiceText, errors.New("schema required"))
	}

	obj, err := c.generateJSONOnce(ctx, system, user, schemaName, schema)
	if err == nil {
		return obj, nil
	}
	var parseErr *modelJSONError
	if !errors.As(err, &parseErr) {
		return nil, apierr.Generation(apierr.ServiceText, err)
	}

	// The model answered but not with parseable JSON. One retry with an
	// amended prompt, then give up.
	c.log.Warn("Story JSON parse failed, retrying with amended prompt", "schema", schemaName, "error", parseErr.Error())
	obj, err = c.generateJSONOnce(ctx, system, user+jsonRetryHint, schemaName, schema)
	if err != nil {
		return nil, apierr.Generation(apierr.ServiceText, err)
	}
	return obj, nil
}

type modelJSONError struct {
	Cause error
	Text  string
}

func (e *modelJSONError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %v", e.Cause)
}

func (e *modelJSONError) Unwrap() error { return e.Cause }

func (c *client) generateJSONOnce(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	req := responsesRequest{Model: c.model}
	req.Input = []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	raw, err := c.do(ctx, "POST", "/v1/responses", req)
	if err != nil {
		return nil, err
	}
	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode responses payload: %w", err)
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := strings.TrimSpace(extractOutputText(resp))
	if text == "" {
		return nil, errors.New("no output_text found in response")
	}
	return DecodeModelJSON(text)
}

// DecodeModelJSON parses model output as strict JSON, falling back to the
// contents of a fenced code block before giving up.
func DecodeModelJSON(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}
	fenced := ExtractFencedBlock(text)
	if fenced == "" {
		return nil, &modelJSONError{Cause: errors.New("no JSON object found"), Text: text}
	}
	if err := json.Unmarshal([]byte(fenced), &obj); err != nil {
		return nil, &modelJSONError{Cause: err, Text: text}
	}
	return obj, nil
}

// ExtractFencedBlock returns the body of the first markdown code fence in
// text, or "" when there is none.
func ExtractFencedBlock(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// Drop an optional language tag ("json", "javascript", ...).
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		first := strings.TrimSpace(rest[:nl])
		if first != "" && !strings.HasPrefix(first, "{") && !strings.HasPrefix(first, "[") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// -------------------- Speech synthesis --------------------

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (c *client) GenerateSpeech(ctx context.Context, text, voice string) (SpeechGeneration, error) {
	var out SpeechGeneration
	text = strings.TrimSpace(text)
	if text == "" {
		return out, apierr.Generation(apierr.ServiceSpeech, errors.New("speech text required"))
	}
	if strings.TrimSpace(voice) == "" {
		voice = "nova"
	}

	req := speechRequest{
		Model:          c.speechModel,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	}

	raw, err := c.doWithFixedRetry(ctx, "POST", "/v1/audio/speech", req, apierr.ServiceSpeech)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, apierr.Generation(apierr.ServiceSpeech, errors.New("empty audio payload"))
	}
	out.Bytes = raw
	out.MimeType = "audio/mpeg"
	return out, nil
}

// doWithFixedRetry is the audio/image retry shape: one extra attempt after a
// fixed delay, regardless of the failure class.
func (c *client) doWithFixedRetry(ctx context.Context, method, path string, body any, service apierr.Service) ([]byte, error) {
	_, raw, err := c.doOnce(ctx, method, path, body)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return nil, apierr.Generation(service, ctx.Err())
	}

	c.log.Warn("Generation request retrying after fixed delay",
		"path", path,
		"delay", c.retryDelay.String(),
		"error", err.Error(),
	)
	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return nil, apierr.Generation(service, ctx.Err())
	}

	_, raw, err = c.doOnce(ctx, method, path, body)
	if err != nil {
		return nil, apierr.Generation(service, err)
	}
	return raw, nil
}

// -------------------- Image generation --------------------

type imagesGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imagesGenerationResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (c *client) GenerateImage(ctx context.Context, prompt string) (ImageGeneration, error) {
	var out ImageGeneration
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return out, apierr.Generation(apierr.ServiceImage, errors.New("image prompt required"))
	}

	req := imagesGenerationRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: "b64_json",
	}

	raw, err := c.doWithFixedRetry(ctx, "POST", "/v1/images/generations", req, apierr.ServiceImage)
	if err != nil {
		return out, err
	}

	var resp imagesGenerationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return out, apierr.Generation(apierr.ServiceImage, fmt.Errorf("decode images payload: %w", err))
	}
	if len(resp.Data) == 0 {
		return out, apierr.Generation(apierr.ServiceImage, errors.New("no image returned"))
	}

	item := resp.Data[0]
	out.RevisedPrompt = strings.TrimSpace(item.RevisedPrompt)
	b64 := strings.TrimSpace(item.B64JSON)
	if b64 == "" {
		return out, apierr.Generation(apierr.ServiceImage, errors.New("image response missing b64_json"))
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return out, apierr.Generation(apierr.ServiceImage, fmt.Errorf("decode image base64: %w", err))
	}
	if len(decoded) == 0 {
		return out, apierr.Generation(apierr.ServiceImage, errors.New("image base64 decoded to zero bytes"))
	}
	out.Bytes = decoded
	out.MimeType = "image/png"
	return out, nil
}
