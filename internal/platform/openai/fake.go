package openai

import (
	"context"
	"fmt"
	"strings"
)

// fakeClient satisfies Client without touching the network. It exists so the
// session state machine stays exercisable in CI and local dev where no
// upstream keys are configured. Payloads are deterministic: the same inputs
// always produce the same outputs.
type fakeClient struct{}

func NewFakeClient() Client { return fakeClient{} }

// GenerateStoryJSON fills every string property declared by the schema with a
// small deterministic value, so any strict-JSON prompt keeps working without
// the fake knowing its shape.
func (fakeClient) GenerateStoryJSON(_ context.Context, _, _, schemaName string, schema map[string]any) (map[string]any, error) {
	out := map[string]any{}
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		spec, _ := raw.(map[string]any)
		switch spec["type"] {
		case "number", "integer":
			out[name] = 0
		case "array":
			out[name] = []any{}
		case "boolean":
			out[name] = false
		default:
			out[name] = fmt.Sprintf("Once upon a time (%s/%s), a gentle stub of a story unfolded and all was calm.", schemaName, name)
		}
	}
	return out, nil
}

func (fakeClient) GenerateSpeech(_ context.Context, text, voice string) (SpeechGeneration, error) {
	payload := fmt.Sprintf("FAKE-MP3 voice=%s len=%d", strings.TrimSpace(voice), len(text))
	return SpeechGeneration{Bytes: []byte(payload), MimeType: "audio/mpeg"}, nil
}

func (fakeClient) GenerateImage(_ context.Context, prompt string) (ImageGeneration, error) {
	payload := fmt.Sprintf("FAKE-PNG len=%d", len(prompt))
	return ImageGeneration{Bytes: []byte(payload), MimeType: "image/png"}, nil
}
