// Package prompts builds the narrative-model prompts and strict-JSON schemas
// used by the story pipelines.
package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
)

const (
	SchemaOpeningSegment = "opening_segment"
	SchemaBranchPair     = "branch_pair"
	SchemaEvaluation     = "story_evaluation"
)

func SystemPrompt(cfg story.Config) string {
	var b strings.Builder
	b.WriteString("You are a children's bedtime story writer. Write warm, soothing prose for a child aged ")
	fmt.Fprintf(&b, "%d", cfg.Child.Age)
	b.WriteString(". Keep sentences short and the tone calm and kind. The story gently teaches ")
	b.WriteString(cfg.MoralFocus)
	b.WriteString(" without preaching. Never include anything frightening or violent.")
	return b.String()
}

func OpeningPrompt(cfg story.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the opening of a bedtime story for %s", cfg.Child.Name)
	if len(cfg.Child.Interests) > 0 {
		fmt.Fprintf(&b, ", who loves %s", strings.Join(cfg.Child.Interests, ", "))
	}
	fmt.Fprintf(&b, ". The story centers on %s and this opening should be about %d words.",
		cfg.MoralFocus, cfg.WordsPerSegment)
	if cfg.TotalCheckpoints > 0 {
		b.WriteString(" End the opening at a natural pause where the story could go two different ways, without stating the choices.")
	} else {
		b.WriteString(" This is the whole story, so give it a gentle, sleepy ending.")
	}
	return b.String()
}

// ContinuationPrompt asks for both candidate continuations at once so the
// pair is coherent: two genuinely different directions from the same moment.
func ContinuationPrompt(cfg story.Config, upstreamText string, nextCheckpoint int) string {
	var b strings.Builder
	b.WriteString("The story so far ends with:\n\n")
	b.WriteString(strings.TrimSpace(upstreamText))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Write TWO different continuations of about %d words each, plus a short choice label for each (a few words a child can pick between).", cfg.WordsPerSegment)
	if nextCheckpoint >= cfg.TotalCheckpoints {
		b.WriteString(" These are the final segments, so each continuation must bring the story to a gentle, sleepy ending.")
	} else {
		b.WriteString(" Each continuation should end at a natural pause where the story could again go two ways.")
	}
	fmt.Fprintf(&b, " Keep the theme of %s present in both.", cfg.MoralFocus)
	return b.String()
}

func EvaluationPrompt(cfg story.Config, fullText string) string {
	var b strings.Builder
	b.WriteString("Here is the complete bedtime story that was read:\n\n")
	b.WriteString(strings.TrimSpace(fullText))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Summarize the story in two or three sentences for a parent, and state in one sentence how it illustrated %s.", cfg.MoralFocus)
	return b.String()
}

func ImagePrompt(cfg story.Config, segmentText string) string {
	style := cfg.ImageStyle
	if style == "" {
		style = "soft watercolor children's book illustration"
	}
	scene := segmentText
	if len(scene) > 500 {
		cut := 500
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(scene[cut]) {
			cut--
		}
		scene = scene[:cut]
	}
	return fmt.Sprintf("%s. Depict this bedtime story scene, no text in the image: %s", style, scene)
}

func OpeningSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"text":  map[string]any{"type": "string"},
		},
		"required":             []string{"title", "text"},
		"additionalProperties": false,
	}
}

func BranchPairSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"choice_a":  map[string]any{"type": "string"},
			"segment_a": map[string]any{"type": "string"},
			"choice_b":  map[string]any{"type": "string"},
			"segment_b": map[string]any{"type": "string"},
		},
		"required":             []string{"choice_a", "segment_a", "choice_b", "segment_b"},
		"additionalProperties": false,
	}
}

func EvaluationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":        map[string]any{"type": "string"},
			"moral_takeaway": map[string]any{"type": "string"},
		},
		"required":             []string{"summary", "moral_takeaway"},
		"additionalProperties": false,
	}
}

// StringField pulls a non-empty string out of a model JSON payload.
func StringField(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("model payload missing %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("model payload field %q is empty or not a string", key)
	}
	return strings.TrimSpace(s), nil
}
