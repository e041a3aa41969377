package prompts

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
)

func cfgForTest() story.Config {
	return story.Config{
		Child:              story.ChildProfile{Name: "Mira", Age: 5, Interests: []string{"foxes", "stars"}},
		MoralFocus:         "kindness",
		StoryLengthMinutes: 2,
		Interactive:        true,
		TotalWords:         300,
		WordsPerSegment:    100,
		TotalCheckpoints:   2,
	}
}

func TestOpeningPrompt(t *testing.T) {
	cfg := cfgForTest()
	p := OpeningPrompt(cfg)
	for _, want := range []string{"Mira", "foxes", "kindness", "100 words"} {
		if !strings.Contains(p, want) {
			t.Fatalf("opening prompt missing %q: %s", want, p)
		}
	}
	if !strings.Contains(p, "two different ways") {
		t.Fatalf("interactive opening does not set up a choice: %s", p)
	}

	cfg.TotalCheckpoints = 0
	if p := OpeningPrompt(cfg); !strings.Contains(p, "whole story") {
		t.Fatalf("non-interactive opening does not ask for a full story: %s", p)
	}
}

func TestSchemasDeclareRequiredFields(t *testing.T) {
	cases := []struct {
		schema map[string]any
		fields []string
	}{
		{OpeningSchema(), []string{"title", "text"}},
		{BranchPairSchema(), []string{"choice_a", "segment_a", "choice_b", "segment_b"}},
		{EvaluationSchema(), []string{"summary", "moral_takeaway"}},
	}
	for _, tc := range cases {
		props, ok := tc.schema["properties"].(map[string]any)
		if !ok {
			t.Fatal("schema has no properties map")
		}
		for _, f := range tc.fields {
			if _, ok := props[f]; !ok {
				t.Fatalf("schema missing property %q", f)
			}
		}
	}
}

func TestImagePrompt_TruncatesLongScenes(t *testing.T) {
	cfg := cfgForTest()
	long := strings.Repeat("a very sleepy paragraph ", 100)
	p := ImagePrompt(cfg, long)
	if len(p) > 700 {
		t.Fatalf("image prompt too long: %d chars", len(p))
	}
	if !strings.Contains(p, "no text in the image") {
		t.Fatalf("image prompt missing no-text instruction: %s", p)
	}
}

func TestImagePrompt_TruncatesOnRuneBoundary(t *testing.T) {
	cfg := cfgForTest()
	// A two-byte rune straddles the 500-byte cut point.
	scene := strings.Repeat("a", 499) + strings.Repeat("é", 40)
	p := ImagePrompt(cfg, scene)
	if !utf8.ValidString(p) {
		t.Fatalf("image prompt contains a split rune: %q", p)
	}
	if strings.ContainsRune(p, utf8.RuneError) {
		t.Fatalf("image prompt contains a replacement character: %q", p)
	}
}
