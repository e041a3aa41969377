package prompts

import (
	"strings"
	"testing"
)

func TestPresetFor_KnownMoral(t *testing.T) {
	p, err := PresetFor("courage")
	if err != nil {
		t.Fatalf("PresetFor: %v", err)
	}
	if p.Voice != "fable" {
		t.Fatalf("courage voice = %q", p.Voice)
	}
	if p.ImageStyle == "" {
		t.Fatal("courage image style empty")
	}
}

func TestPresetFor_UnknownMoralFallsBack(t *testing.T) {
	def, err := PresetFor("")
	if err != nil {
		t.Fatalf("PresetFor default: %v", err)
	}
	got, err := PresetFor("tidiness")
	if err != nil {
		t.Fatalf("PresetFor unknown: %v", err)
	}
	if got != def {
		t.Fatalf("unknown moral did not fall back: %+v vs %+v", got, def)
	}
	if got.Voice == "" || got.ImageStyle == "" {
		t.Fatalf("default preset incomplete: %+v", got)
	}
}

func TestPresetFor_CaseInsensitive(t *testing.T) {
	a, _ := PresetFor("Kindness")
	b, _ := PresetFor("kindness")
	if a != b {
		t.Fatalf("case sensitivity leak: %+v vs %+v", a, b)
	}
}

func TestStringField(t *testing.T) {
	obj := map[string]any{"text": " hello ", "count": 3, "blank": "  "}
	got, err := StringField(obj, "text")
	if err != nil || got != "hello" {
		t.Fatalf("StringField(text) = %q, %v", got, err)
	}
	if _, err := StringField(obj, "missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, err := StringField(obj, "count"); err == nil {
		t.Fatal("expected error for non-string")
	}
	if _, err := StringField(obj, "blank"); err == nil {
		t.Fatal("expected error for blank string")
	}
}

func TestContinuationPrompt_FinalCheckpoint(t *testing.T) {
	cfg := cfgForTest()
	final := ContinuationPrompt(cfg, "The fox paused.", cfg.TotalCheckpoints)
	if !strings.Contains(final, "ending") {
		t.Fatalf("final prompt does not ask for an ending: %s", final)
	}
	mid := ContinuationPrompt(cfg, "The fox paused.", 1)
	if strings.Contains(mid, "final segments") {
		t.Fatalf("mid-story prompt asks for an ending: %s", mid)
	}
}
