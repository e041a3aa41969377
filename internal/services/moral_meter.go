package services

import (
	"strings"
)

// MoralMeter scores how strongly a story's narration leans into its moral
// focus by counting focus-keyword occurrences per hundred words. It is a
// deliberately simple heuristic that feeds the evaluation summary.
type MoralMeter struct {
	keywords map[string][]string
}

func NewMoralMeter() *MoralMeter {
	return &MoralMeter{
		keywords: map[string][]string{
			"kindness":     {"kind", "kindness", "gentle", "caring", "helped", "helping", "shared", "sharing"},
			"honesty":      {"honest", "honesty", "truth", "truthful", "admitted", "confessed"},
			"courage":      {"brave", "bravery", "courage", "courageous", "fearless", "dared"},
			"patience":     {"patient", "patience", "waited", "waiting", "calm", "calmly"},
			"friendship":   {"friend", "friends", "friendship", "together", "loyal"},
			"gratitude":    {"thank", "thanks", "thankful", "grateful", "gratitude", "appreciated"},
			"perseverance": {"tried", "trying", "persevered", "practice", "practiced", "never gave up"},
		},
	}
}

// Score returns occurrences of moral-focus keywords per 100 words of text,
// capped at 1.0. Unknown moral focuses fall back to matching the focus word
// itself.
func (m *MoralMeter) Score(moralFocus, text string) float64 {
	focus := strings.ToLower(strings.TrimSpace(moralFocus))
	if focus == "" || strings.TrimSpace(text) == "" {
		return 0
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	for i := range words {
		words[i] = trimPunct(words[i])
	}

	keys, ok := m.keywords[focus]
	if !ok {
		keys = []string{focus}
	}

	haystack := " " + strings.Join(words, " ") + " "
	hits := 0
	for _, k := range keys {
		hits += strings.Count(haystack, " "+trimPunct(k)+" ")
	}
	score := float64(hits) / float64(len(words)) * 100 / 10
	if score > 1 {
		score = 1
	}
	return score
}

func trimPunct(s string) string {
	return strings.Trim(s, ".,!?;:'\"")
}
