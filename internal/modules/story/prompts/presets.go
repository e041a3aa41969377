package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// Preset is the narration voice and art direction used for a moral focus.
type Preset struct {
	Voice      string `yaml:"voice"`
	ImageStyle string `yaml:"image_style"`
}

type presetFile struct {
	Default Preset            `yaml:"default"`
	Morals  map[string]Preset `yaml:"morals"`
}

var (
	presetsOnce sync.Once
	presets     presetFile
	presetsErr  error
)

func loadPresets() (presetFile, error) {
	presetsOnce.Do(func() {
		presetsErr = yaml.Unmarshal(presetsYAML, &presets)
		if presetsErr == nil && strings.TrimSpace(presets.Default.Voice) == "" {
			presetsErr = fmt.Errorf("presets.yaml: default voice is required")
		}
	})
	return presets, presetsErr
}

// PresetFor returns the style preset for a moral focus, falling back to the
// default entry for unknown focuses. Missing fields inherit the default.
func PresetFor(moralFocus string) (Preset, error) {
	pf, err := loadPresets()
	if err != nil {
		return Preset{}, err
	}
	out := pf.Default
	if p, ok := pf.Morals[strings.ToLower(strings.TrimSpace(moralFocus))]; ok {
		if strings.TrimSpace(p.Voice) != "" {
			out.Voice = p.Voice
		}
		if strings.TrimSpace(p.ImageStyle) != "" {
			out.ImageStyle = p.ImageStyle
		}
	}
	return out, nil
}
