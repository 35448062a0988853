package analyst

import (
	"fmt"
	"math"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"quorum-trader/internal/config"
)

// PresetSchemaVersion is written into exported preset documents. Imports
// accept any 1.x document.
const PresetSchemaVersion = "1.0.0"

const presetCompatRange = ">= 1.0.0, < 2.0.0"

// Preset is a portable analyst lineup: the full slot configuration as one
// versioned YAML document, so lineups can move between deployments and be
// kept under version control.
type Preset struct {
	Version  string          `yaml:"version"`
	Name     string          `yaml:"name,omitempty"`
	Analysts []PresetAnalyst `yaml:"analysts"`
}

// PresetAnalyst mirrors config.AnalystConfig in YAML form.
type PresetAnalyst struct {
	ID        string       `yaml:"id"`
	Role      string       `yaml:"role"`
	Weight    float64      `yaml:"weight"`
	TimeoutMs int          `yaml:"timeout_ms,omitempty"`
	Source    PresetSource `yaml:"source,omitempty"`
}

// PresetSource mirrors config.AnalystSourceConfig in YAML form.
type PresetSource struct {
	Provider string   `yaml:"provider,omitempty"`
	Model    string   `yaml:"model,omitempty"`
	Prompt   string   `yaml:"prompt,omitempty"`
	Command  string   `yaml:"command,omitempty"`
	Args     []string `yaml:"args,omitempty,flow"`
	Tool     string   `yaml:"tool,omitempty"`
}

// ExportPreset renders the analyst lineup as a versioned YAML document.
func ExportPreset(name string, analysts []config.AnalystConfig) ([]byte, error) {
	if len(analysts) == 0 {
		return nil, fmt.Errorf("refusing to export an empty analyst lineup")
	}

	preset := Preset{
		Version:  PresetSchemaVersion,
		Name:     name,
		Analysts: make([]PresetAnalyst, 0, len(analysts)),
	}
	for _, ac := range analysts {
		preset.Analysts = append(preset.Analysts, PresetAnalyst{
			ID:        ac.ID,
			Role:      ac.Role,
			Weight:    ac.Weight,
			TimeoutMs: ac.TimeoutMs,
			Source: PresetSource{
				Provider: ac.Source.Provider,
				Model:    ac.Source.Model,
				Prompt:   ac.Source.Prompt,
				Command:  ac.Source.Command,
				Args:     ac.Source.Args,
				Tool:     ac.Source.Tool,
			},
		})
	}
	return yaml.Marshal(preset)
}

// ImportPreset parses a preset document, checks its schema version against
// the compatibility range and validates the lineup shape.
func ImportPreset(data []byte) ([]config.AnalystConfig, error) {
	var preset Preset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("preset is not valid YAML: %w", err)
	}

	if preset.Version == "" {
		return nil, fmt.Errorf("preset has no schema version")
	}
	version, err := semver.NewVersion(preset.Version)
	if err != nil {
		return nil, fmt.Errorf("preset version %q is not a semver: %w", preset.Version, err)
	}
	compat, err := semver.NewConstraint(presetCompatRange)
	if err != nil {
		return nil, fmt.Errorf("bad compatibility range: %w", err)
	}
	if !compat.Check(version) {
		return nil, fmt.Errorf("preset version %s outside supported range %s", version, presetCompatRange)
	}

	if len(preset.Analysts) == 0 {
		return nil, fmt.Errorf("preset declares no analysts")
	}

	analysts := make([]config.AnalystConfig, 0, len(preset.Analysts))
	var sum float64
	seen := make(map[string]bool, len(preset.Analysts))
	for i, pa := range preset.Analysts {
		if pa.ID == "" {
			return nil, fmt.Errorf("preset analyst %d has no id", i)
		}
		if seen[pa.ID] {
			return nil, fmt.Errorf("preset repeats analyst id %q", pa.ID)
		}
		seen[pa.ID] = true
		if pa.Weight < 0 || pa.Weight > 1 {
			return nil, fmt.Errorf("preset analyst %s weight %.4f outside [0,1]", pa.ID, pa.Weight)
		}
		sum += pa.Weight

		analysts = append(analysts, config.AnalystConfig{
			ID:        pa.ID,
			Role:      pa.Role,
			Weight:    pa.Weight,
			TimeoutMs: pa.TimeoutMs,
			Source: config.AnalystSourceConfig{
				Provider: pa.Source.Provider,
				Model:    pa.Source.Model,
				Prompt:   pa.Source.Prompt,
				Command:  pa.Source.Command,
				Args:     pa.Source.Args,
				Tool:     pa.Source.Tool,
			},
		})
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("preset weights must sum to 1, got %.9f", sum)
	}

	return analysts, nil
}
