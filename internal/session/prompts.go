package session

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/synapse/internal/regressor"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompt is one calibration question.
type Prompt struct {
	ID         string     `yaml:"id" json:"id"`
	Text       string     `yaml:"text" json:"text"`
	Difficulty string     `yaml:"difficulty" json:"difficulty"`
	Expected   [2]float64 `yaml:"expected" json:"expected_confusion"`
}

// DefaultPrompts returns the embedded prompt bank.
func DefaultPrompts() []Prompt {
	p, err := ParsePrompts(promptsYAML)
	if err != nil {
		panic("session: embedded prompts: " + err.Error())
	}
	return p
}

// ParsePrompts decodes a YAML prompt list. Every prompt needs an id, text
// and a known difficulty; ids must be unique.
func ParsePrompts(data []byte) ([]Prompt, error) {
	var prompts []Prompt
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	seen := make(map[string]bool, len(prompts))
	for i, p := range prompts {
		if p.ID == "" || p.Text == "" {
			return nil, fmt.Errorf("prompt %d: id and text are required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("prompt %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if _, err := regressor.ParseDifficulty(p.Difficulty); err != nil {
			return nil, fmt.Errorf("prompt %s: %w", p.ID, err)
		}
	}
	return prompts, nil
}
