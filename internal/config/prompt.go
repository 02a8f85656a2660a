package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompt is the typed configuration for one LLM call: the query enhancer's
// system prompt, model, temperature, and token ceiling (spec §9: "runtime
// loaded YAML prompts map to a small prompt-loader interface"). No hot
// reload — the file is read once at startup.
type Prompt struct {
	System      string  `yaml:"system"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// defaultEnhancerPrompt is used when the configured prompt file is absent,
// so a fresh checkout can run without hand-authoring config/enhancer_prompt.yaml
// first.
func defaultEnhancerPrompt() Prompt {
	return Prompt{
		System: `You are a search query enhancer for a chat workspace archive. Given a raw ` +
			`natural-language query, respond with strict JSON only, matching this schema: ` +
			`{"enhanced_text": string, "top_k": integer 1-50, "channel_filter": string|null, ` +
			`"user_filter": string|null, "date_from": "YYYY-MM-DD"|null, "date_to": "YYYY-MM-DD"|null, ` +
			`"intent": "problem"|"info"|"decision"|"urgent", "reasoning": string}. ` +
			`Do not include any text outside the JSON object.`,
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
		MaxTokens:   400,
	}
}

// LoadPrompt reads a Prompt from path. A missing file falls back to the
// built-in default enhancer prompt rather than failing startup.
func LoadPrompt(path string) (Prompt, error) {
	def := defaultEnhancerPrompt()
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return Prompt{}, fmt.Errorf("read prompt file: %w", err)
	}
	var p Prompt
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompt{}, fmt.Errorf("parse prompt file: %w", err)
	}
	if p.System == "" {
		p.System = def.System
	}
	if p.Model == "" {
		p.Model = def.Model
	}
	if p.Temperature == 0 {
		p.Temperature = def.Temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = def.MaxTokens
	}
	return p, nil
}
