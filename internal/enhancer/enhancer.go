// Package enhancer implements the LLM-driven query expansion step ahead of
// vector search (knowthis/spec.md §4.5).
package enhancer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"knowthis/internal/config"
	"knowthis/internal/ratelimit"

	openai "github.com/sashabaranov/go-openai"
)

// EnhancedQuery is the LLM's structured rewrite of a raw natural-language
// query, plus the filters it extracted.
type EnhancedQuery struct {
	EnhancedText  string `json:"enhanced_text"`
	TopK          int    `json:"top_k"`
	ChannelFilter string `json:"channel_filter,omitempty"`
	UserFilter    string `json:"user_filter,omitempty"`
	DateFrom      string `json:"date_from,omitempty"`
	DateTo        string `json:"date_to,omitempty"`
	Intent        string `json:"intent,omitempty"`
	Reasoning     string `json:"reasoning,omitempty"`
}

// validIntents mirrors spec §4.5's enumerated intent set. An enhancer
// response naming anything else is treated as a schema violation and
// triggers the raw-query fallback.
var validIntents = map[string]bool{
	"problem": true, "info": true, "decision": true, "urgent": true, "": true,
}

// Enhancer is stateless and idempotent for a fixed prompt+model+temperature.
type Enhancer struct {
	oai      *openai.Client
	governor *ratelimit.Governor
	prompt   config.Prompt
	timeout  time.Duration
}

// New builds an Enhancer against the shared embedding/LLM provider key and
// the LLM governor bucket.
func New(apiKey string, governor *ratelimit.Governor, prompt config.Prompt) *Enhancer {
	return &Enhancer{
		oai:      openai.NewClient(apiKey),
		governor: governor,
		prompt:   prompt,
		timeout:  15 * time.Second,
	}
}

// Enhance makes one chat-completion call with the configured system prompt
// and parses strict JSON from the response. Any parse or schema failure
// falls back to {enhanced_text: rawQuery, top_k: 10} without failing the
// outer request (spec §4.5).
func (e *Enhancer) Enhance(ctx context.Context, rawQuery string) (EnhancedQuery, error) {
	fallback := EnhancedQuery{EnhancedText: rawQuery, TopK: 10}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.governor.Acquire(ctx, ratelimit.ProviderLLM, ratelimit.EndpointChatCompletions); err != nil {
		slog.Warn("enhancer rate governor wait failed, falling back to raw query", "error", err)
		return fallback, nil
	}

	resp, err := e.oai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.prompt.Model,
		MaxTokens:   e.prompt.MaxTokens,
		Temperature: e.prompt.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: e.prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: rawQuery},
		},
	})
	if err != nil {
		slog.Warn("enhancer upstream call failed, falling back to raw query", "error", err)
		return fallback, nil
	}
	if len(resp.Choices) == 0 {
		slog.Warn("enhancer returned no choices, falling back to raw query")
		return fallback, nil
	}

	eq, err := parseAndValidate(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("enhancer response failed schema validation, falling back to raw query", "error", err)
		return fallback, nil
	}
	return eq, nil
}

func parseAndValidate(raw string) (EnhancedQuery, error) {
	raw = extractJSONObject(raw)

	var eq EnhancedQuery
	if err := json.Unmarshal([]byte(raw), &eq); err != nil {
		return EnhancedQuery{}, err
	}
	if strings.TrimSpace(eq.EnhancedText) == "" {
		return EnhancedQuery{}, errEmptyEnhancedText
	}
	if !validIntents[eq.Intent] {
		return EnhancedQuery{}, errInvalidIntent
	}
	if eq.TopK <= 0 {
		eq.TopK = 10
	}
	if eq.TopK > 50 {
		eq.TopK = 50
	}
	return eq, nil
}

// extractJSONObject trims any leading/trailing prose a model adds despite
// instructions, keeping only the outermost { ... } span.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

type enhancerError string

func (e enhancerError) Error() string { return string(e) }

const (
	errEmptyEnhancedText = enhancerError("enhanced_text is empty")
	errInvalidIntent     = enhancerError("intent not in enumerated set")
)
