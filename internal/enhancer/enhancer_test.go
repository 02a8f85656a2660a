package enhancer

import "testing"

func TestParseAndValidate_ValidJSON(t *testing.T) {
	raw := `{"enhanced_text":"deployment failures in engineering","top_k":5,"channel_filter":"engineering","intent":"problem"}`
	eq, err := parseAndValidate(raw)
	if err != nil {
		t.Fatalf("parseAndValidate: %v", err)
	}
	if eq.EnhancedText != "deployment failures in engineering" || eq.TopK != 5 || eq.ChannelFilter != "engineering" {
		t.Fatalf("unexpected result: %+v", eq)
	}
}

func TestParseAndValidate_StripsSurroundingProse(t *testing.T) {
	raw := "Here you go:\n```json\n{\"enhanced_text\":\"deploy\",\"top_k\":10}\n```\nHope that helps!"
	eq, err := parseAndValidate(raw)
	if err != nil {
		t.Fatalf("parseAndValidate: %v", err)
	}
	if eq.EnhancedText != "deploy" {
		t.Fatalf("expected extracted JSON to parse, got %+v", eq)
	}
}

func TestParseAndValidate_RejectsInvalidIntent(t *testing.T) {
	raw := `{"enhanced_text":"x","top_k":5,"intent":"not_a_real_intent"}`
	if _, err := parseAndValidate(raw); err == nil {
		t.Fatalf("expected an error for an unenumerated intent")
	}
}

func TestParseAndValidate_RejectsEmptyEnhancedText(t *testing.T) {
	raw := `{"enhanced_text":"","top_k":5}`
	if _, err := parseAndValidate(raw); err == nil {
		t.Fatalf("expected an error for empty enhanced_text")
	}
}

func TestParseAndValidate_ClampsTopK(t *testing.T) {
	raw := `{"enhanced_text":"x","top_k":999}`
	eq, err := parseAndValidate(raw)
	if err != nil {
		t.Fatalf("parseAndValidate: %v", err)
	}
	if eq.TopK != 50 {
		t.Fatalf("expected top_k clamped to 50, got %d", eq.TopK)
	}
}

func TestParseAndValidate_DefaultsMissingTopK(t *testing.T) {
	raw := `{"enhanced_text":"x"}`
	eq, err := parseAndValidate(raw)
	if err != nil {
		t.Fatalf("parseAndValidate: %v", err)
	}
	if eq.TopK != 10 {
		t.Fatalf("expected default top_k=10, got %d", eq.TopK)
	}
}

func TestParseAndValidate_MalformedJSONErrors(t *testing.T) {
	if _, err := parseAndValidate("not json at all"); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}
