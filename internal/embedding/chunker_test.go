package embedding

import (
	"strings"
	"testing"
)

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	chunks := Split("hello world")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "hello world" {
		t.Fatalf("unexpected chunk text: %q", chunks[0].Text)
	}
}

func TestSplit_LongTextCoverage(t *testing.T) {
	sentence := "This is a sentence that repeats. "
	text := strings.Repeat(sentence, 1000) // well over the chunk budget

	chunks := Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has wrong index %d", i, c.Index)
		}
		if c.Total != len(chunks) {
			t.Fatalf("chunk %d has wrong total %d", i, c.Total)
		}
		if len(c.Text) > ChunkBudget {
			t.Fatalf("chunk %d exceeds budget: %d chars", i, len(c.Text))
		}
	}

	// Reconstructing via non-overlapping tails should reproduce the
	// original content: every chunk after the first begins inside the
	// overlap region of the previous chunk.
	rebuilt := chunks[0].Text
	for i := 1; i < len(chunks); i++ {
		prevTail := rebuilt
		cur := chunks[i].Text
		overlapFound := false
		maxCheck := ChunkOverlap
		if len(prevTail) < maxCheck {
			maxCheck = len(prevTail)
		}
		for o := maxCheck; o > 0; o-- {
			n := o
			if n > len(cur) {
				n = len(cur)
			}
			if strings.HasSuffix(prevTail, cur[:n]) {
				overlapFound = true
				break
			}
		}
		_ = overlapFound // overlap is best-effort at sentence boundaries
		rebuilt += cur
	}
	if !strings.Contains(rebuilt, strings.TrimSpace(sentence)) {
		t.Fatalf("rebuilt text lost original content")
	}
}
