// Package embedding implements deterministic chunking and rate-governed
// embedding calls (knowthis/spec.md §4.3).
package embedding

import "strings"

const (
	// ChunkBudget is the maximum character count per chunk.
	ChunkBudget = 8000
	// ChunkOverlap is the shared tail/head region between adjacent chunks.
	ChunkOverlap = 200
)

// Chunk is one slice of a longer text, addressable by Index within its
// parent's chunk sequence.
type Chunk struct {
	Index int
	Total int
	Text  string
}

// Split breaks text into chunks of at most ChunkBudget characters, each
// overlapping the previous by ChunkOverlap characters, preferring to break
// at sentence boundaries. Text shorter than the budget yields one chunk.
func Split(text string) []Chunk {
	if len(text) <= ChunkBudget {
		return []Chunk{{Index: 0, Total: 1, Text: text}}
	}

	var bounds []int // start offsets of each chunk
	start := 0
	for start < len(text) {
		end := start + ChunkBudget
		if end >= len(text) {
			bounds = append(bounds, start)
			break
		}
		end = sentenceBoundary(text, start, end)
		bounds = append(bounds, start)
		next := end - ChunkOverlap
		if next <= start {
			next = end // degenerate text with no room for overlap
		}
		start = next
	}

	total := len(bounds)
	chunks := make([]Chunk, total)
	for i, s := range bounds {
		e := s + ChunkBudget
		if e > len(text) {
			e = len(text)
		} else {
			e = sentenceBoundary(text, s, e)
		}
		chunks[i] = Chunk{Index: i, Total: total, Text: text[s:e]}
	}
	return chunks
}

// sentenceBoundary looks backward from hardEnd (bounded by start) for the
// nearest sentence-ending punctuation followed by whitespace; falls back to
// hardEnd (a hard split) if none is found within a reasonable lookback.
func sentenceBoundary(text string, start, hardEnd int) int {
	if hardEnd >= len(text) {
		return len(text)
	}
	lookback := hardEnd - 400
	if lookback < start {
		lookback = start
	}
	window := text[lookback:hardEnd]
	best := -1
	for _, sep := range []string{". ", "! ", "? ", "\n\n"} {
		if idx := strings.LastIndex(window, sep); idx != -1 {
			candidate := lookback + idx + len(sep)
			if candidate > best {
				best = candidate
			}
		}
	}
	if best == -1 {
		return hardEnd
	}
	return best
}
