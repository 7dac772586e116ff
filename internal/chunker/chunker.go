// Package chunker splits extracted letter text into overlapping fixed-width
// spans, the unit of embedding and retrieval.
package chunker

import "strings"

// Chunk is one contiguous span of a record's text. Index is the 0-based
// position within the record and Start the rune offset of the span.
type Chunk struct {
	Index int
	Start int
	Text  string
}

// Split cuts text into spans of chunkSize runes where adjacent spans share
// overlap runes; the final span may be shorter. Empty or whitespace-only
// text yields no chunks. Boundaries are purely width-based, with no
// sentence or paragraph awareness.
func Split(text string, chunkSize, overlap int) []Chunk {
	if strings.TrimSpace(text) == "" || chunkSize <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= chunkSize {
		// Invalid overlap degrades to a plain non-overlapping split.
		overlap = 0
	}

	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []Chunk
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index: idx,
			Start: start,
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
