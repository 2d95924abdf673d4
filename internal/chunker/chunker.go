// Package chunker splits extracted document text into overlapping windows
// sized for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxLen is the nominal maximum chunk length in bytes.
	DefaultMaxLen = 1000
	// DefaultOverlap is the number of bytes shared between adjacent chunks.
	DefaultOverlap = 200

	// How far from the nominal boundary a paragraph or sentence break
	// may be picked up.
	breakSearchBefore = 100
	paragraphSlack    = 100
	sentenceSlack     = 50
)

// Chunk splits text into windows of at most maxLen bytes (plus the break
// search slack), preferring to end each window at a paragraph break, then a
// sentence break, then a space. Adjacent windows overlap by overlap bytes so
// concepts spanning a boundary stay embeddable in at least one chunk. Every
// chunk is trimmed of surrounding whitespace; empty chunks are kept and must
// be dropped by the caller before embedding.
//
// Passing maxLen or overlap <= 0 selects the defaults.
func Chunk(text string, maxLen, overlap int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if len(text) <= maxLen {
		return []string{strings.TrimSpace(text)}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		// Nominal end; may run past the text, slicing clamps below.
		end := start + maxLen
		if end < len(text) {
			end = adjustBreak(text, start, end)
		}

		sliceEnd := min(end, len(text))
		chunks = append(chunks, strings.TrimSpace(text[start:sliceEnd]))

		next := end - overlap
		if next < 0 {
			next = 0
		}
		// The break search can move end close to start for small maxLen;
		// never let a window fail to advance.
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// adjustBreak moves the nominal window end to a nearby natural break.
// Preference order: paragraph break, sentence break, preceding space,
// hard cut at a rune boundary.
func adjustBreak(text string, start, end int) int {
	searchFrom := end - breakSearchBefore
	if searchFrom < start {
		searchFrom = start
	}

	if p := strings.Index(text[searchFrom:], "\n\n"); p != -1 {
		abs := searchFrom + p
		if abs < end+paragraphSlack {
			return abs
		}
	}

	if s := strings.Index(text[searchFrom:], ". "); s != -1 {
		abs := searchFrom + s
		if abs < end+sentenceSlack {
			return abs + 1 // keep the period inside the chunk
		}
	}

	if sp := strings.LastIndex(text[:end+1], " "); sp != -1 && sp > end-breakSearchBefore {
		return sp
	}

	// Hard cut: back up to a rune boundary so we never split UTF-8 sequences.
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}
