package retrieval

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxContextLength bounds the formatted context block.
const DefaultMaxContextLength = 5000

const truncationSuffix = "... (truncated)"

// FormatContext renders retrieved passages into a labelled context block for
// prompt injection. Passages are grouped under their file name in first-seen
// order. The returned string never exceeds maxLength; oversized context is
// cut and marked with a truncation suffix. Pure function, no I/O.
func FormatContext(results []Result, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxContextLength
	}

	groups := make(map[string][]string)
	var order []string
	for _, res := range results {
		if _, ok := groups[res.FileName]; !ok {
			order = append(order, res.FileName)
		}
		groups[res.FileName] = append(groups[res.FileName], res.Content)
	}

	var b strings.Builder
	b.WriteString("---CONTEXT START---\n\n")
	for _, name := range order {
		b.WriteString("File: ")
		b.WriteString(name)
		b.WriteString("\n\n")
		b.WriteString(strings.Join(groups[name], "\n\n"))
		b.WriteString("\n\n---\n\n")
	}
	b.WriteString("---CONTEXT END---\n\n")

	formatted := b.String()
	if len(formatted) > maxLength {
		cut := maxLength - len(truncationSuffix)
		if cut < 0 {
			cut = 0
		}
		// Back up so the cut never splits a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(formatted[cut]) {
			cut--
		}
		formatted = formatted[:cut] + truncationSuffix
		if len(formatted) > maxLength {
			formatted = formatted[:maxLength]
		}
	}
	return formatted
}
