package jarvis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the target token size for the synthetic fallback
// stream.
const DefaultChunkSize = 20

// SplitTextForStream splits text into chunks of at most max runes without
// splitting a word or a whitespace run across chunks, except when a single
// run is itself longer than max. The concatenation of the chunks is always
// exactly the input.
func SplitTextForStream(text string, max int) []string {
	if max <= 0 {
		max = DefaultChunkSize
	}
	if text == "" {
		return nil
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, run := range splitRuns(text) {
		runLen := utf8.RuneCountInString(run)
		if runLen > max {
			// Oversize run: hard-split at the chunk size.
			flush()
			runes := []rune(run)
			for start := 0; start < len(runes); start += max {
				end := start + max
				if end > len(runes) {
					end = len(runes)
				}
				chunks = append(chunks, string(runes[start:end]))
			}
			continue
		}
		if curLen+runLen > max {
			flush()
		}
		cur.WriteString(run)
		curLen += runLen
	}
	flush()
	return chunks
}

// splitRuns partitions text into maximal runs of whitespace and
// non-whitespace, preserving order and content.
func splitRuns(text string) []string {
	var runs []string
	start := 0
	var inSpace bool
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i == 0 {
			inSpace = space
			continue
		}
		if space != inSpace {
			runs = append(runs, text[start:i])
			start = i
			inSpace = space
		}
	}
	runs = append(runs, text[start:])
	return runs
}
