// Package ingestion implements the bus-driven document pipeline: parse,
// split, and vectorize stages, each independently retryable and each
// addressable by document_id.
package ingestion

import (
	"fmt"
	"strings"
)

// separatorPriority is tried in order when a segment still exceeds
// chunkSize — paragraph breaks first, then line breaks, then CJK and
// Western sentence terminators, then plain whitespace, then characters.
// Mirrors the full-width punctuation a pure \n\n split misses on
// Chinese/Japanese prose.
var separatorPriority = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

const (
	minChunkChars = 100
	maxChunkChars = 2000
)

// Splitter is a recursive character splitter: it tries each separator in
// priority order, keeping pieces under chunkSize, and falls through to a
// hard character cut if no separator helps. Overlap duplicates the tail
// of each chunk as the head of the next, measured in characters rather
// than words so it behaves the same for CJK and Latin text.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewSplitter clamps chunkSize/chunkOverlap to the supported range per
// knowledge base policy.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize < minChunkChars {
		chunkSize = minChunkChars
	}
	if chunkSize > maxChunkChars {
		chunkSize = maxChunkChars
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split breaks text into overlapping character-bounded pieces, in order.
func (s *Splitter) Split(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("ingestion.Split: text is empty")
	}

	pieces := s.recursiveSplit(text, separatorPriority)

	var merged []string
	var cur strings.Builder
	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+len(p) > s.chunkSize {
			merged = append(merged, cur.String())
			cur.Reset()
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		merged = append(merged, cur.String())
	}

	return s.applyOverlap(merged), nil
}

// recursiveSplit tries the first separator; any resulting piece still
// over chunkSize is recursively split on the remaining separators.
func (s *Splitter) recursiveSplit(text string, seps []string) []string {
	if len([]rune(text)) <= s.chunkSize || len(seps) == 0 {
		return hardSplit(text, s.chunkSize)
	}

	sep := seps[0]
	var parts []string
	if sep == "" {
		parts = hardSplit(text, s.chunkSize)
	} else {
		parts = splitKeepDelim(text, sep)
	}

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len([]rune(p)) > s.chunkSize {
			out = append(out, s.recursiveSplit(p, seps[1:])...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// splitKeepDelim splits on sep but reattaches it to the end of each
// piece (except the last), so sentence terminators survive into the
// chunk they close.
func splitKeepDelim(text, sep string) []string {
	raw := strings.Split(text, sep)
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		if i < len(raw)-1 {
			r += sep
		}
		if strings.TrimSpace(r) != "" {
			out = append(out, r)
		}
	}
	return out
}

// hardSplit cuts text into rune-bounded pieces of at most n characters
// when no separator is small enough to help.
func hardSplit(text string, n int) []string {
	runes := []rune(text)
	if len(runes) <= n {
		return []string{text}
	}
	var out []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// applyOverlap prepends the tail of each chunk to the head of the next,
// character-bounded rather than word-bounded.
func (s *Splitter) applyOverlap(chunks []string) []string {
	if len(chunks) <= 1 || s.chunkOverlap == 0 {
		return chunks
	}

	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		tail := lastNChars(chunks[i-1], s.chunkOverlap)
		out[i] = tail + chunks[i]
	}
	return out
}

func lastNChars(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}
