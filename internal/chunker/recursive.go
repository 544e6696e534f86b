package chunker

import (
	"strings"
	"unicode/utf8"
)

// recursiveSplitter splits text on the first separator present, recursing
// into pieces that are still too large, then merges adjacent pieces up to
// size characters with overlap characters carried between chunks.
//
// Separators stay attached to the start of the following piece, so joining
// the pieces of one merge group reproduces the input exactly.
type recursiveSplitter struct {
	size    int
	overlap int
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func (r recursiveSplitter) split(text string, separators []string) []string {
	sep, rest := "", []string(nil)
	for i, cand := range separators {
		if cand == "" || strings.Contains(text, cand) {
			sep, rest = cand, separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) <= r.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, r.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, windows(piece, r.size)...)
			continue
		}
		out = append(out, r.split(piece, rest)...)
	}
	if len(small) > 0 {
		out = append(out, r.merge(small)...)
	}
	return out
}

// merge packs pieces into chunks of at most r.size characters. After a chunk
// is emitted, leading pieces are dropped until what remains fits in the
// overlap budget; the remainder seeds the next chunk.
func (r recursiveSplitter) merge(pieces []string) []string {
	var docs, current []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > r.size && len(current) > 0 {
			docs = appendDoc(docs, current)
			for len(current) > 0 && (total > r.overlap || total+n > r.size) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	return appendDoc(docs, current)
}

func appendDoc(docs, pieces []string) []string {
	doc := strings.Join(pieces, "")
	if strings.TrimSpace(doc) == "" {
		return docs
	}
	return append(docs, doc)
}

// splitKeep splits text before every occurrence of sep. An empty sep splits
// into runes.
func splitKeep(text, sep string) []string {
	if sep == "" {
		parts := make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}

	var parts []string
	last, from := 0, 0
	for {
		i := strings.Index(text[from:], sep)
		if i < 0 {
			break
		}
		pos := from + i
		if pos > last {
			parts = append(parts, text[last:pos])
			last = pos
		}
		from = pos + len(sep)
	}
	return append(parts, text[last:])
}

// windows cuts text into consecutive pieces of at most size runes.
func windows(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	var out []string
	for len(text) > 0 {
		end, count := 0, 0
		for end < len(text) && count < size {
			_, w := utf8.DecodeRuneInString(text[end:])
			end += w
			count++
		}
		out = append(out, text[:end])
		text = text[end:]
	}
	return out
}
