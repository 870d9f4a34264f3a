// Package chunker splits input text into bounded chunks for synthesis.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength is the chunk limit, in code points, used when none is given.
const DefaultMaxLength = 481

// Split breaks text into an ordered list of chunks of at most maxLength code
// points. Sentences are packed greedily; a sentence that does not fit on its
// own is broken at commas, and a clause that still does not fit is broken into
// words. A single word longer than maxLength is emitted alone rather than
// truncated. Pieces inside a chunk are joined by one space. Empty input yields
// no chunks.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	p := &packer{max: maxLength}
	for _, sentence := range splitSentences(text) {
		if runeLen(sentence) <= maxLength {
			p.add(sentence)
			continue
		}
		for _, clause := range splitClauses(sentence) {
			if runeLen(clause) <= maxLength {
				p.add(clause)
				continue
			}
			for _, word := range strings.Fields(clause) {
				p.add(word)
			}
		}
	}
	p.flush()
	return p.chunks
}

type packer struct {
	max    int
	chunks []string
	cur    strings.Builder
	curLen int
}

func (p *packer) add(piece string) {
	n := runeLen(piece)
	if p.curLen > 0 && p.curLen+1+n > p.max {
		p.flush()
	}
	if p.curLen > 0 {
		p.cur.WriteByte(' ')
		p.curLen++
	}
	p.cur.WriteString(piece)
	p.curLen += n
}

func (p *packer) flush() {
	if p.curLen == 0 {
		return
	}
	if chunk := strings.TrimSpace(p.cur.String()); chunk != "" {
		p.chunks = append(p.chunks, chunk)
	}
	p.cur.Reset()
	p.curLen = 0
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	prevTerminal := false
	for i, r := range text {
		if prevTerminal && unicode.IsSpace(r) {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				out = append(out, s)
			}
			start = i
		}
		prevTerminal = r == '.' || r == '!' || r == '?'
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// splitClauses cuts after every comma; the comma stays with the left part.
func splitClauses(sentence string) []string {
	parts := strings.SplitAfter(sentence, ",")
	out := parts[:0]
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
