// Package tokenizer counts and trims prompt text against a token budget.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"
)

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	CountTokens(text string) int
	DecodeIds(ids []int) string
}

var _ Tokenizer = (*WordTokenizer)(nil)

// WordTokenizer is a dependency-free approximation used when no model
// encoding is configured: words, numbers and punctuation marks each count as
// one token.
type WordTokenizer struct {
	mu       sync.Mutex
	vocab    map[string]int
	invVocab map[int]string
	nextID   int
}

// NewWordTokenizer creates a tokenizer with an empty vocabulary.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{
		vocab:    make(map[string]int),
		invVocab: make(map[int]string),
		nextID:   1,
	}
}

func (t *WordTokenizer) id(tok string) int {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	id := t.nextID
	t.vocab[tok] = id
	t.invVocab[id] = tok
	t.nextID++
	return id
}

// split keeps whitespace attached to the following token so DecodeIds
// reproduces the original spacing.
func split(s string) []string {
	var toks []string
	var buf strings.Builder
	var lead strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			toks = append(toks, buf.String())
			buf.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
			lead.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if lead.Len() > 0 {
				buf.WriteString(lead.String())
				lead.Reset()
			}
			buf.WriteRune(r)
		default:
			flush()
			toks = append(toks, lead.String()+string(r))
			lead.Reset()
		}
	}
	flush()
	if lead.Len() > 0 && len(toks) > 0 {
		toks[len(toks)-1] += lead.String()
	}
	return toks
}

func (t *WordTokenizer) Encode(text string) []int {
	toks := split(text)
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(toks))
	for _, tok := range toks {
		ids = append(ids, t.id(tok))
	}
	return ids
}

func (t *WordTokenizer) CountTokens(text string) int {
	return len(split(text))
}

func (t *WordTokenizer) DecodeIds(ids []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(t.invVocab[id])
	}
	return sb.String()
}

// Budget keeps whole lines of text while they fit in maxTokens. Lines are
// never cut in half so every kept source line stays a complete citation.
// It returns the kept lines and how many were dropped. A non-positive budget
// keeps everything.
func Budget(tok Tokenizer, lines []string, maxTokens int) ([]string, int) {
	if tok == nil || maxTokens <= 0 {
		return lines, 0
	}
	kept := make([]string, 0, len(lines))
	used := 0
	for i, line := range lines {
		n := tok.CountTokens(line)
		if used+n > maxTokens {
			return kept, len(lines) - i
		}
		used += n
		kept = append(kept, line)
	}
	return kept, 0
}
