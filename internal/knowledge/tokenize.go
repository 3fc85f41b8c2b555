package knowledge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Term is a normalised word and how often it occurs in a chunk.
type Term struct {
	Text  string
	Count int
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "what": {}, "how": {}, "which": {}, "can": {}, "you": {}, "not": {}, "is": {},
	"in": {}, "of": {}, "to": {}, "an": {}, "on": {}, "or": {}, "be": {}, "it": {}, "as": {},
	"at": {}, "by": {}, "do": {}, "does": {}, "if": {},
	"der": {}, "die": {}, "das": {}, "und": {}, "ist": {}, "ein": {}, "eine": {}, "mit": {},
	"den": {}, "dem": {}, "von": {}, "zu": {}, "im": {}, "wie": {}, "auf": {},
	"für": {}, "nicht": {}, "sich": {}, "es": {}, "wird": {}, "werden": {},
}

// Words splits src into lower-cased ident-like words: a letter or '_'
// followed by letters, digits or '_'. Numbers and symbols are delimiters.
func Words(src string) []string {
	isStart := func(r rune) bool { return r == '_' || unicode.IsLetter(r) }
	isCont := func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

	var out []string
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		if r == utf8.RuneError && w == 1 {
			i++
			continue
		}
		if !isStart(r) {
			i += w
			continue
		}
		start := i
		i += w
		for i < len(src) {
			rc, wc := utf8.DecodeRuneInString(src[i:])
			if !isCont(rc) {
				break
			}
			i += wc
		}
		word := strings.ToLower(src[start:i])
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		out = append(out, word)
	}
	return out
}

// Terms counts the words of src, keeping first-occurrence order.
func Terms(src string) []Term {
	pos := map[string]int{}
	var out []Term
	for _, w := range Words(src) {
		if i, ok := pos[w]; ok {
			out[i].Count++
			continue
		}
		pos[w] = len(out)
		out = append(out, Term{Text: w, Count: 1})
	}
	return out
}

// Chunk collapses whitespace and cuts text into windows of size runes that
// overlap by overlap runes.
func Chunk(text string, size, overlap int) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return out
}
