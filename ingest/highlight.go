package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Highlights returns the triggers that occur in text as whole words,
// case-insensitively. ownNick is checked first; the remaining triggers keep
// their configured order and duplicates are reported once.
func Highlights(text, ownNick string, triggers []string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	seen := make(map[string]struct{}, len(triggers)+1)
	check := func(t string) {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		if containsWord(lower, key) {
			out = append(out, t)
		}
	}
	check(ownNick)
	for _, t := range triggers {
		check(t)
	}
	return out
}

// containsWord reports whether word occurs in text bounded by non-word
// characters or the ends of text. Both arguments must already be lower case.
func containsWord(text, word string) bool {
	for from := 0; from <= len(text)-len(word); {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if !wordBefore(text, start) && !wordAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

func wordAfter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}
