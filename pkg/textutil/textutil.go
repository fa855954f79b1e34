// Package textutil normalizes customer text for matching.
//
// The FAQ index and the escalation policy both compare text through the
// same normalized form: NFKC, case folded, punctuation and symbols removed,
// whitespace collapsed to single spaces.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical matching form of s.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded := cases.Fold().String(norm.NFKC.String(s))

	var sb strings.Builder
	sb.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = sb.Len() > 0
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r):
			// dropped
		default:
			if pendingSpace {
				sb.WriteByte(' ')
				pendingSpace = false
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Tokens splits already-normalized text into words.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// TokenSet returns the distinct words of already-normalized text.
func TokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// ContainsWord reports whether phrase occurs in text on word boundaries.
// Both arguments must already be normalized. Every occurrence is checked, so
// "pursue the sue" still matches "sue".
func ContainsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for offset <= len(text)-len(phrase) {
		idx := strings.Index(text[offset:], phrase)
		if idx == -1 {
			return false
		}
		start := offset + idx
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return !isWordRune(r)
}

func boundaryAfter(text string, idx int) bool {
	if idx >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
