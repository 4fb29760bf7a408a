// Package textnorm normalizes inbound text for keyword matching.
//
// Matching is a fixed-lexicon heuristic, not NLP: false negatives on
// greetings embedded in longer sentences are expected and acceptable.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining diacritical marks after NFD decomposition,
// so "garantía" and "garantia" normalize to the same token.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// greetings is the fixed lexicon accepted by IsGreeting, pre-normalized.
var greetings = []string{
	"hola", "hello", "buen dia", "buenos dias", "buenas tardes",
	"buenas noches", "oye", "que tal", "hi", "hey",
}

// Normalize lowercases, trims, and strips diacritics from text.
func Normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	out, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		// Transform failure leaves the lowered text usable as-is.
		return lowered
	}
	return out
}

// Tokens splits text into whitespace-separated tokens after normalization.
func Tokens(text string) []string {
	return strings.Fields(Normalize(text))
}

// Digits strips every non-digit rune from the input.
func Digits(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsGreeting reports whether the text is a short greeting. Inputs with
// more than two tokens are rejected outright; otherwise the normalized
// text must equal, start with, end with, or contain (surrounded by
// spaces) an entry of the greeting lexicon.
func IsGreeting(text string) bool {
	normalized := Normalize(text)
	if normalized == "" {
		return false
	}
	if len(strings.Fields(normalized)) > 2 {
		return false
	}
	for _, g := range greetings {
		if normalized == g ||
			strings.HasPrefix(normalized, g) ||
			strings.HasSuffix(normalized, g) ||
			strings.Contains(normalized, " "+g+" ") {
			return true
		}
	}
	return false
}
