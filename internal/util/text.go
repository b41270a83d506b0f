package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var reSpaces = regexp.MustCompile(`\s+`)

// NormalizeSpaces collapses whitespace runs and trims.
func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(CleanSpaces(input), " "))
}

// NormalizeKey is the case- and whitespace-insensitive form of an identity
// component (collection or color number).
func NormalizeKey(input string) string {
	s := norm.NFC.String(input)
	// a Caser is stateful, so one per call
	s = cases.Fold().String(s)
	return NormalizeSpaces(s)
}

// FabricKey joins normalized collection and color number.
func FabricKey(collection, colorNumber string) string {
	return NormalizeKey(collection) + "\x1f" + NormalizeKey(colorNumber)
}

// Tokenize splits text into lower-case word tokens of at least two runes.
func Tokenize(input string) []string {
	lower := strings.ToLower(NormalizeSpaces(input))
	parts := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

// SplitCompound splits "RETRO organza blue" into "RETRO" and "organza blue".
func SplitCompound(cell string) (string, string) {
	s := NormalizeSpaces(cell)
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func HasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func HasDigits(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
