package patterns

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// leetspeakMap reverses the numeric/symbol substitutions attackers use to
// slip past literal matching ("1gn0r3" -> "ignore").
var leetspeakMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't', '8': 'b',
	'@': 'a', '$': 's', '!': 'i', '+': 't', '|': 'i',
}

// DecodeLeetspeak returns text with leetspeak substitutions reversed, or ""
// when no substitution applied.
func DecodeLeetspeak(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	changed := false
	for _, r := range text {
		if repl, ok := leetspeakMap[r]; ok {
			b.WriteRune(repl)
			changed = true
		} else {
			b.WriteRune(r)
		}
	}
	if !changed {
		return ""
	}
	return b.String()
}

// ContainsLeetspeak reports whether text contains letter-digit-letter
// sequences like "1gn0r3" (intentional substitution) as opposed to
// incidental numbers like "2 1/4 cups". Gates the normalized matching pass.
func ContainsLeetspeak(text string) bool {
	leetDigits := map[rune]bool{'0': true, '1': true, '3': true, '4': true, '5': true}
	leetChars := map[rune]bool{'@': true, '$': true}

	runes := []rune(text)
	for i := 1; i < len(runes)-1; i++ {
		curr, prev, next := runes[i], runes[i-1], runes[i+1]
		if leetDigits[curr] {
			if (unicode.IsLetter(prev) || leetChars[prev]) &&
				(unicode.IsLetter(next) || leetChars[next]) {
				return true
			}
		}
		if leetChars[curr] && unicode.IsLetter(prev) && unicode.IsLetter(next) {
			return true
		}
	}
	return false
}

// homoglyphs maps look-alike characters from non-Latin scripts onto the
// Latin shapes they imitate. Fixed set: Cyrillic, Greek, IPA, fullwidth.
var homoglyphs = map[rune]rune{
	// Cyrillic lowercase
	'а': 'a', 'е': 'e', 'і': 'i', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	// Cyrillic uppercase
	'А': 'A', 'В': 'B', 'С': 'C', 'Е': 'E', 'Н': 'H', 'І': 'I', 'К': 'K',
	'М': 'M', 'О': 'O', 'Р': 'P', 'Т': 'T', 'Х': 'X',
	// Greek
	'α': 'a', 'β': 'b', 'ε': 'e', 'η': 'n', 'ι': 'i', 'κ': 'k', 'ν': 'v',
	'ο': 'o', 'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x',
	// IPA
	'ɑ': 'a', 'ɡ': 'g', 'ɩ': 'i', 'ɪ': 'i',
	// Misc math/letterlike
	'ℓ': 'l',
}

// NormalizeHomoglyphs folds the text through NFKC (fullwidth forms,
// mathematical alphanumerics) and then maps the fixed homoglyph set back
// onto Latin. Returns the input unchanged when nothing mapped.
func NormalizeHomoglyphs(text string) string {
	folded := norm.NFKC.String(text)
	return strings.Map(func(r rune) rune {
		if mapped, ok := homoglyphs[r]; ok {
			return mapped
		}
		return r
	}, folded)
}

// CountHomoglyphs returns how many characters of text are in the fixed
// look-alike set. Used to flag homoglyph obfuscation presence.
func CountHomoglyphs(text string) int {
	n := 0
	for _, r := range text {
		if _, ok := homoglyphs[r]; ok {
			n++
		}
	}
	return n
}

// Canonical produces the deterministic normalized form used for cache
// fingerprints and session history: trimmed, NFKC-folded, lowercased.
func Canonical(text string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(text)))
}
