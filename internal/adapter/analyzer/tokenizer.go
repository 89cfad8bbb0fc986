package analyzer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize uppercases, trims and collapses internal whitespace. It gives
// the display form stored as the canonical name.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToUpper(text)), " ")
}

var keyTokenizer = NewTokenizer()

// MatchKey is the text embedded for a product name, on both the catalog and
// the query side: normalized, accent-free, units folded and quantities split
// from units, so "Café 1 Litro" and "CAFE 1L" both become "CAFE 1 L".
func MatchKey(text string) string {
	return strings.Join(keyTokenizer.Tokenize(text), " ")
}

// FoldAccents strips combining marks: "CAFÉ" -> "CAFE", "PIÑA" -> "PINA".
func FoldAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// Tokenizer splits product names into tokens, separating quantities from
// units and folding unit spellings to one symbol ("1 LITRO", "1L" -> 1, L).
type Tokenizer struct {
	units map[string]string
}

// NewTokenizer creates a new Tokenizer with the default unit aliases.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{units: defaultUnits()}
}

// Tokenize splits normalized, accent-folded text into tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(FoldAccents(Normalize(text)))
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		for _, part := range splitDigits(word) {
			if unit, ok := t.units[part]; ok {
				part = unit
			}
			tokens = append(tokens, part)
		}
	}

	return tokens
}

// Features returns the hashing features of text: each token prefixed with
// "w:" and every character trigram of the "#"-padded token prefixed with "g:".
func (t *Tokenizer) Features(text string) []string {
	tokens := t.Tokenize(text)
	features := make([]string, 0, len(tokens)*4)

	for _, token := range tokens {
		features = append(features, "w:"+token)
		padded := []rune("#" + token + "#")
		for i := 0; i+3 <= len(padded); i++ {
			features = append(features, "g:"+string(padded[i:i+3]))
		}
	}

	return features
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// splitDigits breaks a word at digit/non-digit boundaries: "600ML" -> 600, ML.
func splitDigits(word string) []string {
	var parts []string
	var current strings.Builder
	prevDigit := false

	for i, r := range word {
		isDigit := unicode.IsDigit(r)
		if i > 0 && isDigit != prevDigit && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteRune(r)
		prevDigit = isDigit
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

func defaultUnits() map[string]string {
	aliases := map[string][]string{
		"L":  {"LITRO", "LITROS", "LT", "LTS", "LTR"},
		"ML": {"MILILITRO", "MILILITROS", "MLS"},
		"G":  {"GRAMO", "GRAMOS", "GR", "GRS", "GRM"},
		"KG": {"KILO", "KILOS", "KILOGRAMO", "KILOGRAMOS", "KGS"},
		"PZ": {"PIEZA", "PIEZAS", "PZA", "PZAS", "PZS"},
	}
	m := make(map[string]string)
	for unit, names := range aliases {
		for _, n := range names {
			m[n] = unit
		}
	}
	return m
}
