package render

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/pavelanni/examgen/internal/model"
)

// normalize collapses whitespace and folds case. Casers are stateful, so a
// new one is made per call.
func normalize(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// CorrectOption returns the index of the option designated by key, or -1.
// Generators disagree on the encoding, so the key is tried as an index, then
// as a letter, then as the option text compared without case.
func CorrectOption(options []string, key model.AnswerKey) int {
	if key.IsZero() || len(options) == 0 {
		return -1
	}
	raw := strings.TrimSpace(key.Value)

	if i, err := strconv.Atoi(raw); err == nil {
		if i >= 0 && i < len(options) {
			return i
		}
		if key.Numeric {
			return -1
		}
	}

	if i := letterIndex(raw); i >= 0 && i < len(options) {
		return i
	}

	want := normalize(raw)
	for i, opt := range options {
		if normalize(opt) == want {
			return i
		}
	}
	return -1
}

// letterIndex parses "B", "b", "B)" or "b." into 1.
func letterIndex(s string) int {
	s = strings.TrimRight(s, ").")
	if len(s) != 1 {
		return -1
	}
	c := s[0]
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c - 'A')
	case c >= 'a' && c <= 'z':
		return int(c - 'a')
	}
	return -1
}

var truthWords = map[string]Truth{
	"verdadero": TruthTrue,
	"verdadera": TruthTrue,
	"true":      TruthTrue,
	"v":         TruthTrue,
	"t":         TruthTrue,
	"si":        TruthTrue,
	"sí":        TruthTrue,
	"yes":       TruthTrue,
	"1":         TruthTrue,
	"falso":     TruthFalse,
	"falsa":     TruthFalse,
	"false":     TruthFalse,
	"f":         TruthFalse,
	"no":        TruthFalse,
	"0":         TruthFalse,
}

// ParseTruth reads a true/false answer given as "verdadero", "true", "falso", ...
func ParseTruth(key model.AnswerKey) Truth {
	return truthWords[normalize(key.Value)]
}
