package planner

import (
	"regexp"
	"strings"
	"unicode"
)

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "mx": true, "miss": true,
	"dr": true, "prof": true, "professor": true,
}

// NormalizeName strips leading honorifics, collapses whitespace and
// title-cases each word, so `" dr. jane  DOE "` becomes `"Jane Doe"`.
func NormalizeName(raw string) string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for i, f := range fields {
		token := strings.ToLower(strings.TrimSuffix(f, "."))
		if i == 0 && honorifics[token] {
			continue
		}
		out = append(out, titleWord(f))
	}
	return strings.Join(out, " ")
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	if len(runes) == 0 {
		return w
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// properNameRe matches two adjacent capitalised words, the cheapest signal
// that a question is about a specific person.
var properNameRe = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)

func hasProperName(question string) bool {
	return properNameRe.MatchString(question)
}
