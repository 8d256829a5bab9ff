package domain

import (
	"strings"
	"unicode"
)

var commonRequiredFields = []string{
	"companyNames",
	"shareholders",
	"directors",
	"declarations",
	"signature",
}

var jurisdictionRequiredFields = map[Jurisdiction][]string{
	JurisdictionBVI:       {"registeredAgent"},
	JurisdictionCayman:    {"registeredAgent"},
	JurisdictionPanama:    {"residentAgent"},
	JurisdictionHongKong:  {"companySecretary", "registeredAddress"},
	JurisdictionSingapore: {"companySecretary", "localDirector", "registeredAddress"},
}

// RequiredIncorporationFields returns the detail keys that must be present
// before an incorporation for j can be submitted.
func RequiredIncorporationFields(j Jurisdiction) []string {
	fields := make([]string, 0, len(commonRequiredFields)+3)
	fields = append(fields, commonRequiredFields...)
	fields = append(fields, jurisdictionRequiredFields[j]...)
	return fields
}

var companySuffixes = map[string]bool{
	"limited":      true,
	"ltd":          true,
	"inc":          true,
	"incorporated": true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"llc":          true,
	"pte":          true,
	"sa":           true,
}

// NormalizeCompanyName lower-cases a company name, drops punctuation and
// trailing legal suffixes, and collapses whitespace. Two names that differ
// only by those details normalize to the same value.
func NormalizeCompanyName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		if r == '&' {
			return r
		}
		return ' '
	}, name)

	words := strings.Fields(cleaned)
	for len(words) > 1 && companySuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}
