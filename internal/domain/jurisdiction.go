/**
 * @description
 * Jurisdiction catalogue and the fuzzy normalizer used wherever free-text
 * jurisdiction values enter the service.
 */
package domain

import (
	"strings"
	"unicode"
)

// Jurisdiction identifies one of the supported incorporation venues.
type Jurisdiction string

const (
	JurisdictionBVI       Jurisdiction = "BVI"
	JurisdictionCayman    Jurisdiction = "CAYMAN"
	JurisdictionPanama    Jurisdiction = "PANAMA"
	JurisdictionHongKong  Jurisdiction = "HONGKONG"
	JurisdictionSingapore Jurisdiction = "SINGAPORE"
)

// DefaultJurisdiction is used when a value cannot be matched.
const DefaultJurisdiction = JurisdictionBVI

// Jurisdictions lists every supported jurisdiction in display order.
var Jurisdictions = []Jurisdiction{
	JurisdictionBVI,
	JurisdictionCayman,
	JurisdictionPanama,
	JurisdictionHongKong,
	JurisdictionSingapore,
}

// NormalizeJurisdiction maps loosely formatted input ("Cayman Islands",
// "hk", "british virgin islands", "HONGKONG") to a canonical jurisdiction.
// Unrecognised or empty input yields DefaultJurisdiction.
func NormalizeJurisdiction(raw string) Jurisdiction {
	compact := compactLetters(raw)
	if compact == "" {
		return DefaultJurisdiction
	}

	switch {
	case strings.Contains(compact, "bvi"), strings.Contains(compact, "virgin"):
		return JurisdictionBVI
	case strings.HasPrefix(compact, "cay"), strings.Contains(compact, "cayman"):
		return JurisdictionCayman
	case strings.HasPrefix(compact, "pan"), strings.Contains(compact, "panama"):
		return JurisdictionPanama
	case strings.HasPrefix(compact, "hk"), strings.HasPrefix(compact, "hong"), strings.Contains(compact, "hongkong"):
		return JurisdictionHongKong
	case strings.HasPrefix(compact, "sg"), strings.HasPrefix(compact, "sing"), strings.Contains(compact, "singapore"):
		return JurisdictionSingapore
	default:
		return DefaultJurisdiction
	}
}

// Slug returns the lower-cased URL token for the jurisdiction.
func (j Jurisdiction) Slug() string {
	if j == "" {
		return strings.ToLower(string(DefaultJurisdiction))
	}
	return strings.ToLower(string(j))
}

// Valid reports whether j is one of the canonical jurisdictions.
func (j Jurisdiction) Valid() bool {
	for _, candidate := range Jurisdictions {
		if j == candidate {
			return true
		}
	}
	return false
}

func compactLetters(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
