// Package phone converts user-entered phone numbers into the MSISDN form the
// payment provider expects: digits only, prefixed with the country calling
// code and without the national trunk prefix.
package phone

import "strings"

// DefaultCountryCode is the Kenyan calling code.
const DefaultCountryCode = "254"

// Normalizer rewrites numbers for a single country.
// The zero value uses DefaultCountryCode and trunk prefix "0".
type Normalizer struct {
	CountryCode string
	TrunkPrefix string
}

// Normalize uses the default Kenyan normalizer.
func Normalize(raw string) string { return Normalizer{}.Normalize(raw) }

// Normalize strips every non-digit, swaps a leading trunk prefix for the
// country code, and prepends the country code when it is missing. It never
// fails; garbage in yields a best-effort string that the provider rejects.
func (n Normalizer) Normalize(raw string) string {
	cc := n.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}
	trunk := n.TrunkPrefix
	if trunk == "" {
		trunk = "0"
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, trunk):
		return cc + digits[len(trunk):]
	case strings.HasPrefix(digits, cc):
		return digits
	default:
		return cc + digits
	}
}
