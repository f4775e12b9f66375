// Package phone canonicalizes user-entered phone numbers into
// country-code-prefixed digit form for one configured numbering plan.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalidFormat is returned when a number cannot be brought into the
// canonical shape for the configured region.
var ErrInvalidFormat = errors.New("invalid number format")

// Region describes one national numbering plan.
//
// The zero value is not usable; construct with DefaultRegion or fill every
// field. CanonicalLength() is derived, not stored, so the fields can never
// disagree with it.
type Region struct {
	// CountryCode is the calling code without "+", e.g. "880".
	CountryCode string
	// TrunkPrefix is the single national dialing digit, e.g. "0".
	TrunkPrefix string
	// MobilePrefix is the leading digit of a bare subscriber number, e.g. "1".
	MobilePrefix string
	// SubscriberDigits is the digit count of a number with the country code
	// omitted, e.g. 10 for "1981380806".
	SubscriberDigits int
}

// DefaultRegion targets Bangladesh: canonical numbers look like 8801981380806.
func DefaultRegion() Region {
	return Region{
		CountryCode:      "880",
		TrunkPrefix:      "0",
		MobilePrefix:     "1",
		SubscriberDigits: 10,
	}
}

// CanonicalLength is the total digit count of a canonical number.
func (r Region) CanonicalLength() int {
	return len(r.CountryCode) + r.SubscriberDigits
}

// Canonicalize maps a raw user-entered number to canonical digit form.
//
// It is total: every input maps to some string, possibly one that fails the
// validity check in Normalize. Shapes handled:
//
//	01981380806   -> 8801981380806  (trunk prefix swapped for country code)
//	+8801981380806 -> 8801981380806 (non-digits stripped)
//	8801981380806 -> 8801981380806  (already canonical)
//	1981380806    -> 8801981380806  (bare subscriber number)
//
// Anything else passes through unchanged and is rejected downstream.
func (r Region) Canonicalize(raw string) string {
	digits := stripNonDigits(raw)

	switch {
	case r.TrunkPrefix != "" && strings.HasPrefix(digits, r.TrunkPrefix):
		return r.CountryCode + digits[len(r.TrunkPrefix):]
	case strings.HasPrefix(digits, r.CountryCode):
		return digits
	case len(digits) == r.SubscriberDigits && strings.HasPrefix(digits, r.MobilePrefix):
		return r.CountryCode + digits
	default:
		return digits
	}
}

// Normalize canonicalizes raw and applies the final validity check: exact
// canonical length and country-code prefix. On failure it returns the
// (non-canonical) digits along with ErrInvalidFormat so callers can report
// what was attempted.
func (r Region) Normalize(raw string) (string, error) {
	c := r.Canonicalize(raw)
	if len(c) != r.CanonicalLength() || !strings.HasPrefix(c, r.CountryCode) {
		return c, ErrInvalidFormat
	}
	return c, nil
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
