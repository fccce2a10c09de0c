package sms

import "strings"

const countryCode = "254"

// NormalizeAddress formats a Kenyan phone number as +254XXXXXXXXX.
// Normalizing an already normalized number returns it unchanged.
func NormalizeAddress(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	switch {
	case strings.HasPrefix(digits, countryCode):
		return "+" + digits
	case strings.HasPrefix(digits, "07"), strings.HasPrefix(digits, "01"):
		return "+" + countryCode + digits[1:]
	default:
		// bare 9-digit subscriber numbers and anything else unrecognized
		return "+" + countryCode + digits
	}
}

// NormalizeAll normalizes and de-duplicates, preserving first-seen order.
func NormalizeAll(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		n := NormalizeAddress(r)
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
