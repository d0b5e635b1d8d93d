package telephony

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// ValidE164 reports whether the value normalizes to a plausible E.164 number.
func ValidE164(value string) bool {
	normalized := NormalizeE164(value)
	if normalized == "" {
		return false
	}
	digits := normalized[1:]
	return len(digits) >= 8 && len(digits) <= 15
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}
