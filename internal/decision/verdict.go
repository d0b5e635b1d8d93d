package decision

import "strings"

// Verdict is the closed three-variant outcome of an application evaluation.
type Verdict string

const (
	VerdictApproved          Verdict = "APPROVED"
	VerdictRejected          Verdict = "REJECTED"
	VerdictNeedsVerification Verdict = "NEEDS_VERIFICATION"
)

// ParseVerdict maps the decision service's raw output onto the closed verdict
// set. Anything unrecognized collapses to the conservative variant.
func ParseVerdict(raw string) Verdict {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(normalized, string(VerdictNeedsVerification)):
		return VerdictNeedsVerification
	case strings.Contains(normalized, string(VerdictApproved)):
		return VerdictApproved
	case strings.Contains(normalized, string(VerdictRejected)):
		return VerdictRejected
	default:
		return VerdictNeedsVerification
	}
}
