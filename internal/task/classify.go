package task

import "strings"

// ErrorClass is the three-way classification of a task failure that governs
// retry eligibility.
type ErrorClass string

// Possible error classifications
const (
	// ErrorClassTransient marks failures likely to succeed on retry
	// (network, quota, availability).
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent marks failures certain to recur
	// (validation, auth, bad input). Never retried.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassUnknown marks failures matching neither keyword list.
	// Retried a limited number of times.
	ErrorClassUnknown ErrorClass = "unknown"
)

// transientMarkers are matched first; any hit classifies the error transient.
var transientMarkers = []string{
	"timeout",
	"connection",
	"network",
	"rate limit",
	"quota",
	"service unavailable",
	"temporarily",
	"retry",
	"busy",
	"overload",
}

// permanentMarkers classify the error permanent when no transient marker matched.
var permanentMarkers = []string{
	"invalid",
	"unauthorized",
	"forbidden",
	"not found",
	"syntax",
	"validation",
	"malformed",
	"unsupported",
	"expired",
	"revoked",
}

// Classify maps an error message to an ErrorClass using case-insensitive
// substring matching against the curated keyword lists. The transient list is
// checked first, so a message containing markers from both lists is classified
// transient. Messages matching neither list are unknown.
func Classify(errorMessage string) ErrorClass {
	msg := strings.ToLower(errorMessage)

	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ErrorClassTransient
		}
	}

	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return ErrorClassPermanent
		}
	}

	return ErrorClassUnknown
}
