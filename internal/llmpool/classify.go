package llmpool

import "strings"

// ErrorClass categorizes an upstream LLM call failure for both the
// call-level retry driver and pool-level account decisions.
type ErrorClass int

const (
	// ClassTransient is retried on the same account.
	ClassTransient ErrorClass = iota
	// ClassQuotaExceeded cools the account down and fails over.
	ClassQuotaExceeded
	// ClassPermanent disables the account and fails over.
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassQuotaExceeded:
		return "quota_exceeded"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var quotaPhrases = []string{
	"5-hour", "5 hour", "rolling window", "usage limit for your plan", "subscription usage limit",
}

var authFailurePhrases = []string{
	"invalid api key", "unauthorized", "forbidden", "authentication failed", "invalid token", "expired token",
}

// CallResult describes one upstream call outcome, as reported by the
// transport that actually talked to the vendor API.
type CallResult struct {
	StatusCode int
	Body       string
	NetErr     bool // true for network timeout / connect failure, no status code
}

// Classify determines which bucket a call outcome falls into, following
// the vendor's quota and auth-failure conventions.
func Classify(r CallResult) ErrorClass {
	if r.NetErr {
		return ClassTransient
	}

	switch r.StatusCode {
	case 408, 500, 502, 503, 504:
		return ClassTransient
	case 429:
		if containsAny(r.Body, quotaPhrases) {
			return ClassQuotaExceeded
		}
		return ClassTransient
	case 401, 403:
		return ClassPermanent
	}

	if containsAny(r.Body, authFailurePhrases) {
		return ClassPermanent
	}

	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return ClassTransient // callers only classify failed calls; never reached in practice
	}

	// Any otherwise-unclassified non-retryable status is treated as permanent.
	return ClassPermanent
}

func containsAny(haystack string, phrases []string) bool {
	lower := strings.ToLower(haystack)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
