package release

import "github.com/cespare/xxhash/v2"

// sampled decides deterministically whether a session id is included in
// the release-health aggregate: the same id and rate always produce the
// same decision, so a crashed-but-unsampled session can still be
// correlated against sampled aggregates by recomputing this function.
func sampled(sessionID string, sampleRate float64) bool {
	if sampleRate <= 0 {
		return false
	}
	if sampleRate >= 1 {
		return true
	}
	bucket := xxhash.Sum64String(sessionID) % 10000
	return bucket < uint64(sampleRate*10000)
}
