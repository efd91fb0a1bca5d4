package lock

import (
	"errors"

	"github.com/kneutral-org/credential-broker/internal/credential"
	"github.com/kneutral-org/credential-broker/internal/lease"
)

// Error taxonomy for coordinator operations. Callers branch on these with
// errors.Is to pick their retry policy.
var (
	// ErrAcquisitionFailed is returned when the resource key is contended
	// or quorum could not be reached for the attempt. Retryable with
	// backoff on the caller side.
	ErrAcquisitionFailed = errors.New("lock acquisition failed")

	// ErrStaleLease is returned when a release or renewal presents a
	// fencing token that no longer matches the recorded grant. Not
	// retryable; the caller's work must be treated as abandoned.
	ErrStaleLease = errors.New("stale lease")

	// ErrStoreUnavailable is returned when a strict majority of lease
	// store nodes cannot be reached. Fatal for the current attempt.
	ErrStoreUnavailable = errors.New("lease store quorum unreachable")

	// ErrNotFound aliases the registry's not-found error for inspection
	// endpoints.
	ErrNotFound = lease.ErrNotFound

	// ErrPoolExhausted aliases the pool's exhaustion error, surfaced
	// distinctly so callers can apply backpressure.
	ErrPoolExhausted = credential.ErrPoolExhausted
)

// IsRetryable reports whether the caller may retry the operation after
// backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAcquisitionFailed) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrPoolExhausted)
}
