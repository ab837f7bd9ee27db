package status

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed means a webhook signature did not verify.
	ErrAuthenticationFailed = errors.New("webhook: signature verification failed")

	// ErrConflict means another writer won a natural-key uniqueness race.
	// Always safe for the loser to ignore.
	ErrConflict = errors.New("ledger: natural key already exists")

	// ErrAlreadyUsed means an attempt to redeem or resurrect a consumed unit.
	ErrAlreadyUsed = errors.New("ledger: unit already used")

	// ErrInsufficientQuantity means a redemption exceeds the remaining
	// upstream quantity. No partial redemption happens.
	ErrInsufficientQuantity = errors.New("checkin: insufficient remaining quantity")

	// ErrNotFound means the order, line item or unit does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMalformedEvent means an unparseable webhook payload. Logged and
	// acknowledged, never retried.
	ErrMalformedEvent = errors.New("webhook: malformed event payload")
)

// TransientError marks an upstream failure (network, rate limit, 5xx) that
// was retried with backoff and may still succeed on a later attempt.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient upstream failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
