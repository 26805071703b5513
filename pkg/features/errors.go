package features

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrder is returned when a transaction is older than the newest
	// entry in its user's history.
	ErrOutOfOrder = errors.New("out of order transaction")

	// ErrMalformedVector is returned when a feature comes out NaN or infinite.
	ErrMalformedVector = errors.New("malformed feature vector")

	// ErrUserMismatch is returned when a transaction is built against another
	// user's history.
	ErrUserMismatch = errors.New("transaction user does not own history")
)

// OutOfOrderError carries the offending transaction and the timestamp it
// should not have preceded.
type OutOfOrderError struct {
	TransactionID string
	Timestamp     time.Time
	Latest        time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("transaction %s at %s precedes latest history entry at %s",
		e.TransactionID, e.Timestamp.Format(time.RFC3339), e.Latest.Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrOutOfOrder.
func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrder }
