package posestore

import (
	"errors"
	"fmt"
)

var (
	// ErrUsage is returned when an operation needs a live pose and none is
	// available. Other caller mistakes (testing against an empty library or
	// an unknown pose) wrap it too. Surface it to the user; never retry.
	ErrUsage = errors.New("posestore: no live pose available")

	// ErrData marks a persisted entry that is neither the wrapped nor the
	// legacy shape.
	ErrData = errors.New("posestore: malformed pose entry")
)

// DataError describes one hydrate entry that was skipped.
type DataError struct {
	PoseID string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("posestore: pose %q: %v", e.PoseID, e.Err)
}

// Unwrap exposes both ErrData and the underlying decode error.
func (e *DataError) Unwrap() []error {
	return []error{ErrData, e.Err}
}
