package coursework

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrOutOfRange   = errors.New("grade out of range")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	// ErrNotificationFailed means the write committed but the student's notification could
	// not be persisted.
	ErrNotificationFailed = errors.New("notification failed")
)

// OpError carries the failing operation and one of the sentinel kinds above.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func opErr(op string, kind error, msg string) error {
	return OpError{Op: op, Kind: kind, Msg: msg}
}

// ItemError locates a bulk validation failure. It unwraps to the item's error.
type ItemError struct {
	Index        int
	SubmissionID string
	Err          error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.SubmissionID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
