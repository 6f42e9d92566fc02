package version

import (
	"errors"
	"fmt"
)

// Returned when Advance attempts to move the tracker backwards.
var ErrRegression = errors.New("version: resume version regression")

type Error struct {
	Err  error
	Have int64
	Want int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: have %d, want >= %d", e.Err.Error(), e.Have, e.Want)
}

func (e *Error) Unwrap() error { return e.Err }
