package query

import "errors"

// ErrAborted is returned when the subscriber closes before the range read
// completes.
var ErrAborted = errors.New("query: subscriber closed before the read completed")
