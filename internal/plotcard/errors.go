package plotcard

import "errors"

// ErrNotFound is returned when an operation names a card id that is not in
// the index.
var ErrNotFound = errors.New("plotcard: not found")
