package storytree

import (
	"errors"
	"fmt"
)

var (
	ErrInvariantViolated = errors.New("storytree: invariant violated")
	ErrNotFound          = errors.New("storytree: node not found")
)

// NotFound wraps ErrNotFound with the offending id.
func NotFound(id string) error {
	return fmt.Errorf("%w: id=%s", ErrNotFound, id)
}
