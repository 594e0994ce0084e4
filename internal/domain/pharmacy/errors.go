package pharmacy

import (
	"errors"
	"fmt"
)

// Store errors. Implementations wrap these so the repository can tell a
// recoverable race from a rejected order.
var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("unique constraint violated")
	ErrConstraint = errors.New("constraint violated")
)

// PersistError reports an order the store refused. The transaction has
// been rolled back and nothing from the submission was written.
type PersistError struct {
	Reason string
	Cause  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

func (e *PersistError) Unwrap() error {
	return e.Cause
}

func rejected(reason string, cause error) *PersistError {
	return &PersistError{Reason: reason, Cause: cause}
}
