package match

import (
	"errors"
	"fmt"
)

// UserError ends a run with a message meant for the operator rather than a
// stack of wrapped causes. The details have already been reported.
type UserError struct {
	Message string
	// Missing holds the identifiers that were not found on the portal, if any.
	Missing []string
}

func (e *UserError) Error() string {
	return e.Message
}

func userErrorf(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err is, or wraps, a *UserError
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
