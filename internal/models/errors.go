package models

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that may succeed on retry, such as a network
// problem or a 5xx from the downstream memory service.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure a retry cannot fix, such as a malformed
// downstream request or an unregistered module.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is classified as permanent. Unclassified
// errors are treated as transient so that wrapping bugs err on the side of
// retrying rather than dropping work.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
