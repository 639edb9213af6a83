package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record matches a code.
	ErrNotFound = errors.New("attendance record not found")
	// ErrStorageUnavailable wraps any failure to read, parse or write the store medium.
	ErrStorageUnavailable = errors.New("attendance storage unavailable")
	// ErrDuplicateCode is returned by Append when the code is already taken.
	ErrDuplicateCode = errors.New("attendance code already exists")
	// ErrEncodingFailure wraps failures of the artifact encoder.
	ErrEncodingFailure = errors.New("artifact encoding failed")
	// ErrAlreadyCheckedOut is returned when a checkout is repeated and the policy rejects repeats.
	ErrAlreadyCheckedOut = errors.New("attendance record already checked out")
	// ErrInvalidExtra is returned when caller-supplied fields exceed the allowed bounds.
	ErrInvalidExtra = errors.New("invalid extra fields")
)

// Unavailable wraps err as a storage failure for the named operation.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
