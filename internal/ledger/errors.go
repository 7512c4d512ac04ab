package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage matches every persistence-layer failure.
	ErrStorage = errors.New("ledger storage failure")
	// ErrEventNotFound reports a write against an event that does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrUnknownSlot reports a slot outside the configured set.
	ErrUnknownSlot = errors.New("unknown time slot")
	// ErrInvalidInput reports a request rejected before touching storage.
	ErrInvalidInput = errors.New("invalid input")
)

// StorageError wraps a driver failure with the ledger operation that hit it.
// The expected duplicate-key race is never reported this way.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
