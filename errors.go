package bursar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/bursar/lock"
	"github.com/xraph/bursar/store"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound          = store.ErrNotFound
	ErrAlreadyExists     = errors.New("bursar: already exists")
	ErrInvalidInput      = errors.New("bursar: invalid input")
	ErrInvalidTransition = errors.New("bursar: invalid status transition")

	// Reconciliation errors. ErrConfigurationAbsent, ErrIdentityConflict and
	// ErrSequencingRace are recovered inside the engine; they surface only
	// in logs, plugin hooks and the typed errors below.
	ErrConfigurationAbsent = errors.New("bursar: configuration absent")
	ErrIdentityConflict    = errors.New("bursar: identity conflict")
	ErrSequencingRace      = errors.New("bursar: voucher sequencing race")

	// Store errors
	ErrStoreUnavailable = store.ErrStoreUnavailable
	ErrStoreClosed      = errors.New("bursar: store is closed")
	ErrMigrationFailed  = errors.New("bursar: migration failed")

	// Coordination errors
	ErrLockTimeout = lock.ErrNotAcquired
)

// StoreError wraps a failed Record Store call. It matches both
// ErrStoreUnavailable and the underlying driver error with errors.Is.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

// NewStoreError wraps err as a StoreError. A nil err yields nil, and an
// error that already is a StoreError or ErrNotFound is returned as is.
func NewStoreError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("bursar: store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bursar: store %s %s: %v", e.Op, e.Collection, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// ConflictError describes an identity conflict that was merged.
type ConflictError struct {
	Key     string
	Kept    string
	Dropped []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bursar: identity conflict on %s: kept %s, dropped %s",
		e.Key, e.Kept, strings.Join(e.Dropped, ","))
}

// Unwrap returns ErrIdentityConflict.
func (e *ConflictError) Unwrap() error { return ErrIdentityConflict }

// TransitionError reports a rejected status change.
type TransitionError struct {
	Resource string
	ID       string
	From     string
	To       string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bursar: %s %s cannot move from %s to %s", e.Resource, e.ID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("bursar: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "bursar: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("bursar: %d errors occurred; first: %v", len(e.Errors), e.Errors[0])
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap lets errors.Is and errors.As see every collected error.
func (e MultiError) Unwrap() []error { return e.Errors }

// ErrOrNil returns the MultiError when it holds errors, else nil.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStoreUnavailable returns true if the error came from a failed store call.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrSequencingRace)
}
