package revisions

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey indicates a history query without a fully specified scope.
	ErrInvalidKey = errors.New("revisions: invalid key")
	// ErrValidationFailed indicates a draft failed field presence or reference checks.
	ErrValidationFailed = errors.New("revisions: validation failed")
	// ErrConstraintViolation indicates storage rejected an insert.
	ErrConstraintViolation = errors.New("revisions: constraint violation")
	// ErrDuplicateVersion indicates a concurrent writer already claimed the version.
	ErrDuplicateVersion = fmt.Errorf("%w: duplicate version", ErrConstraintViolation)
	// ErrAuthorNotFound indicates the author reference does not resolve.
	ErrAuthorNotFound = fmt.Errorf("%w: author does not exist", ErrConstraintViolation)
	// ErrOwnerNotFound indicates the owner reference does not resolve.
	ErrOwnerNotFound = fmt.Errorf("%w: owner does not exist", ErrConstraintViolation)
	// ErrSourceVersionNotFound indicates a revert targeted a version that does not exist.
	ErrSourceVersionNotFound = errors.New("revisions: source version not found")
	// ErrVersionNotFound indicates a requested version does not exist.
	ErrVersionNotFound = errors.New("revisions: version not found")
)

// Validation reasons attached to FieldError.
const (
	ReasonRequired     = "required"
	ReasonDoesNotExist = "does_not_exist"
)

// FieldError describes one failed rule on a draft.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return e.Field + " " + e.Reason
}

// ValidationError collects every failed rule on a draft.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.String())
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// VersionNotFoundError names the version that could not be resolved.
type VersionNotFoundError struct {
	Key     Key
	Version int64
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s version %d", ErrVersionNotFound, e.Key, e.Version)
}

func (e *VersionNotFoundError) Unwrap() error {
	return ErrVersionNotFound
}

// ServiceError carries a stable code for engine failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation and reason of the failure.
func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds an error coded "<operation>.<reason>".
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// FieldErrors extracts per-field reasons from err, if any.
func FieldErrors(err error) []FieldError {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}
