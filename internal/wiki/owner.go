package wiki

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ramsingla/acts-as-wiki/internal/revisions"
)

var (
	// ErrUntrackedField indicates a field that was never registered for the owner type.
	ErrUntrackedField = errors.New("wiki: field is not tracked")
	// ErrUntrackedOwnerType indicates an owner type without tracked fields.
	ErrUntrackedOwnerType = errors.New("wiki: owner type is not tracked")
	// ErrRegistrySealed indicates registration after startup.
	ErrRegistrySealed = errors.New("wiki: registry is sealed")
	// ErrInvalidRegistration indicates a blank owner type or field name.
	ErrInvalidRegistration = errors.New("wiki: invalid registration")
)

// Owner is a record whose fields carry revision history.
type Owner interface {
	OwnerType() string
	// OwnerID is nil until the owner has been persisted.
	OwnerID() *int64
	ReadAttribute(field string) *string
	WriteAttribute(field string, value *string)
	UpdateAttribute(ctx context.Context, field string, value *string) error
}

// AuthorRef is anything that identifies an author.
type AuthorRef interface {
	RevisionAuthorID() int64
}

// AuthorID is a bare author identifier.
type AuthorID int64

// RevisionAuthorID returns the identifier itself.
func (id AuthorID) RevisionAuthorID() int64 {
	return int64(id)
}

// AuthorFinder loads author entities for display.
type AuthorFinder interface {
	FindAuthor(ctx context.Context, authorID int64) (AuthorRef, error)
}

// FieldFailure lists the failed rules of one field.
type FieldFailure struct {
	Field  string                 `json:"field"`
	Errors []revisions.FieldError `json:"errors"`
}

// OwnerValidationError reports every tracked field that blocked an owner save.
type OwnerValidationError struct {
	Failures []FieldFailure
}

func (e *OwnerValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		reasons := make([]string, 0, len(failure.Errors))
		for _, fieldErr := range failure.Errors {
			reasons = append(reasons, fieldErr.String())
		}
		parts = append(parts, fmt.Sprintf("%s revision is not valid (%s)", failure.Field, strings.Join(reasons, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *OwnerValidationError) Unwrap() error {
	return revisions.ErrValidationFailed
}

func keyOf(owner Owner, field string) revisions.Key {
	return revisions.Key{OwnerType: owner.OwnerType(), OwnerID: owner.OwnerID(), FieldName: field}
}

func isBlank(value *string) bool {
	return value == nil || strings.TrimSpace(*value) == ""
}

func sameString(left, right *string) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}

func sameInt64(left, right *int64) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func copyInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
