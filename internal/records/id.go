package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidOwnerType indicates that an owner type is empty or exceeds storage bounds.
	ErrInvalidOwnerType = errors.New("records: invalid owner type")
	// ErrInvalidRecordID indicates that a record identifier is not a positive integer.
	ErrInvalidRecordID = errors.New("records: invalid record id")
)

// OwnerType represents a validated owner type name.
type OwnerType string

// NewOwnerType validates raw input and returns an OwnerType.
func NewOwnerType(rawInput string) (OwnerType, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerType)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerType, maxIdentifierLength)
	}
	return OwnerType(trimmed), nil
}

// String returns the underlying owner type name.
func (t OwnerType) String() string {
	return string(t)
}

// ParseRecordID validates raw input and returns a record identifier.
func ParseRecordID(rawInput string) (int64, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecordID, trimmed)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRecordID, value)
	}
	return value, nil
}
