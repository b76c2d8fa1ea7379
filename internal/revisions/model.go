package revisions

import (
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// Revision is one immutable snapshot of a tracked field.
type Revision struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	AuthorID  int64     `gorm:"column:author_id;not null;index:idx_revisions_author"`
	OwnerType string    `gorm:"column:owner_type;size:190;not null;uniqueIndex:idx_revisions_unique,priority:2;index:idx_revisions_owner,priority:1"`
	OwnerID   *int64    `gorm:"column:owner_id;uniqueIndex:idx_revisions_unique,priority:3;index:idx_revisions_owner,priority:2"`
	FieldName string    `gorm:"column:field_name;size:190;not null;uniqueIndex:idx_revisions_unique,priority:1"`
	Reverted  bool      `gorm:"column:reverted;not null"`
	Data      *string   `gorm:"column:data;type:text"`
	Summary   *string   `gorm:"column:summary;size:512"`
	Sources   *string   `gorm:"column:sources;type:text"`
	Version   int64     `gorm:"column:version;not null;uniqueIndex:idx_revisions_unique,priority:4"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "revisions"
}

// Key returns the field history the revision belongs to.
func (r Revision) Key() Key {
	return Key{OwnerType: r.OwnerType, OwnerID: r.OwnerID, FieldName: r.FieldName}
}

// Persisted reports whether the revision has been written to storage.
func (r Revision) Persisted() bool {
	return r.ID != 0
}

// Key identifies one field history.
type Key struct {
	OwnerType string
	OwnerID   *int64
	FieldName string
}

// NewKey builds a Key for a persisted owner.
func NewKey(ownerType string, ownerID int64, fieldName string) Key {
	return Key{OwnerType: ownerType, OwnerID: &ownerID, FieldName: fieldName}
}

// Validate reports the first missing scoping attribute.
func (k Key) Validate() error {
	if strings.TrimSpace(k.FieldName) == "" {
		return fmt.Errorf("%w: field name is required", ErrInvalidKey)
	}
	if strings.TrimSpace(k.OwnerType) == "" {
		return fmt.Errorf("%w: owner type is required", ErrInvalidKey)
	}
	if k.OwnerID == nil {
		return fmt.Errorf("%w: owner id is required", ErrInvalidKey)
	}
	if len(k.FieldName) > maxIdentifierLength || len(k.OwnerType) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxIdentifierLength)
	}
	return nil
}

// String renders the key for logs and cache keys.
func (k Key) String() string {
	owner := "nil"
	if k.OwnerID != nil {
		owner = fmt.Sprintf("%d", *k.OwnerID)
	}
	return fmt.Sprintf("%s:%s:%s", k.OwnerType, owner, k.FieldName)
}

// OwnerRef identifies an owner record that has revisions.
type OwnerRef struct {
	OwnerType string `gorm:"column:owner_type"`
	OwnerID   int64  `gorm:"column:owner_id"`
}

// Ref selects a version inside a field history.
type Ref struct {
	version int64
	current bool
}

// Current selects the latest version.
var Current = Ref{current: true}

// At selects an exact version number.
func At(version int64) Ref {
	return Ref{version: version}
}

// IsCurrent reports whether the ref resolves to the latest version.
func (r Ref) IsCurrent() bool {
	return r.current
}

// Version returns the explicit version number, zero for Current.
func (r Ref) Version() int64 {
	return r.version
}

func (r Ref) String() string {
	if r.current {
		return "current"
	}
	return fmt.Sprintf("%d", r.version)
}

// Order controls the direction of history listings.
type Order int

const (
	// Descending lists newest first.
	Descending Order = iota
	// Ascending lists oldest first.
	Ascending
)

// Criteria refines a history listing.
type Criteria struct {
	Order         Order
	AfterVersion  int64
	BeforeVersion int64
	AuthorID      int64
	Reverted      *bool
	Limit         int
}

// StringPtr returns a pointer to the provided value.
func StringPtr(value string) *string {
	return &value
}

// Int64Ptr returns a pointer to the provided value.
func Int64Ptr(value int64) *int64 {
	return &value
}

// BoolPtr returns a pointer to the provided value.
func BoolPtr(value bool) *bool {
	return &value
}
