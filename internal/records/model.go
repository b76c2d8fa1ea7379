package records

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/wiki"
)

// Record is a generic owner row. Field values live in AttributesJSON.
type Record struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerType      string    `gorm:"column:owner_type;size:190;not null;index:idx_records_type"`
	AttributesJSON string    `gorm:"column:attributes_json;type:text;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "records"
}

// Entry is an in-memory owner record bound to its tracked fields.
type Entry struct {
	record     Record
	attributes map[string]*string
	service    *Service
	fields     *wiki.Fields
}

var _ wiki.Owner = (*Entry)(nil)

// OwnerType returns the record type.
func (e *Entry) OwnerType() string {
	return e.record.OwnerType
}

// OwnerID is nil until the record is persisted.
func (e *Entry) OwnerID() *int64 {
	if e.record.ID == 0 {
		return nil
	}
	id := e.record.ID
	return &id
}

// ID returns the record id, zero when unsaved.
func (e *Entry) ID() int64 {
	return e.record.ID
}

// NewRecord reports whether the entry was never saved.
func (e *Entry) NewRecord() bool {
	return e.record.ID == 0
}

// CreatedAt returns the record creation time.
func (e *Entry) CreatedAt() time.Time {
	return e.record.CreatedAt
}

// UpdatedAt returns the last record write.
func (e *Entry) UpdatedAt() time.Time {
	return e.record.UpdatedAt
}

// ReadAttribute returns the live value of field.
func (e *Entry) ReadAttribute(field string) *string {
	return e.attributes[field]
}

// WriteAttribute sets the live value of field without persisting.
func (e *Entry) WriteAttribute(field string, value *string) {
	e.attributes[field] = value
}

// UpdateAttribute sets field and persists the record without lifecycle hooks.
func (e *Entry) UpdateAttribute(ctx context.Context, field string, value *string) error {
	e.attributes[field] = value
	return e.service.writeAttributes(ctx, e)
}

// Attributes returns a copy of every live value.
func (e *Entry) Attributes() map[string]*string {
	copied := make(map[string]*string, len(e.attributes))
	for name, value := range e.attributes {
		copied[name] = value
	}
	return copied
}

// AttributeNames returns the attribute names in sorted order.
func (e *Entry) AttributeNames() []string {
	names := make([]string, 0, len(e.attributes))
	for name := range e.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fields returns the tracked field accessors.
func (e *Entry) Fields() *wiki.Fields {
	return e.fields
}

func (e *Entry) encodeAttributes() (string, error) {
	payload, err := json.Marshal(e.attributes)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeAttributes(raw string) (map[string]*string, error) {
	attributes := map[string]*string{}
	if raw == "" {
		return attributes, nil
	}
	if err := json.Unmarshal([]byte(raw), &attributes); err != nil {
		return nil, err
	}
	return attributes, nil
}
