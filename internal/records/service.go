package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingTracker  = errors.New("wiki tracker is required")
	// ErrRecordNotFound indicates the record does not exist.
	ErrRecordNotFound = errors.New("records: record not found")
	noOpLogger        = zap.NewNop()
)

const (
	opServiceNew     = "records.service.new"
	opNew            = "records.new"
	opFind           = "records.find"
	opSave           = "records.save"
	opDestroy        = "records.destroy"
	opList           = "records.list"
	opWriteAttribute = "records.update_attribute"
	queryTypedRecord = "owner_type = ? AND id = ?"
)

// ServiceConfig describes the dependencies of Service.
type ServiceConfig struct {
	Database *gorm.DB
	Tracker  *wiki.Tracker
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists owner records and drives the revision lifecycle around each write.
type Service struct {
	db      *gorm.DB
	tracker *wiki.Tracker
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, revisions.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Tracker == nil {
		return nil, revisions.NewServiceError(opServiceNew, "missing_tracker", errMissingTracker)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, tracker: cfg.Tracker, clock: clock, logger: logger}, nil
}

// Tracker returns the lifecycle the service drives.
func (s *Service) Tracker() *wiki.Tracker {
	return s.tracker
}

// New returns an unsaved entry of ownerType.
func (s *Service) New(ownerType OwnerType) (*Entry, error) {
	entry := &Entry{
		record:     Record{OwnerType: ownerType.String()},
		attributes: map[string]*string{},
		service:    s,
	}
	if err := s.bind(opNew, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Find loads a persisted entry.
func (s *Service) Find(ctx context.Context, ownerType OwnerType, id int64) (*Entry, error) {
	var record Record
	err := s.db.WithContext(ctx).Where(queryTypedRecord, ownerType.String(), id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %d", ErrRecordNotFound, ownerType, id)
	}
	if err != nil {
		s.logError(opFind, "query_failed", err, zap.String("owner_type", ownerType.String()), zap.Int64("id", id))
		return nil, revisions.NewServiceError(opFind, "query_failed", err)
	}
	attributes, err := decodeAttributes(record.AttributesJSON)
	if err != nil {
		s.logError(opFind, "attributes_decode_failed", err, zap.Int64("id", id))
		return nil, revisions.NewServiceError(opFind, "attributes_decode_failed", err)
	}
	entry := &Entry{record: record, attributes: attributes, service: s}
	if err := s.bind(opFind, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns the records of ownerType, oldest first.
func (s *Service) List(ctx context.Context, ownerType OwnerType) ([]Record, error) {
	var found []Record
	if err := s.db.WithContext(ctx).
		Where("owner_type = ?", ownerType.String()).
		Order("id ASC").
		Find(&found).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_type", ownerType.String()))
		return nil, revisions.NewServiceError(opList, "query_failed", err)
	}
	return found, nil
}

// Save validates the tracked fields, writes the record and appends a revision
// for every changed field.
func (s *Service) Save(ctx context.Context, entry *Entry) ([]wiki.SavedField, error) {
	if err := s.tracker.ValidateBeforeCommit(ctx, entry.fields); err != nil {
		return nil, err
	}

	payload, err := entry.encodeAttributes()
	if err != nil {
		s.logError(opSave, "attributes_encode_failed", err)
		return nil, revisions.NewServiceError(opSave, "attributes_encode_failed", err)
	}
	now := s.clock().UTC()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.NewRecord() {
			record := Record{OwnerType: entry.record.OwnerType, AttributesJSON: payload, CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			entry.record = record
			return nil
		}
		var existing Record
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryTypedRecord, entry.record.OwnerType, entry.record.ID).
			Take(&existing).Error; err != nil {
			return err
		}
		existing.AttributesJSON = payload
		existing.UpdatedAt = now
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		entry.record = existing
		return nil
	})
	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %d", ErrRecordNotFound, entry.OwnerType(), entry.ID())
	}
	if txErr != nil {
		s.logError(opSave, "record_write_failed", txErr, zap.String("owner_type", entry.OwnerType()))
		return nil, revisions.NewServiceError(opSave, "record_write_failed", txErr)
	}

	saved, err := s.tracker.PersistAfterCommit(ctx, entry.fields)
	if err != nil {
		s.logError(opSave, "revision_persist_failed", err,
			zap.String("owner_type", entry.OwnerType()),
			zap.Int64("id", entry.ID()))
		return saved, err
	}
	return saved, nil
}

// Destroy deletes the record and its revision history.
func (s *Service) Destroy(ctx context.Context, entry *Entry) error {
	if entry.NewRecord() {
		return nil
	}
	result := s.db.WithContext(ctx).Where(queryTypedRecord, entry.OwnerType(), entry.ID()).Delete(&Record{})
	if result.Error != nil {
		s.logError(opDestroy, "record_delete_failed", result.Error, zap.Int64("id", entry.ID()))
		return revisions.NewServiceError(opDestroy, "record_delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %d", ErrRecordNotFound, entry.OwnerType(), entry.ID())
	}
	return s.tracker.CascadeAfterDestroy(ctx, entry)
}

func (s *Service) writeAttributes(ctx context.Context, entry *Entry) error {
	if entry.NewRecord() {
		return nil
	}
	payload, err := entry.encodeAttributes()
	if err != nil {
		return revisions.NewServiceError(opWriteAttribute, "attributes_encode_failed", err)
	}
	now := s.clock().UTC()
	err = s.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryTypedRecord, entry.OwnerType(), entry.ID()).
		Updates(map[string]interface{}{"attributes_json": payload, "updated_at": now}).Error
	if err != nil {
		s.logError(opWriteAttribute, "record_write_failed", err, zap.Int64("id", entry.ID()))
		return revisions.NewServiceError(opWriteAttribute, "record_write_failed", err)
	}
	entry.record.AttributesJSON = payload
	entry.record.UpdatedAt = now
	return nil
}

func (s *Service) bind(operation string, entry *Entry) error {
	fields, err := s.tracker.Bind(entry)
	if err != nil {
		s.logError(operation, "bind_failed", err, zap.String("owner_type", entry.OwnerType()))
		return err
	}
	entry.fields = fields
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("records service error", attrs...)
}

// Directory answers owner existence for revision validation.
type Directory struct {
	db *gorm.DB
}

var _ revisions.OwnerDirectory = (*Directory)(nil)

// NewDirectory constructs a Directory.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// OwnerExists reports whether a record of ownerType with ownerID exists.
func (d *Directory) OwnerExists(ctx context.Context, ownerType string, ownerID int64) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&Record{}).Where(queryTypedRecord, ownerType, ownerID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
