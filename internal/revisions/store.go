package revisions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queryKey        = "field_name = ? AND owner_type = ? AND owner_id = ?"
	queryOwner      = "owner_type = ? AND owner_id = ?"
	orderNewest     = "version DESC"
	orderOldest     = "version ASC"
	opStoreNew      = "revisions.store.new"
	opStoreInsert   = "revisions.store.insert"
	opStoreFind     = "revisions.store.find_by_version"
	opStoreMax      = "revisions.store.max_version"
	opStoreList     = "revisions.store.list"
	opStoreDelete   = "revisions.store.delete_all"
	opStoreOwners   = "revisions.store.list_owners"
	reasonQuery     = "query_failed"
	reasonInvalidID = "invalid_key"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// AuthorDirectory answers whether an author id references an existing user.
type AuthorDirectory interface {
	AuthorExists(ctx context.Context, authorID int64) (bool, error)
}

// OwnerDirectory answers whether an owner of the given type exists.
type OwnerDirectory interface {
	OwnerExists(ctx context.Context, ownerType string, ownerID int64) (bool, error)
}

// Directory bundles the identity predicates supplied by the host.
// A nil predicate skips the corresponding check.
type Directory struct {
	Authors AuthorDirectory
	Owners  OwnerDirectory
}

func (d Directory) authorExists(ctx context.Context, authorID int64) (bool, error) {
	if d.Authors == nil {
		return true, nil
	}
	return d.Authors.AuthorExists(ctx, authorID)
}

func (d Directory) ownerExists(ctx context.Context, ownerType string, ownerID int64) (bool, error) {
	if d.Owners == nil {
		return true, nil
	}
	return d.Owners.OwnerExists(ctx, ownerType, ownerID)
}

// Store is the append-only collection of revisions.
type Store interface {
	Insert(ctx context.Context, revision *Revision) error
	FindByVersion(ctx context.Context, key Key, version int64) (*Revision, error)
	MaxVersion(ctx context.Context, key Key) (int64, error)
	List(ctx context.Context, key Key, criteria Criteria) ([]Revision, error)
	DeleteAll(ctx context.Context, key Key) (int64, error)
	DeleteAllForOwner(ctx context.Context, ownerType string, ownerID int64) (int64, error)
	ListOwners(ctx context.Context) ([]OwnerRef, error)
}

// GormStoreConfig describes the dependencies of GormStore.
type GormStoreConfig struct {
	Database  *gorm.DB
	Directory Directory
	Logger    *zap.Logger
}

// GormStore persists revisions through gorm.
type GormStore struct {
	db        *gorm.DB
	directory Directory
	logger    *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore constructs a GormStore.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, NewServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GormStore{db: cfg.Database, directory: cfg.Directory, logger: logger}, nil
}

// Insert writes a new revision, rejecting duplicates and dangling references.
func (s *GormStore) Insert(ctx context.Context, revision *Revision) error {
	if revision == nil {
		return fmt.Errorf("%w: revision is required", ErrInvalidKey)
	}
	if strings.TrimSpace(revision.FieldName) == "" || strings.TrimSpace(revision.OwnerType) == "" {
		return fmt.Errorf("%w: owner type and field name are required", ErrInvalidKey)
	}

	authorFound, err := s.directory.authorExists(ctx, revision.AuthorID)
	if err != nil {
		s.logError(opStoreInsert, "author_lookup_failed", err, zap.Int64("author_id", revision.AuthorID))
		return NewServiceError(opStoreInsert, "author_lookup_failed", err)
	}
	if !authorFound {
		return fmt.Errorf("%w: %d", ErrAuthorNotFound, revision.AuthorID)
	}
	if revision.OwnerID != nil {
		ownerFound, err := s.directory.ownerExists(ctx, revision.OwnerType, *revision.OwnerID)
		if err != nil {
			s.logError(opStoreInsert, "owner_lookup_failed", err, zap.String("key", revision.Key().String()))
			return NewServiceError(opStoreInsert, "owner_lookup_failed", err)
		}
		if !ownerFound {
			return fmt.Errorf("%w: %s %d", ErrOwnerNotFound, revision.OwnerType, *revision.OwnerID)
		}
	}

	if err := s.db.WithContext(ctx).Create(revision).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s version %d", ErrDuplicateVersion, revision.Key(), revision.Version)
		}
		s.logError(opStoreInsert, "insert_failed", err, zap.String("key", revision.Key().String()))
		return NewServiceError(opStoreInsert, "insert_failed", err)
	}
	return nil
}

// FindByVersion returns nil when the version does not exist.
func (s *GormStore) FindByVersion(ctx context.Context, key Key, version int64) (*Revision, error) {
	if err := key.Validate(); err != nil {
		s.logError(opStoreFind, reasonInvalidID, err)
		return nil, err
	}
	var revision Revision
	err := s.scoped(ctx, key).Where("version = ?", version).Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opStoreFind, reasonQuery, err, zap.String("key", key.String()), zap.Int64("version", version))
		return nil, NewServiceError(opStoreFind, reasonQuery, err)
	}
	return &revision, nil
}

// MaxVersion returns zero for an empty history.
func (s *GormStore) MaxVersion(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		s.logError(opStoreMax, reasonInvalidID, err)
		return 0, err
	}
	var maxVersion int64
	if err := s.scoped(ctx, key).Select("COALESCE(MAX(version), 0)").Row().Scan(&maxVersion); err != nil {
		s.logError(opStoreMax, reasonQuery, err, zap.String("key", key.String()))
		return 0, NewServiceError(opStoreMax, reasonQuery, err)
	}
	return maxVersion, nil
}

// List returns the history ordered by the criteria, newest first by default.
func (s *GormStore) List(ctx context.Context, key Key, criteria Criteria) ([]Revision, error) {
	if err := key.Validate(); err != nil {
		s.logError(opStoreList, reasonInvalidID, err)
		return nil, err
	}
	query := s.scoped(ctx, key)
	if criteria.AfterVersion > 0 {
		query = query.Where("version > ?", criteria.AfterVersion)
	}
	if criteria.BeforeVersion > 0 {
		query = query.Where("version < ?", criteria.BeforeVersion)
	}
	if criteria.AuthorID > 0 {
		query = query.Where("author_id = ?", criteria.AuthorID)
	}
	if criteria.Reverted != nil {
		query = query.Where("reverted = ?", *criteria.Reverted)
	}
	if criteria.Order == Ascending {
		query = query.Order(orderOldest)
	} else {
		query = query.Order(orderNewest)
	}
	if criteria.Limit > 0 {
		query = query.Limit(criteria.Limit)
	}

	var history []Revision
	if err := query.Find(&history).Error; err != nil {
		s.logError(opStoreList, reasonQuery, err, zap.String("key", key.String()))
		return nil, NewServiceError(opStoreList, reasonQuery, err)
	}
	return history, nil
}

// DeleteAll removes one field history.
func (s *GormStore) DeleteAll(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		s.logError(opStoreDelete, reasonInvalidID, err)
		return 0, err
	}
	result := s.db.WithContext(ctx).Where(queryKey, key.FieldName, key.OwnerType, *key.OwnerID).Delete(&Revision{})
	if result.Error != nil {
		s.logError(opStoreDelete, reasonQuery, result.Error, zap.String("key", key.String()))
		return 0, NewServiceError(opStoreDelete, reasonQuery, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteAllForOwner removes every field history of an owner.
func (s *GormStore) DeleteAllForOwner(ctx context.Context, ownerType string, ownerID int64) (int64, error) {
	if strings.TrimSpace(ownerType) == "" {
		err := fmt.Errorf("%w: owner type is required", ErrInvalidKey)
		s.logError(opStoreDelete, reasonInvalidID, err)
		return 0, err
	}
	result := s.db.WithContext(ctx).Where(queryOwner, ownerType, ownerID).Delete(&Revision{})
	if result.Error != nil {
		s.logError(opStoreDelete, reasonQuery, result.Error,
			zap.String("owner_type", ownerType),
			zap.Int64("owner_id", ownerID))
		return 0, NewServiceError(opStoreDelete, reasonQuery, result.Error)
	}
	return result.RowsAffected, nil
}

// ListOwners returns every owner that has at least one revision.
func (s *GormStore) ListOwners(ctx context.Context) ([]OwnerRef, error) {
	var owners []OwnerRef
	err := s.db.WithContext(ctx).
		Model(&Revision{}).
		Distinct("owner_type", "owner_id").
		Where("owner_id IS NOT NULL").
		Order("owner_type, owner_id").
		Scan(&owners).Error
	if err != nil {
		s.logError(opStoreOwners, reasonQuery, err)
		return nil, NewServiceError(opStoreOwners, reasonQuery, err)
	}
	return owners, nil
}

func (s *GormStore) scoped(ctx context.Context, key Key) *gorm.DB {
	return s.db.WithContext(ctx).Model(&Revision{}).Where(queryKey, key.FieldName, key.OwnerType, *key.OwnerID)
}

func (s *GormStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("revision store error", attrs...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key") ||
		strings.Contains(message, "sqlstate 23505")
}
