package revisions

import (
	"context"

	"go.uber.org/zap"
)

// Cache keeps persisted revisions by key and version. Revisions never change
// after insert, so entries only go away when their owner is purged.
type Cache interface {
	Get(ctx context.Context, key Key, version int64) (*Revision, error)
	Put(ctx context.Context, revision Revision) error
	PurgeOwner(ctx context.Context, ownerType string, ownerID int64) error
}

// CachingStore reads exact versions through a Cache.
type CachingStore struct {
	Store
	cache  Cache
	logger *zap.Logger
}

// NewCachingStore wraps store with cache. Cache failures are logged and fall
// through to the underlying store.
func NewCachingStore(store Store, cache Cache, logger *zap.Logger) *CachingStore {
	if logger == nil {
		logger = noOpLogger
	}
	return &CachingStore{Store: store, cache: cache, logger: logger}
}

func (s *CachingStore) Insert(ctx context.Context, revision *Revision) error {
	if err := s.Store.Insert(ctx, revision); err != nil {
		return err
	}
	if err := s.cache.Put(ctx, *revision); err != nil {
		s.logger.Warn("revision cache put failed", zap.String("key", revision.Key().String()), zap.Error(err))
	}
	return nil
}

func (s *CachingStore) FindByVersion(ctx context.Context, key Key, version int64) (*Revision, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	cached, err := s.cache.Get(ctx, key, version)
	if err != nil {
		s.logger.Warn("revision cache get failed", zap.String("key", key.String()), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}
	revision, err := s.Store.FindByVersion(ctx, key, version)
	if err != nil || revision == nil {
		return revision, err
	}
	if err := s.cache.Put(ctx, *revision); err != nil {
		s.logger.Warn("revision cache put failed", zap.String("key", key.String()), zap.Error(err))
	}
	return revision, nil
}

func (s *CachingStore) DeleteAll(ctx context.Context, key Key) (int64, error) {
	deleted, err := s.Store.DeleteAll(ctx, key)
	if err != nil {
		return 0, err
	}
	s.purge(ctx, key.OwnerType, *key.OwnerID)
	return deleted, nil
}

func (s *CachingStore) DeleteAllForOwner(ctx context.Context, ownerType string, ownerID int64) (int64, error) {
	deleted, err := s.Store.DeleteAllForOwner(ctx, ownerType, ownerID)
	if err != nil {
		return 0, err
	}
	s.purge(ctx, ownerType, ownerID)
	return deleted, nil
}

func (s *CachingStore) purge(ctx context.Context, ownerType string, ownerID int64) {
	if err := s.cache.PurgeOwner(ctx, ownerType, ownerID); err != nil {
		s.logger.Warn("revision cache purge failed",
			zap.String("owner_type", ownerType),
			zap.Int64("owner_id", ownerID),
			zap.Error(err))
	}
}
