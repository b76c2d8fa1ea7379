package revisions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testOwnerType = "Actor"
	testAuthorID  = int64(3)
)

type stubDirectory struct {
	mu      sync.Mutex
	authors map[int64]bool
	owners  map[string]bool
	err     error
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		authors: map[int64]bool{1: true, 2: true, testAuthorID: true},
		owners:  map[string]bool{},
	}
}

func (d *stubDirectory) addOwner(ownerType string, ownerID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[fmt.Sprintf("%s:%d", ownerType, ownerID)] = true
}

func (d *stubDirectory) AuthorExists(_ context.Context, authorID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authors[authorID], d.err
}

func (d *stubDirectory) OwnerExists(_ context.Context, ownerType string, ownerID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owners[fmt.Sprintf("%s:%d", ownerType, ownerID)], d.err
}

func (d *stubDirectory) directory() Directory {
	return Directory{Authors: d, Owners: d}
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:revisions_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Revision{}))
	return db
}

type testHarness struct {
	db        *gorm.DB
	directory *stubDirectory
	store     *GormStore
	engine    *Engine
	now       time.Time
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db := openTestDatabase(t)
	directory := newStubDirectory()
	directory.addOwner(testOwnerType, 1)
	directory.addOwner(testOwnerType, 2)

	store, err := NewGormStore(GormStoreConfig{Database: db, Directory: directory.directory()})
	require.NoError(t, err)

	harness := &testHarness{db: db, directory: directory, store: store, now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := NewEngine(EngineConfig{
		Store:     store,
		Directory: directory.directory(),
		Clock: func() time.Time {
			harness.now = harness.now.Add(time.Minute)
			return harness.now
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	harness.engine = engine
	return harness
}

func (h *testHarness) edit(t *testing.T, key Key, data string) *Revision {
	t.Helper()
	saved, err := h.engine.Save(context.Background(), &Revision{
		AuthorID:  testAuthorID,
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		FieldName: key.FieldName,
		Data:      StringPtr(data),
	})
	require.NoError(t, err)
	return saved
}

type countingStore struct {
	Store
	mu    sync.Mutex
	calls int
}

func (s *countingStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *countingStore) FindByVersion(ctx context.Context, key Key, version int64) (*Revision, error) {
	s.count()
	return s.Store.FindByVersion(ctx, key, version)
}

func (s *countingStore) MaxVersion(ctx context.Context, key Key) (int64, error) {
	s.count()
	return s.Store.MaxVersion(ctx, key)
}

func (s *countingStore) List(ctx context.Context, key Key, criteria Criteria) ([]Revision, error) {
	s.count()
	return s.Store.List(ctx, key, criteria)
}
