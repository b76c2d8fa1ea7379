package revisions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGormStoreRequiresDatabase(t *testing.T) {
	_, err := NewGormStore(GormStoreConfig{})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "revisions.store.new.missing_database", serviceErr.Code())
}

func TestInsertRejectsDanglingReferences(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()

	err := harness.store.Insert(ctx, &Revision{
		AuthorID:  404,
		OwnerType: testOwnerType,
		OwnerID:   Int64Ptr(1),
		FieldName: "biography",
		Data:      StringPtr("x"),
		Version:   1,
		CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrAuthorNotFound)
	require.ErrorIs(t, err, ErrConstraintViolation)

	err = harness.store.Insert(ctx, &Revision{
		AuthorID:  testAuthorID,
		OwnerType: testOwnerType,
		OwnerID:   Int64Ptr(404),
		FieldName: "biography",
		Data:      StringPtr("x"),
		Version:   1,
		CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestInsertRejectsDuplicateVersion(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	revision := func() *Revision {
		return &Revision{
			AuthorID:  testAuthorID,
			OwnerType: testOwnerType,
			OwnerID:   Int64Ptr(1),
			FieldName: "biography",
			Data:      StringPtr("x"),
			Version:   1,
			CreatedAt: time.Now(),
		}
	}

	require.NoError(t, harness.store.Insert(ctx, revision()))
	err := harness.store.Insert(ctx, revision())
	require.ErrorIs(t, err, ErrDuplicateVersion)
}

func TestInsertAllowsUnsavedOwner(t *testing.T) {
	harness := newTestHarness(t)

	revision := &Revision{
		AuthorID:  testAuthorID,
		OwnerType: testOwnerType,
		FieldName: "biography",
		Data:      StringPtr("x"),
		Version:   1,
		CreatedAt: time.Now(),
	}
	require.NoError(t, harness.store.Insert(context.Background(), revision))
	assert.True(t, revision.Persisted())
}

func TestMaxVersionIsZeroForEmptyHistory(t *testing.T) {
	harness := newTestHarness(t)

	maxVersion, err := harness.store.MaxVersion(context.Background(), NewKey(testOwnerType, 1, "biography"))
	require.NoError(t, err)
	assert.Zero(t, maxVersion)
}

func TestDeleteCascades(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	biography := NewKey(testOwnerType, 1, "biography")
	filmography := NewKey(testOwnerType, 1, "filmography")
	other := NewKey(testOwnerType, 2, "biography")
	harness.edit(t, biography, "a")
	harness.edit(t, biography, "b")
	harness.edit(t, filmography, "c")
	harness.edit(t, other, "d")

	owners, err := harness.store.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []OwnerRef{{OwnerType: testOwnerType, OwnerID: 1}, {OwnerType: testOwnerType, OwnerID: 2}}, owners)

	deleted, err := harness.store.DeleteAll(ctx, filmography)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = harness.store.DeleteAllForOwner(ctx, testOwnerType, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := harness.store.List(ctx, other, Criteria{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	_, err = harness.store.DeleteAllForOwner(ctx, "", 1)
	require.ErrorIs(t, err, ErrInvalidKey)
}
