package revisions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSaveNumbersVersionsContiguouslyPerField(t *testing.T) {
	harness := newTestHarness(t)
	biography := NewKey(testOwnerType, 1, "biography")
	filmography := NewKey(testOwnerType, 1, "filmography")
	otherOwner := NewKey(testOwnerType, 2, "biography")

	var versions []int64
	for index := 0; index < 4; index++ {
		versions = append(versions, harness.edit(t, biography, "bio").Version)
		harness.edit(t, filmography, "films")
		harness.edit(t, otherOwner, "other")
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, versions)
	current, err := harness.engine.CurrentVersion(context.Background(), filmography)
	require.NoError(t, err)
	assert.Equal(t, int64(4), current)
}

func TestSaveOverwritesCallerSuppliedVersion(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	harness.edit(t, key, "first")

	saved, err := harness.engine.Save(context.Background(), &Revision{
		AuthorID:  testAuthorID,
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		FieldName: key.FieldName,
		Data:      StringPtr("second"),
		Version:   42,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestVersionEntryCurrentMatchesLatest(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	ctx := context.Background()

	empty, err := harness.engine.VersionEntry(ctx, key, Current)
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, text := range []string{"a", "b", "c"} {
		harness.edit(t, key, text)
	}

	current, err := harness.engine.VersionEntry(ctx, key, Current)
	require.NoError(t, err)
	exact, err := harness.engine.VersionEntry(ctx, key, At(3))
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, exact.ID, current.ID)
	assert.Equal(t, "c", *current.Data)

	missing, err := harness.engine.VersionEntry(ctx, key, At(9))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestValidateReportsMissingFields(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()

	err := harness.engine.Validate(ctx, &Revision{OwnerType: testOwnerType, OwnerID: Int64Ptr(1), FieldName: "biography", AuthorID: testAuthorID})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, []FieldError{{Field: "data", Reason: ReasonRequired}}, FieldErrors(err))

	err = harness.engine.Validate(ctx, &Revision{OwnerType: testOwnerType, OwnerID: Int64Ptr(1), FieldName: "biography", AuthorID: testAuthorID, Reverted: true})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, []FieldError{{Field: "version", Reason: ReasonRequired}}, FieldErrors(err))

	err = harness.engine.Validate(ctx, &Revision{Data: StringPtr("x")})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.ElementsMatch(t, []FieldError{
		{Field: "author_id", Reason: ReasonRequired},
		{Field: "owner_type", Reason: ReasonRequired},
		{Field: "field_name", Reason: ReasonRequired},
	}, FieldErrors(err))
}

func TestValidateChecksReferences(t *testing.T) {
	harness := newTestHarness(t)

	err := harness.engine.Validate(context.Background(), &Revision{
		AuthorID:  99,
		OwnerType: testOwnerType,
		OwnerID:   Int64Ptr(77),
		FieldName: "biography",
		Data:      StringPtr("text"),
	})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.ElementsMatch(t, []FieldError{
		{Field: "author_id", Reason: ReasonDoesNotExist},
		{Field: "owner_id", Reason: ReasonDoesNotExist},
	}, FieldErrors(err))

	err = harness.engine.Validate(context.Background(), &Revision{
		AuthorID:  testAuthorID,
		OwnerType: testOwnerType,
		FieldName: "biography",
		Data:      StringPtr("unsaved owner"),
	})
	assert.NoError(t, err)
}

func TestValidateSurfacesDirectoryFailure(t *testing.T) {
	harness := newTestHarness(t)
	harness.directory.err = errors.New("directory offline")

	err := harness.engine.Validate(context.Background(), &Revision{
		AuthorID:  testAuthorID,
		OwnerType: testOwnerType,
		OwnerID:   Int64Ptr(1),
		FieldName: "biography",
		Data:      StringPtr("text"),
	})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "revisions.validate.author_lookup_failed", serviceErr.Code())
	assert.NotErrorIs(t, err, ErrValidationFailed)
}

func TestHistoryWithoutScopeFailsBeforeStorage(t *testing.T) {
	harness := newTestHarness(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	spy := &countingStore{Store: harness.store}
	engine, err := NewEngine(EngineConfig{Store: spy, Logger: zap.New(core)})
	require.NoError(t, err)
	ctx := context.Background()

	keys := []Key{
		{OwnerType: testOwnerType, OwnerID: Int64Ptr(1)},
		{OwnerID: Int64Ptr(1), FieldName: "biography"},
		{OwnerType: testOwnerType, FieldName: "biography"},
	}
	for _, key := range keys {
		_, err := engine.History(ctx, key, Criteria{})
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = engine.Diff(ctx, key, 1, 2)
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = engine.VersionEntry(ctx, key, Current)
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = engine.CurrentVersion(ctx, key)
		require.ErrorIs(t, err, ErrInvalidKey)
	}

	assert.Zero(t, spy.calls)
	assert.Equal(t, len(keys)*4, logs.FilterMessage("revision engine error").Len())
}

func TestSaveWithoutOwnerIDFailsWithInvalidKey(t *testing.T) {
	harness := newTestHarness(t)

	_, err := harness.engine.Save(context.Background(), &Revision{
		AuthorID:  testAuthorID,
		OwnerType: testOwnerType,
		FieldName: "biography",
		Data:      StringPtr("draft"),
	})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestRevertToCopiesSourceData(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	ctx := context.Background()
	harness.edit(t, key, "line one\nline two")
	harness.edit(t, key, "line one\nline three")
	harness.edit(t, key, "rewritten")

	before, err := harness.engine.VersionEntry(ctx, key, At(1))
	require.NoError(t, err)

	reverted, err := harness.engine.RevertTo(ctx, 1, Revision{
		AuthorID:  testAuthorID,
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		FieldName: key.FieldName,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), reverted.Version)
	assert.True(t, reverted.Reverted)
	assert.Equal(t, "Reverted to version 1", *reverted.Summary)

	current, err := harness.engine.VersionEntry(ctx, key, Current)
	require.NoError(t, err)
	assert.Equal(t, *before.Data, *current.Data)
}

func TestRevertToKeepsExplicitSummary(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	harness.edit(t, key, "one")
	harness.edit(t, key, "two")

	reverted, err := harness.engine.RevertTo(context.Background(), 1, Revision{
		AuthorID:  testAuthorID,
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		FieldName: key.FieldName,
		Summary:   StringPtr("vandalism"),
		Sources:   StringPtr("talk page"),
	})
	require.NoError(t, err)
	assert.Equal(t, "vandalism", *reverted.Summary)
	assert.Equal(t, "talk page", *reverted.Sources)
	assert.Equal(t, "one", *reverted.Data)
}

func TestRevertToMissingSourceCreatesNothing(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	ctx := context.Background()
	harness.edit(t, key, "one")

	reverted, err := harness.engine.RevertTo(ctx, 7, Revision{
		AuthorID:  testAuthorID,
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		FieldName: key.FieldName,
	})
	require.ErrorIs(t, err, ErrSourceVersionNotFound)
	assert.Nil(t, reverted)

	current, err := harness.engine.CurrentVersion(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestDiffScenarioWithRevertedVersion(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	ctx := context.Background()

	harness.edit(t, key, "Born in 1950.")
	harness.edit(t, key, "Born in 1950.\nStarred in films.")
	harness.edit(t, key, "Born in 1951.\nStarred in films.")
	_, err := harness.engine.RevertTo(ctx, 2, Revision{AuthorID: 1, OwnerType: key.OwnerType, OwnerID: key.OwnerID, FieldName: key.FieldName})
	require.NoError(t, err)
	harness.edit(t, key, "Born in 1950.\nStarred in films.\nRetired in 2010.")

	fourth, err := harness.engine.VersionEntry(ctx, key, At(4))
	require.NoError(t, err)
	second, err := harness.engine.VersionEntry(ctx, key, At(2))
	require.NoError(t, err)
	assert.Equal(t, *second.Data, *fourth.Data)

	changes, err := harness.engine.Diff(ctx, key, 4, 2)
	require.NoError(t, err)
	assert.False(t, HasChanges(changes))

	changes, err = harness.engine.Diff(ctx, key, 5, 4)
	require.NoError(t, err)
	assert.True(t, HasChanges(changes))

	rolledBack, err := harness.engine.RevertTo(ctx, 4, Revision{AuthorID: testAuthorID, OwnerType: key.OwnerType, OwnerID: key.OwnerID, FieldName: key.FieldName})
	require.NoError(t, err)
	assert.Equal(t, int64(6), rolledBack.Version)
	assert.Equal(t, *fourth.Data, *rolledBack.Data)
	assert.Equal(t, "Reverted to version 4", *rolledBack.Summary)
}

func TestDiffSameVersionIsUnchanged(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	harness.edit(t, key, "alpha\r\nbeta\rgamma\n")

	changes, err := harness.engine.Diff(context.Background(), key, 1, 1)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.False(t, HasChanges(changes))
}

func TestDiffNamesMissingVersion(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	harness.edit(t, key, "alpha")

	_, err := harness.engine.Diff(context.Background(), key, 1, 3)
	require.ErrorIs(t, err, ErrVersionNotFound)
	var notFound *VersionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(3), notFound.Version)
}

func TestHistoryHonoursCriteria(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		harness.edit(t, key, text)
	}
	_, err := harness.engine.RevertTo(ctx, 1, Revision{AuthorID: 1, OwnerType: key.OwnerType, OwnerID: key.OwnerID, FieldName: key.FieldName})
	require.NoError(t, err)

	newest, err := harness.engine.History(ctx, key, Criteria{})
	require.NoError(t, err)
	require.Len(t, newest, 5)
	assert.Equal(t, int64(5), newest[0].Version)

	after, err := harness.engine.History(ctx, key, Criteria{AfterVersion: 2, Order: Ascending})
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, int64(3), after[0].Version)

	reverted, err := harness.engine.History(ctx, key, Criteria{Reverted: BoolPtr(true)})
	require.NoError(t, err)
	require.Len(t, reverted, 1)
	assert.Equal(t, int64(1), reverted[0].AuthorID)

	first, err := harness.engine.First(ctx, key, Criteria{Order: Ascending, AuthorID: testAuthorID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
}

type staleStore struct {
	Store
	stale int64
}

func (s *staleStore) MaxVersion(context.Context, Key) (int64, error) {
	return s.stale, nil
}

func TestSaveSurfacesVersionRace(t *testing.T) {
	harness := newTestHarness(t)
	key := NewKey(testOwnerType, 1, "biography")
	harness.edit(t, key, "winner")

	loser, err := NewEngine(EngineConfig{Store: &staleStore{Store: harness.store}})
	require.NoError(t, err)
	_, err = loser.Save(context.Background(), &Revision{
		AuthorID:  testAuthorID,
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		FieldName: key.FieldName,
		Data:      StringPtr("loser"),
	})
	require.ErrorIs(t, err, ErrDuplicateVersion)
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestRetryOnConflictRerunsWholeSequence(t *testing.T) {
	attempts := 0
	err := RetryOnConflict(context.Background(), 3, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return ErrDuplicateVersion
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = RetryOnConflict(context.Background(), 5, func(context.Context) error {
		attempts++
		return ErrSourceVersionNotFound
	})
	require.ErrorIs(t, err, ErrSourceVersionNotFound)
	assert.Equal(t, 1, attempts)
}
