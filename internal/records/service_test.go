package records

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/users"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const actor = OwnerType("Actor")

type recordsHarness struct {
	db      *gorm.DB
	users   *users.Service
	service *Service
	author  users.User
}

func newRecordsHarness(t *testing.T) *recordsHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:records_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}, &revisions.Revision{}, &users.User{}))

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	refs := revisions.Directory{Authors: userService, Owners: NewDirectory(db)}
	store, err := revisions.NewGormStore(revisions.GormStoreConfig{Database: db, Directory: refs})
	require.NoError(t, err)
	engine, err := revisions.NewEngine(revisions.EngineConfig{Store: store, Directory: refs})
	require.NoError(t, err)

	registry := wiki.NewRegistry()
	require.NoError(t, registry.Register(actor.String(), "biography", "filmography"))
	registry.Seal()
	tracker, err := wiki.NewTracker(wiki.TrackerConfig{Registry: registry, Engine: engine, Authors: userService})
	require.NoError(t, err)

	service, err := NewService(ServiceConfig{Database: db, Tracker: tracker})
	require.NoError(t, err)

	author, err := userService.Create(context.Background(), "Ana", "ana@example.com")
	require.NoError(t, err)
	return &recordsHarness{db: db, users: userService, service: service, author: author}
}

func (h *recordsHarness) stage(t *testing.T, entry *Entry, field, data string) {
	t.Helper()
	authorID := h.author.ID
	_, err := entry.Fields().Apply(field, wiki.Changes{Data: &data, AuthorID: &authorID})
	require.NoError(t, err)
}

func TestSaveCreatesRecordAndFirstRevisions(t *testing.T) {
	harness := newRecordsHarness(t)
	ctx := context.Background()
	entry, err := harness.service.New(actor)
	require.NoError(t, err)
	title := "Ngozi"
	entry.WriteAttribute("name", &title)
	harness.stage(t, entry, "biography", "Born in Enugu.")
	harness.stage(t, entry, "filmography", "Half of a Yellow Sun")

	saved, err := harness.service.Save(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, []wiki.SavedField{{Field: "biography", Version: 1}, {Field: "filmography", Version: 1}}, saved)
	assert.False(t, entry.NewRecord())

	reloaded, err := harness.service.Find(ctx, actor, entry.ID())
	require.NoError(t, err)
	assert.Equal(t, "Ngozi", *reloaded.ReadAttribute("name"))
	proxy, err := reloaded.Fields().Field("biography")
	require.NoError(t, err)
	author, err := proxy.Author(ctx, revisions.Current)
	require.NoError(t, err)
	assert.Equal(t, harness.author.ID, author.RevisionAuthorID())
}

func TestSaveWithoutChangesLeavesHistoryAlone(t *testing.T) {
	harness := newRecordsHarness(t)
	ctx := context.Background()
	entry, err := harness.service.New(actor)
	require.NoError(t, err)
	harness.stage(t, entry, "biography", "Born in Enugu.")
	_, err = harness.service.Save(ctx, entry)
	require.NoError(t, err)

	reloaded, err := harness.service.Find(ctx, actor, entry.ID())
	require.NoError(t, err)
	harness.stage(t, reloaded, "biography", "Born in Enugu.")
	saved, err := harness.service.Save(ctx, reloaded)
	require.NoError(t, err)
	assert.Empty(t, saved)

	proxy, err := reloaded.Fields().Field("biography")
	require.NoError(t, err)
	version, err := proxy.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestSaveRejectsInvalidFieldBeforeWriting(t *testing.T) {
	harness := newRecordsHarness(t)
	ctx := context.Background()
	entry, err := harness.service.New(actor)
	require.NoError(t, err)
	_, err = entry.Fields().Assign("biography", "no author")
	require.NoError(t, err)

	_, err = harness.service.Save(ctx, entry)
	require.ErrorIs(t, err, revisions.ErrValidationFailed)

	var count int64
	require.NoError(t, harness.db.Model(&Record{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSingleFieldSaveUpdatesStoredAttribute(t *testing.T) {
	harness := newRecordsHarness(t)
	ctx := context.Background()
	entry, err := harness.service.New(actor)
	require.NoError(t, err)
	harness.stage(t, entry, "biography", "v1")
	_, err = harness.service.Save(ctx, entry)
	require.NoError(t, err)

	harness.stage(t, entry, "biography", "v2")
	proxy, err := entry.Fields().Field("biography")
	require.NoError(t, err)
	version, ok, err := proxy.Save(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), version)

	reloaded, err := harness.service.Find(ctx, actor, entry.ID())
	require.NoError(t, err)
	assert.Equal(t, "v2", *reloaded.ReadAttribute("biography"))
}

func TestDestroyCascadesRevisions(t *testing.T) {
	harness := newRecordsHarness(t)
	ctx := context.Background()
	entry, err := harness.service.New(actor)
	require.NoError(t, err)
	harness.stage(t, entry, "biography", "to be removed")
	_, err = harness.service.Save(ctx, entry)
	require.NoError(t, err)

	require.NoError(t, harness.service.Destroy(ctx, entry))

	var count int64
	require.NoError(t, harness.db.Model(&revisions.Revision{}).Count(&count).Error)
	assert.Zero(t, count)
	_, err = harness.service.Find(ctx, actor, entry.ID())
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestNewRejectsUntrackedOwnerType(t *testing.T) {
	harness := newRecordsHarness(t)

	_, err := harness.service.New(OwnerType("Movie"))
	require.ErrorIs(t, err, wiki.ErrUntrackedOwnerType)
}

func TestParseRecordID(t *testing.T) {
	id, err := ParseRecordID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-3"} {
		_, err := ParseRecordID(raw)
		assert.ErrorIs(t, err, ErrInvalidRecordID, raw)
	}

	_, err = NewOwnerType("  ")
	assert.ErrorIs(t, err, ErrInvalidOwnerType)
}
