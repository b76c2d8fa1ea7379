package wiki

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const actorType = "Actor"

type memOwner struct {
	ownerType  string
	id         *int64
	attributes map[string]*string
	updates    []string
}

func newMemOwner() *memOwner {
	return &memOwner{ownerType: actorType, attributes: map[string]*string{}}
}

func (o *memOwner) OwnerType() string                  { return o.ownerType }
func (o *memOwner) OwnerID() *int64                    { return o.id }
func (o *memOwner) ReadAttribute(field string) *string { return o.attributes[field] }

func (o *memOwner) WriteAttribute(field string, value *string) {
	o.attributes[field] = value
}

func (o *memOwner) UpdateAttribute(_ context.Context, field string, value *string) error {
	o.attributes[field] = value
	o.updates = append(o.updates, field)
	return nil
}

type testAuthor struct {
	id   int64
	name string
}

func (a testAuthor) RevisionAuthorID() int64 { return a.id }

type directory struct {
	mu      sync.Mutex
	authors map[int64]testAuthor
	owners  map[string]bool
}

func (d *directory) AuthorExists(_ context.Context, authorID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.authors[authorID]
	return ok, nil
}

func (d *directory) OwnerExists(_ context.Context, ownerType string, ownerID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owners[fmt.Sprintf("%s:%d", ownerType, ownerID)], nil
}

func (d *directory) FindAuthor(_ context.Context, authorID int64) (AuthorRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	author, ok := d.authors[authorID]
	if !ok {
		return nil, nil
	}
	return author, nil
}

type recordingSink struct {
	events []RevisionEvent
}

func (s *recordingSink) PublishRevision(event RevisionEvent) {
	s.events = append(s.events, event)
}

type wikiHarness struct {
	directory *directory
	store     revisions.Store
	engine    *revisions.Engine
	registry  *Registry
	tracker   *Tracker
	events    *recordingSink
	nextID    int64
}

func newWikiHarness(t *testing.T) *wikiHarness {
	return newWikiHarnessWithStore(t, nil)
}

func newWikiHarnessWithStore(t *testing.T, wrap func(revisions.Store) revisions.Store) *wikiHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:wiki_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&revisions.Revision{}))

	dir := &directory{
		authors: map[int64]testAuthor{1: {id: 1, name: "ana"}, 2: {id: 2, name: "ben"}, 3: {id: 3, name: "cy"}},
		owners:  map[string]bool{},
	}
	refs := revisions.Directory{Authors: dir, Owners: dir}
	gormStore, err := revisions.NewGormStore(revisions.GormStoreConfig{Database: db, Directory: refs})
	require.NoError(t, err)
	var store revisions.Store = gormStore
	if wrap != nil {
		store = wrap(store)
	}
	engine, err := revisions.NewEngine(revisions.EngineConfig{Store: store, Directory: refs})
	require.NoError(t, err)

	registry := NewRegistry()
	require.NoError(t, registry.Register(actorType, "biography", "filmography"))
	registry.Seal()

	events := &recordingSink{}
	tracker, err := NewTracker(TrackerConfig{Registry: registry, Engine: engine, Authors: dir, Events: events})
	require.NoError(t, err)

	return &wikiHarness{directory: dir, store: store, engine: engine, registry: registry, tracker: tracker, events: events}
}

// persisted returns an owner that already has an id.
func (h *wikiHarness) persisted(t *testing.T) (*memOwner, *Fields) {
	t.Helper()
	owner := newMemOwner()
	h.assignID(owner)
	fields, err := h.tracker.Bind(owner)
	require.NoError(t, err)
	return owner, fields
}

func (h *wikiHarness) assignID(owner *memOwner) {
	h.nextID++
	id := h.nextID
	owner.id = &id
	h.directory.mu.Lock()
	h.directory.owners[fmt.Sprintf("%s:%d", owner.ownerType, id)] = true
	h.directory.mu.Unlock()
}

// saveOwner mimics a host persistence layer around the lifecycle hooks.
func (h *wikiHarness) saveOwner(ctx context.Context, owner *memOwner, fields *Fields) ([]SavedField, error) {
	if err := h.tracker.ValidateBeforeCommit(ctx, fields); err != nil {
		return nil, err
	}
	if owner.id == nil {
		h.assignID(owner)
	}
	return h.tracker.PersistAfterCommit(ctx, fields)
}

func (h *wikiHarness) field(t *testing.T, fields *Fields, name string) *FieldProxy {
	t.Helper()
	proxy, err := fields.Field(name)
	require.NoError(t, err)
	return proxy
}

func authorPtr(id int64) *int64 {
	return &id
}

func text(value string) *string {
	return &value
}
