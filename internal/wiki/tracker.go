package wiki

import (
	"context"
	"errors"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"go.uber.org/zap"
)

const (
	opTrackerNew       = "wiki.tracker.new"
	opValidateOwner    = "wiki.validate_before_commit"
	opPersistOwner     = "wiki.persist_after_commit"
	opCascadeOwner     = "wiki.cascade_after_destroy"
	defaultSaveRetries = 3
)

// Event types published to an EventSink.
const (
	EventRevisionCreated = "revision-created"
	EventOwnerDestroyed  = "owner-destroyed"
)

var (
	errMissingRegistry = errors.New("registry is required")
	errMissingEngine   = errors.New("revision engine is required")
)

// Lifecycle is called by the owner persistence layer around its own writes.
type Lifecycle interface {
	ValidateBeforeCommit(ctx context.Context, fields *Fields) error
	PersistAfterCommit(ctx context.Context, fields *Fields) ([]SavedField, error)
	CascadeAfterDestroy(ctx context.Context, owner Owner) error
}

// RevisionEvent describes a history change.
type RevisionEvent struct {
	Type       string
	OwnerType  string
	OwnerID    int64
	FieldName  string
	Version    int64
	OccurredAt time.Time
}

// EventSink receives history changes.
type EventSink interface {
	PublishRevision(event RevisionEvent)
}

// SavedField reports a version appended during an owner save.
type SavedField struct {
	Field   string `json:"field"`
	Version int64  `json:"version"`
}

// TrackerConfig describes the dependencies of Tracker.
type TrackerConfig struct {
	Registry *Registry
	Engine   *revisions.Engine
	Authors  AuthorFinder
	Events   EventSink
	// SaveAttempts bounds how often a field save is rerun after losing a version race.
	SaveAttempts int
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Tracker binds owners to their field proxies and implements Lifecycle.
type Tracker struct {
	registry     *Registry
	engine       *revisions.Engine
	authors      AuthorFinder
	events       EventSink
	saveAttempts int
	clock        func() time.Time
	logger       *zap.Logger
}

var _ Lifecycle = (*Tracker)(nil)

// NewTracker constructs a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Registry == nil {
		return nil, revisions.NewServiceError(opTrackerNew, "missing_registry", errMissingRegistry)
	}
	if cfg.Engine == nil {
		return nil, revisions.NewServiceError(opTrackerNew, "missing_engine", errMissingEngine)
	}
	attempts := cfg.SaveAttempts
	if attempts <= 0 {
		attempts = defaultSaveRetries
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		registry:     cfg.Registry,
		engine:       cfg.Engine,
		authors:      cfg.Authors,
		events:       cfg.Events,
		saveAttempts: attempts,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Registry returns the tracked field configuration.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Engine returns the revision engine proxies delegate to.
func (t *Tracker) Engine() *revisions.Engine {
	return t.engine
}

// Bind returns the field accessors of owner.
func (t *Tracker) Bind(owner Owner) (*Fields, error) {
	names := t.registry.Fields(owner.OwnerType())
	if len(names) == 0 {
		return nil, revisions.NewServiceError("wiki.bind", "untracked_owner_type", ErrUntrackedOwnerType)
	}
	return newFields(owner, names, t.newProxy), nil
}

func (t *Tracker) newProxy(owner Owner, field string) *FieldProxy {
	return newFieldProxy(owner, field, t.engine, t.authors, t.logger.With(zap.String("field", field)))
}

// ValidateBeforeCommit checks every tracked field that would produce a
// revision. For a new owner only non-blank fields are checked, for an
// existing owner only changed ones.
func (t *Tracker) ValidateBeforeCommit(ctx context.Context, fields *Fields) error {
	newOwner := fields.Owner().OwnerID() == nil
	var failures []FieldFailure
	for _, proxy := range fields.All() {
		proxy.sync()
		check := !isBlank(proxy.Target())
		if !newOwner {
			changed, err := proxy.Changed(ctx)
			if err != nil {
				t.logError(opValidateOwner, "changed_check_failed", err, zap.String("field", proxy.Field()))
				return err
			}
			check = changed
		}
		if !check {
			continue
		}
		err := proxy.validate(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, revisions.ErrValidationFailed) {
			t.logError(opValidateOwner, "validation_unavailable", err, zap.String("field", proxy.Field()))
			return err
		}
		failures = append(failures, FieldFailure{Field: proxy.Field(), Errors: proxy.Errors()})
	}
	if len(failures) > 0 {
		return &OwnerValidationError{Failures: failures}
	}
	return nil
}

// PersistAfterCommit appends a revision for every changed field without
// writing back to the owner. A field that loses a version race is saved again.
func (t *Tracker) PersistAfterCommit(ctx context.Context, fields *Fields) ([]SavedField, error) {
	owner := fields.Owner()
	var saved []SavedField
	for _, proxy := range fields.All() {
		proxy.refresh()
		changed, err := proxy.Changed(ctx)
		if err != nil {
			t.logError(opPersistOwner, "changed_check_failed", err, zap.String("field", proxy.Field()))
			return saved, err
		}
		if !changed {
			continue
		}

		var version int64
		var ok bool
		err = revisions.RetryOnConflict(ctx, t.saveAttempts, func(ctx context.Context) error {
			var saveErr error
			version, ok, saveErr = proxy.Save(ctx, false)
			return saveErr
		})
		if err != nil {
			t.logError(opPersistOwner, "field_save_failed", err, zap.String("field", proxy.Field()))
			return saved, err
		}
		if !ok {
			t.logger.Warn("field revision rejected",
				zap.String("owner_type", owner.OwnerType()),
				zap.String("field", proxy.Field()),
				zap.Any("errors", proxy.Errors()))
			continue
		}
		saved = append(saved, SavedField{Field: proxy.Field(), Version: version})
		t.publish(EventRevisionCreated, owner, proxy.Field(), version)
	}
	return saved, nil
}

// CascadeAfterDestroy removes every revision of owner.
func (t *Tracker) CascadeAfterDestroy(ctx context.Context, owner Owner) error {
	ownerID := owner.OwnerID()
	if ownerID == nil {
		return nil
	}
	deleted, err := t.engine.Store().DeleteAllForOwner(ctx, owner.OwnerType(), *ownerID)
	if err != nil {
		t.logError(opCascadeOwner, "delete_failed", err,
			zap.String("owner_type", owner.OwnerType()),
			zap.Int64("owner_id", *ownerID))
		return err
	}
	t.logger.Info("owner revisions removed",
		zap.String("owner_type", owner.OwnerType()),
		zap.Int64("owner_id", *ownerID),
		zap.Int64("deleted", deleted))
	t.publish(EventOwnerDestroyed, owner, "", 0)
	return nil
}

// Publish forwards a single-field change made outside an owner save.
func (t *Tracker) Publish(proxy *FieldProxy, version int64) {
	t.publish(EventRevisionCreated, proxy.Owner(), proxy.Field(), version)
}

func (t *Tracker) publish(eventType string, owner Owner, field string, version int64) {
	if t.events == nil || owner.OwnerID() == nil {
		return
	}
	t.events.PublishRevision(RevisionEvent{
		Type:       eventType,
		OwnerType:  owner.OwnerType(),
		OwnerID:    *owner.OwnerID(),
		FieldName:  field,
		Version:    version,
		OccurredAt: t.clock().UTC(),
	})
}

func (t *Tracker) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	t.logger.Error("wiki tracker error", attrs...)
}
