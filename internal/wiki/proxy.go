package wiki

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"go.uber.org/zap"
)

// Changes stages edits onto a field. Nil members are left untouched.
type Changes struct {
	Data     *string
	AuthorID *int64
	Summary  *string
	Sources  *string
}

// FieldProxy is the read/write surface of one tracked field on one owner.
// A proxy is not safe for concurrent use.
type FieldProxy struct {
	owner   Owner
	field   string
	engine  *revisions.Engine
	authors AuthorFinder
	logger  *zap.Logger

	target *string
	draft  *revisions.Revision
	cache  map[int64]revisions.Revision
	errs   []revisions.FieldError
}

func newFieldProxy(owner Owner, field string, engine *revisions.Engine, authors AuthorFinder, logger *zap.Logger) *FieldProxy {
	proxy := &FieldProxy{
		owner:   owner,
		field:   field,
		engine:  engine,
		authors: authors,
		logger:  logger,
		cache:   make(map[int64]revisions.Revision),
	}
	proxy.loadTarget()
	return proxy
}

// loadTarget re-reads the owner attribute. Staged author, summary and sources
// survive unless the draft is gone.
func (p *FieldProxy) loadTarget() {
	p.target = copyString(p.owner.ReadAttribute(p.field))
	if p.draft == nil {
		p.draft = &revisions.Revision{}
	}
	p.draft.OwnerType = p.owner.OwnerType()
	p.draft.OwnerID = copyInt64(p.owner.OwnerID())
	p.draft.FieldName = p.field
	p.draft.Data = copyString(p.target)
}

// sync rebuilds the draft when the owner attribute changed behind the proxy.
func (p *FieldProxy) sync() {
	if !sameString(p.target, p.owner.ReadAttribute(p.field)) {
		p.draft = nil
		p.refresh()
		return
	}
	if !sameInt64(p.draft.OwnerID, p.owner.OwnerID()) {
		p.refresh()
	}
}

// refresh picks up owner changes such as a newly assigned id.
func (p *FieldProxy) refresh() {
	p.cache = make(map[int64]revisions.Revision)
	p.loadTarget()
}

// Reload drops cached reads and the draft.
func (p *FieldProxy) Reload() *FieldProxy {
	p.draft = nil
	p.errs = nil
	p.refresh()
	return p
}

// Edit stages changes and returns the live value. New data is written to the
// owner attribute immediately.
func (p *FieldProxy) Edit(changes Changes) *string {
	p.sync()
	if changes.Data != nil && !sameString(p.target, changes.Data) {
		p.owner.WriteAttribute(p.field, copyString(changes.Data))
		p.loadTarget()
	}
	if changes.AuthorID != nil {
		p.draft.AuthorID = *changes.AuthorID
	}
	if changes.Summary != nil {
		p.draft.Summary = copyString(changes.Summary)
	}
	if changes.Sources != nil {
		p.draft.Sources = copyString(changes.Sources)
	}
	return p.target
}

// Save persists the draft as the next version. ok is false when nothing
// changed or the draft was rejected; Errors then holds the reasons. On a
// failed owner write the revision stays persisted and the error is returned
// alongside its version.
func (p *FieldProxy) Save(ctx context.Context, updateOwner bool) (int64, bool, error) {
	changed, err := p.Changed(ctx)
	if err != nil {
		return 0, false, err
	}
	if !changed {
		p.errs = nil
		return 0, false, nil
	}

	saved, err := p.engine.Save(ctx, p.draft)
	if err != nil {
		return 0, false, p.rejection(err)
	}
	p.errs = nil
	if updateOwner {
		if err := p.owner.UpdateAttribute(ctx, p.field, copyString(saved.Data)); err != nil {
			p.logger.Error("owner attribute update failed",
				zap.String("key", saved.Key().String()),
				zap.Int64("version", saved.Version),
				zap.Error(err))
			return saved.Version, true, fmt.Errorf("wiki: update %s: %w", p.field, err)
		}
	}
	p.settle(saved)
	return saved.Version, true, nil
}

// Valid runs the draft through validation without persisting it.
func (p *FieldProxy) Valid(ctx context.Context) bool {
	err := p.validate(ctx)
	if err != nil && !errors.Is(err, revisions.ErrValidationFailed) {
		p.logger.Error("field validation unavailable", zap.String("field", p.field), zap.Error(err))
	}
	return err == nil
}

func (p *FieldProxy) validate(ctx context.Context) error {
	p.sync()
	err := p.engine.Validate(ctx, p.draft)
	p.errs = revisions.FieldErrors(err)
	return err
}

// Errors returns the reasons recorded by the last validation or save.
func (p *FieldProxy) Errors() []revisions.FieldError {
	return p.errs
}

// Rollback appends a copy of version target authored by author. ok is false
// when the target does not exist or the author is rejected.
func (p *FieldProxy) Rollback(ctx context.Context, target int64, author AuthorRef, summary *string) (int64, bool, error) {
	p.sync()
	base := *p.draft
	if author != nil {
		base.AuthorID = author.RevisionAuthorID()
	}
	base.Summary = copyString(summary)

	saved, err := p.engine.RevertTo(ctx, target, base)
	if err != nil {
		return 0, false, p.rejection(err)
	}
	p.errs = nil
	if err := p.owner.UpdateAttribute(ctx, p.field, copyString(saved.Data)); err != nil {
		p.logger.Error("owner attribute update failed",
			zap.String("key", saved.Key().String()),
			zap.Int64("version", saved.Version),
			zap.Error(err))
		return saved.Version, true, fmt.Errorf("wiki: rollback %s: %w", p.field, err)
	}
	p.settle(saved)
	return saved.Version, true, nil
}

func (p *FieldProxy) rejection(err error) error {
	switch {
	case errors.Is(err, revisions.ErrValidationFailed):
		p.errs = revisions.FieldErrors(err)
		return nil
	case errors.Is(err, revisions.ErrSourceVersionNotFound):
		p.errs = []revisions.FieldError{{Field: "version", Reason: revisions.ReasonDoesNotExist}}
		return nil
	default:
		return err
	}
}

func (p *FieldProxy) settle(saved *revisions.Revision) {
	p.draft = nil
	p.refresh()
	p.cache[saved.Version] = *saved
}

// Changed reports whether the live value differs from the current revision.
// Two blank values count as equal; staged metadata alone is not a change.
func (p *FieldProxy) Changed(ctx context.Context) (bool, error) {
	p.sync()
	if p.owner.OwnerID() == nil {
		return !isBlank(p.target), nil
	}
	current, err := p.Data(ctx, revisions.Current)
	if err != nil {
		return false, err
	}
	if isBlank(p.target) && isBlank(current) {
		return false, nil
	}
	return !sameString(p.target, current), nil
}

// Attributes returns the revision at ref. found is false for a version that
// does not exist, in which case the returned record is empty.
func (p *FieldProxy) Attributes(ctx context.Context, ref revisions.Ref) (revisions.Revision, bool, error) {
	version := ref.Version()
	if ref.IsCurrent() {
		current, err := p.engine.CurrentVersion(ctx, p.Key())
		if err != nil {
			return revisions.Revision{}, false, err
		}
		version = current
	}
	if version <= 0 {
		return revisions.Revision{}, false, nil
	}
	if cached, ok := p.cache[version]; ok {
		return cached, true, nil
	}
	revision, err := p.engine.VersionEntry(ctx, p.Key(), revisions.At(version))
	if err != nil || revision == nil {
		return revisions.Revision{}, false, err
	}
	p.cache[version] = *revision
	return *revision, true, nil
}

// Data returns the content at ref.
func (p *FieldProxy) Data(ctx context.Context, ref revisions.Ref) (*string, error) {
	revision, _, err := p.Attributes(ctx, ref)
	return revision.Data, err
}

// Summary returns the change note at ref.
func (p *FieldProxy) Summary(ctx context.Context, ref revisions.Ref) (*string, error) {
	revision, _, err := p.Attributes(ctx, ref)
	return revision.Summary, err
}

// Sources returns the citations at ref.
func (p *FieldProxy) Sources(ctx context.Context, ref revisions.Ref) (*string, error) {
	revision, _, err := p.Attributes(ctx, ref)
	return revision.Sources, err
}

// AuthorID returns the author at ref, zero when the version does not exist.
func (p *FieldProxy) AuthorID(ctx context.Context, ref revisions.Ref) (int64, error) {
	revision, _, err := p.Attributes(ctx, ref)
	return revision.AuthorID, err
}

// Author loads the author entity at ref.
func (p *FieldProxy) Author(ctx context.Context, ref revisions.Ref) (AuthorRef, error) {
	authorID, err := p.AuthorID(ctx, ref)
	if err != nil || authorID == 0 {
		return nil, err
	}
	if p.authors == nil {
		return AuthorID(authorID), nil
	}
	return p.authors.FindAuthor(ctx, authorID)
}

// Rollbacked reports whether the version at ref was created by a rollback.
func (p *FieldProxy) Rollbacked(ctx context.Context, ref revisions.Ref) (bool, error) {
	revision, _, err := p.Attributes(ctx, ref)
	return revision.Reverted, err
}

// UpdatedAt returns when the current version was created.
func (p *FieldProxy) UpdatedAt(ctx context.Context) (time.Time, error) {
	revision, _, err := p.Attributes(ctx, revisions.Current)
	return revision.CreatedAt, err
}

// Version returns the current version number.
func (p *FieldProxy) Version(ctx context.Context) (int64, error) {
	return p.engine.CurrentVersion(ctx, p.Key())
}

// Find lists the field history.
func (p *FieldProxy) Find(ctx context.Context, criteria revisions.Criteria) ([]revisions.Revision, error) {
	return p.engine.History(ctx, p.Key(), criteria)
}

// First returns the first revision matching criteria, nil when none does.
func (p *FieldProxy) First(ctx context.Context, criteria revisions.Criteria) (*revisions.Revision, error) {
	return p.engine.First(ctx, p.Key(), criteria)
}

// Diff aligns two versions of this field.
func (p *FieldProxy) Diff(ctx context.Context, versionA, versionB int64) ([]revisions.Change, error) {
	return p.engine.Diff(ctx, p.Key(), versionA, versionB)
}

// Key identifies the field history.
func (p *FieldProxy) Key() revisions.Key {
	return keyOf(p.owner, p.field)
}

// Field returns the tracked field name.
func (p *FieldProxy) Field() string {
	return p.field
}

// Owner returns the record the field belongs to.
func (p *FieldProxy) Owner() Owner {
	return p.owner
}

// Target returns the live value.
func (p *FieldProxy) Target() *string {
	return copyString(p.target)
}

// IsNil reports whether the live value is absent.
func (p *FieldProxy) IsNil() bool {
	return p.target == nil
}

// Equal compares the live value with other.
func (p *FieldProxy) Equal(other string) bool {
	return p.target != nil && *p.target == other
}

// String returns the live value, empty when absent.
func (p *FieldProxy) String() string {
	if p.target == nil {
		return ""
	}
	return *p.target
}
