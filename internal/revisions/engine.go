package revisions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	opEngineNew       = "revisions.engine.new"
	opCurrentVersion  = "revisions.current_version"
	opVersionEntry    = "revisions.version_entry"
	opHistory         = "revisions.history"
	opDiff            = "revisions.diff"
	opValidate        = "revisions.validate"
	opSave            = "revisions.save"
	revertSummaryText = "Reverted to version %d"
)

var errMissingStore = errors.New("revision store is required")

// EngineConfig describes the dependencies of Engine.
type EngineConfig struct {
	Store     Store
	Directory Directory
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Engine numbers, validates and persists revisions.
type Engine struct {
	store     Store
	directory Directory
	clock     func() time.Time
	logger    *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, NewServiceError(opEngineNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		store:     cfg.Store,
		directory: cfg.Directory,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Store exposes the underlying revision store.
func (e *Engine) Store() Store {
	return e.store
}

// CurrentVersion returns the latest version number, zero for an empty history.
func (e *Engine) CurrentVersion(ctx context.Context, key Key) (int64, error) {
	if err := e.checkKey(opCurrentVersion, key); err != nil {
		return 0, err
	}
	return e.store.MaxVersion(ctx, key)
}

// VersionEntry resolves ref and returns nil when no such version exists.
func (e *Engine) VersionEntry(ctx context.Context, key Key, ref Ref) (*Revision, error) {
	if err := e.checkKey(opVersionEntry, key); err != nil {
		return nil, err
	}
	version := ref.Version()
	if ref.IsCurrent() {
		current, err := e.store.MaxVersion(ctx, key)
		if err != nil {
			return nil, err
		}
		version = current
	}
	if version <= 0 {
		return nil, nil
	}
	return e.store.FindByVersion(ctx, key, version)
}

// History lists a field history, newest first unless criteria says otherwise.
func (e *Engine) History(ctx context.Context, key Key, criteria Criteria) ([]Revision, error) {
	if err := e.checkKey(opHistory, key); err != nil {
		return nil, err
	}
	return e.store.List(ctx, key, criteria)
}

// First returns the first revision of a history listing, or nil.
func (e *Engine) First(ctx context.Context, key Key, criteria Criteria) (*Revision, error) {
	criteria.Limit = 1
	history, err := e.History(ctx, key, criteria)
	if err != nil || len(history) == 0 {
		return nil, err
	}
	return &history[0], nil
}

// Diff aligns the data of two versions line by line.
func (e *Engine) Diff(ctx context.Context, key Key, versionA, versionB int64) ([]Change, error) {
	if err := e.checkKey(opDiff, key); err != nil {
		return nil, err
	}
	revisionA, err := e.requireVersion(ctx, key, versionA)
	if err != nil {
		return nil, err
	}
	revisionB, err := e.requireVersion(ctx, key, versionB)
	if err != nil {
		return nil, err
	}
	return DiffText(revisionA.Data, revisionB.Data), nil
}

func (e *Engine) requireVersion(ctx context.Context, key Key, version int64) (*Revision, error) {
	var revision *Revision
	if version > 0 {
		found, err := e.store.FindByVersion(ctx, key, version)
		if err != nil {
			return nil, err
		}
		revision = found
	}
	if revision == nil {
		return nil, &VersionNotFoundError{Key: key, Version: version}
	}
	return revision, nil
}

// Validate runs presence and reference rules against draft.
func (e *Engine) Validate(ctx context.Context, draft *Revision) error {
	if draft == nil {
		return &ValidationError{Fields: []FieldError{{Field: "revision", Reason: ReasonRequired}}}
	}
	var failures []FieldError
	if draft.AuthorID == 0 {
		failures = append(failures, FieldError{Field: "author_id", Reason: ReasonRequired})
	}
	if strings.TrimSpace(draft.OwnerType) == "" {
		failures = append(failures, FieldError{Field: "owner_type", Reason: ReasonRequired})
	}
	if strings.TrimSpace(draft.FieldName) == "" {
		failures = append(failures, FieldError{Field: "field_name", Reason: ReasonRequired})
	}
	if draft.Reverted {
		if draft.Version <= 0 {
			failures = append(failures, FieldError{Field: "version", Reason: ReasonRequired})
		}
	} else if draft.Data == nil {
		failures = append(failures, FieldError{Field: "data", Reason: ReasonRequired})
	}

	if draft.AuthorID != 0 {
		found, err := e.directory.authorExists(ctx, draft.AuthorID)
		if err != nil {
			e.logError(opValidate, "author_lookup_failed", err, zap.Int64("author_id", draft.AuthorID))
			return NewServiceError(opValidate, "author_lookup_failed", err)
		}
		if !found {
			failures = append(failures, FieldError{Field: "author_id", Reason: ReasonDoesNotExist})
		}
	}
	if draft.OwnerID != nil && strings.TrimSpace(draft.OwnerType) != "" {
		found, err := e.directory.ownerExists(ctx, draft.OwnerType, *draft.OwnerID)
		if err != nil {
			e.logError(opValidate, "owner_lookup_failed", err, zap.String("key", draft.Key().String()))
			return NewServiceError(opValidate, "owner_lookup_failed", err)
		}
		if !found {
			failures = append(failures, FieldError{Field: "owner_id", Reason: ReasonDoesNotExist})
		}
	}

	if len(failures) > 0 {
		return &ValidationError{Fields: failures}
	}
	return nil
}

// Save validates draft, resolves a revert source, assigns the next version and
// inserts. The draft itself is left untouched; the persisted copy is returned.
func (e *Engine) Save(ctx context.Context, draft *Revision) (*Revision, error) {
	if err := e.Validate(ctx, draft); err != nil {
		return nil, err
	}
	candidate := *draft
	key := candidate.Key()
	if err := e.checkKey(opSave, key); err != nil {
		return nil, err
	}

	if candidate.Reverted {
		source, err := e.store.FindByVersion(ctx, key, candidate.Version)
		if err != nil {
			return nil, err
		}
		if source == nil {
			return nil, fmt.Errorf("%w: %s version %d", ErrSourceVersionNotFound, key, candidate.Version)
		}
		candidate.Data = copyString(source.Data)
		if candidate.Summary == nil {
			candidate.Summary = StringPtr(fmt.Sprintf(revertSummaryText, candidate.Version))
		}
	}

	current, err := e.store.MaxVersion(ctx, key)
	if err != nil {
		return nil, err
	}
	candidate.ID = 0
	candidate.Version = current + 1
	candidate.CreatedAt = e.clock().UTC()

	if err := e.store.Insert(ctx, &candidate); err != nil {
		if errors.Is(err, ErrDuplicateVersion) {
			e.logger.Warn("revision version already taken",
				zap.String("key", key.String()),
				zap.Int64("version", candidate.Version))
		}
		return nil, err
	}
	e.logger.Debug("revision persisted",
		zap.String("key", key.String()),
		zap.Int64("version", candidate.Version),
		zap.Bool("reverted", candidate.Reverted))
	return &candidate, nil
}

// RevertTo appends a copy of target using the author, summary, sources and key of base.
func (e *Engine) RevertTo(ctx context.Context, target int64, base Revision) (*Revision, error) {
	draft := base
	draft.ID = 0
	draft.Reverted = true
	draft.Version = target
	draft.Data = nil
	return e.Save(ctx, &draft)
}

// RetryOnConflict runs fn again while it fails with ErrDuplicateVersion.
func RetryOnConflict(ctx context.Context, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if !errors.Is(err, ErrDuplicateVersion) {
			return err
		}
	}
	return err
}

func (e *Engine) checkKey(operation string, key Key) error {
	if err := key.Validate(); err != nil {
		e.logError(operation, "invalid_key", err, zap.String("key", key.String()))
		return NewServiceError(operation, "invalid_key", err)
	}
	return nil
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("revision engine error", attrs...)
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
