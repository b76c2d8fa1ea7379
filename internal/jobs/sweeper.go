package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"go.uber.org/zap"
)

const sweeperName = "orphan-revision-sweeper"

var (
	errMissingStore  = errors.New("revision store is required")
	errMissingOwners = errors.New("owner directory is required")
)

// SweeperConfig describes the dependencies of OrphanSweeper.
type SweeperConfig struct {
	Store    revisions.Store
	Owners   revisions.OwnerDirectory
	Schedule string
	Logger   *zap.Logger
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Checked int
	Orphans []revisions.OwnerRef
	Deleted int64
}

// OrphanSweeper removes revisions whose owner record no longer exists.
type OrphanSweeper struct {
	store    revisions.Store
	owners   revisions.OwnerDirectory
	schedule string
	logger   *zap.Logger
}

var _ CronJob = (*OrphanSweeper)(nil)

// NewOrphanSweeper constructs an OrphanSweeper.
func NewOrphanSweeper(cfg SweeperConfig) (*OrphanSweeper, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Owners == nil {
		return nil, errMissingOwners
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrphanSweeper{store: cfg.Store, owners: cfg.Owners, schedule: cfg.Schedule, logger: logger}, nil
}

func (s *OrphanSweeper) Name() string {
	return sweeperName
}

func (s *OrphanSweeper) Schedule() string {
	return s.schedule
}

// Run performs one sweep.
func (s *OrphanSweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep checks every owner referenced by a revision and deletes the history of
// the ones that are gone.
func (s *OrphanSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return report, fmt.Errorf("list revision owners: %w", err)
	}

	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		exists, err := s.owners.OwnerExists(ctx, owner.OwnerType, owner.OwnerID)
		if err != nil {
			return report, fmt.Errorf("check owner %s %d: %w", owner.OwnerType, owner.OwnerID, err)
		}
		if exists {
			continue
		}
		deleted, err := s.store.DeleteAllForOwner(ctx, owner.OwnerType, owner.OwnerID)
		if err != nil {
			return report, fmt.Errorf("delete revisions of %s %d: %w", owner.OwnerType, owner.OwnerID, err)
		}
		report.Orphans = append(report.Orphans, owner)
		report.Deleted += deleted
	}

	if len(report.Orphans) > 0 {
		s.logger.Info("orphaned revisions removed",
			zap.Int("owners", len(report.Orphans)),
			zap.Int64("revisions", report.Deleted))
	}
	return report, nil
}
