package jobs

import (
	"context"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"
	"go.uber.org/zap"
)

var errSchedulerStarted = errors.New("scheduler already started")

// CronJob is a named unit of work run on a cron schedule.
type CronJob interface {
	Name() string
	Schedule() string
	Run(ctx context.Context) error
}

// Scheduler runs registered jobs on their schedules. A job whose previous run
// is still in progress is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []CronJob
	running mapset.Set[string]
	logger  *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler constructs an idle Scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		running: mapset.NewSet[string](),
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Register adds job to the cron table.
func (s *Scheduler) Register(job CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errSchedulerStarted
	}
	if err := s.cron.AddFunc(job.Schedule(), func() { s.trigger(job) }); err != nil {
		s.logger.Error("failed to add job to cron",
			zap.String("job", job.Name()),
			zap.String("schedule", job.Schedule()),
			zap.Error(err))
		return err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start begins running jobs. Runs observe ctx and stop early once Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts the cron table and cancels in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.logger.Info("stopping all jobs")
	s.cron.Stop()
	s.cancel()
	s.started = false
}

// Running reports the names of jobs currently executing.
func (s *Scheduler) Running() []string {
	return s.running.ToSlice()
}

func (s *Scheduler) trigger(job CronJob) {
	if !s.running.Add(job.Name()) {
		s.logger.Warn("job is still running, skipping tick", zap.String("job", job.Name()))
		return
	}
	defer s.running.Remove(job.Name())

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
	}
}
