// Package scheduler runs the companion's periodic jobs: the task
// notification check and the review reminders.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// DefaultTimeout bounds a single job run.
const DefaultTimeout = 5 * time.Minute

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Scheduler manages scheduled jobs
type Scheduler struct {
	jobs     map[string]*Job
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
	now      func() time.Time
	log      *logging.Logger
}

// Config configures the scheduler
type Config struct {
	Timezone string // IANA name; "" or "Local" means the host zone
	Logger   *logging.Logger
	Clock    func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Timezone: "Local"}
}

// New creates a scheduler. An unknown timezone is an error.
func New(cfg Config) (*Scheduler, error) {
	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		tz = loc
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		jobs:     make(map[string]*Job),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
		now:      cfg.Clock,
		log:      cfg.Logger.WithField("component", "scheduler"),
	}, nil
}

// Handler is the function executed for a job
type Handler func(ctx context.Context) error

// Job is a scheduled unit of work. Fields after Timeout are maintained by
// the scheduler; read them through Job or ListJobs.
type Job struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Schedule Schedule      `json:"schedule"`
	Handler  Handler       `json:"-"`
	Timeout  time.Duration `json:"timeout"`

	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
	LastError  string     `json:"last_error,omitempty"`
}

// Schedule defines when a job runs
type Schedule struct {
	Type     ScheduleType   `json:"type"`
	Interval time.Duration  `json:"interval,omitempty"` // interval
	At       string         `json:"at,omitempty"`       // "15:04" for daily/weekly, RFC3339 for once
	Days     []time.Weekday `json:"days,omitempty"`     // weekly
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleOnce     ScheduleType = "once"
)

// Validate checks that the schedule can produce run times.
func (sc Schedule) Validate() error {
	switch sc.Type {
	case ScheduleInterval:
		if sc.Interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
	case ScheduleDaily:
		if _, _, err := parseClock(sc.At); err != nil {
			return err
		}
	case ScheduleWeekly:
		if _, _, err := parseClock(sc.At); err != nil {
			return err
		}
		if len(sc.Days) == 0 {
			return fmt.Errorf("weekly schedule needs at least one day")
		}
	case ScheduleOnce:
		if _, err := time.Parse(time.RFC3339, sc.At); err != nil {
			return fmt.Errorf("once schedule: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule type %q", sc.Type)
	}
	return nil
}

func parseClock(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q", at)
	}
	return t.Hour(), t.Minute(), nil
}

// Register adds a job to the scheduler
func (s *Scheduler) Register(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Handler == nil {
		return fmt.Errorf("job handler is required")
	}
	if err := job.Schedule.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already registered", job.ID)
	}
	if job.Timeout == 0 {
		job.Timeout = DefaultTimeout
	}
	job.Enabled = true

	next := NextRun(job.Schedule, s.now().In(s.timezone))
	job.NextRun = &next

	s.jobs[job.ID] = job
	if s.started {
		s.startJob(job)
	}

	s.log.Debug("registered job %s (%s), next run %s", job.ID, job.Schedule.Type, next.Format(time.RFC3339))
	return nil
}

// Unregister removes a job from the scheduler
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopJob(id)
	delete(s.jobs, id)
}

// Enable enables a job
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Enabled {
		return nil
	}

	job.Enabled = true
	if s.started {
		s.startJob(job)
	}
	return nil
}

// Disable disables a job
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	job.Enabled = false
	s.stopJob(id)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, job := range s.jobs {
		if job.Enabled {
			s.startJob(job)
		}
	}

	s.log.Info("scheduler started with %d jobs (%s)", len(s.jobs), s.timezone)
	return nil
}

// Stop stops the scheduler and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}

	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
}

// startJob starts a job's loop. Caller holds s.mu.
func (s *Scheduler) startJob(job *Job) {
	if _, ok := s.running[job.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.running[job.ID] = cancel

	s.wg.Add(1)
	go s.loop(ctx, job)
}

// stopJob cancels a job's loop. Caller holds s.mu.
func (s *Scheduler) stopJob(id string) {
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := job.NextRun.Sub(s.now())
		s.mu.RUnlock()

		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, job)
		}

		if job.Schedule.Type == ScheduleOnce {
			s.mu.Lock()
			job.Enabled = false
			delete(s.running, job.ID)
			s.mu.Unlock()
			return
		}
	}
}

// execute runs the handler once and records the outcome.
func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	now := s.now()
	s.mu.Lock()
	job.LastRun = &now
	job.RunCount++
	s.mu.Unlock()

	err := job.Handler(execCtx)

	s.mu.Lock()
	if err != nil {
		job.ErrorCount++
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	next := NextRun(job.Schedule, s.now().In(s.timezone))
	job.NextRun = &next
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("job %s failed: %v", job.ID, err)
	} else {
		s.log.Debug("job %s done in %s", job.ID, s.now().Sub(now))
	}
	return err
}

// NextRun returns the first run time strictly after now for schedule.
// Daily and weekly schedules use now's location.
func NextRun(sc Schedule, now time.Time) time.Time {
	switch sc.Type {
	case ScheduleInterval:
		return now.Add(sc.Interval)

	case ScheduleDaily:
		hour, minute, _ := parseClock(sc.At)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case ScheduleWeekly:
		hour, minute, _ := parseClock(sc.At)
		for i := 0; i <= 7; i++ {
			day := time.Date(now.Year(), now.Month(), now.Day()+i, hour, minute, 0, 0, now.Location())
			if !day.After(now) {
				continue
			}
			for _, d := range sc.Days {
				if day.Weekday() == d {
					return day
				}
			}
		}
		return now.AddDate(0, 0, 7)

	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, sc.At)
		if err != nil {
			return now.Add(time.Minute)
		}
		return t

	default:
		return now.Add(time.Hour)
	}
}

// RunNow executes a job immediately on the caller's goroutine and returns
// its error.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return s.execute(ctx, job)
}

// Job returns a snapshot of a job.
func (s *Scheduler) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs ordered by id.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:     s.started,
		TotalJobs:   len(s.jobs),
		RunningJobs: len(s.running),
		Timezone:    s.timezone.String(),
	}
	for _, job := range s.jobs {
		if job.Enabled {
			stats.EnabledJobs++
		}
		stats.TotalRuns += job.RunCount
		stats.TotalErrors += job.ErrorCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool   `json:"started"`
	TotalJobs   int    `json:"total_jobs"`
	EnabledJobs int    `json:"enabled_jobs"`
	RunningJobs int    `json:"running_jobs"`
	TotalRuns   int64  `json:"total_runs"`
	TotalErrors int64  `json:"total_errors"`
	Timezone    string `json:"timezone"`
}

// Common job builders

// Every creates a job that runs at a fixed interval
func Every(id, name string, interval time.Duration, handler Handler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}

// DailyAt creates a job that runs daily at a time of day ("15:04")
func DailyAt(id, name, at string, handler Handler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleDaily, At: at},
		Handler:  handler,
	}
}

// WeeklyAt creates a job that runs on specific days at a time of day
func WeeklyAt(id, name, at string, days []time.Weekday, handler Handler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleWeekly, At: at, Days: days},
		Handler:  handler,
	}
}

// Once creates a job that runs a single time
func Once(id, name string, at time.Time, handler Handler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleOnce, At: at.Format(time.RFC3339)},
		Handler:  handler,
	}
}
