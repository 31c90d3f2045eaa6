// Package app composes the cache, the behavioral memory engine and the
// notification engine into one application context, and implements the
// business flows that cross them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/cache"
	"github.com/weeklyplan/weeklyplan/internal/config"
	"github.com/weeklyplan/weeklyplan/internal/core"
	"github.com/weeklyplan/weeklyplan/internal/logging"
	"github.com/weeklyplan/weeklyplan/internal/memory"
	"github.com/weeklyplan/weeklyplan/internal/notifications"
	"github.com/weeklyplan/weeklyplan/internal/scheduler"
	"github.com/weeklyplan/weeklyplan/internal/storage"
	"github.com/weeklyplan/weeklyplan/internal/upstream"
)

// Job ids registered with the scheduler.
const (
	JobTaskCheck      = "task-check"
	JobReviewReminder = "review-reminder"
	JobTeamReview     = "team-review-reminder"
)

// Backend is the remote weekly-plan API. *upstream.Client implements it.
type Backend interface {
	Roles(ctx context.Context) ([]core.Role, error)
	TeamMembers(ctx context.Context) ([]core.User, error)
	MyTasks(ctx context.Context, p core.Period) ([]core.Task, error)
	DelayedTasks(ctx context.Context) ([]core.Task, error)
	Dashboard(ctx context.Context, kind core.DashboardKind, p core.Period) (core.Dashboard, error)
	PendingReviews(ctx context.Context, p core.Period) (int, error)
}

// Options overrides collaborators built from configuration.
type Options struct {
	Store    storage.KV
	Backend  Backend
	Platform notifications.Platform
	Logger   *logging.Logger
	Clock    func() time.Time
}

// App is the application context. It is constructed once and shared.
type App struct {
	Config        *config.Config
	Cache         *cache.Cache
	Memory        *memory.Engine
	Notifications *notifications.Service
	Backend       Backend
	Scheduler     *scheduler.Scheduler

	store storage.KV
	loc   *time.Location
	now   func() time.Time
	log   *logging.Logger
}

// New builds the application context from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger

	loc := time.Local
	if tz := cfg.Notifications.Timezone; tz != "" && tz != "Local" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("notifications.timezone: %w", err)
		}
		loc = l
	}
	dueDay, err := cfg.Notifications.Weekday()
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store, err = storage.OpenKV(storage.KVConfig{
			Backend: cfg.Storage.Backend,
			Path:    cfg.StoragePath(),
			Logger:  log,
		})
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	backend := opts.Backend
	if backend == nil {
		client, err := upstream.NewClient(upstream.Config{
			BaseURL: cfg.Upstream.BaseURL,
			Token:   cfg.Upstream.Token,
			Timeout: cfg.Upstream.Timeout.Std(),
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("upstream: %w", err)
		}
		backend = client
	}

	cacheOpts := []cache.Option{cache.WithTTL(cfg.Cache.TTL.Std()), cache.WithClock(opts.Clock)}
	if cfg.Cache.Coalesce {
		cacheOpts = append(cacheOpts, cache.WithCoalescing())
	}

	notifOpts := []notifications.Option{
		notifications.WithClock(opts.Clock),
		notifications.WithLogger(log.WithField("component", "notifications")),
		notifications.WithDueWarningDay(dueDay),
		notifications.WithLocation(loc),
	}
	if opts.Platform != nil {
		notifOpts = append(notifOpts, notifications.WithPlatform(opts.Platform))
	}

	sched, err := scheduler.New(scheduler.Config{
		Timezone: cfg.Notifications.Timezone,
		Logger:   log,
		Clock:    opts.Clock,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		Config: cfg,
		Cache:  cache.New(cacheOpts...),
		Memory: memory.New(memory.Config{
			Store:      store,
			StorageKey: cfg.Memory.StorageKey,
			Logger:     log,
			Clock:      opts.Clock,
		}),
		Notifications: notifications.NewService(notifOpts...),
		Backend:       backend,
		Scheduler:     sched,
		store:         store,
		loc:           loc,
		now:           opts.Clock,
		log:           log.WithField("component", "app"),
	}

	a.Notifications.Subscribe(unreadSync{a.Memory})

	if err := a.registerJobs(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// unreadSync mirrors the feed's unread count into system memory.
type unreadSync struct {
	mem *memory.Engine
}

func (u unreadSync) ID() string { return "memory-unread-sync" }

func (u unreadSync) Send(ev notifications.Event) error {
	u.mem.SetUnreadNotifications(ev.UnreadCount)
	return nil
}

func (a *App) registerJobs() error {
	n := a.Config.Notifications

	jobs := []*scheduler.Job{
		scheduler.Every(JobTaskCheck, "Task notification check", n.CheckInterval.Std(), func(ctx context.Context) error {
			_, err := a.CheckTasks(ctx)
			return err
		}),
		scheduler.WeeklyAt(JobReviewReminder, "Weekly review reminder", n.ReviewReminderAt,
			[]time.Weekday{a.Notifications.DueWarningDay()}, func(ctx context.Context) error {
				a.ReviewReminder()
				return nil
			}),
	}
	if n.TeamReviews {
		jobs = append(jobs, scheduler.DailyAt(JobTeamReview, "Team review reminder", n.TeamReviewAt, func(ctx context.Context) error {
			_, err := a.TeamReviewReminder(ctx)
			return err
		}))
	}

	for _, job := range jobs {
		if err := a.Scheduler.Register(job); err != nil {
			return fmt.Errorf("register %s: %w", job.ID, err)
		}
	}
	return nil
}

// Start initializes memory (one session) and starts the scheduler.
func (a *App) Start(ctx context.Context) error {
	a.Memory.Initialize(ctx)
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	a.log.Info("weekly plan companion started")
	return nil
}

// Close stops the scheduler, ends the memory session and closes storage.
func (a *App) Close() error {
	a.Scheduler.Stop()
	a.Memory.UpdateSystemMemory(context.Background(), memory.EventSessionEnd, nil)
	return a.store.Close()
}

// CurrentPeriod is the ISO week of the clock in the configured timezone.
func (a *App) CurrentPeriod() core.Period {
	return core.PeriodOf(a.now().In(a.loc))
}

// -----------------------------------------------------------------------------
// Cached reads
// -----------------------------------------------------------------------------

// Roles returns roles through the cache.
func (a *App) Roles(ctx context.Context) ([]core.Role, error) {
	return cache.Roles(ctx, a.Cache, a.Backend.Roles)
}

// TeamMembers returns the roster through the cache.
func (a *App) TeamMembers(ctx context.Context) ([]core.User, error) {
	return cache.TeamMembers(ctx, a.Cache, a.Backend.TeamMembers)
}

// Tasks returns a period's tasks through the cache.
func (a *App) Tasks(ctx context.Context, p core.Period) ([]core.Task, error) {
	return cache.Tasks(ctx, a.Cache, p.String(), func(ctx context.Context) ([]core.Task, error) {
		return a.Backend.MyTasks(ctx, p)
	})
}

// RefreshTasks drops the cached tasks for p and fetches them again.
func (a *App) RefreshTasks(ctx context.Context, p core.Period) ([]core.Task, error) {
	a.Cache.InvalidateTasks(p.String())
	return a.Tasks(ctx, p)
}

// DelayedTasks returns the delayed tasks through the cache.
func (a *App) DelayedTasks(ctx context.Context) ([]core.Task, error) {
	return cache.DelayedTasks(ctx, a.Cache, a.Backend.DelayedTasks)
}

// Dashboard returns the employee dashboard of the current period through
// the cache.
func (a *App) Dashboard(ctx context.Context) (core.Dashboard, error) {
	p := a.CurrentPeriod()
	return cache.Dashboard(ctx, a.Cache, func(ctx context.Context) (core.Dashboard, error) {
		return a.Backend.Dashboard(ctx, core.DashboardEmployee, p)
	})
}

// -----------------------------------------------------------------------------
// Business flows
// -----------------------------------------------------------------------------

// CheckTasks runs the task notification rules over the current period's
// cached tasks. The unread count reaches memory through the feed
// subscription.
func (a *App) CheckTasks(ctx context.Context) ([]notifications.Notification, error) {
	tasks, err := a.Tasks(ctx, a.CurrentPeriod())
	if err != nil {
		return nil, fmt.Errorf("check tasks: %w", err)
	}
	return a.Notifications.CheckTaskNotifications(tasks), nil
}

// CheckDelayed reads the cached delayed tasks, records the check in memory and sends
// an urgent reminder for each delayed task without an unread one.
func (a *App) CheckDelayed(ctx context.Context) ([]notifications.Notification, error) {
	tasks, err := a.DelayedTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("check delayed: %w", err)
	}

	a.Memory.RecordHistory(ctx, memory.ActionCheckDelayed, memory.GenericPayload{"count": float64(len(tasks))}, "")

	var sent []notifications.Notification
	for _, t := range tasks {
		if a.Notifications.Has(notifications.TaskKey(t.ID), notifications.TypeTaskDelayed) {
			continue
		}
		n, err := a.Notifications.SendTaskReminder(ctx, t, notifications.ReminderDelayed)
		if err != nil {
			return sent, err
		}
		sent = append(sent, n)
	}
	return sent, nil
}

// ReviewReminder adds the weekly review reminder for the current period.
func (a *App) ReviewReminder() (notifications.Notification, bool) {
	return a.Notifications.AddReviewReminder(a.CurrentPeriod())
}

// TeamReviewReminder asks the backend how many team reviews are pending and
// adds a reminder when there are any.
func (a *App) TeamReviewReminder(ctx context.Context) (int, error) {
	count, err := a.Backend.PendingReviews(ctx, a.CurrentPeriod())
	if err != nil {
		return 0, fmt.Errorf("team review reminder: %w", err)
	}
	a.Notifications.AddTeamReviewReminder(count)
	return count, nil
}

// Mutation names what changed on the backend.
type Mutation string

const (
	MutationTask Mutation = "task"
	MutationRole Mutation = "role"
	MutationTeam Mutation = "team"
	MutationAll  Mutation = "all"
)

// ErrUnknownMutation is returned by InvalidateAfterMutation.
var ErrUnknownMutation = errors.New("unknown mutation")

// InvalidateAfterMutation drops the cache entries a backend write affects.
// A task write invalidates its period (all periods when p is zero), the
// delayed tasks and the dashboard.
func (a *App) InvalidateAfterMutation(m Mutation, p core.Period) error {
	switch m {
	case MutationTask:
		key := ""
		if !p.IsZero() {
			key = p.String()
		}
		a.Cache.InvalidateTasks(key)
		a.Cache.InvalidateDelayedTasks()
		a.Cache.InvalidateDashboard()
	case MutationRole:
		a.Cache.InvalidateRoles()
	case MutationTeam:
		a.Cache.InvalidateTeamMembers()
		a.Cache.InvalidateDashboard()
	case MutationAll:
		a.Cache.ClearAll()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMutation, m)
	}
	a.log.Debug("cache invalidated after %s mutation", m)
	return nil
}
