package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/logging"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(Config{Timezone: "UTC", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func noop(ctx context.Context) error { return nil }

func TestNew(t *testing.T) {
	t.Run("valid timezone", func(t *testing.T) {
		s, err := New(Config{Timezone: "Asia/Shanghai", Logger: logging.Discard()})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if got := s.Stats().Timezone; got != "Asia/Shanghai" {
			t.Errorf("Timezone = %q", got)
		}
	})

	t.Run("default is local", func(t *testing.T) {
		s, err := New(DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		if s.timezone != time.Local {
			t.Error("expected time.Local")
		}
	})

	t.Run("invalid timezone", func(t *testing.T) {
		if _, err := New(Config{Timezone: "Invalid/Zone"}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestScheduler_Register(t *testing.T) {
	tests := []struct {
		name    string
		job     *Job
		wantErr bool
	}{
		{"interval", Every("a", "A", time.Minute, noop), false},
		{"daily", DailyAt("b", "B", "09:00", noop), false},
		{"weekly", WeeklyAt("c", "C", "17:00", []time.Weekday{time.Friday}, noop), false},
		{"once", Once("d", "D", time.Now().Add(time.Hour), noop), false},
		{"missing id", Every("", "X", time.Minute, noop), true},
		{"missing handler", Every("e", "E", time.Minute, nil), true},
		{"zero interval", Every("f", "F", 0, noop), true},
		{"bad time of day", DailyAt("g", "G", "9am", noop), true},
		{"weekly without days", WeeklyAt("h", "H", "17:00", nil, noop), true},
		{"unknown type", &Job{ID: "i", Handler: noop, Schedule: Schedule{Type: "cron"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t)
			err := s.Register(tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			job, ok := s.Job(tt.job.ID)
			if !ok {
				t.Fatal("job not registered")
			}
			if job.Timeout != DefaultTimeout || !job.Enabled || job.NextRun == nil {
				t.Errorf("defaults not applied: %+v", job)
			}
		})
	}
}

func TestScheduler_RegisterDuplicate(t *testing.T) {
	s := newTestScheduler(t)
	s.Register(Every("a", "A", time.Minute, noop))
	if err := s.Register(Every("a", "A", time.Minute, noop)); err == nil {
		t.Error("duplicate id should fail")
	}
}

func TestScheduler_EnableDisable(t *testing.T) {
	s := newTestScheduler(t)
	s.Register(Every("a", "A", time.Hour, noop))
	s.Start()

	if err := s.Disable("a"); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.EnabledJobs != 0 || st.RunningJobs != 0 {
		t.Errorf("after Disable: %+v", st)
	}
	if err := s.Enable("a"); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.EnabledJobs != 1 || st.RunningJobs != 1 {
		t.Errorf("after Enable: %+v", st)
	}

	if err := s.Enable("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Enable(missing) error = %v", err)
	}
	if err := s.Disable("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Disable(missing) error = %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler(t)
	s.Register(Every("a", "A", time.Hour, noop))

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if !s.Stats().Started {
		t.Error("expected started")
	}

	s.Stop()
	s.Stop()
	if st := s.Stats(); st.Started || st.RunningJobs != 0 {
		t.Errorf("after Stop: %+v", st)
	}

	if err := s.Start(); err != nil {
		t.Errorf("restart error = %v", err)
	}
}

func TestScheduler_Unregister(t *testing.T) {
	s := newTestScheduler(t)
	s.Register(Every("a", "A", time.Hour, noop))
	s.Start()

	s.Unregister("a")
	s.Unregister("missing")

	if _, ok := s.Job("a"); ok {
		t.Error("job still registered")
	}
	if st := s.Stats(); st.TotalJobs != 0 || st.RunningJobs != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(t)
	boom := errors.New("boom")
	fail := true
	s.Register(Every("a", "A", time.Hour, func(ctx context.Context) error {
		if fail {
			return boom
		}
		return nil
	}))

	if err := s.RunNow(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("RunNow() error = %v, want boom", err)
	}
	job, _ := s.Job("a")
	if job.RunCount != 1 || job.ErrorCount != 1 || job.LastError != "boom" || job.LastRun == nil {
		t.Errorf("after failure: %+v", job)
	}

	fail = false
	s.RunNow(context.Background(), "a")
	job, _ = s.Job("a")
	if job.RunCount != 2 || job.ErrorCount != 1 || job.LastError != "" {
		t.Errorf("after success: %+v", job)
	}

	if st := s.Stats(); st.TotalRuns != 2 || st.TotalErrors != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(missing) error = %v", err)
	}
}

func TestScheduler_RunNowTimeout(t *testing.T) {
	s := newTestScheduler(t)
	job := Every("slow", "Slow", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	job.Timeout = 10 * time.Millisecond
	s.Register(job)

	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunNow() error = %v, want deadline exceeded", err)
	}
}

func TestScheduler_IntervalExecution(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	s.Register(Every("tick", "Tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if runs.Load() < 3 {
		t.Errorf("runs = %d, want at least 3", runs.Load())
	}
}

func TestScheduler_OnceExecution(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan struct{})
	s.Register(Once("once", "Once", time.Now().Add(-time.Second), func(ctx context.Context) error {
		close(done)
		return nil
	}))
	s.Start()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("once job did not run")
	}

	deadline := time.Now().Add(time.Second)
	for s.Stats().RunningJobs != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.Job("once")
	if job.Enabled || job.RunCount != 1 {
		t.Errorf("once job after run: %+v", job)
	}
}

func TestNextRun(t *testing.T) {
	// Friday 2025-03-14 10:00 UTC
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sc   Schedule
		want time.Time
	}{
		{"interval", Schedule{Type: ScheduleInterval, Interval: 5 * time.Minute}, now.Add(5 * time.Minute)},
		{"daily later today", Schedule{Type: ScheduleDaily, At: "17:00"}, time.Date(2025, 3, 14, 17, 0, 0, 0, time.UTC)},
		{"daily tomorrow", Schedule{Type: ScheduleDaily, At: "09:00"}, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)},
		{"daily exactly now", Schedule{Type: ScheduleDaily, At: "10:00"}, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)},
		{"weekly today", Schedule{Type: ScheduleWeekly, At: "17:00", Days: []time.Weekday{time.Friday}}, time.Date(2025, 3, 14, 17, 0, 0, 0, time.UTC)},
		{"weekly next week", Schedule{Type: ScheduleWeekly, At: "09:00", Days: []time.Weekday{time.Friday}}, time.Date(2025, 3, 21, 9, 0, 0, 0, time.UTC)},
		{"weekly earliest day", Schedule{Type: ScheduleWeekly, At: "09:00", Days: []time.Weekday{time.Wednesday, time.Monday}}, time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)},
		{"once", Schedule{Type: ScheduleOnce, At: "2025-04-01T08:00:00Z"}, time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.sc, now); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_ListJobs(t *testing.T) {
	s := newTestScheduler(t)
	s.Register(Every("b", "B", time.Hour, noop))
	s.Register(Every("a", "A", time.Hour, noop))

	jobs := s.ListJobs()
	if len(jobs) != 2 || jobs[0].ID != "a" || jobs[1].ID != "b" {
		t.Errorf("ListJobs() = %+v", jobs)
	}
}
