package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func countingFetch[T any](v T, calls *int32) FetchFunc[T] {
	return func(ctx context.Context) (T, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestGetOrFetch_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	fetch := countingFetch([]string{"employee", "manager"}, &calls)

	got, err := Roles(ctx, c, fetch)
	if err != nil {
		t.Fatalf("Roles() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"employee", "manager"}) {
		t.Errorf("Roles() = %v", got)
	}

	clock.Advance(DefaultTTL - time.Nanosecond)
	if _, err := Roles(ctx, c, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("fetch calls just before TTL = %d, want 1", calls)
	}

	clock.Advance(time.Nanosecond)
	if _, err := Roles(ctx, c, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch calls at TTL = %d, want 2", calls)
	}

	stats := c.Stats()
	if stats.Roles.Timestamp == nil || !stats.Roles.Timestamp.Equal(clock.Now()) {
		t.Errorf("entry timestamp = %v, want refreshed to %v", stats.Roles.Timestamp, clock.Now())
	}
}

func TestGetOrFetch_ErrorNotCached(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	ctx := context.Background()
	boom := errors.New("upstream 502")

	_, err := Dashboard(ctx, c, func(ctx context.Context) (map[string]int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if c.Stats().Dashboard.Cached {
		t.Error("failed fetch must not populate the cache")
	}

	var calls int32
	Dashboard(ctx, c, countingFetch(map[string]int{"total": 3}, &calls))
	firstStamp := *c.Stats().Dashboard.Timestamp

	clock.Advance(DefaultTTL)
	_, err = Dashboard(ctx, c, func(ctx context.Context) (map[string]int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if ts := c.Stats().Dashboard.Timestamp; ts == nil || !ts.Equal(firstStamp) {
		t.Errorf("failed refetch altered entry: timestamp %v, want %v", ts, firstStamp)
	}
}

func TestTasks_KeyedByPeriod(t *testing.T) {
	c := New(WithClock(newFakeClock().Now))
	ctx := context.Background()

	var calls int32
	week10 := PeriodKey(2025, 10)
	week11 := PeriodKey(2025, 11)

	Tasks(ctx, c, week10, countingFetch([]int{1, 2}, &calls))
	Tasks(ctx, c, week11, countingFetch([]int{3}, &calls))
	got, _ := Tasks(ctx, c, week10, countingFetch([]int{99}, &calls))

	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("Tasks(week10) = %v, want cached [1 2]", got)
	}

	stats := c.Stats()
	if stats.Tasks.Count != 2 || !reflect.DeepEqual(stats.Tasks.Keys, []string{"2025-10", "2025-11"}) {
		t.Errorf("task stats = %+v", stats.Tasks)
	}

	c.InvalidateTasks(week10)
	if keys := c.Stats().Tasks.Keys; !reflect.DeepEqual(keys, []string{"2025-11"}) {
		t.Errorf("after single invalidate keys = %v", keys)
	}

	c.InvalidateTasks("")
	if c.Stats().Tasks.Count != 0 {
		t.Error("empty key should clear every period")
	}
}

func TestInvalidate_Idempotent(t *testing.T) {
	empty := New().Stats()

	tests := []struct {
		name string
		fn   func(c *Cache)
	}{
		{"roles", func(c *Cache) { c.InvalidateRoles() }},
		{"team members", func(c *Cache) { c.InvalidateTeamMembers() }},
		{"dashboard", func(c *Cache) { c.InvalidateDashboard() }},
		{"delayed tasks", func(c *Cache) { c.InvalidateDelayedTasks() }},
		{"one period", func(c *Cache) { c.InvalidateTasks("2025-1") }},
		{"all periods", func(c *Cache) { c.InvalidateTasks("") }},
		{"clear all", func(c *Cache) { c.ClearAll() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			tt.fn(c)
			tt.fn(c)
			if got := c.Stats(); !reflect.DeepEqual(got, empty) {
				t.Errorf("Stats() = %+v, want empty %+v", got, empty)
			}
		})
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	c := New()
	ctx := context.Background()
	var calls int32

	TeamMembers(ctx, c, countingFetch([]string{"li"}, &calls))
	c.InvalidateTeamMembers()
	TeamMembers(ctx, c, countingFetch([]string{"li"}, &calls))

	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestClearAll(t *testing.T) {
	c := New()
	ctx := context.Background()
	var calls int32

	Roles(ctx, c, countingFetch(1, &calls))
	TeamMembers(ctx, c, countingFetch(2, &calls))
	Tasks(ctx, c, "2025-1", countingFetch(3, &calls))
	Dashboard(ctx, c, countingFetch(4, &calls))
	DelayedTasks(ctx, c, countingFetch(5, &calls))

	c.ClearAll()

	if got := c.Stats(); !reflect.DeepEqual(got, New().Stats()) {
		t.Errorf("Stats() after ClearAll = %+v", got)
	}
}

func TestGetOrFetch_UnknownCategory(t *testing.T) {
	c := New()
	_, err := GetOrFetch(context.Background(), c, Category("reports"), "", countingFetch(1, new(int32)))
	if err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestGetOrFetch_ConcurrentMissesBothFetch(t *testing.T) {
	c := New()
	ctx := context.Background()

	var calls int32
	var arrived sync.WaitGroup
	arrived.Add(2)
	fetch := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		arrived.Done()
		arrived.Wait()
		return int(n), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Roles(ctx, c, fetch)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent misses did not both reach fetch")
	}

	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 without coalescing", calls)
	}
}

func TestGetOrFetch_Coalescing(t *testing.T) {
	c := New(WithCoalescing())
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []string{"a"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Roles(ctx, c, fetch)
		}(i)
	}

	// Let every caller join the in-flight fetch before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 with coalescing", calls)
	}
	for i, r := range results {
		if !reflect.DeepEqual(r, []string{"a"}) {
			t.Errorf("caller %d got %v", i, r)
		}
	}
}

func TestWithTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(WithTTL(time.Second), WithClock(clock.Now))
	ctx := context.Background()
	var calls int32

	if c.TTL() != time.Second {
		t.Errorf("TTL() = %v", c.TTL())
	}

	Dashboard(ctx, c, countingFetch(1, &calls))
	clock.Advance(time.Second)
	Dashboard(ctx, c, countingFetch(1, &calls))

	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}
