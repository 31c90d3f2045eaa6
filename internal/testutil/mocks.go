package testutil

import (
	"context"
	"sync"

	"github.com/weeklyplan/weeklyplan/internal/core"
)

// FakeBackend is an in-process weekly plan backend that counts calls.
// Calls are keyed roles, team, tasks:<period>, delayed, dashboard and reviews.
// Set the exported fields before handing it to the code under test.
type FakeBackend struct {
	Tasks   []core.Task
	Delayed []core.Task
	Pending int
	Err     error

	mu    sync.Mutex
	calls map[string]int
}

func (f *FakeBackend) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
	return f.Err
}

// SetErr makes every following call fail with err (nil to recover).
func (f *FakeBackend) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Calls returns how often the named endpoint was hit.
func (f *FakeBackend) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *FakeBackend) Roles(ctx context.Context) ([]core.Role, error) {
	if err := f.hit("roles"); err != nil {
		return nil, err
	}
	return []core.Role{{ID: 1, Name: "开发", IsActive: true}}, nil
}

func (f *FakeBackend) TeamMembers(ctx context.Context) ([]core.User, error) {
	if err := f.hit("team"); err != nil {
		return nil, err
	}
	return []core.User{{ID: 1, Username: "zhang"}}, nil
}

func (f *FakeBackend) MyTasks(ctx context.Context, p core.Period) ([]core.Task, error) {
	if err := f.hit("tasks:" + p.String()); err != nil {
		return nil, err
	}
	var out []core.Task
	for _, t := range f.Tasks {
		if t.InPeriod(p) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeBackend) DelayedTasks(ctx context.Context) ([]core.Task, error) {
	if err := f.hit("delayed"); err != nil {
		return nil, err
	}
	return f.Delayed, nil
}

func (f *FakeBackend) Dashboard(ctx context.Context, kind core.DashboardKind, p core.Period) (core.Dashboard, error) {
	if err := f.hit("dashboard"); err != nil {
		return nil, err
	}
	return core.Dashboard(`{"period":"` + p.String() + `"}`), nil
}

func (f *FakeBackend) PendingReviews(ctx context.Context, p core.Period) (int, error) {
	if err := f.hit("reviews"); err != nil {
		return 0, err
	}
	return f.Pending, nil
}
