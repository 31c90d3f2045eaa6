package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/core"
	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// mockSubscriber implements Subscriber interface for testing
type mockSubscriber struct {
	id     string
	events []Event
	mu     sync.Mutex
}

func newMockSubscriber(id string) *mockSubscriber {
	return &mockSubscriber{id: id}
}

func (m *mockSubscriber) Send(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockSubscriber) ID() string {
	return m.id
}

func (m *mockSubscriber) received() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Event, len(m.events))
	copy(result, m.events)
	return result
}

// fakePlatform records native notifications.
type fakePlatform struct {
	mu        sync.Mutex
	supported bool
	perm      Permission
	answer    Permission
	prompts   int
	shown     []NativeOptions
	closed    []string
	showErr   error
}

func (p *fakePlatform) Supported() bool { return p.supported }

func (p *fakePlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm
}

func (p *fakePlatform) RequestPermission(ctx context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts++
	p.perm = p.answer
	return p.answer, nil
}

func (p *fakePlatform) Show(ctx context.Context, opts NativeOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.showErr != nil {
		return p.showErr
	}
	p.shown = append(p.shown, opts)
	return nil
}

func (p *fakePlatform) Close(tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, tag)
	return nil
}

// friday is 2025-03-14 10:00 UTC, ISO week 11 of 2025.
var friday = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// createTestService creates a notification service for testing
func createTestService(t *testing.T, opts ...Option) (*Service, *testClock) {
	t.Helper()

	clock := &testClock{now: friday}
	seq := 0
	base := []Option{
		WithClock(clock.Now),
		WithLogger(logging.Discard()),
		WithLocation(time.UTC),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("n-%03d", seq)
		}),
	}
	return NewService(append(base, opts...)...), clock
}

func grantedPlatform() *fakePlatform {
	return &fakePlatform{supported: true, perm: PermissionGranted}
}

// -----------------------------------------------------------------------------
// Feed
// -----------------------------------------------------------------------------

func TestService_AddDefaults(t *testing.T) {
	svc, _ := createTestService(t)

	n := svc.Add(Spec{Title: "hello"})

	if n.Type != TypeSystem {
		t.Errorf("Type = %q, want system", n.Type)
	}
	if n.Priority != PriorityNormal {
		t.Errorf("Priority = %q, want normal", n.Priority)
	}
	if n.Read || n.ReadAt != nil {
		t.Error("new notification should be unread")
	}
	if !n.CreatedAt.Equal(friday) {
		t.Errorf("CreatedAt = %v, want %v", n.CreatedAt, friday)
	}
	if n.ID == "" {
		t.Error("expected id")
	}
}

func TestService_AddPrependsAndCaps(t *testing.T) {
	svc, _ := createTestService(t)

	for i := 0; i < MaxNotifications+5; i++ {
		svc.Add(Spec{Title: fmt.Sprintf("t%d", i)})
	}

	all := svc.List(Filter{})
	if len(all) != MaxNotifications {
		t.Fatalf("feed len = %d, want %d", len(all), MaxNotifications)
	}
	if all[0].Title != "t104" {
		t.Errorf("newest = %q, want t104", all[0].Title)
	}
	if all[len(all)-1].Title != "t5" {
		t.Errorf("oldest kept = %q, want t5", all[len(all)-1].Title)
	}
}

func TestService_DefaultIDsAreUUIDv7(t *testing.T) {
	svc := NewService(WithLogger(logging.Discard()))

	a := svc.Add(Spec{Title: "a"})
	b := svc.Add(Spec{Title: "b"})

	if a.ID == b.ID {
		t.Fatal("ids should be unique")
	}
	if len(a.ID) != 36 || a.ID[14] != '7' {
		t.Errorf("id %q is not a v7 uuid", a.ID)
	}
}

func TestService_MarkAsRead(t *testing.T) {
	svc, clock := createTestService(t)
	n := svc.Add(Spec{Title: "x"})

	clock.Set(friday.Add(time.Minute))
	if err := svc.MarkAsRead(n.ID); err != nil {
		t.Fatalf("MarkAsRead() error = %v", err)
	}

	got, _ := svc.Get(n.ID)
	if !got.Read || got.ReadAt == nil || !got.ReadAt.Equal(friday.Add(time.Minute)) {
		t.Errorf("after MarkAsRead: %+v", got)
	}
	if svc.UnreadCount() != 0 {
		t.Errorf("UnreadCount = %d, want 0", svc.UnreadCount())
	}

	if err := svc.MarkAsRead("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkAsRead(missing) error = %v, want ErrNotFound", err)
	}
}

func TestService_MarkAllAsRead(t *testing.T) {
	svc, _ := createTestService(t)
	a := svc.Add(Spec{Title: "a"})
	svc.Add(Spec{Title: "b"})
	svc.Add(Spec{Title: "c"})
	svc.MarkAsRead(a.ID)

	if changed := svc.MarkAllAsRead(); changed != 2 {
		t.Errorf("MarkAllAsRead() = %d, want 2", changed)
	}
	if svc.UnreadCount() != 0 {
		t.Error("expected no unread")
	}
	if changed := svc.MarkAllAsRead(); changed != 0 {
		t.Errorf("second MarkAllAsRead() = %d, want 0", changed)
	}
}

func TestService_RemoveAndClear(t *testing.T) {
	svc, _ := createTestService(t)
	a := svc.Add(Spec{Title: "a"})
	b := svc.Add(Spec{Title: "b"})
	svc.Add(Spec{Title: "c"})

	if err := svc.Remove(a.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := svc.Get(a.ID); !errors.Is(err, ErrNotFound) {
		t.Error("removed notification still present")
	}
	if err := svc.Remove(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v", err)
	}

	svc.MarkAsRead(b.ID)
	if removed := svc.ClearRead(); removed != 1 {
		t.Errorf("ClearRead() = %d, want 1", removed)
	}
	if got := svc.List(Filter{}); len(got) != 1 || got[0].Title != "c" {
		t.Errorf("after ClearRead: %+v", got)
	}

	svc.ClearAll()
	if len(svc.List(Filter{})) != 0 {
		t.Error("ClearAll left entries")
	}
}

func TestService_FeedMaintenanceDoesNotTouchPlatform(t *testing.T) {
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p))

	n := svc.Add(Spec{Title: "a"})
	svc.MarkAsRead(n.ID)
	svc.MarkAllAsRead()
	svc.ClearRead()
	svc.Add(Spec{Title: "b"})
	svc.ClearAll()

	if len(p.shown) != 0 || len(p.closed) != 0 || p.prompts != 0 {
		t.Errorf("platform was called: shown=%d closed=%d prompts=%d", len(p.shown), len(p.closed), p.prompts)
	}
}

func TestService_List(t *testing.T) {
	svc, _ := createTestService(t)
	svc.Add(Spec{Type: TypeSystem, Priority: PriorityLow, Title: "low"})
	urgent := svc.Add(Spec{Type: TypeTaskDelayed, Priority: PriorityUrgent, Title: "urgent"})
	svc.Add(Spec{Type: TypeTaskDue, Priority: PriorityHigh, Title: "high"})
	svc.MarkAsRead(urgent.ID)

	unread := false
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"high", "urgent", "low"}},
		{"by type", Filter{Type: TypeTaskDue}, []string{"high"}},
		{"min priority", Filter{MinPriority: PriorityHigh}, []string{"high", "urgent"}},
		{"unread", Filter{Read: &unread}, []string{"high", "low"}},
		{"limit", Filter{Limit: 2}, []string{"high", "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var titles []string
			for _, n := range svc.List(tt.filter) {
				titles = append(titles, n.Title)
			}
			if fmt.Sprint(titles) != fmt.Sprint(tt.want) {
				t.Errorf("List() = %v, want %v", titles, tt.want)
			}
		})
	}
}

func TestService_Stats(t *testing.T) {
	svc, _ := createTestService(t)

	if s := svc.Stats(); s.Total != 0 || s.LastCreated != nil {
		t.Errorf("empty Stats() = %+v", s)
	}

	a := svc.Add(Spec{Type: TypeTaskDue, Priority: PriorityHigh})
	svc.Add(Spec{Type: TypeTaskDue})
	svc.Add(Spec{})
	svc.MarkAsRead(a.ID)

	s := svc.Stats()
	if s.Total != 3 || s.Unread != 2 {
		t.Errorf("Total/Unread = %d/%d, want 3/2", s.Total, s.Unread)
	}
	if s.ByType[TypeTaskDue] != 2 || s.ByType[TypeSystem] != 1 {
		t.Errorf("ByType = %v", s.ByType)
	}
	if s.ByPriority[PriorityNormal] != 2 || s.ByPriority[PriorityHigh] != 1 {
		t.Errorf("ByPriority = %v", s.ByPriority)
	}
	if s.LastCreated == nil {
		t.Error("expected LastCreated")
	}
}

// -----------------------------------------------------------------------------
// Dedup and emitters
// -----------------------------------------------------------------------------

func task(id int64, status core.TaskStatus) core.Task {
	return core.Task{ID: id, Title: fmt.Sprintf("task %d", id), Status: status, Year: 2025, WeekNumber: 11}
}

func TestCheckTaskNotifications_DelayedDedup(t *testing.T) {
	svc, clock := createTestService(t)
	clock.Set(friday.AddDate(0, 0, -2)) // Wednesday: no due warnings
	tasks := []core.Task{task(42, core.TaskDelayed)}

	first := svc.CheckTaskNotifications(tasks)
	if len(first) != 1 || first[0].Type != TypeTaskDelayed || first[0].Priority != PriorityHigh {
		t.Fatalf("first pass = %+v", first)
	}
	if first[0].Message != "任务\"task 42\"已延期，请尽快处理" {
		t.Errorf("Message = %q", first[0].Message)
	}

	if again := svc.CheckTaskNotifications(tasks); len(again) != 0 {
		t.Errorf("second pass added %d, want 0", len(again))
	}
	if !svc.Has(TaskKey(42), TypeTaskDelayed) {
		t.Error("Has() should see the unread notification")
	}

	svc.MarkAsRead(first[0].ID)
	if svc.Has(TaskKey(42), TypeTaskDelayed) {
		t.Error("read notification should not block")
	}
	if third := svc.CheckTaskNotifications(tasks); len(third) != 1 {
		t.Errorf("after read, pass added %d, want 1", len(third))
	}
	if got := len(svc.List(Filter{Type: TypeTaskDelayed})); got != 2 {
		t.Errorf("task_delayed entries = %d, want 2", got)
	}
}

func TestCheckTaskNotifications_DueWarningDay(t *testing.T) {
	key := task(7, core.TaskInProgress)
	key.IsKeyTask = true
	other := task(8, core.TaskTodo)
	done := task(9, core.TaskCompleted)
	lastWeek := task(10, core.TaskTodo)
	lastWeek.WeekNumber = 10

	tasks := []core.Task{key, other, done, lastWeek}

	tests := []struct {
		name string
		now  time.Time
		day  time.Weekday
		want map[int64]Priority
	}{
		{"friday", friday, time.Friday, map[int64]Priority{7: PriorityHigh, 8: PriorityNormal}},
		{"thursday", friday.AddDate(0, 0, -1), time.Friday, map[int64]Priority{}},
		{"configured thursday", friday.AddDate(0, 0, -1), time.Thursday, map[int64]Priority{7: PriorityHigh, 8: PriorityNormal}},
		{"next friday", friday.AddDate(0, 0, 7), time.Friday, map[int64]Priority{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, clock := createTestService(t, WithDueWarningDay(tt.day))
			clock.Set(tt.now)

			added := svc.CheckTaskNotifications(tasks)

			got := map[int64]Priority{}
			for _, n := range added {
				if n.Type != TypeTaskDue {
					t.Errorf("unexpected type %q", n.Type)
				}
				got[n.Data.(TaskPayload).TaskID] = n.Priority
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("added = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckTaskNotifications_Location(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	newYork := time.FixedZone("EDT", -4*3600)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want int
	}{
		// Thursday 22:00 UTC is Friday 06:00 in Shanghai.
		{"shanghai friday morning", time.Date(2025, 3, 13, 22, 0, 0, 0, time.UTC), shanghai, 1},
		{"utc thursday night", time.Date(2025, 3, 13, 22, 0, 0, 0, time.UTC), time.UTC, 0},
		// Saturday 02:00 UTC is still Friday evening in New York.
		{"new york friday evening", time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC), newYork, 1},
		{"utc saturday", time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC), time.UTC, 0},
		// Monday 01:00 in Shanghai is week 12; the week 11 task is out of period.
		{"shanghai next week", time.Date(2025, 3, 16, 17, 0, 0, 0, time.UTC), shanghai, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, clock := createTestService(t, WithLocation(tt.loc))
			clock.Set(tt.now)

			added := svc.CheckTaskNotifications([]core.Task{task(8, core.TaskTodo)})
			if len(added) != tt.want {
				t.Errorf("added %d task_due, want %d", len(added), tt.want)
			}
		})
	}
}

func TestCheckTaskNotifications_DelayedAndDue(t *testing.T) {
	svc, _ := createTestService(t)

	added := svc.CheckTaskNotifications([]core.Task{task(1, core.TaskDelayed)})

	if len(added) != 2 {
		t.Fatalf("added %d, want delayed + due", len(added))
	}
	if added[0].Type != TypeTaskDelayed || added[1].Type != TypeTaskDue {
		t.Errorf("types = %s, %s", added[0].Type, added[1].Type)
	}
	if added[1].Message != "任务\"task 1\"本周尚未完成" {
		t.Errorf("due Message = %q", added[1].Message)
	}
}

func TestAddReviewReminder(t *testing.T) {
	svc, _ := createTestService(t)
	period := core.Period{Year: 2025, Week: 11}

	n, ok := svc.AddReviewReminder(period)
	if !ok {
		t.Fatal("first reminder should be added")
	}
	if n.Priority != PriorityHigh || n.Message != "第11周的工作计划需要进行复盘" {
		t.Errorf("reminder = %+v", n)
	}
	if p := n.Data.(ReviewPayload); p.NotificationKey != "review_2025_11" {
		t.Errorf("NotificationKey = %q", p.NotificationKey)
	}

	if _, ok := svc.AddReviewReminder(period); ok {
		t.Error("duplicate unread reminder should be skipped")
	}
	if _, ok := svc.AddReviewReminder(core.Period{Year: 2025, Week: 12}); !ok {
		t.Error("other period should be added")
	}

	svc.MarkAsRead(n.ID)
	if _, ok := svc.AddReviewReminder(period); !ok {
		t.Error("reminder should be re-added after read")
	}
}

func TestAddTeamReviewReminder(t *testing.T) {
	svc, _ := createTestService(t)

	if _, ok := svc.AddTeamReviewReminder(3); !ok {
		t.Fatal("count 3 should add")
	}
	if _, ok := svc.AddTeamReviewReminder(0); ok {
		t.Error("count 0 should be a no-op")
	}

	team := svc.List(Filter{Type: TypeTeamReview})
	if len(team) != 1 {
		t.Fatalf("team_review entries = %d, want 1", len(team))
	}
	if team[0].Message != "有3位团队成员的周报待审阅" {
		t.Errorf("Message = %q", team[0].Message)
	}

	svc.AddTeamReviewReminder(3)
	if got := len(svc.List(Filter{Type: TypeTeamReview})); got != 2 {
		t.Errorf("team_review entries = %d, want 2 (no dedup)", got)
	}
}

func TestAddSystemNotification(t *testing.T) {
	svc, _ := createTestService(t)

	n := svc.AddSystemNotification("维护", "今晚维护")
	if n.Type != TypeSystem || n.Priority != PriorityNormal || n.Title != "维护" || n.Message != "今晚维护" {
		t.Errorf("AddSystemNotification() = %+v", n)
	}
}

// -----------------------------------------------------------------------------
// Platform
// -----------------------------------------------------------------------------

func TestPermission_StateMachine(t *testing.T) {
	tests := []struct {
		name        string
		platform    *fakePlatform
		wantGranted bool
		wantState   Permission
		wantPrompts int
	}{
		{"unsupported", nil, false, PermissionDefault, 0},
		{"default to granted", &fakePlatform{supported: true, perm: PermissionDefault, answer: PermissionGranted}, true, PermissionGranted, 1},
		{"default to denied", &fakePlatform{supported: true, perm: PermissionDefault, answer: PermissionDenied}, false, PermissionDenied, 1},
		{"already granted", &fakePlatform{supported: true, perm: PermissionGranted}, true, PermissionGranted, 0},
		{"already denied", &fakePlatform{supported: true, perm: PermissionDenied, answer: PermissionGranted}, false, PermissionDenied, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.platform != nil {
				opts = append(opts, WithPlatform(tt.platform))
			}
			svc, _ := createTestService(t, opts...)

			if got := svc.RequestPermission(context.Background()); got != tt.wantGranted {
				t.Errorf("RequestPermission() = %v, want %v", got, tt.wantGranted)
			}
			if got := svc.Permission(); got != tt.wantState {
				t.Errorf("Permission() = %q, want %q", got, tt.wantState)
			}
			if tt.platform != nil && tt.platform.prompts != tt.wantPrompts {
				t.Errorf("prompts = %d, want %d", tt.platform.prompts, tt.wantPrompts)
			}
			if svc.Enabled() != tt.wantGranted {
				t.Errorf("Enabled() = %v", svc.Enabled())
			}
		})
	}
}

func TestPermission_DeniedIsTerminal(t *testing.T) {
	p := &fakePlatform{supported: true, perm: PermissionDefault, answer: PermissionDenied}
	svc, _ := createTestService(t, WithPlatform(p))

	svc.RequestPermission(context.Background())
	p.answer = PermissionGranted
	svc.RequestPermission(context.Background())

	if p.prompts != 1 {
		t.Errorf("prompts = %d, want 1", p.prompts)
	}

	p.perm = PermissionGranted
	if got := svc.SyncPermission(); got != PermissionDenied {
		t.Errorf("SyncPermission() = %q, want denied", got)
	}
	svc.SetPlatform(grantedPlatform())
	if svc.Enabled() {
		t.Error("denied should survive platform reattachment")
	}
}

func TestSend_Mirrors(t *testing.T) {
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p))

	n := svc.Send(context.Background(), Spec{
		Type:     TypeTaskDelayed,
		Priority: PriorityUrgent,
		Title:    "任务已延期",
		Message:  "m",
		Data:     TaskPayload{TaskID: 5},
	}, true, nil)

	if len(p.shown) != 1 {
		t.Fatalf("shown = %d, want 1", len(p.shown))
	}
	opts := p.shown[0]
	if opts.Tag != "notification-"+n.ID {
		t.Errorf("Tag = %q", opts.Tag)
	}
	if !opts.RequireInteraction {
		t.Error("urgent should require interaction")
	}
	if opts.Icon != DefaultIcon || opts.Lang != DefaultLang {
		t.Errorf("defaults not applied: %+v", opts)
	}
	if opts.Data["notificationId"] != n.ID || opts.Data["type"] != "task_delayed" || opts.Data["taskId"] != 5.0 {
		t.Errorf("Data = %v", opts.Data)
	}
	if got := len(svc.List(Filter{})); got != 1 {
		t.Errorf("feed len = %d, want 1", got)
	}
}

func TestSend_PriorityInteraction(t *testing.T) {
	tests := []struct {
		priority Priority
		want     bool
	}{
		{PriorityLow, false},
		{PriorityNormal, false},
		{PriorityHigh, true},
		{PriorityUrgent, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			p := grantedPlatform()
			svc, _ := createTestService(t, WithPlatform(p))
			svc.Send(context.Background(), Spec{Priority: tt.priority}, true, nil)

			if p.shown[0].RequireInteraction != tt.want {
				t.Errorf("RequireInteraction = %v, want %v", p.shown[0].RequireInteraction, tt.want)
			}
			if p.shown[0].Title != DefaultTitle {
				t.Errorf("Title = %q, want default", p.shown[0].Title)
			}
		})
	}
}

func TestSend_FeedOnly(t *testing.T) {
	tests := []struct {
		name     string
		platform *fakePlatform
		mirror   bool
	}{
		{"mirror disabled", grantedPlatform(), false},
		{"permission default", &fakePlatform{supported: true, perm: PermissionDefault}, true},
		{"permission denied", &fakePlatform{supported: true, perm: PermissionDenied}, true},
		{"unsupported", &fakePlatform{supported: false, perm: PermissionGranted}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := createTestService(t, WithPlatform(tt.platform))
			svc.Send(context.Background(), Spec{Title: "x"}, tt.mirror, nil)

			if len(tt.platform.shown) != 0 {
				t.Error("platform should not be used")
			}
			if svc.UnreadCount() != 1 {
				t.Error("feed entry should always be added")
			}
		})
	}
}

func TestSend_ShowErrorDegrades(t *testing.T) {
	p := grantedPlatform()
	p.showErr = errors.New("socket closed")
	svc, _ := createTestService(t, WithPlatform(p))

	n := svc.Send(context.Background(), Spec{Title: "x"}, true, nil)

	if _, err := svc.Get(n.ID); err != nil {
		t.Error("feed entry should survive a platform failure")
	}
	svc.mu.Lock()
	pending := len(svc.pending)
	svc.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestHandleClick(t *testing.T) {
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p))

	var clicked []Notification
	n := svc.Send(context.Background(), Spec{Title: "x"}, true, func(n Notification) {
		clicked = append(clicked, n)
	})
	tag := p.shown[0].Tag

	svc.HandleClick(tag)

	got, _ := svc.Get(n.ID)
	if !got.Read {
		t.Error("click should mark read")
	}
	if len(clicked) != 1 || clicked[0].ID != n.ID || !clicked[0].Read {
		t.Errorf("onClick calls = %+v", clicked)
	}
	if len(p.closed) != 1 || p.closed[0] != tag {
		t.Errorf("closed = %v", p.closed)
	}

	svc.HandleClick(tag)
	svc.HandleClick("notification-unknown")
	if len(clicked) != 1 {
		t.Error("repeated or unknown clicks should be ignored")
	}
}

type listPayload []string

func (listPayload) SubjectKey() string { return "" }

func TestHandleClick_LogsDroppedErrors(t *testing.T) {
	var buf bytes.Buffer
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p), WithLogger(logging.New(&buf, logging.DEBUG, false)))

	n := svc.Send(context.Background(), Spec{Title: "x", Data: listPayload{"a"}}, true, nil)
	if len(p.shown) != 1 || p.shown[0].Data["notificationId"] != n.ID {
		t.Fatalf("shown = %+v", p.shown)
	}
	if !strings.Contains(buf.String(), "payload not mirrored") {
		t.Errorf("payload error not logged: %q", buf.String())
	}

	svc.mu.Lock()
	svc.pending["notification-stale"] = pendingNative{id: "gone"}
	svc.mu.Unlock()
	svc.HandleClick("notification-stale")
	if !strings.Contains(buf.String(), "click on notification-stale") {
		t.Errorf("MarkAsRead error not logged: %q", buf.String())
	}
}

func TestHandleCloseAndError(t *testing.T) {
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p))

	svc.Send(context.Background(), Spec{Title: "a"}, true, nil)
	svc.Send(context.Background(), Spec{Title: "b"}, true, nil)
	svc.HandleClose(p.shown[0].Tag)
	svc.HandleError(p.shown[1].Tag, "blocked")

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.pending) != 0 {
		t.Errorf("pending = %d, want 0", len(svc.pending))
	}
}

func TestRemove_PrunesPendingClicks(t *testing.T) {
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p))

	called := false
	n := svc.Send(context.Background(), Spec{Title: "x"}, true, func(Notification) { called = true })
	svc.Remove(n.ID)
	svc.HandleClick(p.shown[0].Tag)

	if called {
		t.Error("click on removed notification should be ignored")
	}
}

func TestSendTaskReminder(t *testing.T) {
	p := grantedPlatform()
	svc, _ := createTestService(t, WithPlatform(p))
	ctx := context.Background()

	k := task(3, core.TaskTodo)
	k.IsKeyTask = true

	due, err := svc.SendTaskReminder(ctx, k, ReminderDue)
	if err != nil {
		t.Fatal(err)
	}
	if due.Type != TypeTaskDue || due.Priority != PriorityHigh || due.Message != "重点任务\"task 3\"即将到期" {
		t.Errorf("due = %+v", due)
	}

	delayed, _ := svc.SendTaskReminder(ctx, task(4, core.TaskDelayed), ReminderDelayed)
	if delayed.Type != TypeTaskDelayed || delayed.Priority != PriorityUrgent {
		t.Errorf("delayed = %+v", delayed)
	}

	if _, err := svc.SendTaskReminder(ctx, k, "weekly"); err == nil {
		t.Error("unknown kind should fail")
	}
	if len(p.shown) != 2 {
		t.Errorf("shown = %d, want 2", len(p.shown))
	}
}

// -----------------------------------------------------------------------------
// Subscribers and serialization
// -----------------------------------------------------------------------------

func TestService_Subscribers(t *testing.T) {
	svc, _ := createTestService(t)
	sub := newMockSubscriber("sub-1")
	svc.Subscribe(sub)

	n := svc.Add(Spec{Title: "a"})
	svc.MarkAsRead(n.ID)
	svc.Remove(n.ID)

	events := sub.received()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	kinds := []EventKind{events[0].Kind, events[1].Kind, events[2].Kind}
	if fmt.Sprint(kinds) != fmt.Sprint([]EventKind{EventAdded, EventRead, EventRemoved}) {
		t.Errorf("kinds = %v", kinds)
	}
	if events[0].UnreadCount != 1 || events[1].UnreadCount != 0 {
		t.Errorf("unread counts = %d, %d", events[0].UnreadCount, events[1].UnreadCount)
	}

	svc.Unsubscribe("sub-1")
	svc.Add(Spec{Title: "b"})
	if len(sub.received()) != 3 {
		t.Error("unsubscribed subscriber still receives events")
	}
}

func TestNotification_JSONPayloadByType(t *testing.T) {
	svc, _ := createTestService(t)
	svc.CheckTaskNotifications([]core.Task{task(42, core.TaskDelayed)})
	svc.AddReviewReminder(core.Period{Year: 2025, Week: 11})
	svc.AddTeamReviewReminder(2)
	svc.Add(Spec{Title: "sys", Data: GenericPayload{"taskId": 9}})

	raw, err := json.Marshal(svc.List(Filter{}))
	if err != nil {
		t.Fatal(err)
	}
	var decoded []Notification
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if _, ok := decoded[0].Data.(GenericPayload); !ok {
		t.Errorf("system payload = %T", decoded[0].Data)
	}
	if p, ok := decoded[1].Data.(TeamReviewPayload); !ok || p.Count != 2 {
		t.Errorf("team payload = %#v", decoded[1].Data)
	}
	if p, ok := decoded[2].Data.(ReviewPayload); !ok || p.SubjectKey() != "review_2025_11" {
		t.Errorf("review payload = %#v", decoded[2].Data)
	}
	// Friday adds a due warning for the same task after the delayed one.
	if p, ok := decoded[4].Data.(TaskPayload); !ok || p.Task.ID != 42 {
		t.Errorf("task payload = %#v", decoded[4].Data)
	}
	if decoded[0].Data.SubjectKey() != "9" {
		t.Errorf("generic subject = %q", decoded[0].Data.SubjectKey())
	}
}

func TestSpec_UnmarshalJSON(t *testing.T) {
	var spec Spec
	err := json.Unmarshal([]byte(`{"type":"task_due","title":"t","data":{"taskId":3,"task":{"id":3,"title":"x"}}}`), &spec)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := spec.Data.(TaskPayload)
	if !ok || p.TaskID != 3 || p.Task.Title != "x" {
		t.Errorf("Data = %#v", spec.Data)
	}

	if err := json.Unmarshal([]byte(`{"type":"team_review","data":{"count":"many"}}`), &spec); err == nil {
		t.Error("mistyped payload should fail")
	}
}
