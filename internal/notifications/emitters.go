package notifications

import (
	"context"
	"fmt"

	"github.com/weeklyplan/weeklyplan/internal/core"
)

// ReminderKind selects the wording and priority of SendTaskReminder.
type ReminderKind string

const (
	ReminderDue     ReminderKind = "due"
	ReminderDelayed ReminderKind = "delayed"
)

func taskLabel(t core.Task) string {
	if t.IsKeyTask {
		return "重点任务"
	}
	return "任务"
}

func keyTaskPriority(t core.Task) Priority {
	if t.IsKeyTask {
		return PriorityHigh
	}
	return PriorityNormal
}

func delayedSpec(t core.Task) Spec {
	return Spec{
		Type:     TypeTaskDelayed,
		Priority: PriorityHigh,
		Title:    "任务已延期",
		Message:  fmt.Sprintf("任务\"%s\"已延期，请尽快处理", t.Title),
		Data:     TaskPayload{TaskID: t.ID, Task: t},
	}
}

func dueSpec(t core.Task) Spec {
	return Spec{
		Type:     TypeTaskDue,
		Priority: keyTaskPriority(t),
		Title:    "任务即将到期",
		Message:  fmt.Sprintf("%s\"%s\"本周尚未完成", taskLabel(t), t.Title),
		Data:     TaskPayload{TaskID: t.ID, Task: t},
	}
}

// CheckTaskNotifications scans tasks and adds a task_delayed notification
// for every delayed task and, on the due-warning day, a task_due
// notification for every unfinished task of the current week. Neither is
// added while an unread one for the same task exists. It returns the added
// notifications.
func (s *Service) CheckTaskNotifications(tasks []core.Task) []Notification {
	s.mu.Lock()

	now := s.now().In(s.loc)
	period := core.PeriodOf(now)
	dueDay := now.Weekday() == s.dueDay

	var added []*Notification
	for _, t := range tasks {
		key := TaskKey(t.ID)

		if t.Status == core.TaskDelayed && !s.hasLocked(key, TypeTaskDelayed) {
			added = append(added, s.addLocked(delayedSpec(t)))
		}

		if dueDay && t.Status != core.TaskCompleted && t.InPeriod(period) &&
			!s.hasLocked(key, TypeTaskDue) {
			added = append(added, s.addLocked(dueSpec(t)))
		}
	}

	out := make([]Notification, len(added))
	events := make([]Event, len(added))
	for i, n := range added {
		out[i] = *n
		events[i] = s.eventLocked(EventAdded, n)
	}
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, events...)
	if len(out) > 0 {
		s.log.Info("task check added %d notifications", len(out))
	}
	return out
}

// AddReviewReminder adds a review_pending notification for period unless an
// unread one exists. The bool reports whether one was added.
func (s *Service) AddReviewReminder(period core.Period) (Notification, bool) {
	key := period.ReviewKey()

	s.mu.Lock()
	if s.hasLocked(key, TypeReviewPending) {
		s.mu.Unlock()
		return Notification{}, false
	}
	n := s.addLocked(Spec{
		Type:     TypeReviewPending,
		Priority: PriorityHigh,
		Title:    "待进行周复盘",
		Message:  fmt.Sprintf("第%d周的工作计划需要进行复盘", period.Week),
		Data:     ReviewPayload{WeekNumber: period.Week, Year: period.Year, NotificationKey: key},
	})
	out := *n
	ev := s.eventLocked(EventAdded, n)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, ev)
	return out, true
}

// AddTeamReviewReminder adds a team_review notification when count > 0.
// There is no dedup: each call with a positive count adds an entry.
func (s *Service) AddTeamReviewReminder(count int) (Notification, bool) {
	if count <= 0 {
		return Notification{}, false
	}
	return s.Add(Spec{
		Type:     TypeTeamReview,
		Priority: PriorityNormal,
		Title:    "待审阅团队周报",
		Message:  fmt.Sprintf("有%d位团队成员的周报待审阅", count),
		Data:     TeamReviewPayload{Count: count},
	}), true
}

// AddSystemNotification adds a normal-priority system notification.
func (s *Service) AddSystemNotification(title, message string) Notification {
	return s.Add(Spec{
		Type:     TypeSystem,
		Priority: PriorityNormal,
		Title:    title,
		Message:  message,
	})
}

// SendTaskReminder sends a due or delayed reminder for task, mirrored to
// the platform when permitted. Delayed reminders are urgent.
func (s *Service) SendTaskReminder(ctx context.Context, task core.Task, kind ReminderKind) (Notification, error) {
	var spec Spec
	switch kind {
	case ReminderDue:
		spec = dueSpec(task)
		spec.Message = fmt.Sprintf("%s\"%s\"即将到期", taskLabel(task), task.Title)
	case ReminderDelayed:
		spec = delayedSpec(task)
		spec.Priority = PriorityUrgent
	default:
		return Notification{}, fmt.Errorf("unknown reminder kind %q", kind)
	}
	return s.Send(ctx, spec, true, nil), nil
}
