// Package core defines the weekly-plan domain types shared by the engines,
// the upstream client and the HTTP surface.
package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// PERIOD - An ISO-8601 week
// -----------------------------------------------------------------------------

// Period identifies one planning week.
type Period struct {
	Year int `json:"year"`
	Week int `json:"week_number"`
}

// PeriodOf returns the ISO week containing t.
func PeriodOf(t time.Time) Period {
	y, w := t.ISOWeek()
	return Period{Year: y, Week: w}
}

// String renders the period as "{year}-{week}", the tasks cache key.
func (p Period) String() string {
	return fmt.Sprintf("%d-%d", p.Year, p.Week)
}

// ReviewKey is the dedup key for weekly review reminders.
func (p Period) ReviewKey() string {
	return fmt.Sprintf("review_%d_%d", p.Year, p.Week)
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Week == 0
}

// -----------------------------------------------------------------------------
// TASK - A weekly plan item
// -----------------------------------------------------------------------------

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskDelayed    TaskStatus = "delayed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is a weekly plan task as served by the backend.
type Task struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           TaskStatus `json:"status"`
	WeekNumber       int        `json:"week_number"`
	Year             int        `json:"year"`
	IsKeyTask        bool       `json:"is_key_task"`
	LinkedTaskTypeID *int64     `json:"linked_task_type_id,omitempty"`
	TaskType         string     `json:"task_type,omitempty"`
	EstimatedHours   float64    `json:"estimated_hours,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Period returns the week the task is planned for.
func (t Task) Period() Period {
	return Period{Year: t.Year, Week: t.WeekNumber}
}

// InPeriod reports whether the task is planned for p.
func (t Task) InPeriod(p Period) bool {
	return t.Year == p.Year && t.WeekNumber == p.Week
}

// -----------------------------------------------------------------------------
// ROLE / USER - Reference data cached by the UI
// -----------------------------------------------------------------------------

// Role is a job role with its responsibilities.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	NameEn      string `json:"name_en,omitempty"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// User is a member of the organisation.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Email        string `json:"email,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	ManagerID    *int64 `json:"manager_id,omitempty"`
	UserType     string `json:"user_type"`
}

// -----------------------------------------------------------------------------
// DASHBOARD - Aggregates served by the backend
// -----------------------------------------------------------------------------

// DashboardKind selects which dashboard the backend computes.
type DashboardKind string

const (
	DashboardEmployee DashboardKind = "employee"
	DashboardTeam     DashboardKind = "team"
)

// Review states reported per team member.
const (
	ReviewNotSubmitted = "未提交"
	ReviewSubmitted    = "已提交"
	ReviewReviewed     = "已审阅"
)

// MemberOverview is one row of the team dashboard.
type MemberOverview struct {
	UserID         int64   `json:"user_id"`
	UserName       string  `json:"user_name"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	CompletionRate float64 `json:"completion_rate"`
	DelayedTasks   int     `json:"delayed_tasks"`
	ReviewStatus   string  `json:"review_status"`
}

// TeamOverview is the manager's team dashboard for one week.
type TeamOverview struct {
	WeekNumber  int              `json:"week_number"`
	Year        int              `json:"year"`
	TeamSize    int              `json:"team_size"`
	TeamMembers []MemberOverview `json:"team_members"`
}

// PendingReviews counts members whose submitted review awaits the manager.
func (t TeamOverview) PendingReviews() int {
	n := 0
	for _, m := range t.TeamMembers {
		if m.ReviewStatus == ReviewSubmitted {
			n++
		}
	}
	return n
}

// Dashboard is an opaque dashboard document; the companion never interprets
// it beyond caching.
type Dashboard = json.RawMessage
