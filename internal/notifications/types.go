// Package notifications implements the in-app notification feed and its
// mirror onto native platform notifications.
package notifications

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/core"
)

// NotificationType represents the kind of notification
type NotificationType string

const (
	TypeTaskDue       NotificationType = "task_due"
	TypeTaskDelayed   NotificationType = "task_delayed"
	TypeReviewPending NotificationType = "review_pending"
	TypeTeamReview    NotificationType = "team_review"
	TypeCommentReply  NotificationType = "comment_reply"
	TypeSystem        NotificationType = "system"
)

// Priority levels, ordered LOW < NORMAL < HIGH < URGENT.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; unknown values rank with NORMAL.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 2
	}
}

// RequiresInteraction reports whether native mirrors should stay on screen
// until the user dismisses them.
func (p Priority) RequiresInteraction() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// -----------------------------------------------------------------------------
// Payloads
// -----------------------------------------------------------------------------

// Payload is the typed data attached to a notification. The variant is
// determined by the notification type.
type Payload interface {
	// SubjectKey identifies what the notification is about, for dedup.
	// Payloads without a subject return "".
	SubjectKey() string
}

// TaskPayload accompanies task_due and task_delayed notifications.
type TaskPayload struct {
	TaskID int64     `json:"taskId"`
	Task   core.Task `json:"task"`
}

func (p TaskPayload) SubjectKey() string { return TaskKey(p.TaskID) }

// ReviewPayload accompanies review_pending notifications.
type ReviewPayload struct {
	WeekNumber      int    `json:"weekNumber"`
	Year            int    `json:"year"`
	NotificationKey string `json:"notificationKey"`
}

func (p ReviewPayload) SubjectKey() string { return p.NotificationKey }

// TeamReviewPayload accompanies team_review notifications.
type TeamReviewPayload struct {
	Count int `json:"count"`
}

func (p TeamReviewPayload) SubjectKey() string { return "" }

// GenericPayload carries free-form data for system and comment notifications.
type GenericPayload map[string]any

// SubjectKey uses taskId or notificationKey when the caller supplied one.
func (p GenericPayload) SubjectKey() string {
	if v, ok := p["notificationKey"].(string); ok {
		return v
	}
	switch v := p["taskId"].(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// TaskKey is the subject key of a task.
func TaskKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// DecodePayload decodes raw into the payload variant for typ.
func DecodePayload(typ NotificationType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		p   Payload
		err error
	)
	switch typ {
	case TypeTaskDue, TypeTaskDelayed:
		var v TaskPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeReviewPending:
		var v ReviewPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeTeamReview:
		var v TeamReviewPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		var v GenericPayload
		err = json.Unmarshal(raw, &v)
		p = v
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// Notification represents a feed entry
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Priority  Priority         `json:"priority"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      Payload          `json:"data"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
}

// UnmarshalJSON decodes Data according to Type.
func (n *Notification) UnmarshalJSON(b []byte) error {
	type alias Notification
	var aux struct {
		alias
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	data, err := DecodePayload(aux.Type, aux.Data)
	if err != nil {
		return err
	}
	*n = Notification(aux.alias)
	n.Data = data
	return nil
}

// subjectKey returns the payload subject, or "" without a payload.
func (n *Notification) subjectKey() string {
	if n.Data == nil {
		return ""
	}
	return n.Data.SubjectKey()
}

// Spec describes a notification to create. Zero fields take defaults.
type Spec struct {
	Type     NotificationType `json:"type,omitempty"`
	Priority Priority         `json:"priority,omitempty"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Data     Payload          `json:"data,omitempty"`
}

// UnmarshalJSON decodes Data according to Type.
func (s *Spec) UnmarshalJSON(b []byte) error {
	type alias Spec
	var aux struct {
		alias
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	data, err := DecodePayload(aux.Type, aux.Data)
	if err != nil {
		return err
	}
	*s = Spec(aux.alias)
	s.Data = data
	return nil
}

// Filter for listing notifications
type Filter struct {
	Type        NotificationType
	MinPriority Priority
	Read        *bool
	Limit       int
}

func (f Filter) match(n *Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.MinPriority != "" && n.Priority.Rank() < f.MinPriority.Rank() {
		return false
	}
	if f.Read != nil && n.Read != *f.Read {
		return false
	}
	return true
}

// Stats represents feed statistics
type Stats struct {
	Total       int                      `json:"total"`
	Unread      int                      `json:"unread"`
	ByType      map[NotificationType]int `json:"byType"`
	ByPriority  map[Priority]int         `json:"byPriority"`
	LastCreated *time.Time               `json:"lastCreated,omitempty"`
}

// EventKind describes a feed change delivered to subscribers.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRead    EventKind = "read"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// Event is a feed change. Notification is nil for bulk changes.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
}
