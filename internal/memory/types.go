// Package memory implements the behavioral memory engine: a bounded action
// history, usage patterns derived from it, scored recommendations, and the
// persisted snapshot that carries all of it across sessions.
package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Limits
const (
	MaxHistory                = 100
	MaxRecommendationsPerType = 20
	MaxLastViewedTasks        = 10
	PersonalizedLimit         = 5
)

// Well-known actions
const (
	ActionCreateTask        = "create_task"
	ActionUpdateTask        = "update_task"
	ActionDeleteTask        = "delete_task"
	ActionTaskView          = "task_view"
	ActionUpdatePreferences = "update_preferences"
	ActionAddRecommendation = "add_recommendation"
	ActionCheckDelayed      = "check_delayed"

	// PagePrefix marks page-view actions: "page_dashboard", "page_tasks", ...
	PagePrefix = "page_"
	// UsePrefix marks recommendation usage: "use_frequentlyUsedTasks", ...
	UsePrefix = "use_"
)

// PayloadKind discriminates Payload variants on the wire.
type PayloadKind string

const (
	KindTask           PayloadKind = "task"
	KindPage           PayloadKind = "page"
	KindTaskView       PayloadKind = "task_view"
	KindFeature        PayloadKind = "feature"
	KindPreferences    PayloadKind = "preferences"
	KindRecommendation PayloadKind = "recommendation"
	KindGeneric        PayloadKind = "generic"
)

// Payload is the typed data attached to a history item or system event.
type Payload interface {
	Kind() PayloadKind
}

// TaskPayload accompanies task actions. EstimatedDuration is in minutes.
type TaskPayload struct {
	TaskID            int64   `json:"taskId,omitempty"`
	TaskType          string  `json:"taskType,omitempty"`
	Title             string  `json:"title,omitempty"`
	EstimatedDuration float64 `json:"estimatedDuration,omitempty"`
}

// PagePayload accompanies page views. SessionTime is in seconds.
type PagePayload struct {
	Path        string  `json:"path,omitempty"`
	SessionTime float64 `json:"sessionTime,omitempty"`
}

type TaskViewPayload struct {
	TaskID int64 `json:"taskId"`
}

type FeaturePayload struct {
	Feature string `json:"feature"`
}

type PreferencesPayload struct {
	Changes map[string]any `json:"changes"`
}

type RecommendationPayload struct {
	Type    RecommendationType `json:"type"`
	Payload map[string]any     `json:"payload"`
}

// GenericPayload carries data for actions without a dedicated variant.
type GenericPayload map[string]any

func (TaskPayload) Kind() PayloadKind           { return KindTask }
func (PagePayload) Kind() PayloadKind           { return KindPage }
func (TaskViewPayload) Kind() PayloadKind       { return KindTaskView }
func (FeaturePayload) Kind() PayloadKind        { return KindFeature }
func (PreferencesPayload) Kind() PayloadKind    { return KindPreferences }
func (RecommendationPayload) Kind() PayloadKind { return KindRecommendation }
func (GenericPayload) Kind() PayloadKind        { return KindGeneric }

// KindForAction returns the payload variant an action carries by convention.
func KindForAction(action string) PayloadKind {
	switch {
	case action == ActionCreateTask, action == ActionUpdateTask, action == ActionDeleteTask,
		strings.HasPrefix(action, UsePrefix):
		return KindTask
	case strings.HasPrefix(action, PagePrefix):
		return KindPage
	case action == ActionTaskView:
		return KindTaskView
	case action == ActionUpdatePreferences:
		return KindPreferences
	case action == ActionAddRecommendation:
		return KindRecommendation
	default:
		return KindGeneric
	}
}

// DecodePayload decodes raw into the variant named by kind.
func DecodePayload(kind PayloadKind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p Payload
	var err error
	switch kind {
	case KindTask:
		var v TaskPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPage:
		var v PagePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindTaskView:
		var v TaskViewPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindFeature:
		var v FeaturePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPreferences:
		var v PreferencesPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindRecommendation:
		var v RecommendationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindGeneric:
		var v GenericPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// HistoryItem is one recorded user action. Items are immutable once recorded.
type HistoryItem struct {
	ID        int64   `json:"id"`
	Action    string  `json:"action"`
	Data      Payload `json:"-"`
	Page      string  `json:"page,omitempty"`
	Timestamp int64   `json:"timestamp"` // unix ms
	Date      string  `json:"date"`      // 2006-01-02
}

type historyItemJSON struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Kind      PayloadKind     `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data"`
	Page      string          `json:"page,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Date      string          `json:"date"`
}

func (h HistoryItem) MarshalJSON() ([]byte, error) {
	out := historyItemJSON{
		ID:        h.ID,
		Action:    h.Action,
		Page:      h.Page,
		Timestamp: h.Timestamp,
		Date:      h.Date,
		Data:      json.RawMessage("null"),
	}
	if h.Data != nil {
		raw, err := json.Marshal(h.Data)
		if err != nil {
			return nil, err
		}
		out.Kind = h.Data.Kind()
		out.Data = raw
	}
	return json.Marshal(out)
}

func (h *HistoryItem) UnmarshalJSON(b []byte) error {
	var in historyItemJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	kind := in.Kind
	if kind == "" {
		kind = KindForAction(in.Action)
	}
	data, err := DecodePayload(kind, in.Data)
	if err != nil {
		return err
	}
	*h = HistoryItem{
		ID:        in.ID,
		Action:    in.Action,
		Data:      data,
		Page:      in.Page,
		Timestamp: in.Timestamp,
		Date:      in.Date,
	}
	return nil
}

// NotificationPreferences toggles delivery channels.
type NotificationPreferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	Sound bool `json:"sound"`
}

// Preferences are user-chosen settings.
type Preferences struct {
	Theme         string                  `json:"theme"`
	Language      string                  `json:"language"`
	DefaultView   string                  `json:"defaultView"`
	Notifications NotificationPreferences `json:"notifications"`
	AutoSave      bool                    `json:"autoSave"`
	WeekStart     int                     `json:"weekStart"`
	TimeFormat    string                  `json:"timeFormat"`
}

// DefaultPreferences returns the preferences of a fresh install.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:       "light",
		Language:    "zh-cn",
		DefaultView: "dashboard",
		Notifications: NotificationPreferences{
			Email: true,
			Push:  true,
			Sound: false,
		},
		AutoSave:   true,
		WeekStart:  1,
		TimeFormat: "24h",
	}
}

// RecommendationType groups recommendations.
type RecommendationType string

const (
	FrequentlyUsedTasks   RecommendationType = "frequentlyUsedTasks"
	RecentRoles           RecommendationType = "recentRoles"
	SuggestedDeadlines    RecommendationType = "suggestedDeadlines"
	PersonalizedReminders RecommendationType = "personalizedReminders"
)

// RecommendationTypes lists the built-in types.
var RecommendationTypes = []RecommendationType{
	FrequentlyUsedTasks, RecentRoles, SuggestedDeadlines, PersonalizedReminders,
}

// RecommendationItem is a stored recommendation. Score is fixed at insertion.
type RecommendationItem struct {
	ID          int64          `json:"id"`
	CreatedAt   string         `json:"createdAt"` // RFC 3339
	Score       int            `json:"score"`
	Fingerprint string         `json:"fingerprint"`
	Payload     map[string]any `json:"payload"`
}

// TaskDurationStats aggregates estimates per task type.
type TaskDurationStats struct {
	Count           int     `json:"count"`
	TotalDuration   float64 `json:"totalDuration"`
	AverageDuration float64 `json:"averageDuration"`
}

// PageVisitStats aggregates visits per page.
type PageVisitStats struct {
	TotalVisits        int            `json:"totalVisits"`
	DailyVisits        map[string]int `json:"dailyVisits"`
	TimedVisits        int            `json:"timedVisits"`
	AverageSessionTime float64        `json:"averageSessionTime"`
}

// BehaviorPatterns are statistics derived incrementally from recorded actions.
type BehaviorPatterns struct {
	ActiveHours         map[int]int                   `json:"activeHours"`
	CommonTaskDurations map[string]*TaskDurationStats `json:"commonTaskDurations"`
	WeeklyPatterns      map[string]*PageVisitStats    `json:"weeklyPatterns"`
}

func newBehaviorPatterns() BehaviorPatterns {
	return BehaviorPatterns{
		ActiveHours:         make(map[int]int),
		CommonTaskDurations: make(map[string]*TaskDurationStats),
		WeeklyPatterns:      make(map[string]*PageVisitStats),
	}
}

func (p BehaviorPatterns) clone() BehaviorPatterns {
	out := newBehaviorPatterns()
	for h, n := range p.ActiveHours {
		out.ActiveHours[h] = n
	}
	for k, v := range p.CommonTaskDurations {
		cp := *v
		out.CommonTaskDurations[k] = &cp
	}
	for k, v := range p.WeeklyPatterns {
		cp := *v
		cp.DailyVisits = make(map[string]int, len(v.DailyVisits))
		for d, n := range v.DailyVisits {
			cp.DailyVisits[d] = n
		}
		out.WeeklyPatterns[k] = &cp
	}
	return out
}

// SystemMemory tracks sessions and app-wide counters.
type SystemMemory struct {
	LastLoginTime       int64          `json:"lastLoginTime"` // unix ms, 0 if never
	SessionCount        int            `json:"sessionCount"`
	TotalUsageTime      int64          `json:"totalUsageTime"` // ms
	FeatureUsageStats   map[string]int `json:"featureUsageStats"`
	LastViewedTasks     []int64        `json:"lastViewedTasks"`
	UnreadNotifications int            `json:"unreadNotifications"`
	LastAction          string         `json:"lastAction"`
}

func newSystemMemory() SystemMemory {
	return SystemMemory{
		FeatureUsageStats: make(map[string]int),
		LastViewedTasks:   []int64{},
	}
}

func (s SystemMemory) clone() SystemMemory {
	out := s
	out.FeatureUsageStats = make(map[string]int, len(s.FeatureUsageStats))
	for k, v := range s.FeatureUsageStats {
		out.FeatureUsageStats[k] = v
	}
	out.LastViewedTasks = append([]int64{}, s.LastViewedTasks...)
	return out
}

// TempMemory is session scratch state. It is never persisted.
type TempMemory struct {
	CurrentPage string         `json:"currentPage,omitempty"`
	CurrentTask int64          `json:"currentTask,omitempty"`
	LastAction  string         `json:"lastAction,omitempty"`
	Breadcrumbs []string       `json:"breadcrumbs,omitempty"`
	FormData    map[string]any `json:"formData,omitempty"`
	Filters     map[string]any `json:"filters,omitempty"`
}

// TempPatch is a shallow update to TempMemory. Nil fields are left alone.
type TempPatch struct {
	CurrentPage *string        `json:"currentPage,omitempty"`
	CurrentTask *int64         `json:"currentTask,omitempty"`
	LastAction  *string        `json:"lastAction,omitempty"`
	Breadcrumbs []string       `json:"breadcrumbs,omitempty"`
	FormData    map[string]any `json:"formData,omitempty"`
	Filters     map[string]any `json:"filters,omitempty"`
}

// Snapshot is the persisted aggregate.
type Snapshot struct {
	UserHistory      []HistoryItem                               `json:"userHistory"`
	UserPreferences  Preferences                                 `json:"userPreferences"`
	Recommendations  map[RecommendationType][]RecommendationItem `json:"recommendations"`
	BehaviorPatterns BehaviorPatterns                            `json:"behaviorPatterns"`
	SystemMemory     SystemMemory                                `json:"systemMemory"`
	LastSaved        int64                                       `json:"lastSaved"`
}

// ExportData is a Snapshot stamped with its export time.
type ExportData struct {
	Snapshot
	ExportTime string `json:"exportTime"`
}

func defaultSnapshot() Snapshot {
	recs := make(map[RecommendationType][]RecommendationItem, len(RecommendationTypes))
	for _, t := range RecommendationTypes {
		recs[t] = []RecommendationItem{}
	}
	return Snapshot{
		UserHistory:      []HistoryItem{},
		UserPreferences:  DefaultPreferences(),
		Recommendations:  recs,
		BehaviorPatterns: newBehaviorPatterns(),
		SystemMemory:     newSystemMemory(),
	}
}
