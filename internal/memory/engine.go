package memory

import (
	"context"
	"sync"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/logging"
	"github.com/weeklyplan/weeklyplan/internal/storage"
)

// DefaultStorageKey is the KV key holding the serialized snapshot.
const DefaultStorageKey = "weekly_plan_memory"

// SystemEvent is a lifecycle event applied to SystemMemory.
type SystemEvent string

const (
	EventSessionStart SystemEvent = "session_start"
	EventSessionEnd   SystemEvent = "session_end"
	EventPageView     SystemEvent = "page_view"
	EventTaskView     SystemEvent = "task_view"
	EventFeatureUse   SystemEvent = "feature_use"
)

// Config configures an Engine.
type Config struct {
	Store      storage.KV // defaults to an in-memory store
	StorageKey string
	Logger     *logging.Logger
	Clock      func() time.Time
}

// Engine owns the behavioral memory of one user. All methods are safe for
// concurrent use and run to completion under a single lock.
type Engine struct {
	mu    sync.Mutex
	store storage.KV
	key   string
	log   *logging.Logger
	now   func() time.Time

	initialized  bool
	sessionStart time.Time

	history  []HistoryItem
	prefs    Preferences
	recs     map[RecommendationType][]RecommendationItem
	patterns BehaviorPatterns
	system   SystemMemory
	temp     TempMemory
}

// New creates an uninitialized engine holding defaults.
func New(cfg Config) *Engine {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryKV()
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	e := &Engine{
		store: cfg.Store,
		key:   cfg.StorageKey,
		log:   cfg.Logger.WithField("component", "memory"),
		now:   cfg.Clock,
	}
	e.applySnapshot(defaultSnapshot())
	return e
}

// Initialize loads persisted state and starts a session. Calling it again
// reloads from storage and counts another session.
func (e *Engine) Initialize(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loadLocked(ctx)
	e.temp = TempMemory{}
	e.initialized = true
	e.applyEventLocked(EventSessionStart, nil)
	e.persistLocked(ctx)

	e.log.Info("memory initialized: session %d, %d history items", e.system.SessionCount, len(e.history))
}

// Initialized reports whether Initialize has run.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// RecordHistory records an action, updates patterns and persists. Persistence
// failures are logged; the recorded item is kept either way.
func (e *Engine) RecordHistory(ctx context.Context, action string, data Payload, page string) HistoryItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	item := e.recordLocked(action, data, page)
	e.persistLocked(ctx)
	return item
}

func (e *Engine) recordLocked(action string, data Payload, page string) HistoryItem {
	now := e.now()
	item := HistoryItem{
		ID:        now.UnixMilli(),
		Action:    action,
		Data:      data,
		Page:      page,
		Timestamp: now.UnixMilli(),
		Date:      now.Format(dateLayout),
	}

	e.history = append([]HistoryItem{item}, e.history...)
	if len(e.history) > MaxHistory {
		e.history = e.history[:MaxHistory]
	}

	e.system.LastAction = action
	e.analyzeLocked(item, now)
	return item
}

// GetHistoryRecords returns up to limit items, newest first. A non-empty
// action keeps only items with that action, before the limit is applied.
func (e *Engine) GetHistoryRecords(limit int, action string) []HistoryItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyLocked(limit, action)
}

func (e *Engine) historyLocked(limit int, action string) []HistoryItem {
	out := make([]HistoryItem, 0)
	for _, h := range e.history {
		if action != "" && h.Action != action {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, h)
	}
	return out
}

// Preferences returns the current preferences.
func (e *Engine) Preferences() Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs
}

// Patterns returns a copy of the behavior patterns.
func (e *Engine) Patterns() BehaviorPatterns {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.patterns.clone()
}

// SystemMemory returns a copy of the system record.
func (e *Engine) SystemMemory() SystemMemory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.system.clone()
}

// UpdateSystemMemory applies a lifecycle event and persists.
//
//	session_start  count a session, stamp the login time
//	session_end    add the elapsed session time to the usage total
//	page_view      set the current page (PagePayload)
//	task_view      remember the task (TaskViewPayload), newest first, 10 kept
//	feature_use    count a feature (FeaturePayload)
func (e *Engine) UpdateSystemMemory(ctx context.Context, event SystemEvent, data Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.applyEventLocked(event, data)
	e.persistLocked(ctx)
}

func (e *Engine) applyEventLocked(event SystemEvent, data Payload) {
	now := e.now()

	switch event {
	case EventSessionStart:
		e.system.SessionCount++
		e.system.LastLoginTime = now.UnixMilli()
		e.sessionStart = now

	case EventSessionEnd:
		if !e.sessionStart.IsZero() {
			e.system.TotalUsageTime += now.Sub(e.sessionStart).Milliseconds()
			e.sessionStart = time.Time{}
		}

	case EventPageView:
		if p, ok := data.(PagePayload); ok {
			e.temp.CurrentPage = p.Path
		}

	case EventTaskView:
		if p, ok := data.(TaskViewPayload); ok {
			viewed := append([]int64{p.TaskID}, e.system.LastViewedTasks...)
			if len(viewed) > MaxLastViewedTasks {
				viewed = viewed[:MaxLastViewedTasks]
			}
			e.system.LastViewedTasks = viewed
			e.temp.CurrentTask = p.TaskID
		}

	case EventFeatureUse:
		if p, ok := data.(FeaturePayload); ok && p.Feature != "" {
			e.system.FeatureUsageStats[p.Feature]++
		}

	default:
		e.log.Debug("ignoring unknown system event %q", event)
	}
}

// SetUnreadNotifications mirrors the notification feed's unread count.
// It is not persisted until the next write.
func (e *Engine) SetUnreadNotifications(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.system.UnreadNotifications = n
}

// TempMemory returns a copy of the session scratch state.
func (e *Engine) TempMemory() TempMemory {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.temp
	out.Breadcrumbs = append([]string(nil), e.temp.Breadcrumbs...)
	out.FormData = cloneMap(e.temp.FormData)
	out.Filters = cloneMap(e.temp.Filters)
	return out
}

// UpdateTempMemory shallow-merges patch into the scratch state.
func (e *Engine) UpdateTempMemory(patch TempPatch) TempMemory {
	e.mu.Lock()
	if patch.CurrentPage != nil {
		e.temp.CurrentPage = *patch.CurrentPage
	}
	if patch.CurrentTask != nil {
		e.temp.CurrentTask = *patch.CurrentTask
	}
	if patch.LastAction != nil {
		e.temp.LastAction = *patch.LastAction
	}
	if patch.Breadcrumbs != nil {
		e.temp.Breadcrumbs = append([]string(nil), patch.Breadcrumbs...)
	}
	if patch.FormData != nil {
		e.temp.FormData = cloneMap(patch.FormData)
	}
	if patch.Filters != nil {
		e.temp.Filters = cloneMap(patch.Filters)
	}
	e.mu.Unlock()

	return e.TempMemory()
}

// ClearTempMemory resets the scratch state.
func (e *Engine) ClearTempMemory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.temp = TempMemory{}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const dateLayout = "2006-01-02"
