package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/storage"
)

func (e *Engine) applySnapshot(s Snapshot) {
	e.history = s.UserHistory
	e.prefs = s.UserPreferences
	e.recs = s.Recommendations
	e.patterns = s.BehaviorPatterns
	e.system = s.SystemMemory

	if e.history == nil {
		e.history = []HistoryItem{}
	}
	if e.recs == nil {
		e.recs = make(map[RecommendationType][]RecommendationItem)
	}
	for _, t := range RecommendationTypes {
		if e.recs[t] == nil {
			e.recs[t] = []RecommendationItem{}
		}
	}
	if e.patterns.ActiveHours == nil {
		e.patterns.ActiveHours = make(map[int]int)
	}
	if e.patterns.CommonTaskDurations == nil {
		e.patterns.CommonTaskDurations = make(map[string]*TaskDurationStats)
	}
	if e.patterns.WeeklyPatterns == nil {
		e.patterns.WeeklyPatterns = make(map[string]*PageVisitStats)
	}
	if e.system.FeatureUsageStats == nil {
		e.system.FeatureUsageStats = make(map[string]int)
	}
	if e.system.LastViewedTasks == nil {
		e.system.LastViewedTasks = []int64{}
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		UserHistory:      e.history,
		UserPreferences:  e.prefs,
		Recommendations:  e.recs,
		BehaviorPatterns: e.patterns,
		SystemMemory:     e.system,
	}
}

// Save writes the snapshot to storage.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked(ctx)
}

func (e *Engine) saveLocked(ctx context.Context) error {
	snap := e.snapshotLocked()
	snap.LastSaved = e.now().UnixMilli()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	if err := e.store.Set(ctx, e.key, data); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// persistLocked saves and logs failures instead of returning them.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.saveLocked(ctx); err != nil {
		e.log.Warn("failed to save memory: %v", err)
	}
}

// Load replaces the in-memory state with the stored snapshot. Fields missing
// from the stored data keep their defaults; unreadable data yields defaults.
func (e *Engine) Load(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) {
	snap := defaultSnapshot()

	data, err := e.store.Get(ctx, e.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		e.log.Warn("failed to read memory, using defaults: %v", err)
	default:
		if err := json.Unmarshal(data, &snap); err != nil {
			e.log.Warn("stored memory is unreadable, using defaults: %v", err)
			snap = defaultSnapshot()
		}
	}

	e.applySnapshot(snap)
}

// ClearAllMemory resets every structure, including temp memory, and deletes
// the stored snapshot.
func (e *Engine) ClearAllMemory(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.applySnapshot(defaultSnapshot())
	e.temp = TempMemory{}
	if err := e.store.Delete(ctx, e.key); err != nil {
		e.log.Warn("failed to delete stored memory: %v", err)
	}
}

// ExportMemoryData returns a detached copy of the persisted state.
func (e *Engine) ExportMemoryData() (ExportData, error) {
	e.mu.Lock()
	snap := e.snapshotLocked()
	snap.LastSaved = e.now().UnixMilli()
	exportTime := e.now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(snap)
	e.mu.Unlock()

	if err != nil {
		return ExportData{}, fmt.Errorf("encode memory: %w", err)
	}

	out := ExportData{Snapshot: defaultSnapshot(), ExportTime: exportTime}
	if err := json.Unmarshal(data, &out.Snapshot); err != nil {
		return ExportData{}, fmt.Errorf("copy memory: %w", err)
	}
	return out, nil
}

// ImportResult lists which top-level fields an import applied or skipped.
type ImportResult struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ImportMemoryData overwrites the fields present and well-formed in raw, then
// saves. It never fails: problems are reported in the result and logged.
func (e *Engine) ImportMemoryData(ctx context.Context, raw []byte) ImportResult {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		e.log.Warn("import rejected: %v", err)
		return ImportResult{Error: err.Error()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var res ImportResult
	apply := func(name string, target any, commit func()) {
		data, ok := fields[name]
		if !ok {
			return
		}
		if err := json.Unmarshal(data, target); err != nil {
			e.log.Warn("import skipped %s: %v", name, err)
			res.Skipped = append(res.Skipped, name)
			return
		}
		commit()
		res.Applied = append(res.Applied, name)
	}

	var history []HistoryItem
	apply("userHistory", &history, func() {
		if len(history) > MaxHistory {
			history = history[:MaxHistory]
		}
		e.history = history
	})

	prefs := DefaultPreferences()
	apply("userPreferences", &prefs, func() { e.prefs = prefs })

	var recs map[RecommendationType][]RecommendationItem
	apply("recommendations", &recs, func() {
		for typ, items := range recs {
			for i := range items {
				if items[i].Fingerprint == "" {
					items[i].Fingerprint, _ = Fingerprint(items[i].Payload)
				}
			}
			if len(items) > MaxRecommendationsPerType {
				recs[typ] = items[:MaxRecommendationsPerType]
			}
		}
		e.recs = recs
	})

	patterns := newBehaviorPatterns()
	apply("behaviorPatterns", &patterns, func() { e.patterns = patterns })

	system := newSystemMemory()
	apply("systemMemory", &system, func() { e.system = system })

	// Restore invariants (non-nil maps, default types) on whatever was applied.
	e.applySnapshot(e.snapshotLocked())
	e.persistLocked(ctx)

	e.log.Info("imported memory fields %v", res.Applied)
	return res
}
