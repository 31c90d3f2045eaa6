package memory

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpdatePreferences shallow-merges patch over the current preferences and
// records an update_preferences action. Nested objects such as
// "notifications" are replaced whole. A patch that does not fit the
// preference types is rejected and nothing changes.
func (e *Engine) UpdatePreferences(ctx context.Context, patch map[string]any) (Preferences, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := json.Marshal(e.prefs)
	if err != nil {
		return e.prefs, fmt.Errorf("encode preferences: %w", err)
	}
	merged := make(map[string]any)
	if err := json.Unmarshal(current, &merged); err != nil {
		return e.prefs, fmt.Errorf("decode preferences: %w", err)
	}
	for k, v := range patch {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return e.prefs, fmt.Errorf("encode merged preferences: %w", err)
	}
	var next Preferences
	if err := json.Unmarshal(data, &next); err != nil {
		return e.prefs, fmt.Errorf("invalid preferences: %w", err)
	}

	e.prefs = next
	e.recordLocked(ActionUpdatePreferences, PreferencesPayload{Changes: cloneMap(patch)}, "")
	e.persistLocked(ctx)
	return next, nil
}
