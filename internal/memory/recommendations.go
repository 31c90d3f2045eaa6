package memory

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Score weights
const (
	baseScore     = 50
	usagePoints   = 5
	maxUsageBonus = 30
	usageWindow   = 50
	freshBonus    = 20
	recentBonus   = 10
	freshWindow   = 24 * time.Hour
	recentWindow  = 7 * 24 * time.Hour
	maxScore      = 100
)

// contextTypes maps a UI context to the recommendation types it draws from.
var contextTypes = map[string][]RecommendationType{
	"task":     {FrequentlyUsedTasks},
	"role":     {RecentRoles},
	"deadline": {SuggestedDeadlines},
	"reminder": {PersonalizedReminders},
}

// Fingerprint returns a content hash of payload. Payloads that are deeply
// equal as JSON values share a fingerprint regardless of map order.
func Fingerprint(payload map[string]any) (string, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// AddRecommendation scores and stores payload under typ. It returns false
// without changing anything when an equal payload is already stored.
func (e *Engine) AddRecommendation(ctx context.Context, typ RecommendationType, payload map[string]any) (RecommendationItem, bool, error) {
	fp, err := Fingerprint(payload)
	if err != nil {
		return RecommendationItem{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.recs[typ] {
		if existing.Fingerprint == fp {
			return existing, false, nil
		}
	}

	now := e.now()
	item := RecommendationItem{
		ID:          now.UnixMilli(),
		CreatedAt:   now.UTC().Format(time.RFC3339Nano),
		Score:       e.scoreLocked(typ, payload, now),
		Fingerprint: fp,
		Payload:     cloneMap(payload),
	}

	list := append([]RecommendationItem{item}, e.recs[typ]...)
	if len(list) > MaxRecommendationsPerType {
		list = list[:MaxRecommendationsPerType]
	}
	e.recs[typ] = list

	e.recordLocked(ActionAddRecommendation, RecommendationPayload{Type: typ, Payload: cloneMap(payload)}, "")
	e.persistLocked(ctx)

	return item, true, nil
}

// RecommendationScore computes the score payload would receive if added now.
func (e *Engine) RecommendationScore(typ RecommendationType, payload map[string]any) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(typ, payload, e.now())
}

// scoreLocked is base 50, plus 5 per "use_<type>" action among the newest 50
// matching history items (at most 30), plus a freshness bonus from the
// payload's createdAt, clamped to 100.
//
// Nothing in this module records "use_<type>" actions itself; callers must,
// or the usage term stays zero.
func (e *Engine) scoreLocked(typ RecommendationType, payload map[string]any, now time.Time) int {
	score := baseScore

	usage := len(e.historyLocked(usageWindow, UsePrefix+string(typ)))
	bonus := usage * usagePoints
	if bonus > maxUsageBonus {
		bonus = maxUsageBonus
	}
	score += bonus

	created := payloadCreatedAt(payload, now)
	age := now.Sub(created)
	switch {
	case age < freshWindow:
		score += freshBonus
	case age < recentWindow:
		score += recentBonus
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// payloadCreatedAt reads payload["createdAt"] as RFC 3339 or unix ms, else now.
func payloadCreatedAt(payload map[string]any, now time.Time) time.Time {
	switch v := payload["createdAt"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case float64:
		return time.UnixMilli(int64(v))
	case int64:
		return time.UnixMilli(v)
	case int:
		return time.UnixMilli(int64(v))
	case time.Time:
		return v
	}
	return now
}

// Recommendations returns a copy of the stored items of typ, newest first.
func (e *Engine) Recommendations(typ RecommendationType) []RecommendationItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneItems(e.recs[typ])
}

// GetPersonalizedRecommendations returns the top five items for a UI context
// ("task", "role", "deadline", "reminder") by descending score. Equal scores
// keep their stored order. Unknown contexts yield an empty list.
func (e *Engine) GetPersonalizedRecommendations(uiContext string) []RecommendationItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pool []RecommendationItem
	for _, typ := range contextTypes[uiContext] {
		pool = append(pool, e.recs[typ]...)
	}
	pool = cloneItems(pool)

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Score > pool[j].Score
	})
	if len(pool) > PersonalizedLimit {
		pool = pool[:PersonalizedLimit]
	}
	return pool
}

func cloneItems(items []RecommendationItem) []RecommendationItem {
	out := make([]RecommendationItem, len(items))
	for i, it := range items {
		it.Payload = cloneMap(it.Payload)
		out[i] = it
	}
	return out
}
