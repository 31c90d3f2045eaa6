package memory

import (
	"encoding/json"
	"sort"
	"time"
)

// IntelligenceReport summarizes what the engine has learned.
type IntelligenceReport struct {
	UsageStats       UsageStats            `json:"usageStats"`
	BehaviorInsights BehaviorInsights      `json:"behaviorInsights"`
	Recommendations  RecommendationSummary `json:"recommendations"`
	SystemInfo       SystemInfo            `json:"systemInfo"`
	GeneratedAt      time.Time             `json:"generatedAt"`
}

type UsageStats struct {
	TotalSessions     int `json:"totalSessions"`
	TotalHistoryItems int `json:"totalHistoryItems"`
	TodayActivity     int `json:"todayActivity"`
}

type BehaviorInsights struct {
	// MostActiveHour is nil until an action has been recorded.
	MostActiveHour   *int           `json:"mostActiveHour"`
	TopTaskTypes     []TaskTypeStat `json:"topTaskTypes"`
	MostVisitedPages []PageStat     `json:"mostVisitedPages"`
}

type TaskTypeStat struct {
	TaskType        string  `json:"taskType"`
	Count           int     `json:"count"`
	AverageDuration float64 `json:"averageDuration"`
}

type PageStat struct {
	Page   string `json:"page"`
	Visits int    `json:"visits"`
}

type RecommendationSummary struct {
	TotalCount int                        `json:"totalCount"`
	ByType     map[RecommendationType]int `json:"byType"`
}

type SystemInfo struct {
	LastLoginTime int64 `json:"lastLoginTime"`
	StorageSize   int   `json:"storageSize"` // bytes of the serialized snapshot
}

const topN = 5

// GetIntelligenceReport builds a report from the current state.
func (e *Engine) GetIntelligenceReport() IntelligenceReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	today := now.Format(dateLayout)

	report := IntelligenceReport{GeneratedAt: now}

	report.UsageStats.TotalSessions = e.system.SessionCount
	report.UsageStats.TotalHistoryItems = len(e.history)
	for _, h := range e.history {
		if h.Date == today {
			report.UsageStats.TodayActivity++
		}
	}

	report.BehaviorInsights = e.insightsLocked()

	report.Recommendations.ByType = make(map[RecommendationType]int, len(e.recs))
	for typ, items := range e.recs {
		report.Recommendations.ByType[typ] = len(items)
		report.Recommendations.TotalCount += len(items)
	}

	report.SystemInfo.LastLoginTime = e.system.LastLoginTime
	if data, err := json.Marshal(e.snapshotLocked()); err == nil {
		report.SystemInfo.StorageSize = len(data)
	}

	return report
}

func (e *Engine) insightsLocked() BehaviorInsights {
	var out BehaviorInsights

	best, bestCount := -1, 0
	for hour, n := range e.patterns.ActiveHours {
		if n > bestCount || (n == bestCount && hour < best) {
			best, bestCount = hour, n
		}
	}
	if best >= 0 {
		out.MostActiveHour = &best
	}

	out.TopTaskTypes = make([]TaskTypeStat, 0, len(e.patterns.CommonTaskDurations))
	for name, s := range e.patterns.CommonTaskDurations {
		out.TopTaskTypes = append(out.TopTaskTypes, TaskTypeStat{
			TaskType:        name,
			Count:           s.Count,
			AverageDuration: s.AverageDuration,
		})
	}
	sort.Slice(out.TopTaskTypes, func(i, j int) bool {
		a, b := out.TopTaskTypes[i], out.TopTaskTypes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.TaskType < b.TaskType
	})
	if len(out.TopTaskTypes) > topN {
		out.TopTaskTypes = out.TopTaskTypes[:topN]
	}

	out.MostVisitedPages = make([]PageStat, 0, len(e.patterns.WeeklyPatterns))
	for name, s := range e.patterns.WeeklyPatterns {
		out.MostVisitedPages = append(out.MostVisitedPages, PageStat{Page: name, Visits: s.TotalVisits})
	}
	sort.Slice(out.MostVisitedPages, func(i, j int) bool {
		a, b := out.MostVisitedPages[i], out.MostVisitedPages[j]
		if a.Visits != b.Visits {
			return a.Visits > b.Visits
		}
		return a.Page < b.Page
	})
	if len(out.MostVisitedPages) > topN {
		out.MostVisitedPages = out.MostVisitedPages[:topN]
	}

	return out
}
