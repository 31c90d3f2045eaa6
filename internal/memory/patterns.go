package memory

import (
	"strings"
	"time"
)

// analyzeLocked folds one recorded action into the behavior patterns.
func (e *Engine) analyzeLocked(item HistoryItem, now time.Time) {
	e.patterns.ActiveHours[now.Hour()]++

	switch {
	case item.Action == ActionCreateTask || item.Action == ActionUpdateTask:
		if p, ok := item.Data.(TaskPayload); ok && p.TaskType != "" {
			e.recordTaskDuration(p.TaskType, p.EstimatedDuration)
		}

	case strings.HasPrefix(item.Action, PagePrefix):
		var session float64
		if p, ok := item.Data.(PagePayload); ok {
			session = p.SessionTime
		}
		e.recordPageVisit(strings.TrimPrefix(item.Action, PagePrefix), item.Date, session)
	}
}

// recordTaskDuration counts every typed task action; only positive estimates
// add to the total.
func (e *Engine) recordTaskDuration(taskType string, estimate float64) {
	stats, ok := e.patterns.CommonTaskDurations[taskType]
	if !ok {
		stats = &TaskDurationStats{}
		e.patterns.CommonTaskDurations[taskType] = stats
	}

	stats.Count++
	if estimate > 0 {
		stats.TotalDuration += estimate
	}
	stats.AverageDuration = stats.TotalDuration / float64(stats.Count)
}

func (e *Engine) recordPageVisit(page, date string, sessionSeconds float64) {
	stats, ok := e.patterns.WeeklyPatterns[page]
	if !ok {
		stats = &PageVisitStats{DailyVisits: make(map[string]int)}
		e.patterns.WeeklyPatterns[page] = stats
	}
	if stats.DailyVisits == nil {
		stats.DailyVisits = make(map[string]int)
	}

	stats.TotalVisits++
	stats.DailyVisits[date]++

	if sessionSeconds > 0 {
		stats.TimedVisits++
		n := float64(stats.TimedVisits)
		stats.AverageSessionTime += (sessionSeconds - stats.AverageSessionTime) / n
	}
}
