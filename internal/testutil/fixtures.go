package testutil

import (
	"github.com/weeklyplan/weeklyplan/internal/core"
)

// TaskFixture returns a task planned for week/year.
func TaskFixture(id int64, title string, status core.TaskStatus, week, year int) core.Task {
	return core.Task{
		ID:         id,
		Title:      title,
		Status:     status,
		WeekNumber: week,
		Year:       year,
		TaskType:   "development",
	}
}

// WeekTasks returns one task per non-terminal status plus a completed one,
// all in week 11 of 2025.
func WeekTasks() []core.Task {
	return []core.Task{
		TaskFixture(1, "接口联调", core.TaskTodo, 11, 2025),
		TaskFixture(2, "编写周报", core.TaskInProgress, 11, 2025),
		TaskFixture(3, "代码评审", core.TaskCompleted, 11, 2025),
	}
}

// TeamFixture returns a team overview where pending members have submitted
// reviews and the rest have none.
func TeamFixture(p core.Period, pending, total int) core.TeamOverview {
	team := core.TeamOverview{WeekNumber: p.Week, Year: p.Year, TeamSize: total}
	for i := 0; i < total; i++ {
		status := core.ReviewNotSubmitted
		if i < pending {
			status = core.ReviewSubmitted
		}
		team.TeamMembers = append(team.TeamMembers, core.MemberOverview{
			UserID:       int64(i + 1),
			UserName:     "member",
			ReviewStatus: status,
		})
	}
	return team
}
