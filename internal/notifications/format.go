package notifications

import (
	"fmt"
	"time"
)

// IconFor returns the UI icon name for a notification type.
func IconFor(t NotificationType) string {
	switch t {
	case TypeTaskDue:
		return "Clock"
	case TypeTaskDelayed:
		return "Warning"
	case TypeReviewPending:
		return "EditPen"
	case TypeTeamReview:
		return "User"
	case TypeCommentReply:
		return "ChatDotRound"
	default:
		return "Bell"
	}
}

// TagTypeFor returns the UI tag style for a priority.
func TagTypeFor(p Priority) string {
	switch p {
	case PriorityLow:
		return "info"
	case PriorityHigh:
		return "warning"
	case PriorityUrgent:
		return "danger"
	default:
		return ""
	}
}

// FormatRelative renders t relative to now: under a minute, minutes, hours,
// days, then the absolute date after a week.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "刚刚"
	case d < time.Hour:
		return fmt.Sprintf("%d分钟前", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d小时前", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%d天前", int(d/(24*time.Hour)))
	default:
		return t.In(now.Location()).Format("2006-01-02 15:04")
	}
}
