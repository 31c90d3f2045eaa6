package notifications

import "context"

// Permission is the platform notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Native notification defaults
const (
	DefaultTitle = "周工作计划系统"
	DefaultIcon  = "/logo.png"
	DefaultLang  = "zh-CN"
)

// NativeOptions are passed to the platform to show a native notification.
// Showing a second notification with the same Tag replaces the first.
type NativeOptions struct {
	Title              string         `json:"title"`
	Body               string         `json:"body,omitempty"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	RequireInteraction bool           `json:"requireInteraction"`
	Silent             bool           `json:"silent"`
	Data               map[string]any `json:"data,omitempty"`
	Lang               string         `json:"lang,omitempty"`
}

func (o *NativeOptions) applyDefaults() {
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.Icon == "" {
		o.Icon = DefaultIcon
	}
	if o.Lang == "" {
		o.Lang = DefaultLang
	}
	if o.Data == nil {
		o.Data = map[string]any{}
	}
}

// Platform is the native notification surface. Click, close and error
// callbacks are reported back through Service.HandleClick, HandleClose and
// HandleError, keyed by tag.
type Platform interface {
	// Supported reports whether a native surface is currently reachable.
	Supported() bool
	// Permission returns the platform's current permission state.
	Permission() Permission
	// RequestPermission prompts the user and returns the answer.
	RequestPermission(ctx context.Context) (Permission, error)
	// Show displays a native notification.
	Show(ctx context.Context, opts NativeOptions) error
	// Close dismisses the native notification with the given tag.
	Close(tag string) error
}

// nativeTag is the platform tag for a feed entry.
func nativeTag(id string) string {
	return "notification-" + id
}
