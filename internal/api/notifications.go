package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weeklyplan/weeklyplan/internal/app"
	"github.com/weeklyplan/weeklyplan/internal/notifications"
)

// NotificationsAPI handles notification endpoints
type NotificationsAPI struct {
	app     *app.App
	service *notifications.Service
}

// NewNotificationsAPI creates a new notifications API
func NewNotificationsAPI(a *app.App) *NotificationsAPI {
	return &NotificationsAPI{app: a, service: a.Notifications}
}

// RegisterRoutes registers notification routes
func (api *NotificationsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", api.handleGetNotifications)
		r.Post("/", api.handleCreateNotification)
		r.Delete("/", api.handleClearAll)
		r.Post("/send", api.handleSendNotification)
		r.Get("/unread-count", api.handleGetUnreadCount)
		r.Get("/stats", api.handleGetNotificationStats)
		r.Post("/read-all", api.handleMarkAllNotificationsRead)
		r.Delete("/read", api.handleClearRead)
		r.Post("/check", api.handleCheck)
		r.Get("/permission", api.handleGetPermission)
		r.Post("/permission", api.handleRequestPermission)
		r.Get("/{id}", api.handleGetNotification)
		r.Post("/{id}/read", api.handleMarkNotificationRead)
		r.Delete("/{id}", api.handleRemoveNotification)
	})
}

// handleGetNotifications returns notifications with optional filters
func (api *NotificationsAPI) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	filter := notifications.Filter{}

	// Parse query parameters
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = notifications.NotificationType(t)
	}
	if p := r.URL.Query().Get("min_priority"); p != "" {
		filter.MinPriority = notifications.Priority(p)
	}
	if read := r.URL.Query().Get("read"); read != "" {
		b := read == "true"
		filter.Read = &b
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}

	notifs := api.service.List(filter)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifs,
		"count":         len(notifs),
		"unread":        api.service.UnreadCount(),
	})
}

// handleGetNotification returns a single notification
func (api *NotificationsAPI) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	notif, err := api.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, notif)
}

// handleCreateNotification adds a feed-only notification
func (api *NotificationsAPI) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var spec notifications.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if spec.Title == "" {
		respondError(w, http.StatusBadRequest, "title required")
		return
	}

	respondJSON(w, http.StatusCreated, api.service.Add(spec))
}

// handleSendNotification adds a notification and mirrors it natively
// unless "mirror" is false.
func (api *NotificationsAPI) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var spec notifications.Spec
	var opts struct {
		Mirror *bool `json:"mirror"`
	}
	if err := json.Unmarshal(body, &spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	json.Unmarshal(body, &opts)

	if spec.Title == "" {
		respondError(w, http.StatusBadRequest, "title required")
		return
	}
	mirror := opts.Mirror == nil || *opts.Mirror

	n := api.service.Send(r.Context(), spec, mirror, nil)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"notification": n,
		"native":       mirror && api.service.Enabled(),
	})
}

// handleMarkNotificationRead marks a notification as read
func (api *NotificationsAPI) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := api.service.MarkAsRead(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, notifications.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "marked as read"})
}

// handleMarkAllNotificationsRead marks all notifications as read
func (api *NotificationsAPI) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n := api.service.MarkAllAsRead()
	respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

// handleRemoveNotification deletes a notification
func (api *NotificationsAPI) handleRemoveNotification(w http.ResponseWriter, r *http.Request) {
	if err := api.service.Remove(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, notifications.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "removed"})
}

func (api *NotificationsAPI) handleClearAll(w http.ResponseWriter, r *http.Request) {
	api.service.ClearAll()
	respondJSON(w, http.StatusOK, map[string]string{"message": "cleared"})
}

func (api *NotificationsAPI) handleClearRead(w http.ResponseWriter, r *http.Request) {
	n := api.service.ClearRead()
	respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

// handleGetUnreadCount returns the count of unread notifications
func (api *NotificationsAPI) handleGetUnreadCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"count": api.service.UnreadCount()})
}

// handleGetNotificationStats returns notification statistics
func (api *NotificationsAPI) handleGetNotificationStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.service.Stats())
}

// handleCheck runs one of the notification checks on demand. The default
// is the task check.
func (api *NotificationsAPI) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var (
		added []notifications.Notification
		err   error
	)
	switch req.Kind {
	case "", "tasks":
		added, err = api.app.CheckTasks(r.Context())
	case "delayed":
		added, err = api.app.CheckDelayed(r.Context())
	case "review":
		if n, ok := api.app.ReviewReminder(); ok {
			added = append(added, n)
		}
	case "team":
		var count int
		count, err = api.app.TeamReviewReminder(r.Context())
		if err == nil && count > 0 {
			added = api.service.List(notifications.Filter{Type: notifications.TypeTeamReview, Limit: 1})
		}
	default:
		respondError(w, http.StatusBadRequest, "unknown check kind")
		return
	}
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	if added == nil {
		added = []notifications.Notification{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"added":  added,
		"count":  len(added),
		"unread": api.service.UnreadCount(),
	})
}

func (api *NotificationsAPI) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"permission": api.service.Permission(),
		"supported":  api.service.Supported(),
		"enabled":    api.service.Enabled(),
	})
}

// handleRequestPermission prompts connected pages and waits for an answer.
func (api *NotificationsAPI) handleRequestPermission(w http.ResponseWriter, r *http.Request) {
	granted := api.service.RequestPermission(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"granted":    granted,
		"permission": api.service.Permission(),
	})
}
