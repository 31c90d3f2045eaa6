package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// MaxNotifications bounds the feed; the oldest entries are dropped first.
const MaxNotifications = 100

// ErrNotFound is returned when no feed entry has the requested id.
var ErrNotFound = errors.New("notification not found")

// Subscriber receives feed changes in real-time
type Subscriber interface {
	Send(event Event) error
	ID() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithPlatform attaches a native notification surface.
func WithPlatform(p Platform) Option {
	return func(s *Service) { s.platform = p }
}

// WithDueWarningDay sets the weekday on which unfinished tasks of the
// current week raise task_due notifications. Defaults to Friday.
func WithDueWarningDay(d time.Weekday) Option {
	return func(s *Service) { s.dueDay = d }
}

// WithLocation sets the zone in which the due-warning weekday and the
// current week are evaluated. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithIDGenerator replaces UUIDv7 ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// Service manages the notification feed
type Service struct {
	mu          sync.Mutex
	feed        []*Notification // newest first
	permission  Permission
	platform    Platform
	pending     map[string]pendingNative // by native tag
	subscribers map[string]Subscriber

	now    func() time.Time
	newID  func() string
	dueDay time.Weekday
	loc    *time.Location
	log    *logging.Logger
}

type pendingNative struct {
	id      string
	onClick func(Notification)
}

// NewService creates a notification service
func NewService(opts ...Option) *Service {
	s := &Service{
		feed:        make([]*Notification, 0),
		permission:  PermissionDefault,
		pending:     make(map[string]pendingNative),
		subscribers: make(map[string]Subscriber),
		now:         time.Now,
		newID:       newID,
		dueDay:      time.Friday,
		loc:         time.Local,
		log:         logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.platform != nil {
		s.permission = s.platform.Permission()
	}
	return s
}

// newID returns a time-ordered UUIDv7, falling back to a random UUID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DueWarningDay returns the configured due-warning weekday.
func (s *Service) DueWarningDay() time.Weekday {
	return s.dueDay
}

// -----------------------------------------------------------------------------
// Subscribers
// -----------------------------------------------------------------------------

// Subscribe adds a subscriber for real-time feed changes
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// snapshotSubscribersLocked captures the subscribers so events can be
// delivered after the lock is released.
func (s *Service) snapshotSubscribersLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (s *Service) broadcast(subs []Subscriber, events ...Event) {
	for _, ev := range events {
		for _, sub := range subs {
			if err := sub.Send(ev); err != nil {
				s.log.Debug("subscriber %s dropped event: %v", sub.ID(), err)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Feed
// -----------------------------------------------------------------------------

// Add builds a notification from spec, prepends it to the feed and returns
// it. It never touches the platform.
func (s *Service) Add(spec Spec) Notification {
	s.mu.Lock()
	n := s.addLocked(spec)
	out := *n
	ev := s.eventLocked(EventAdded, n)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, ev)
	return out
}

func (s *Service) addLocked(spec Spec) *Notification {
	n := &Notification{
		ID:        s.newID(),
		Type:      spec.Type,
		Priority:  spec.Priority,
		Title:     spec.Title,
		Message:   spec.Message,
		Data:      spec.Data,
		CreatedAt: s.now(),
	}
	if n.Type == "" {
		n.Type = TypeSystem
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	s.feed = append([]*Notification{n}, s.feed...)
	if len(s.feed) > MaxNotifications {
		s.feed = s.feed[:MaxNotifications]
		s.prunePendingLocked()
	}

	s.log.Debug("notification added: %s %q", n.Type, n.Title)
	return n
}

func (s *Service) eventLocked(kind EventKind, n *Notification) Event {
	ev := Event{Kind: kind, UnreadCount: s.unreadLocked()}
	if n != nil {
		cp := *n
		ev.Notification = &cp
	}
	return ev
}

// Has reports whether an unread notification of typ exists for subject.
func (s *Service) Has(subject string, typ NotificationType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocked(subject, typ)
}

func (s *Service) hasLocked(subject string, typ NotificationType) bool {
	for _, n := range s.feed {
		if !n.Read && n.Type == typ && n.subjectKey() == subject {
			return true
		}
	}
	return false
}

func (s *Service) findLocked(id string) (int, *Notification) {
	for i, n := range s.feed {
		if n.ID == id {
			return i, n
		}
	}
	return -1, nil
}

// Get retrieves a notification by ID
func (s *Service) Get(id string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, n := s.findLocked(id)
	if n == nil {
		return Notification{}, ErrNotFound
	}
	return *n, nil
}

// List returns feed entries, newest first, matching filter
func (s *Service) List(filter Filter) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Notification, 0, len(s.feed))
	for _, n := range s.feed {
		if !filter.match(n) {
			continue
		}
		out = append(out, *n)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// UnreadCount returns the count of unread notifications
func (s *Service) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked()
}

func (s *Service) unreadLocked() int {
	count := 0
	for _, n := range s.feed {
		if !n.Read {
			count++
		}
	}
	return count
}

// Stats returns feed statistics
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Total:      len(s.feed),
		ByType:     make(map[NotificationType]int),
		ByPriority: make(map[Priority]int),
	}
	for _, n := range s.feed {
		if !n.Read {
			stats.Unread++
		}
		stats.ByType[n.Type]++
		stats.ByPriority[n.Priority]++
	}
	if len(s.feed) > 0 {
		created := s.feed[0].CreatedAt
		stats.LastCreated = &created
	}
	return stats
}

// MarkAsRead marks a notification as read
func (s *Service) MarkAsRead(id string) error {
	s.mu.Lock()
	_, n := s.findLocked(id)
	if n == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	changed := s.markReadLocked(n)
	ev := s.eventLocked(EventRead, n)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	if changed {
		s.broadcast(subs, ev)
	}
	return nil
}

func (s *Service) markReadLocked(n *Notification) bool {
	if n.Read {
		return false
	}
	now := s.now()
	n.Read = true
	n.ReadAt = &now
	return true
}

// MarkAllAsRead marks every notification as read and returns how many
// changed.
func (s *Service) MarkAllAsRead() int {
	s.mu.Lock()
	changed := 0
	for _, n := range s.feed {
		if s.markReadLocked(n) {
			changed++
		}
	}
	ev := s.eventLocked(EventRead, nil)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	if changed > 0 {
		s.broadcast(subs, ev)
	}
	return changed
}

// Remove deletes a notification
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	i, n := s.findLocked(id)
	if n == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.feed = append(s.feed[:i], s.feed[i+1:]...)
	s.prunePendingLocked()
	ev := s.eventLocked(EventRemoved, n)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, ev)
	return nil
}

// ClearAll empties the feed.
func (s *Service) ClearAll() {
	s.mu.Lock()
	s.feed = make([]*Notification, 0)
	s.prunePendingLocked()
	ev := s.eventLocked(EventCleared, nil)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.broadcast(subs, ev)
}

// ClearRead drops read notifications and returns how many were removed.
func (s *Service) ClearRead() int {
	s.mu.Lock()
	kept := make([]*Notification, 0, len(s.feed))
	for _, n := range s.feed {
		if !n.Read {
			kept = append(kept, n)
		}
	}
	removed := len(s.feed) - len(kept)
	s.feed = kept
	s.prunePendingLocked()
	ev := s.eventLocked(EventCleared, nil)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	if removed > 0 {
		s.broadcast(subs, ev)
	}
	return removed
}

// -----------------------------------------------------------------------------
// Platform delivery
// -----------------------------------------------------------------------------

// SetPlatform attaches or detaches (nil) the native surface. A denied
// permission survives reattachment.
func (s *Service) SetPlatform(p Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.platform = p
	s.syncPermissionLocked()
}

// SyncPermission refreshes the cached permission from the platform.
func (s *Service) SyncPermission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncPermissionLocked()
	return s.permission
}

func (s *Service) syncPermissionLocked() {
	if s.permission == PermissionDenied || s.platform == nil {
		return
	}
	if p := s.platform.Permission(); p != "" {
		s.permission = p
	}
}

// Supported reports whether a native surface is available.
func (s *Service) Supported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform != nil && s.platform.Supported()
}

// Permission returns the current permission state.
func (s *Service) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Enabled reports whether native notifications may be shown.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabledLocked()
}

func (s *Service) enabledLocked() bool {
	return s.permission == PermissionGranted && s.platform != nil && s.platform.Supported()
}

// RequestPermission asks the platform for permission and reports whether
// it is granted. Once denied, the user is never prompted again.
func (s *Service) RequestPermission(ctx context.Context) bool {
	s.mu.Lock()
	platform, current := s.platform, s.permission
	s.mu.Unlock()

	if platform == nil || !platform.Supported() {
		s.log.Warn("native notifications are not supported")
		return false
	}
	switch current {
	case PermissionGranted:
		return true
	case PermissionDenied:
		return false
	}

	answer, err := platform.RequestPermission(ctx)
	if err != nil {
		s.log.Warn("permission request failed: %v", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission != PermissionDenied && answer != "" {
		s.permission = answer
	}
	s.log.Info("notification permission: %s", s.permission)
	return s.permission == PermissionGranted
}

// Send adds the notification to the feed and, when mirror is set and
// permission is granted, shows it natively. Clicking the native
// notification marks the entry read, then calls onClick.
func (s *Service) Send(ctx context.Context, spec Spec, mirror bool, onClick func(Notification)) Notification {
	s.mu.Lock()
	n := s.addLocked(spec)
	ev := s.eventLocked(EventAdded, n)
	subs := s.snapshotSubscribersLocked()

	var (
		platform Platform
		opts     NativeOptions
	)
	if mirror && s.enabledLocked() {
		platform = s.platform
		opts = s.nativeOptionsFor(n)
		s.pending[opts.Tag] = pendingNative{id: n.ID, onClick: onClick}
	}
	out := *n
	s.mu.Unlock()

	s.broadcast(subs, ev)

	if platform != nil {
		if err := platform.Show(ctx, opts); err != nil {
			s.log.Warn("native notification failed: %v", err)
			s.mu.Lock()
			delete(s.pending, opts.Tag)
			s.mu.Unlock()
		}
	}
	return out
}

func (s *Service) nativeOptionsFor(n *Notification) NativeOptions {
	data, err := payloadFields(n.Data)
	if err != nil {
		s.log.Debug("notification %s payload not mirrored: %v", n.ID, err)
	}
	data["notificationId"] = n.ID
	data["type"] = string(n.Type)

	opts := NativeOptions{
		Title:              n.Title,
		Body:               n.Message,
		Tag:                nativeTag(n.ID),
		RequireInteraction: n.Priority.RequiresInteraction(),
		Data:               data,
	}
	opts.applyDefaults()
	return opts
}

// payloadFields flattens a payload into the JSON object the platform sees.
// The map is never nil.
func payloadFields(p Payload) (map[string]any, error) {
	out := make(map[string]any)
	if p == nil {
		return out, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return out, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, err
	}
	if fields != nil {
		out = fields
	}
	return out, nil
}

// HandleClick is called by the platform when a native notification is
// clicked. Unknown tags are ignored.
func (s *Service) HandleClick(tag string) {
	s.mu.Lock()
	pn, ok := s.pending[tag]
	delete(s.pending, tag)
	platform := s.platform
	s.mu.Unlock()

	if !ok {
		return
	}
	if platform != nil {
		platform.Close(tag)
	}
	if err := s.MarkAsRead(pn.id); err != nil {
		s.log.Debug("click on %s: %v", tag, err)
	}

	if pn.onClick != nil {
		if n, err := s.Get(pn.id); err == nil {
			pn.onClick(n)
		}
	}
}

// HandleClose is called by the platform when a native notification closes.
func (s *Service) HandleClose(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, tag)
}

// HandleError is called by the platform when a native notification fails.
func (s *Service) HandleError(tag, message string) {
	s.mu.Lock()
	delete(s.pending, tag)
	s.mu.Unlock()
	s.log.Warn("native notification %s error: %s", tag, message)
}

// prunePendingLocked forgets click handlers for entries no longer in the feed.
func (s *Service) prunePendingLocked() {
	if len(s.pending) == 0 {
		return
	}
	live := make(map[string]bool, len(s.feed))
	for _, n := range s.feed {
		live[n.ID] = true
	}
	for tag, pn := range s.pending {
		if !live[pn.id] {
			delete(s.pending, tag)
		}
	}
}
