package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weeklyplan/weeklyplan/internal/logging"
	"github.com/weeklyplan/weeklyplan/internal/notifications"
)

// Frame types. Server to page: show, close, permission_request, event.
// Page to server: permission, click, close, error.
const (
	FrameShow              = "show"
	FrameClose             = "close"
	FramePermissionRequest = "permission_request"
	FrameEvent             = "event"
	FramePermission        = "permission"
	FrameClick             = "click"
	FrameError             = "error"
)

// ErrNoClients is returned when no page is connected to show a notification.
var ErrNoClients = errors.New("no notification clients connected")

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	sendBuffer        = 32
	PermissionTimeout = 60 * time.Second
)

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type       string                       `json:"type"`
	Tag        string                       `json:"tag,omitempty"`
	Permission notifications.Permission     `json:"permission,omitempty"`
	Options    *notifications.NativeOptions `json:"options,omitempty"`
	Event      *notifications.Event         `json:"event,omitempty"`
	Message    string                       `json:"message,omitempty"`
	Timestamp  time.Time                    `json:"timestamp"`
}

// Callbacks receives what pages report about native notifications.
// *notifications.Service implements it.
type Callbacks interface {
	HandleClick(tag string)
	HandleClose(tag string)
	HandleError(tag, message string)
	SyncPermission() notifications.Permission
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Bridge relays native notifications to connected pages over WebSocket.
// It is the notifications.Platform of the daemon, and a feed subscriber
// that pushes feed events to the pages.
type Bridge struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu         sync.Mutex
	clients    map[string]*wsClient
	permission notifications.Permission
	waiters    []chan notifications.Permission
	callbacks  Callbacks
	now        func() time.Time
}

// NewBridge creates a bridge with no connected pages. Only pages served
// from one of origins may connect.
func NewBridge(log *logging.Logger, origins Origins) *Bridge {
	if log == nil {
		log = logging.Default()
	}
	return &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.allowRequest,
		},
		log:        log.WithField("component", "bridge"),
		clients:    make(map[string]*wsClient),
		permission: notifications.PermissionDefault,
		now:        time.Now,
	}
}

// Attach makes the bridge the service's platform and feed subscriber.
func (b *Bridge) Attach(svc *notifications.Service) {
	b.mu.Lock()
	b.callbacks = svc
	b.mu.Unlock()

	svc.SetPlatform(b)
	svc.Subscribe(b)
}

// ClientCount returns the number of connected pages.
func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// --- notifications.Platform ---

// Supported reports whether at least one page is connected.
func (b *Bridge) Supported() bool {
	return b.ClientCount() > 0
}

// Permission returns the permission last reported by a page.
func (b *Bridge) Permission() notifications.Permission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.permission
}

// RequestPermission asks every page to prompt the user and waits for the
// first answer.
func (b *Bridge) RequestPermission(ctx context.Context) (notifications.Permission, error) {
	ch := make(chan notifications.Permission, 1)

	b.mu.Lock()
	if len(b.clients) == 0 {
		b.mu.Unlock()
		return notifications.PermissionDefault, ErrNoClients
	}
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	b.broadcast(Frame{Type: FramePermissionRequest})

	ctx, cancel := context.WithTimeout(ctx, PermissionTimeout)
	defer cancel()

	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		b.dropWaiter(ch)
		return notifications.PermissionDefault, ctx.Err()
	}
}

func (b *Bridge) dropWaiter(ch chan notifications.Permission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// Show sends a show frame to every connected page.
func (b *Bridge) Show(ctx context.Context, opts notifications.NativeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.broadcast(Frame{Type: FrameShow, Tag: opts.Tag, Options: &opts}) == 0 {
		return ErrNoClients
	}
	return nil
}

// Close asks every page to dismiss the notification with tag.
func (b *Bridge) Close(tag string) error {
	b.broadcast(Frame{Type: FrameClose, Tag: tag})
	return nil
}

// --- notifications.Subscriber ---

// ID identifies the bridge as a feed subscriber.
func (b *Bridge) ID() string { return "ws-bridge" }

// Send pushes a feed event to every page.
func (b *Bridge) Send(ev notifications.Event) error {
	b.broadcast(Frame{Type: FrameEvent, Event: &ev})
	return nil
}

// broadcast queues f for every client and returns how many accepted it.
// Clients with a full buffer miss the frame.
func (b *Bridge) broadcast(f Frame) int {
	f.Timestamp = b.now()
	data, err := json.Marshal(f)
	if err != nil {
		b.log.Error("encode %s frame: %v", f.Type, err)
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	for _, c := range b.clients {
		select {
		case c.send <- data:
			sent++
		default:
			b.log.Warn("client %s is slow, dropped %s frame", c.id, f.Type)
		}
	}
	return sent
}

// --- connection handling ---

// ServeHTTP upgrades the request and serves one page connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	b.log.Debug("client %s connected", c.id)

	go b.writeLoop(c)
	b.readLoop(c)
}

func (b *Bridge) unregister(c *wsClient) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.send)
	}
	b.mu.Unlock()
	b.log.Debug("client %s disconnected", c.id)
}

func (b *Bridge) readLoop(c *wsClient) {
	defer func() {
		b.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn("client %s read: %v", c.id, err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			b.log.Debug("client %s sent invalid frame: %v", c.id, err)
			continue
		}
		b.handleFrame(f)
	}
}

func (b *Bridge) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes a page frame. It runs on the reader goroutine.
func (b *Bridge) handleFrame(f Frame) {
	b.mu.Lock()
	cb := b.callbacks
	b.mu.Unlock()

	switch f.Type {
	case FramePermission:
		b.setPermission(f.Permission)
		if cb != nil {
			cb.SyncPermission()
		}
	case FrameClick:
		if cb != nil {
			cb.HandleClick(f.Tag)
		}
	case FrameClose:
		if cb != nil {
			cb.HandleClose(f.Tag)
		}
	case FrameError:
		if cb != nil {
			cb.HandleError(f.Tag, f.Message)
		}
	default:
		b.log.Debug("ignoring %q frame", f.Type)
	}
}

func (b *Bridge) setPermission(p notifications.Permission) {
	switch p {
	case notifications.PermissionDefault, notifications.PermissionGranted, notifications.PermissionDenied:
	default:
		b.log.Debug("ignoring unknown permission %q", p)
		return
	}

	b.mu.Lock()
	b.permission = p
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, w := range waiters {
		w <- p
	}
}

// Shutdown closes every page connection.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}
