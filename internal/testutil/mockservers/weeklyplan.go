// Package mockservers provides httptest stand-ins for remote APIs.
package mockservers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/weeklyplan/weeklyplan/internal/core"
)

// WeeklyPlanMockServer provides a mock weekly plan API server for testing.
// Handlers are matched by exact path; unknown paths answer 404 with a
// {"detail": ...} body like the real backend.
type WeeklyPlanMockServer struct {
	Server   *httptest.Server
	Handlers map[string]http.HandlerFunc
	Token    string // required bearer token, empty accepts any request

	Tasks   []core.Task
	Delayed []core.Task
	Team    core.TeamOverview

	mu       sync.Mutex
	requests []string
	t        *testing.T
}

// NewWeeklyPlanMockServer creates a new mock weekly plan API server.
func NewWeeklyPlanMockServer(t *testing.T) *WeeklyPlanMockServer {
	t.Helper()

	mock := &WeeklyPlanMockServer{
		Handlers: make(map[string]http.HandlerFunc),
		t:        t,
	}

	mock.SetupDefaults()

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, r.URL.Path)
		mock.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")

		if mock.Token != "" && r.Header.Get("Authorization") != "Bearer "+mock.Token {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})
			return
		}

		// Match by path
		if handler, ok := mock.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}

		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Not Found"})
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// URL returns the base URL clients should use.
func (m *WeeklyPlanMockServer) URL() string {
	return m.Server.URL
}

// Requests returns how many requests hit path.
func (m *WeeklyPlanMockServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.requests {
		if p == path {
			n++
		}
	}
	return n
}

// SetupDefaults sets up default response handlers.
func (m *WeeklyPlanMockServer) SetupDefaults() {
	m.Handlers["/roles/"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]core.Role{
			{ID: 1, Name: "开发", IsActive: true},
			{ID: 2, Name: "测试", IsActive: true},
		})
	}

	m.Handlers["/users/"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]core.User{
			{ID: 1, Username: "zhang"},
			{ID: 2, Username: "li"},
		})
	}

	// tasks/my-tasks filters by the week_number and year query
	m.Handlers["/tasks/my-tasks"] = func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		out := []core.Task{}
		for _, t := range m.Tasks {
			if q.Get("week_number") == strconv.Itoa(t.WeekNumber) && q.Get("year") == strconv.Itoa(t.Year) {
				out = append(out, t)
			}
		}
		json.NewEncoder(w).Encode(out)
	}

	m.Handlers["/tasks/delayed-tasks"] = func(w http.ResponseWriter, r *http.Request) {
		out := m.Delayed
		if out == nil {
			out = []core.Task{}
		}
		json.NewEncoder(w).Encode(out)
	}

	m.Handlers["/dashboard/employee"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"week_number":     r.URL.Query().Get("week_number"),
			"completion_rate": 66.7,
		})
	}

	m.Handlers["/dashboard/team"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(m.Team)
	}
}

// Forbid makes path answer 403, as the backend does for callers without a team.
func (m *WeeklyPlanMockServer) Forbid(path string) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Not enough permissions"})
	}
}
