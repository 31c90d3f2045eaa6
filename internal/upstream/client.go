// Package upstream provides a client for the weekly-plan backend API.
// Its methods are the fetch functions handed to the cache.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/weeklyplan/weeklyplan/internal/core"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Is maps auth failures onto the core sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case core.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case core.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case core.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Config configures the client
type Config struct {
	BaseURL string
	Token   string // bearer token; empty sends no Authorization header
	Timeout time.Duration

	// HTTPClient is the base transport, used mainly by tests.
	HTTPClient *http.Client
}

// Client is a weekly-plan API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. The bearer token is attached through an
// oauth2 transport.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		httpClient = &cp
	}
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(ctx, src)
	}
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:    base.String(),
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get issues a GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(req, resp)
	}

	if raw, ok := out.(*json.RawMessage); ok {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		*raw = body
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// newAPIError extracts the backend's {"detail": ...} message when present.
func newAPIError(req *http.Request, resp *http.Response) error {
	apiErr := &APIError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: resp.StatusCode,
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(payload.Detail)
		}
	} else {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	return apiErr
}

// Roles returns the active roles.
func (c *Client) Roles(ctx context.Context) ([]core.Role, error) {
	var roles []core.Role
	if err := c.get(ctx, "/roles/", nil, &roles); err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}
	return roles, nil
}

// TeamMembers returns the users visible to the caller.
func (c *Client) TeamMembers(ctx context.Context) ([]core.User, error) {
	var users []core.User
	if err := c.get(ctx, "/users/", nil, &users); err != nil {
		return nil, fmt.Errorf("get team members: %w", err)
	}
	return users, nil
}

// MyTasks returns the caller's tasks for a period.
func (c *Client) MyTasks(ctx context.Context, p core.Period) ([]core.Task, error) {
	q := url.Values{}
	q.Set("week_number", strconv.Itoa(p.Week))
	q.Set("year", strconv.Itoa(p.Year))

	var tasks []core.Task
	if err := c.get(ctx, "/tasks/my-tasks", q, &tasks); err != nil {
		return nil, fmt.Errorf("get tasks %s: %w", p, err)
	}
	return tasks, nil
}

// DelayedTasks returns the caller's delayed tasks across all weeks.
func (c *Client) DelayedTasks(ctx context.Context) ([]core.Task, error) {
	var tasks []core.Task
	if err := c.get(ctx, "/tasks/delayed-tasks", nil, &tasks); err != nil {
		return nil, fmt.Errorf("get delayed tasks: %w", err)
	}
	return tasks, nil
}

// Dashboard returns the raw dashboard document of the given kind.
func (c *Client) Dashboard(ctx context.Context, kind core.DashboardKind, p core.Period) (core.Dashboard, error) {
	q := url.Values{}
	if !p.IsZero() {
		q.Set("week_number", strconv.Itoa(p.Week))
		q.Set("year", strconv.Itoa(p.Year))
	}

	var raw json.RawMessage
	if err := c.get(ctx, "/dashboard/"+string(kind), q, &raw); err != nil {
		return nil, fmt.Errorf("get %s dashboard: %w", kind, err)
	}
	return core.Dashboard(raw), nil
}

// TeamOverview returns the manager's team dashboard for a period.
func (c *Client) TeamOverview(ctx context.Context, p core.Period) (core.TeamOverview, error) {
	q := url.Values{}
	q.Set("week_number", strconv.Itoa(p.Week))
	q.Set("year", strconv.Itoa(p.Year))

	var team core.TeamOverview
	if err := c.get(ctx, "/dashboard/team", q, &team); err != nil {
		return core.TeamOverview{}, fmt.Errorf("get team overview %s: %w", p, err)
	}
	return team, nil
}

// PendingReviews counts team members whose reviews await the caller. A
// caller without a team (403) has none.
func (c *Client) PendingReviews(ctx context.Context, p core.Period) (int, error) {
	team, err := c.TeamOverview(ctx, p)
	if errors.Is(err, core.ErrForbidden) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return team.PendingReviews(), nil
}
