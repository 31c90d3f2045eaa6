package cache

import (
	"context"
	"fmt"
)

// PeriodKey builds the tasks key for a year and week.
func PeriodKey(year, week int) string {
	return fmt.Sprintf("%d-%d", year, week)
}

// Roles returns the cached role list.
func Roles[T any](ctx context.Context, c *Cache, fetch FetchFunc[T]) (T, error) {
	return GetOrFetch(ctx, c, CategoryRoles, "", fetch)
}

// TeamMembers returns the cached team roster.
func TeamMembers[T any](ctx context.Context, c *Cache, fetch FetchFunc[T]) (T, error) {
	return GetOrFetch(ctx, c, CategoryTeamMembers, "", fetch)
}

// Tasks returns the cached task list for a period key (see PeriodKey).
func Tasks[T any](ctx context.Context, c *Cache, period string, fetch FetchFunc[T]) (T, error) {
	return GetOrFetch(ctx, c, CategoryTasks, period, fetch)
}

// Dashboard returns the cached dashboard summary.
func Dashboard[T any](ctx context.Context, c *Cache, fetch FetchFunc[T]) (T, error) {
	return GetOrFetch(ctx, c, CategoryDashboard, "", fetch)
}

// DelayedTasks returns the cached list of delayed tasks across periods.
func DelayedTasks[T any](ctx context.Context, c *Cache, fetch FetchFunc[T]) (T, error) {
	return GetOrFetch(ctx, c, CategoryDelayed, "", fetch)
}

func (c *Cache) InvalidateRoles()        { c.Invalidate(CategoryRoles, "") }
func (c *Cache) InvalidateTeamMembers()  { c.Invalidate(CategoryTeamMembers, "") }
func (c *Cache) InvalidateDashboard()    { c.Invalidate(CategoryDashboard, "") }
func (c *Cache) InvalidateDelayedTasks() { c.Invalidate(CategoryDelayed, "") }

// InvalidateTasks clears one period, or every period when period is empty.
func (c *Cache) InvalidateTasks(period string) {
	c.Invalidate(CategoryTasks, period)
}
