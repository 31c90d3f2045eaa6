package api

import (
	"net/http"
	"strings"
)

// Origins is the set of browser origins allowed to call the API and open
// the notification bridge. Requests without an Origin header come from
// non-browser clients and are always allowed.
type Origins map[string]bool

// NewOrigins builds an origin set. Trailing slashes are ignored and matching
// is case-insensitive.
func NewOrigins(origins ...string) Origins {
	o := make(Origins, len(origins))
	for _, origin := range origins {
		if origin = normalizeOrigin(origin); origin != "" {
			o[origin] = true
		}
	}
	return o
}

// Allows reports whether a request carrying origin may proceed.
func (o Origins) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	return o[normalizeOrigin(origin)]
}

func (o Origins) allowRequest(r *http.Request) bool {
	return o.Allows(r.Header.Get("Origin"))
}

func (o Origins) allowCORS(_ *http.Request, origin string) bool {
	return origin != "" && o.Allows(origin)
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
