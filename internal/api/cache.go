package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weeklyplan/weeklyplan/internal/app"
	"github.com/weeklyplan/weeklyplan/internal/cache"
	"github.com/weeklyplan/weeklyplan/internal/core"
)

// CacheAPI handles cache endpoints
type CacheAPI struct {
	app *app.App
}

// NewCacheAPI creates a new cache API
func NewCacheAPI(a *app.App) *CacheAPI {
	return &CacheAPI{app: a}
}

// RegisterRoutes registers cache routes
func (api *CacheAPI) RegisterRoutes(r chi.Router) {
	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", api.handleStats)
		r.Post("/invalidate", api.handleInvalidate)
		r.Delete("/", api.handleClear)
	})
}

func (api *CacheAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ttl":   api.app.Cache.TTL().String(),
		"stats": api.app.Cache.Stats(),
	})
}

// invalidateRequest names either one entry (category and key) or a backend
// mutation whose dependent entries are dropped.
type invalidateRequest struct {
	Category cache.Category `json:"category"`
	Key      string         `json:"key"`
	Mutation app.Mutation   `json:"mutation"`
	Week     int            `json:"week_number"`
	Year     int            `json:"year"`
}

func (api *CacheAPI) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Mutation != "" {
		p := core.Period{Year: req.Year, Week: req.Week}
		if err := api.app.InvalidateAfterMutation(req.Mutation, p); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "invalidated"})
		return
	}

	if !req.Category.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}
	api.app.Cache.Invalidate(req.Category, req.Key)
	respondJSON(w, http.StatusOK, map[string]string{"message": "invalidated"})
}

func (api *CacheAPI) handleClear(w http.ResponseWriter, r *http.Request) {
	api.app.Cache.ClearAll()
	respondJSON(w, http.StatusOK, map[string]string{"message": "cleared"})
}

// periodFromQuery reads week_number and year, defaulting to def. Both or
// neither must be given.
func periodFromQuery(r *http.Request, def core.Period) (core.Period, error) {
	q := r.URL.Query()
	ws, ys := q.Get("week_number"), q.Get("year")
	if ws == "" && ys == "" {
		return def, nil
	}

	week, err := strconv.Atoi(ws)
	if err != nil || week < 1 || week > 53 {
		return core.Period{}, fmt.Errorf("invalid week_number %q", ws)
	}
	year, err := strconv.Atoi(ys)
	if err != nil || year < 1 {
		return core.Period{}, fmt.Errorf("invalid year %q", ys)
	}
	return core.Period{Year: year, Week: week}, nil
}
