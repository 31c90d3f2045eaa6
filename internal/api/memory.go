package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weeklyplan/weeklyplan/internal/memory"
)

// maxImportSize bounds POST /memory/import bodies.
const maxImportSize = 8 << 20

// MemoryAPI handles behavioral memory endpoints
type MemoryAPI struct {
	engine *memory.Engine
}

// NewMemoryAPI creates a new memory API
func NewMemoryAPI(engine *memory.Engine) *MemoryAPI {
	return &MemoryAPI{engine: engine}
}

// RegisterRoutes registers memory routes
func (api *MemoryAPI) RegisterRoutes(r chi.Router) {
	r.Route("/memory", func(r chi.Router) {
		r.Get("/history", api.handleGetHistory)
		r.Post("/history", api.handleRecordHistory)
		r.Put("/preferences", api.handleUpdatePreferences)
		r.Get("/recommendations", api.handleGetRecommendations)
		r.Post("/recommendations", api.handleAddRecommendation)
		r.Post("/system", api.handleSystemEvent)
		r.Get("/temp", api.handleGetTemp)
		r.Put("/temp", api.handleUpdateTemp)
		r.Delete("/temp", api.handleClearTemp)
		r.Get("/report", api.handleReport)
		r.Get("/export", api.handleExport)
		r.Post("/import", api.handleImport)
		r.Delete("/", api.handleClear)
	})
}

// recordRequest is a history entry from a page. Kind overrides the payload
// variant normally implied by the action.
type recordRequest struct {
	Action string             `json:"action"`
	Kind   memory.PayloadKind `json:"kind"`
	Data   json.RawMessage    `json:"data"`
	Page   string             `json:"page"`
}

func (api *MemoryAPI) handleRecordHistory(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action required")
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = memory.KindForAction(req.Action)
	}
	payload, err := memory.DecodePayload(kind, req.Data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := api.engine.RecordHistory(r.Context(), req.Action, payload, req.Page)
	respondJSON(w, http.StatusCreated, item)
}

func (api *MemoryAPI) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items := api.engine.GetHistoryRecords(limit, r.URL.Query().Get("action"))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": items,
		"count":   len(items),
	})
}

func (api *MemoryAPI) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prefs, err := api.engine.UpdatePreferences(r.Context(), patch)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

func (api *MemoryAPI) handleAddRecommendation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    memory.RecommendationType `json:"type"`
		Payload map[string]any            `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type required")
		return
	}

	item, added, err := api.engine.AddRecommendation(r.Context(), req.Type, req.Payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]interface{}{
		"item":  item,
		"added": added,
	})
}

// handleGetRecommendations serves the personalized top items for ?context=,
// or every stored item of ?type=.
func (api *MemoryAPI) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	var items []memory.RecommendationItem
	if typ := r.URL.Query().Get("type"); typ != "" {
		items = api.engine.Recommendations(memory.RecommendationType(typ))
	} else {
		items = api.engine.GetPersonalizedRecommendations(r.URL.Query().Get("context"))
	}
	if items == nil {
		items = []memory.RecommendationItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": items,
		"count":           len(items),
	})
}

var eventPayloadKinds = map[memory.SystemEvent]memory.PayloadKind{
	memory.EventPageView:     memory.KindPage,
	memory.EventTaskView:     memory.KindTaskView,
	memory.EventFeatureUse:   memory.KindFeature,
	memory.EventSessionStart: memory.KindGeneric,
	memory.EventSessionEnd:   memory.KindGeneric,
}

func (api *MemoryAPI) handleSystemEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event memory.SystemEvent `json:"event"`
		Data  json.RawMessage    `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, ok := eventPayloadKinds[req.Event]
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown event")
		return
	}
	payload, err := memory.DecodePayload(kind, req.Data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	api.engine.UpdateSystemMemory(r.Context(), req.Event, payload)
	respondJSON(w, http.StatusOK, api.engine.SystemMemory())
}

func (api *MemoryAPI) handleGetTemp(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.engine.TempMemory())
}

func (api *MemoryAPI) handleUpdateTemp(w http.ResponseWriter, r *http.Request) {
	var patch memory.TempPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	respondJSON(w, http.StatusOK, api.engine.UpdateTempMemory(patch))
}

func (api *MemoryAPI) handleClearTemp(w http.ResponseWriter, r *http.Request) {
	api.engine.ClearTempMemory()
	respondJSON(w, http.StatusOK, map[string]string{"message": "cleared"})
}

func (api *MemoryAPI) handleReport(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.engine.GetIntelligenceReport())
}

func (api *MemoryAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := api.engine.ExportMemoryData()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="weekly_plan_memory.json"`)
	respondJSON(w, http.StatusOK, data)
}

func (api *MemoryAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res := api.engine.ImportMemoryData(r.Context(), raw)
	if res.Error != "" {
		respondJSON(w, http.StatusBadRequest, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (api *MemoryAPI) handleClear(w http.ResponseWriter, r *http.Request) {
	api.engine.ClearAllMemory(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"message": "memory cleared"})
}
