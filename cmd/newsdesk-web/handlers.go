package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/matthewjhunter/newsdesk"
)

const backlogCacheKey = "backlog"

// handlers holds dependencies for all HTTP handler methods.
type handlers struct {
	engine *newsdesk.Engine
	cache  *cache.Cache // short-lived backlog counts; the queries scan every stage
}

func newHandlers(engine *newsdesk.Engine) *handlers {
	return &handlers{
		engine: engine,
		cache:  cache.New(10*time.Second, time.Minute),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("newsdesk-web: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

// handleNews serves GET /api/news?page=&page_size=&search=
func (h *handlers) handleNews(w http.ResponseWriter, r *http.Request) {
	page, err := h.engine.NewsPage(r.Context(),
		parseIntParam(r, "page", 1),
		parseIntParam(r, "page_size", 20),
		r.URL.Query().Get("search"))
	if err != nil {
		log.Printf("newsdesk-web: news page: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load news")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) handleBacklog(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.Get(backlogCacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	backlog := h.engine.Backlog(r.Context())
	h.cache.SetDefault(backlogCacheKey, backlog)
	writeJSON(w, http.StatusOK, backlog)
}

type statusResponse struct {
	Status             string `json:"status"`
	WebsocketConnected bool   `json:"websocket_connected"`
	WebsocketClients   int    `json:"websocket_clients"`
	DatabaseAccessible bool   `json:"database_accessible"`
	SyncEnabled        bool   `json:"sync_enabled"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	enabled := h.engine.SyncEnabled(r.Context())
	status := "disabled"
	if enabled {
		status = "active"
	}
	_, _, err := h.engine.FinalNews(r.Context(), 1, 0, "")
	writeJSON(w, http.StatusOK, statusResponse{
		Status:             status,
		WebsocketConnected: true,
		WebsocketClients:   h.engine.Hub().ClientCount(),
		DatabaseAccessible: err == nil,
		SyncEnabled:        enabled,
	})
}

// handleToggle serves POST /api/news/toggle?enabled=true|false
func (h *handlers) handleToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be true or false")
		return
	}
	if err := h.engine.SetSyncEnabled(r.Context(), enabled); err != nil {
		log.Printf("newsdesk-web: toggle sync: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update setting")
		return
	}
	msg := "News sync disabled"
	if enabled {
		msg = "News sync enabled"
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg, "sync_enabled": enabled})
}

func (h *handlers) handleEnrichments(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	items, err := h.engine.RecentEnrichments(r.Context(), limit)
	if err != nil {
		log.Printf("newsdesk-web: recent enrichments: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load enrichments")
		return
	}
	if items == nil {
		items = []newsdesk.RecentEnrichment{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handlers) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.engine.WorkerStatus()
	if workers == nil {
		workers = []newsdesk.WorkerStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}
