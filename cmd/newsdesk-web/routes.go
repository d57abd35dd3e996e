package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matthewjhunter/newsdesk"
)

// newRouter sets up all routes using Go 1.22+ enhanced routing. registry
// may be nil, in which case /metrics is not served.
func newRouter(engine *newsdesk.Engine, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	h := newHandlers(engine)

	mux.HandleFunc("GET /api/news", h.handleNews)
	mux.HandleFunc("GET /api/news/backlog", h.handleBacklog)
	mux.HandleFunc("GET /api/news/status", h.handleStatus)
	mux.HandleFunc("POST /api/news/toggle", h.handleToggle)
	mux.HandleFunc("GET /api/news/enrichments", h.handleEnrichments)
	mux.HandleFunc("GET /api/pipeline/workers", h.handleWorkers)
	mux.Handle("GET /ws", engine.Hub())

	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return mux
}
