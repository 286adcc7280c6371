package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskhub/internal/logging"
	"taskhub/internal/storage"
)

// RouterConfig carries the environment-driven toggles passed alongside the
// handler dependencies.
type RouterConfig struct {
	AgentCount int
}

// NewRouter wires the hub's endpoints plus the /ws/live push feed onto a
// stdlib http.ServeMux using method-specific patterns.
func NewRouter(facade *storage.Facade, cfg RouterConfig) http.Handler {
	h := NewHandler(facade, cfg.AgentCount)
	hub := newLiveHub(facade)
	go hub.run()

	mux := http.NewServeMux()

	mux.Handle("POST /task", routeHandler("/task", http.HandlerFunc(h.HandleCreateTask)))
	mux.Handle("GET /task/{id}", routeHandler("/task/:id", http.HandlerFunc(h.HandleGetTask)))
	mux.Handle("GET /tasks", routeHandler("/tasks", http.HandlerFunc(h.HandleListTasks)))
	mux.Handle("GET /chat/agent-responses", routeHandler("/chat/agent-responses", http.HandlerFunc(h.HandleAgentResponses)))
	mux.Handle("GET /agents/live", routeHandler("/agents/live", http.HandlerFunc(h.HandleAgentsLive)))
	mux.Handle("GET /artifacts/{id}/presigned", routeHandler("/artifacts/:id/presigned", http.HandlerFunc(h.HandlePresignedURL)))
	mux.Handle("POST /admin/tasks/{id}/cancel", routeHandler("/admin/tasks/:id/cancel", http.HandlerFunc(h.HandleCancelTask)))
	mux.Handle("GET /ws/live", routeHandler("/ws/live", http.HandlerFunc(hub.serveWS)))
	mux.Handle("GET /metrics", promhttp.Handler())

	return withRecovery(facade, withTracing(mux))
}

// routeHandler wraps a handler with a request-latency logger, named after
// the route pattern (e.g. "/task/:id") rather than the concrete request
// path, so path parameters don't multiply the route names; the concrete
// path is logged alongside it.
func routeHandler(route string, next http.Handler) http.Handler {
	log := logging.NewComponentLogger("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("%s %s -> %s (%s)", r.Method, route, r.URL.Path, time.Since(start))
	})
}
