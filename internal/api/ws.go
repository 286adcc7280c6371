package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskhub/internal/logging"
	"taskhub/internal/storage"
)

const wsPushInterval = 2 * time.Second

// liveHub is the GET /ws/live push feed: a gorilla/websocket broadcaster
// that pushes each agent's recent progress rather than having the dashboard
// poll for it. Its payload is lighter than /agents/live: progress only, no
// artifacts or presigned URLs.
type liveHub struct {
	facade   *storage.Facade
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newLiveHub(facade *storage.Facade) *liveHub {
	return &liveHub{
		facade:  facade,
		clients: make(map[*websocket.Conn]struct{}),
		log:     logging.NewComponentLogger("ws-live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from the same origin as the hub;
			// same-origin only, no wildcard CheckOrigin.
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
	}
}

func (h *liveHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Drain client reads so ping/pong and close frames are processed;
	// this feed is push-only, clients aren't expected to send data.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *liveHub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// run ticks every wsPushInterval, building a snapshot of generated_at plus
// a map from agent id to its latest progress entries (newest first, up to
// defaultLiveLimit; only agents with progress appear) and pushing it to
// every connected client.
func (h *liveHub) run() {
	ctx := context.Background()
	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.Lock()
		n := len(h.clients)
		h.mu.Unlock()
		if n == 0 {
			continue
		}
		payload, err := h.buildPayload(ctx)
		if err != nil {
			h.log.Warn("building live payload: %v", err)
			continue
		}
		h.broadcast(payload)
	}
}

func (h *liveHub) buildPayload(ctx context.Context) ([]byte, error) {
	byAgent, err := h.facade.LatestProgressPerAgent(ctx, defaultLiveLimit)
	if err != nil {
		return nil, err
	}
	view := make(map[string][]progressDTO, len(byAgent))
	for agent, entries := range byAgent {
		dtos := make([]progressDTO, 0, len(entries))
		for _, p := range entries {
			dtos = append(dtos, toProgressDTO(p))
		}
		view[agent] = dtos
	}
	return json.Marshal(struct {
		GeneratedAt time.Time                `json:"generated_at"`
		Agents      map[string][]progressDTO `json:"agents"`
	}{GeneratedAt: time.Now(), Agents: view})
}

func (h *liveHub) broadcast(payload []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.removeClient(c)
		}
	}
}
