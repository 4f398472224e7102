// Package ui serves the browser front-end and streams live learning
// statistics to it over a websocket.
package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"gender-classifier/internal/api"
	"gender-classifier/internal/ledger"
	"gender-classifier/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// StatsSource returns the current statistics.
type StatsSource func(ctx context.Context) (ledger.Stats, error)

// Hub fans statistics out to connected websocket clients.
type Hub struct {
	source    StatsSource
	interval  time.Duration
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool // Connected websocket clients
	clientsMu sync.Mutex               // Guards clients and serializes writes
	broadcast chan ledger.Stats
	gauge     metrics.MetricsGauge
	errors    metrics.MetricsCounter
}

// HubOptions configures a Hub.
type HubOptions struct {
	// Interval re-sends stats periodically; 0 sends only on change.
	Interval time.Duration
	// Clients tracks the number of connected clients when set.
	Clients metrics.MetricsGauge
	// Errors counts failed upgrades and writes when set.
	Errors metrics.MetricsCounter
	// CheckOrigin overrides the upgrader origin check; nil allows all origins.
	CheckOrigin func(r *http.Request) bool
}

func NewHub(source StatsSource, opts HubOptions) *Hub {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		source:    source,
		interval:  opts.Interval,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan ledger.Stats, 16),
		gauge:     opts.Clients,
		errors:    opts.Errors,
	}
}

// Publish queues stats for broadcast. It never blocks; when the queue is
// full the update is dropped since a newer one will follow.
func (h *Hub) Publish(st ledger.Stats) {
	select {
	case h.broadcast <- st:
	default:
	}
}

// Run broadcasts until ctx is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	var tick <-chan time.Time
	if h.interval > 0 {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case st := <-h.broadcast:
			h.broadcastToClients(st)
		case <-tick:
			st, err := h.source(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to collect stats for broadcast")
				continue
			}
			h.broadcastToClients(st)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcastToClients(st ledger.Stats) {
	data, err := json.Marshal(api.NewStatsResponse(st))
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal stats for broadcast")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		if err := writeMessage(client, data); err != nil {
			log.Debug().Err(err).Msg("Dropping websocket client")
			h.countError()
			client.Close()
			h.removeLocked(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.Close()
		h.removeLocked(client)
	}
}

func (h *Hub) removeLocked(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	if h.gauge != nil {
		h.gauge.Add(-1)
	}
}

// ServeWS upgrades the connection, sends the current stats and keeps the
// client registered until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		h.countError()
		return
	}
	defer conn.Close()
	// server read timeouts would otherwise end idle subscribers
	conn.SetReadDeadline(time.Time{})

	var initial []byte
	if st, err := h.source(r.Context()); err == nil {
		initial, _ = json.Marshal(api.NewStatsResponse(st))
	} else {
		log.Warn().Err(err).Msg("Failed to load initial stats")
	}

	h.clientsMu.Lock()
	if initial != nil {
		if err := writeMessage(conn, initial); err != nil {
			h.clientsMu.Unlock()
			log.Debug().Err(err).Msg("Failed to send initial stats")
			h.countError()
			return
		}
	}
	h.clients[conn] = true
	if h.gauge != nil {
		h.gauge.Add(1)
	}
	h.clientsMu.Unlock()

	// clients only listen; reading detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.clientsMu.Lock()
	h.removeLocked(conn)
	h.clientsMu.Unlock()
}

func (h *Hub) countError() {
	if h.errors != nil {
		h.errors.Inc()
	}
}

func writeMessage(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
