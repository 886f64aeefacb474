// Package monitor publishes stream lifecycle events to websocket clients and
// keeps running counts of them.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanikai/vout/internal/logging"
	"github.com/lanikai/vout/internal/stream"
)

var log = logging.DefaultLogger.WithTag("monitor")

// Messages buffered per websocket client.
const clientBacklog = 64

type Monitor struct {
	bcast    *Broadcaster
	upgrader websocket.Upgrader

	mu     sync.Mutex
	counts map[string]uint64
	server *http.Server
}

func New() *Monitor {
	return &Monitor{
		bcast: NewBroadcaster(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		counts: make(map[string]uint64),
	}
}

// Observe records and publishes one event. It is a stream.Observer.
func (m *Monitor) Observe(ev stream.Event) {
	m.mu.Lock()
	m.counts[ev.Type.String()]++
	m.mu.Unlock()

	if m.bcast.Subscribers() == 0 {
		return
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Warn("encode %v: %v", ev.Type, err)
		return
	}
	m.bcast.Write(msg)
}

// Counts returns the number of events seen, by type.
func (m *Monitor) Counts() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

func (m *Monitor) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("/events", m.handleEvents)
	router.HandleFunc("/stats", m.handleStats)
	return router
}

// ListenAndServe serves the handler on addr until Close.
func (m *Monitor) ListenAndServe(addr string) error {
	m.mu.Lock()
	m.server = &http.Server{Addr: addr, Handler: m.Handler()}
	server := m.server
	m.mu.Unlock()

	log.Info("listening on %s", addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close disconnects every client and stops the server, if any.
func (m *Monitor) Close() error {
	m.bcast.Close()

	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Counts()); err != nil {
		log.Warn("stats: %v", err)
	}
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	ch := m.bcast.Subscribe(clientBacklog)
	defer m.bcast.Unsubscribe(ch)

	if err := ws.WriteJSON(map[string]interface{}{
		"type":        "hello",
		"subscribers": m.bcast.Subscribers(),
	}); err != nil {
		return
	}
	log.Debug("client %s connected", r.RemoteAddr)

	// Clients only listen; reading notices when they go away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("client %s: %v", r.RemoteAddr, err)
				return
			}
		case <-gone:
			log.Debug("client %s disconnected", r.RemoteAddr)
			return
		}
	}
}
