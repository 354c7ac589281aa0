package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scopebridge/pkg/device"
)

// Client is one WebSocket monitor.
type Client struct {
	conn *websocket.Conn
	send chan interface{}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// stateMessage is what monitors receive on /ws.
type stateMessage struct {
	Type  string          `json:"type"`
	State device.Snapshot `json:"state"`
}

// statusServer exposes the bridge's state over HTTP for monitoring. It never
// changes device state.
type statusServer struct {
	state    *device.State
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*Client]bool
}

func newStatusServer(state *device.State, g prometheus.Gatherer) *statusServer {
	return &statusServer{
		state:    state,
		gatherer: g,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*Client]bool),
	}
}

func (s *statusServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *statusServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.state.Snapshot())
}

func (s *statusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade:", err)
		return
	}
	log.Println("Monitor connected")

	client := &Client{conn: conn, send: make(chan interface{}, 16)}
	client.send <- stateMessage{Type: "state", State: s.state.Snapshot()}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	go client.writePump()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		close(client.send) // This will stop writePump
		log.Println("Monitor disconnected")
	}()

	// Monitors only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *statusServer) broadcastJSON(msg interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// watch pushes a snapshot to every monitor after each state change.
func (s *statusServer) watch(ctx context.Context) {
	for {
		changed := s.state.Changed()
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
		s.broadcastJSON(stateMessage{Type: "state", State: s.state.Snapshot()})
	}
}

// run serves on addr until ctx is cancelled.
func (s *statusServer) run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Status server listening on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
