package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bustrack/internal/metrics"
)

// WebSocket live feed for vehicle fixes. Clients subscribe per vehicle (or to
// "*" for the whole fleet) and receive fix.updated events as they are derived.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	VehicleID string         `json:"vehicleId,omitempty"`
	Event     string         `json:"event,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// LiveWSHandler handles /v1/live/ws
func (s *Server) LiveWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	metrics.LiveClients.WithLabelValues("ws").Inc()
	defer metrics.LiveClients.WithLabelValues("ws").Dec()

	// Track subscriptions: id -> vehicleID and channel
	type sub struct {
		vehicleID string
		ch        chan FeedEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// One writer at a time: the read loop, keepalive and fanout goroutines all
	// write, and gorilla forbids concurrent writes on one connection.
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// keepalive
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := write(wsMessage{Type: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			vid := msg.VehicleID
			if vid == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Error: "vehicleId required"})
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Error: "duplicate subscription id"})
				continue
			}
			ch := s.Broker.Subscribe(vid)
			subs[msg.ID] = sub{vehicleID: vid, ch: ch}
			_ = write(wsMessage{Type: "ack", ID: msg.ID, VehicleID: vid})
			// snapshot so the client has current positions immediately
			for _, fix := range s.Feed.Snapshot(vid) {
				_ = write(wsMessage{Type: "next", ID: msg.ID, Event: "fix.snapshot", Data: fixEventData(fix)})
			}
			go func(id string, c chan FeedEvent) {
				for evt := range c {
					_ = write(wsMessage{Type: "next", ID: id, Event: evt.Type, Data: evt.Data})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "unsubscribe":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.vehicleID, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.vehicleID, s0.ch)
		delete(subs, id)
	}
}
