// Package main runs a demo WebSocket client for the live vehicle feed.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	VehicleID string         `json:"vehicleId,omitempty"`
	Event     string         `json:"event,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	vehicleID := os.Getenv("VEHICLE_ID")
	if vehicleID == "" {
		vehicleID = "BUS-demo"
	}

	// Register the vehicle
	body := []byte(fmt.Sprintf(`{"vehicleIds":["%s"]}`, vehicleID))
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/vehicles", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	if _, err := http.DefaultClient.Do(req); err != nil {
		log.Fatal(err)
	}
	log.Printf("Vehicle ID: %s", vehicleID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/live/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", VehicleID: vehicleID}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			b, _ := json.Marshal(m.Data)
			log.Printf("WS <- %s %s: %s", m.Type, m.Event, string(b))
		}
	}()

	// Submit a pair of observations to trigger derived fixes
	time.Sleep(500 * time.Millisecond)
	obs := []string{
		`{"latitude":19.0,"longitude":72.8,"observedAt":"%s"}`,
		`{"latitude":19.0009,"longitude":72.8,"observedAt":"%s"}`,
	}
	at := time.Now().UTC()
	for i, tpl := range obs {
		payload := fmt.Sprintf(tpl, at.Add(time.Duration(i)*10*time.Second).Format(time.RFC3339))
		fixReq, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/vehicles/%s/fixes", base, vehicleID), bytes.NewReader([]byte(payload)))
		fixReq.Header.Set("Content-Type", "application/json")
		fixReq.Header.Set("X-Role", "device")
		_, _ = http.DefaultClient.Do(fixReq)
		time.Sleep(200 * time.Millisecond)
	}

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
