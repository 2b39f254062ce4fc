package api

import (
    "sync"
)

// FeedEvent is one live-feed message, fanned out to SSE and WebSocket clients.
type FeedEvent struct {
    Type string
    Data map[string]any
}

// FeedAll subscribes to events for every vehicle.
const FeedAll = "*"

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan FeedEvent]struct{} // vehicleId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan FeedEvent]struct{}{}}
}

func (b *Broker) Subscribe(vehicleID string) chan FeedEvent {
    ch := make(chan FeedEvent, 8)
    b.mu.Lock()
    if b.subs[vehicleID] == nil { b.subs[vehicleID] = map[chan FeedEvent]struct{}{} }
    b.subs[vehicleID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(vehicleID string, ch chan FeedEvent) {
    b.mu.Lock()
    if m := b.subs[vehicleID]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, vehicleID) }
    }
    b.mu.Unlock()
    close(ch)
}

// Publish delivers to the vehicle's subscribers and to the firehose key.
// Slow consumers drop events rather than block ingestion.
func (b *Broker) Publish(vehicleID string, evt FeedEvent) {
    b.mu.Lock()
    for _, key := range []string{vehicleID, FeedAll} {
        for ch := range b.subs[key] {
            select { case ch <- evt: default: }
        }
    }
    b.mu.Unlock()
}
