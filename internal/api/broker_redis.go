package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

type EventBroker interface {
    Subscribe(vehicleID string) chan FeedEvent
    Unsubscribe(vehicleID string, ch chan FeedEvent)
    Publish(vehicleID string, evt FeedEvent)
}

// In-memory broker already implemented in broker.go and satisfies EventBroker

// RedisBroker implements EventBroker over Redis Pub/Sub, so live feeds work
// across API replicas.
type RedisBroker struct {
    rdb *redis.Client

    mu      sync.Mutex
    readers map[chan FeedEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisBroker{rdb: redis.NewClient(opt), readers: map[chan FeedEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(vehicleID string) chan FeedEvent {
    ch := make(chan FeedEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(vehicleID))
    // initial consume to ensure subscription
    _, _ = ps.Receive(ctx)
    b.mu.Lock()
    b.readers[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt FeedEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the PubSub; the reader goroutine drains and closes ch.
func (b *RedisBroker) Unsubscribe(vehicleID string, ch chan FeedEvent) {
    b.mu.Lock()
    ps := b.readers[ch]
    delete(b.readers, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(vehicleID string, evt FeedEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    _ = b.rdb.Publish(ctx, b.chanName(vehicleID), data).Err()
    _ = b.rdb.Publish(ctx, b.chanName(FeedAll), data).Err()
}

func (b *RedisBroker) chanName(vehicleID string) string { return "vehicle:" + vehicleID }
