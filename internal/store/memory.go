package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "bustrack/internal/model"
)

// Memory is a mutex-guarded in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    vehicles map[string]model.Vehicle      // vehicleId -> vehicle
    fixes    map[string]model.LocationFix  // vehicleId -> current fix
    subs     map[string]model.Subscription // id -> subscription
    subOrder []string
    // Webhook queue state
    deliveries map[string]*memDelivery
    order      []string
}

func NewMemory() *Memory {
    return &Memory{
        vehicles:   map[string]model.Vehicle{},
        fixes:      map[string]model.LocationFix{},
        subs:       map[string]model.Subscription{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
}

func (m *Memory) LoadVehicle(ctx context.Context, vehicleID string) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.vehicles[vehicleID]
    if !ok { return model.Vehicle{}, ErrNotFound }
    return v, nil
}

func (m *Memory) SaveVehicle(ctx context.Context, v model.Vehicle) error {
    m.mu.Lock(); defer m.mu.Unlock()
    cur, ok := m.vehicles[v.VehicleID]
    if !ok { return ErrNotFound }
    if v.Assigned {
        // the unassigned->assigned transition is compare-and-set
        if cur.Assigned { return ErrConflict }
        if v.DeviceHandle != nil {
            for id, other := range m.vehicles {
                if id == v.VehicleID || !other.Assigned || other.DeviceHandle == nil { continue }
                if *other.DeviceHandle == *v.DeviceHandle { return ErrConflict }
            }
        }
    }
    m.vehicles[v.VehicleID] = v
    return nil
}

func (m *Memory) ListVehicles(ctx context.Context, assigned *bool) ([]model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Vehicle{}
    for _, v := range m.vehicles {
        if assigned == nil || v.Assigned == *assigned { out = append(out, v) }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
    return out, nil
}

func (m *Memory) FindVehicleByOwner(ctx context.Context, ownerName string) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, v := range m.vehicles {
        if v.Assigned && v.OwnerName == ownerName { return v, nil }
    }
    return model.Vehicle{}, ErrNotFound
}

func (m *Memory) SeedVehicles(ctx context.Context, vehicleIDs []string) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    created := 0
    for _, id := range vehicleIDs {
        if _, ok := m.vehicles[id]; ok { continue }
        m.vehicles[id] = model.Vehicle{VehicleID: id}
        created++
    }
    return created, nil
}

func (m *Memory) LoadCurrentFix(ctx context.Context, vehicleID string) (model.LocationFix, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    f, ok := m.fixes[vehicleID]
    if !ok { return model.LocationFix{}, ErrNotFound }
    return f, nil
}

func (m *Memory) UpsertFix(ctx context.Context, fix model.LocationFix) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.fixes[fix.VehicleID] = fix
    return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[s.ID] = s
    m.subOrder = append(m.subOrder, s.ID)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, id := range m.subOrder {
        s, ok := m.subs[id]
        if !ok { continue }
        for _, e := range s.Events {
            if e == eventType { out = append(out, s); break }
        }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, id := range m.subOrder {
        if s, ok := m.subs[id]; ok { out = append(out, s) }
    }
    return out, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.subs[id]; !ok { return ErrNotFound }
    delete(m.subs, id)
    keep := make([]string, 0, len(m.subOrder))
    for _, sid := range m.subOrder { if sid != id { keep = append(keep, sid) } }
    m.subOrder = keep
    return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.order = append(m.order, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.order {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    if success {
        d.Status = "delivered"
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if d := m.deliveries[id]; d != nil {
        d.Status = "failed"
        d.LastError = lastError
        d.ResponseCode = responseCode
    }
    return nil
}
