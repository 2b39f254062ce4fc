package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "bustrack/internal/metrics"
    "bustrack/internal/model"
    "bustrack/internal/registry"
    "bustrack/internal/store"
    "bustrack/internal/tracker"
)

// VehiclesHandler handles GET/POST /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        var assigned *bool
        if v := r.URL.Query().Get("assigned"); v != "" {
            b := strings.EqualFold(v, "true") || v == "1"
            assigned = &b
        }
        items, err := s.Store.ListVehicles(r.Context(), assigned)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List vehicles failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req struct {
            VehicleIDs []string `json:"vehicleIds"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if len(req.VehicleIDs) == 0 { writeProblem(w, 400, "Missing vehicleIds", "", r.URL.Path); return }
        created, err := s.Store.SeedVehicles(r.Context(), req.VehicleIDs)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Register vehicles failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, map[string]any{"created": created, "skipped": len(req.VehicleIDs) - created})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// VehicleByIDHandler handles /v1/vehicles/{id} and its subresources:
// POST {id}/fixes, GET {id}/fix, POST {id}/assign, GET {id}/fixes/stream
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/vehicles/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing vehicle id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "unassigned" && len(parts) == 1 {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        items, err := s.Registry.ListUnassigned(r.Context())
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List vehicles failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
        return
    }
    if len(parts) > 2 && parts[1] == "fixes" && parts[2] == "stream" {
        s.streamFixes(w, r, id)
        return
    }
    if len(parts) > 1 && parts[1] == "fixes" {
        s.submitFix(w, r, id)
        return
    }
    if len(parts) > 1 && parts[1] == "fix" {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        fix, err := s.Store.LoadCurrentFix(r.Context(), id)
        if err != nil {
            writeDomainErr(w, err, "Load fix failed", r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, fix)
        return
    }
    if len(parts) > 1 && parts[1] == "assign" {
        s.assignHandle(w, r, id)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    v, err := s.Store.LoadVehicle(r.Context(), id)
    if err != nil {
        writeDomainErr(w, err, "Load vehicle failed", r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, v)
}

// submitFix ingests one raw observation and returns the derived fix.
func (s *Server) submitFix(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanIngest() { writeProblem(w, 403, "Forbidden", "device, dispatcher or admin required", r.URL.Path); return }
    if !s.limiter.Allow(id) {
        metrics.FixesIngested.WithLabelValues("throttled").Inc()
        writeProblem(w, http.StatusTooManyRequests, "Rate limited", "per-vehicle ingest rate exceeded", r.URL.Path)
        return
    }
    var raw model.RawObservation
    if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
        metrics.FixesIngested.WithLabelValues("invalid").Inc()
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    start := time.Now()
    fix, err := s.Estimator.DeriveFix(r.Context(), id, raw)
    metrics.FixDeriveDuration.Observe(time.Since(start).Seconds())
    if err != nil {
        switch {
        case errors.Is(err, tracker.ErrInvalidInput):
            metrics.FixesIngested.WithLabelValues("invalid").Inc()
        case errors.Is(err, store.ErrNotFound):
            metrics.FixesIngested.WithLabelValues("not_found").Inc()
        default:
            metrics.FixesIngested.WithLabelValues("error").Inc()
        }
        writeDomainErr(w, err, "Derive fix failed", r.URL.Path)
        return
    }
    metrics.FixesIngested.WithLabelValues("ok").Inc()
    prev, hadPrev := s.Feed.Get(id)
    s.Feed.Upsert(fix)
    s.Broker.Publish(id, FeedEvent{Type: "fix.updated", Data: fixEventData(fix)})
    s.Pub.Emit(r.Context(), "fix.updated", fix)
    if hadPrev && prev.MotionState != fix.MotionState {
        data := map[string]any{
            "vehicleId": id, "from": prev.MotionState, "to": fix.MotionState,
            "speed": fix.Speed, "observedAt": fix.ObservedAt.Format(time.RFC3339),
        }
        s.Broker.Publish(id, FeedEvent{Type: "vehicle.motion.changed", Data: data})
        s.Pub.Emit(r.Context(), "vehicle.motion.changed", data)
    }
    writeJSON(w, http.StatusOK, fix)
}

func (s *Server) assignHandle(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !(p.IsAdmin() || p.Role == "dispatcher") { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
    var req struct {
        OwnerName string `json:"ownerName"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.OwnerName == "" { writeProblem(w, 400, "Missing ownerName", "", r.URL.Path); return }
    v, err := s.Registry.Assign(r.Context(), id, req.OwnerName)
    if err != nil {
        metrics.Assignments.WithLabelValues(assignOutcome(err)).Inc()
        writeDomainErr(w, err, "Assign handle failed", r.URL.Path)
        return
    }
    metrics.Assignments.WithLabelValues("ok").Inc()
    s.Pub.Emit(r.Context(), "vehicle.assigned", map[string]any{
        "vehicleId": v.VehicleID, "deviceHandle": v.DeviceHandle, "ownerName": v.OwnerName,
    })
    writeJSON(w, http.StatusOK, v)
}

func assignOutcome(err error) string {
    switch {
    case errors.Is(err, store.ErrNotFound):
        return "not_found"
    case errors.Is(err, registry.ErrAlreadyAssigned):
        return "already_assigned"
    case errors.Is(err, registry.ErrPoolExhausted):
        return "exhausted"
    case errors.Is(err, store.ErrConflict):
        return "conflict"
    default:
        return "error"
    }
}

// streamFixes serves SSE for one vehicle's live fixes; "*" streams the fleet.
func (s *Server) streamFixes(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    metrics.LiveClients.WithLabelValues("sse").Inc()
    defer metrics.LiveClients.WithLabelValues("sse").Dec()
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    // snapshot of last known fixes first
    for _, fix := range s.Feed.Snapshot(id) {
        b, _ := json.Marshal(fixEventData(fix))
        fmt.Fprintf(w, "event: fix.snapshot\n")
        fmt.Fprintf(w, "data: %s\n\n", string(b))
    }
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"vehicleId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"vehicleId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// LiveStreamHandler handles GET /v1/live/stream, the SSE fleet firehose.
func (s *Server) LiveStreamHandler(w http.ResponseWriter, r *http.Request) {
    s.streamFixes(w, r, FeedAll)
}

func fixEventData(fix model.LocationFix) map[string]any {
    data := map[string]any{
        "vehicleId":   fix.VehicleID,
        "latitude":    fix.Latitude,
        "longitude":   fix.Longitude,
        "speed":       fix.Speed,
        "motionState": fix.MotionState,
        "observedAt":  fix.ObservedAt.Format(time.RFC3339),
    }
    if fix.Heading != nil { data["heading"] = *fix.Heading }
    if fix.DeviceHandle != 0 { data["deviceHandle"] = fix.DeviceHandle }
    if fix.RouteID != "" { data["routeId"] = fix.RouteID }
    return data
}

// AssignmentsHandler handles GET /v1/assignments/{ownerName} and the query
// form GET /v1/assignments?owner=NAME
func (s *Server) AssignmentsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    owner := strings.TrimPrefix(r.URL.Path, "/v1/assignments")
    owner = strings.TrimPrefix(owner, "/")
    if owner == "" {
        owner = r.URL.Query().Get("owner")
    }
    if owner == "" { writeProblem(w, 400, "Missing owner", "", r.URL.Path); return }
    a, err := s.Registry.Lookup(r.Context(), owner)
    if err != nil {
        writeDomainErr(w, err, "Lookup failed", r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, a)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 { writeProblem(w, 400, "Missing url or events", "", r.URL.Path); return }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        items, err := s.Store.ListSubscriptions(r.Context())
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
        writeDomainErr(w, err, "Delete subscription failed", r.URL.Path)
        return
    }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
