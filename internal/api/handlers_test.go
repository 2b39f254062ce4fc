package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "bustrack/internal/config"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg := config.Default()
    cfg.Rate.RPS = 1000
    cfg.Rate.Burst = 1000
    cfg.Seed.Vehicles = []string{"BUS-1", "BUS-2", "BUS-3"}
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    if err := s.Seed(context.Background()); err != nil { t.Fatalf("seed: %v", err) }
    return s
}

func postJSON(t *testing.T, s *Server, h http.HandlerFunc, path string, body string) *httptest.ResponseRecorder {
    t.Helper()
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Role", "admin")
    h(rr, req)
    return rr
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestVehiclesListAndRegister(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.VehiclesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil))
    if rr.Code != 200 { t.Fatalf("list: got %d", rr.Code) }
    var res struct{ Items []map[string]any `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode: %v", err) }
    if len(res.Items) != 3 { t.Fatalf("items = %d, want 3", len(res.Items)) }

    rr = postJSON(t, s, s.VehiclesHandler, "/v1/vehicles", `{"vehicleIds":["BUS-4","BUS-1"]}`)
    if rr.Code != http.StatusCreated { t.Fatalf("register: got %d body %s", rr.Code, rr.Body.String()) }
    var cres struct{ Created, Skipped int }
    _ = json.Unmarshal(rr.Body.Bytes(), &cres)
    if cres.Created != 1 || cres.Skipped != 1 { t.Fatalf("created=%d skipped=%d", cres.Created, cres.Skipped) }
}

func TestSubmitFixAndGetCurrent(t *testing.T) {
    s := newTestServer(t)
    rr := postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/BUS-1/fixes", `{"latitude":19.0,"longitude":72.8,"observedAt":"2024-06-01T10:00:00Z"}`)
    if rr.Code != 200 { t.Fatalf("submit: got %d body %s", rr.Code, rr.Body.String()) }
    var fix struct {
        VehicleID   string  `json:"vehicleId"`
        Speed       float64 `json:"speed"`
        MotionState string  `json:"motionState"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &fix); err != nil { t.Fatalf("decode: %v", err) }
    if fix.VehicleID != "BUS-1" || fix.Speed != 0 || fix.MotionState != "stopped" {
        t.Fatalf("first fix = %+v", fix)
    }

    rr = httptest.NewRecorder()
    s.VehicleByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles/BUS-1/fix", nil))
    if rr.Code != 200 { t.Fatalf("current fix: got %d", rr.Code) }

    // no fix yet for BUS-2
    rr = httptest.NewRecorder()
    s.VehicleByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles/BUS-2/fix", nil))
    if rr.Code != 404 { t.Fatalf("missing fix: got %d", rr.Code) }
}

func TestSubmitFixErrors(t *testing.T) {
    s := newTestServer(t)
    // unknown vehicle -> 404
    rr := postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/ghost/fixes", `{"latitude":19.0,"longitude":72.8,"observedAt":"2024-06-01T10:00:00Z"}`)
    if rr.Code != 404 { t.Fatalf("unknown vehicle: got %d", rr.Code) }
    // out-of-range latitude -> 400
    rr = postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/BUS-1/fixes", `{"latitude":99.0,"longitude":72.8,"observedAt":"2024-06-01T10:00:00Z"}`)
    if rr.Code != 400 { t.Fatalf("bad latitude: got %d", rr.Code) }
    // malformed timestamp -> 400
    rr = postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/BUS-1/fixes", `{"latitude":19.0,"longitude":72.8,"observedAt":"noon"}`)
    if rr.Code != 400 { t.Fatalf("bad timestamp: got %d", rr.Code) }
}

func TestSubmitFixRateLimited(t *testing.T) {
    cfg := config.Default()
    cfg.Rate.RPS = 1
    cfg.Rate.Burst = 2
    cfg.Seed.Vehicles = []string{"BUS-1"}
    s, err := NewServer(cfg)
    if err != nil { t.Fatal(err) }
    if err := s.Seed(context.Background()); err != nil { t.Fatal(err) }
    var last int
    for i := 0; i < 4; i++ {
        body := fmt.Sprintf(`{"latitude":19.0,"longitude":72.8,"observedAt":"2024-06-01T10:00:%02dZ"}`, i)
        rr := postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
            "/v1/vehicles/BUS-1/fixes", body)
        last = rr.Code
    }
    if last != http.StatusTooManyRequests { t.Fatalf("burst overrun: got %d, want 429", last) }
}

func TestAssignFlow(t *testing.T) {
    s := newTestServer(t)
    rr := postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/BUS-1/assign", `{"ownerName":"depot-7"}`)
    if rr.Code != 200 { t.Fatalf("assign: got %d body %s", rr.Code, rr.Body.String()) }
    var v struct {
        DeviceHandle *int   `json:"deviceHandle"`
        OwnerName    string `json:"ownerName"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil { t.Fatalf("decode: %v", err) }
    if v.DeviceHandle == nil || *v.DeviceHandle < 1 || *v.DeviceHandle > 100 {
        t.Fatalf("handle = %v", v.DeviceHandle)
    }

    // second assign conflicts
    rr = postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/BUS-1/assign", `{"ownerName":"depot-8"}`)
    if rr.Code != 409 { t.Fatalf("re-assign: got %d", rr.Code) }

    // lookup by owner
    rr = httptest.NewRecorder()
    s.AssignmentsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/assignments?owner=depot-7", nil))
    if rr.Code != 200 { t.Fatalf("lookup: got %d", rr.Code) }
    var a struct {
        VehicleID    string `json:"vehicleId"`
        DeviceHandle int    `json:"deviceHandle"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &a)
    if a.VehicleID != "BUS-1" || a.DeviceHandle != *v.DeviceHandle { t.Fatalf("lookup = %+v", a) }

    rr = httptest.NewRecorder()
    s.AssignmentsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/assignments?owner=nobody", nil))
    if rr.Code != 404 { t.Fatalf("unknown owner: got %d", rr.Code) }
}

func TestSubmitFixEnqueuesWebhook(t *testing.T) {
    s := newTestServer(t)
    rr := postJSON(t, s, s.SubscriptionsHandler, "/v1/subscriptions",
        `{"url":"https://example.invalid/webhook","events":["fix.updated"],"secret":"shh"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("create sub: %d", rr.Code) }

    rr = postJSON(t, s, func(w http.ResponseWriter, r *http.Request) { s.VehicleByIDHandler(w, r) },
        "/v1/vehicles/BUS-1/fixes", `{"latitude":19.0,"longitude":72.8,"observedAt":"2024-06-01T10:00:00Z"}`)
    if rr.Code != 200 { t.Fatalf("submit: %d", rr.Code) }

    due, err := s.Store.FetchDueWebhookDeliveries(context.Background(), 10)
    if err != nil { t.Fatal(err) }
    if len(due) != 1 || due[0].EventType != "fix.updated" {
        t.Fatalf("deliveries = %+v", due)
    }
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header { if r.hdr == nil { r.hdr = http.Header{} }; return r.hdr }
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush() {}

func TestFixStreamSSE(t *testing.T) {
    s := newTestServer(t)

    sseReq := httptest.NewRequest(http.MethodGet, "/v1/vehicles/BUS-1/fixes/stream", nil)
    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    sseReq = sseReq.WithContext(ctx)

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        s.VehicleByIDHandler(rec, sseReq)
        close(done)
    }()

    // Give handler time to subscribe and send heartbeat
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish("BUS-1", FeedEvent{Type: "fix.updated", Data: map[string]any{"vehicleId": "BUS-1"}})

    deadline := time.Now().Add(500 * time.Millisecond)
    for time.Now().Before(deadline) {
        if bytes.Contains(rec.buf.Bytes(), []byte("event: fix.updated")) {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    if !bytes.Contains(rec.buf.Bytes(), []byte("event: fix.updated")) {
        t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
    }
    cancel()
    select {
    case <-done:
    case <-time.After(200 * time.Millisecond):
        t.Fatal("handler did not exit after cancel")
    }
}

func TestIngestForbiddenForRider(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/vehicles/BUS-1/fixes",
        bytes.NewReader([]byte(`{"latitude":19.0,"longitude":72.8,"observedAt":"2024-06-01T10:00:00Z"}`)))
    req.Header.Set("X-Role", "rider")
    s.VehicleByIDHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("rider ingest: got %d", rr.Code) }
}
