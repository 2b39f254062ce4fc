package main

import (
    "context"
    "log"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "bustrack/internal/api"
    "bustrack/internal/config"
    "bustrack/internal/metrics"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    if err := srvDeps.Seed(context.Background()); err != nil {
        log.Fatalf("failed to seed vehicles: %v", err)
    }
    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Vehicles and location fixes
    mux.HandleFunc("/v1/vehicles", srvDeps.VehiclesHandler)
    mux.HandleFunc("/v1/vehicles/", srvDeps.VehicleByIDHandler) // includes /fixes, /fix, /assign, /fixes/stream

    // Device handle assignments
    mux.HandleFunc("/v1/assignments", srvDeps.AssignmentsHandler)
    mux.HandleFunc("/v1/assignments/", srvDeps.AssignmentsHandler)

    // Live feed
    mux.HandleFunc("/v1/live/stream", srvDeps.LiveStreamHandler)
    mux.HandleFunc("/v1/live/ws", srvDeps.LiveWSHandler)

    // Webhook subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Health and introspection
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.HandleFunc("/debugz", srvDeps.DebugJSON)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    addr := ":" + cfg.Port

    srv := &http.Server{
        Addr:              addr,
        Handler:           api.Instrument(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", addr)
    // Start webhook worker
    if srvDeps.Pub != nil {
        worker := srvDeps.NewWebhookWorker()
        worker.Start()
    }
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}
