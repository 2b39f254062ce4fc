package api

import (
    "context"
    "log"
    "strings"

    "bustrack/internal/auth"
    "bustrack/internal/config"
    "bustrack/internal/registry"
    "bustrack/internal/store"
    "bustrack/internal/tracker"
    "bustrack/internal/webhooks"
)

type Server struct {
    Cfg       *config.Config
    Store     store.Store
    Estimator *tracker.Estimator
    Registry  *registry.Registry
    Pub       *webhooks.Publisher
    Auth      *auth.Verifier
    Broker    EventBroker
    Feed      *FeedCache
    limiter   *ingestLimiter
}

// NewServer wires the service from config. With no DatabaseURL it uses the
// in-memory store; with no RedisURL the in-memory broker.
func NewServer(cfg *config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if err := sp.MigrateDir("db/migrations"); err != nil {
            log.Printf("migrate: %v", err)
        }
        s = sp
    }
    var broker EventBroker
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    est := tracker.New(s,
        tracker.WithPolicy(tracker.Policy(cfg.Estimator.Policy)),
        tracker.WithAlpha(cfg.Estimator.Alpha),
        tracker.WithThreshold(cfg.Estimator.SpeedThreshold),
    )
    return &Server{
        Cfg:       cfg,
        Store:     s,
        Estimator: est,
        Registry:  registry.New(s, cfg.Registry.PoolSize),
        Pub:       webhooks.NewPublisher(s),
        Auth:      auth.NewVerifier(cfg.AuthMode),
        Broker:    broker,
        Feed:      NewFeedCache(),
        limiter:   newIngestLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
    }, nil
}

// Seed registers the configured vehicle fleet; already known IDs are kept.
func (s *Server) Seed(ctx context.Context) error {
    ids, err := s.Cfg.SeedVehicleIDs()
    if err != nil {
        return err
    }
    if len(ids) == 0 {
        return nil
    }
    created, err := s.Store.SeedVehicles(ctx, ids)
    if err != nil {
        return err
    }
    log.Printf("seeded %d new vehicles (%d configured)", created, len(ids))
    return nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts)
}
