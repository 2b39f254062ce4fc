package api

import (
    "encoding/json"
    "net/http"
    "time"

    "bustrack/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT":            s.Cfg.Port,
            "AUTH_MODE":       s.Cfg.AuthMode,
            "ESTIMATOR":       s.Cfg.Estimator,
            "POOL_SIZE":       s.Cfg.Registry.PoolSize,
            "RATE":            s.Cfg.Rate,
            "HAS_DATABASE_URL": s.Cfg.DatabaseURL != "",
            "HAS_REDIS_URL":    s.Cfg.RedisURL != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
