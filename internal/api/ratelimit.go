package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// ingestLimiter bounds per-vehicle observation throughput. Devices that report
// faster than the configured rate get 429s instead of stressing derivation.
type ingestLimiter struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	m     map[string]*rate.Limiter
}

func newIngestLimiter(rps float64, burst int) *ingestLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &ingestLimiter{rps: rate.Limit(rps), burst: burst, m: map[string]*rate.Limiter{}}
}

func (l *ingestLimiter) Allow(vehicleID string) bool {
	l.mu.Lock()
	lim := l.m[vehicleID]
	if lim == nil {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.m[vehicleID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
