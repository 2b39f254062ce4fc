package api

import (
	"sync"

	"bustrack/internal/model"
)

// FeedCache keeps the latest derived fix per vehicle so newly attached live
// clients get an immediate snapshot before the next update arrives.
type FeedCache struct {
	mu sync.Mutex
	m  map[string]model.LocationFix
}

func NewFeedCache() *FeedCache { return &FeedCache{m: map[string]model.LocationFix{}} }

func (c *FeedCache) Upsert(fix model.LocationFix) {
	if fix.VehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[fix.VehicleID] = fix
}

// Get returns the cached fix for one vehicle.
func (c *FeedCache) Get(vehicleID string) (model.LocationFix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fix, ok := c.m[vehicleID]
	return fix, ok
}

// Snapshot returns the cached fixes, all vehicles when vehicleID is FeedAll.
func (c *FeedCache) Snapshot(vehicleID string) []model.LocationFix {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vehicleID != FeedAll {
		if fix, ok := c.m[vehicleID]; ok {
			return []model.LocationFix{fix}
		}
		return nil
	}
	out := make([]model.LocationFix, 0, len(c.m))
	for _, fix := range c.m {
		out = append(out, fix)
	}
	return out
}
