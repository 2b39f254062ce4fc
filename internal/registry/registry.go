// Package registry binds physical tracking devices to logical vehicles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"bustrack/internal/model"
	"bustrack/internal/store"
)

var (
	ErrAlreadyAssigned = errors.New("vehicle already assigned")
	ErrPoolExhausted   = errors.New("device handle pool exhausted")
)

// DefaultPoolSize is the device handle namespace [1, N]. Handles are a compact
// integer namespace because the tracker firmware expects one.
const DefaultPoolSize = 100

// Registry assigns device handles from a bounded pool. Handles are picked
// uniformly at random among the free ones and are never released: no
// unassignment operation exists, so the pool is consumed monotonically.
type Registry struct {
	store    store.Store
	poolSize int
}

func New(s store.Store, poolSize int) *Registry {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Registry{store: s, poolSize: poolSize}
}

// ListUnassigned returns all vehicles without a bound device.
func (r *Registry) ListUnassigned(ctx context.Context) ([]model.Vehicle, error) {
	unassigned := false
	return r.store.ListVehicles(ctx, &unassigned)
}

// Assign binds a random free device handle to the vehicle and records the
// owner. The store enforces handle uniqueness; on a lost race the handle is
// re-sampled, bounded by the pool size.
func (r *Registry) Assign(ctx context.Context, vehicleID, ownerName string) (model.Vehicle, error) {
	if vehicleID == "" || ownerName == "" {
		return model.Vehicle{}, fmt.Errorf("assign: vehicleId and ownerName are required")
	}
	for attempt := 0; attempt < r.poolSize; attempt++ {
		v, err := r.store.LoadVehicle(ctx, vehicleID)
		if err != nil {
			return model.Vehicle{}, err
		}
		if v.Assigned {
			return model.Vehicle{}, ErrAlreadyAssigned
		}
		free, err := r.freeHandles(ctx)
		if err != nil {
			return model.Vehicle{}, err
		}
		if len(free) == 0 {
			return model.Vehicle{}, ErrPoolExhausted
		}
		handle := free[rand.Intn(len(free))]
		v.Assigned = true
		v.DeviceHandle = &handle
		v.OwnerName = ownerName
		err = r.store.SaveVehicle(ctx, v)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return model.Vehicle{}, err
		}
		return v, nil
	}
	return model.Vehicle{}, store.ErrConflict
}

// Lookup resolves the vehicle and handle assigned to an owner.
func (r *Registry) Lookup(ctx context.Context, ownerName string) (model.Assignment, error) {
	v, err := r.store.FindVehicleByOwner(ctx, ownerName)
	if err != nil {
		return model.Assignment{}, err
	}
	a := model.Assignment{VehicleID: v.VehicleID}
	if v.DeviceHandle != nil {
		a.DeviceHandle = *v.DeviceHandle
	}
	return a, nil
}

func (r *Registry) freeHandles(ctx context.Context) ([]int, error) {
	assigned := true
	vehicles, err := r.store.ListVehicles(ctx, &assigned)
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(vehicles))
	for _, v := range vehicles {
		if v.DeviceHandle != nil {
			taken[*v.DeviceHandle] = true
		}
	}
	free := make([]int, 0, r.poolSize)
	for h := 1; h <= r.poolSize; h++ {
		if !taken[h] {
			free = append(free, h)
		}
	}
	return free, nil
}
