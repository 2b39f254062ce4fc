// Package tracker derives motion state from raw GPS observations.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bustrack/internal/geo"
	"bustrack/internal/model"
	"bustrack/internal/store"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInput reports a malformed observation. Detected before any state
// mutation; nothing is written when it is returned.
var ErrInvalidInput = errors.New("invalid input")

// Policy selects the speed derivation strategy. The two must never be mixed in
// one deployment; an Estimator runs exactly one.
type Policy string

const (
	// PolicyLowpass smooths instantaneous speed and bearing against the
	// previous fix with an exponential filter. The canonical policy.
	PolicyLowpass Policy = "lowpass"
	// PolicyWindow averages speed over the retained 3-sample history window:
	// distance(oldest, newest) / elapsed(oldest, newest).
	PolicyWindow Policy = "window"
)

const (
	// DefaultAlpha is the low-pass filter coefficient.
	DefaultAlpha = 0.3
	// DefaultSpeedThreshold separates moving from stopped, in m/s. The
	// comparison is strict: exactly 1.0 m/s is stopped.
	DefaultSpeedThreshold = 1.0
)

// DefaultAccuracy is assumed when the device reports none, in meters.
const DefaultAccuracy = 5.0

// Estimator turns raw observations into enriched fixes, one vehicle at a time.
// Concurrent updates for the same vehicle are last-write-wins; different
// vehicles never contend.
type Estimator struct {
	store     store.Store
	validate  *validator.Validate
	policy    Policy
	alpha     float64
	threshold float64
}

// Option tweaks an Estimator.
type Option func(*Estimator)

func WithPolicy(p Policy) Option     { return func(e *Estimator) { e.policy = p } }
func WithAlpha(a float64) Option     { return func(e *Estimator) { e.alpha = a } }
func WithThreshold(t float64) Option { return func(e *Estimator) { e.threshold = t } }

func New(s store.Store, opts ...Option) *Estimator {
	e := &Estimator{
		store:     s,
		validate:  validator.New(),
		policy:    PolicyLowpass,
		alpha:     DefaultAlpha,
		threshold: DefaultSpeedThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DeriveFix validates raw, derives speed/heading/motion state against the
// vehicle's previous fix, persists the result as the vehicle's current fix and
// returns it. The returned fix is exactly what was persisted.
func (e *Estimator) DeriveFix(ctx context.Context, vehicleID string, raw model.RawObservation) (model.LocationFix, error) {
	if vehicleID == "" {
		return model.LocationFix{}, fmt.Errorf("%w: missing vehicleId", ErrInvalidInput)
	}
	if err := e.validate.Struct(raw); err != nil {
		return model.LocationFix{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	observedAt, err := parseObservedAt(raw.ObservedAt)
	if err != nil {
		return model.LocationFix{}, err
	}

	vehicle, err := e.store.LoadVehicle(ctx, vehicleID)
	if err != nil {
		return model.LocationFix{}, err
	}

	fix := baseFix(vehicle, raw, observedAt)

	prev, err := e.store.LoadCurrentFix(ctx, vehicleID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First observation: no basis for derivation.
		fix.MotionState = model.MotionStopped
		fix.History = []model.Sample{sampleOf(raw, observedAt)}
	case err != nil:
		return model.LocationFix{}, err
	default:
		e.derive(&fix, prev, raw, observedAt)
	}

	if err := e.store.UpsertFix(ctx, fix); err != nil {
		return model.LocationFix{}, err
	}
	return fix, nil
}

func (e *Estimator) derive(fix *model.LocationFix, prev model.LocationFix, raw model.RawObservation, observedAt time.Time) {
	fix.History = pushSample(prev.History, sampleOf(raw, observedAt))

	dt := observedAt.Sub(prev.ObservedAt).Seconds()
	if dt <= 0 {
		// Out-of-order or duplicate timestamp: raw fields persist unchanged,
		// payload speed/heading pass through, prior derived values otherwise
		// survive. No recomputation.
		fix.Derived = prev.Derived
		if raw.Speed != nil {
			fix.Speed = *raw.Speed
			fix.MotionState = e.classify(fix.Speed)
		} else {
			fix.Speed = prev.Speed
			fix.MotionState = prev.MotionState
		}
		if raw.Heading != nil {
			fix.Heading = raw.Heading
		} else {
			fix.Heading = prev.Heading
		}
		return
	}

	switch e.policy {
	case PolicyWindow:
		e.deriveWindowed(fix, prev)
	default:
		e.deriveLowpass(fix, prev, dt)
	}
	fix.Derived = true
	fix.MotionState = e.classify(fix.Speed)
}

// deriveLowpass computes instantaneous speed/bearing against the immediately
// previous fix and smooths both with the exponential filter. When the previous
// fix carries no derived values the raw estimates pass through unchanged.
func (e *Estimator) deriveLowpass(fix *model.LocationFix, prev model.LocationFix, dt float64) {
	surface := geo.Haversine(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
	dist := geo.Distance3D(surface, fix.Altitude-prev.Altitude)
	rawSpeed := dist / dt

	if prev.Derived {
		fix.Speed = geo.Lowpass(rawSpeed, prev.Speed, e.alpha)
	} else {
		fix.Speed = rawSpeed
	}

	if surface > 0 {
		bearing := geo.Bearing(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
		if prev.Derived && prev.Heading != nil {
			bearing = geo.LowpassBearing(bearing, *prev.Heading, e.alpha)
		}
		fix.Heading = &bearing
	} else {
		// Vehicle did not move: bearing is not derivable, carry the previous
		// heading (possibly still unset).
		fix.Heading = prev.Heading
	}
}

// deriveWindowed computes speed over the retained history window instead of the
// immediately previous fix, trading responsiveness for noise resistance.
func (e *Estimator) deriveWindowed(fix *model.LocationFix, prev model.LocationFix) {
	window := fix.History
	oldest := window[0]
	newest := window[len(window)-1]
	elapsed := newest.ObservedAt.Sub(oldest.ObservedAt).Seconds()
	if elapsed <= 0 {
		fix.Speed = 0
		fix.Heading = prev.Heading
		return
	}
	surface := geo.Haversine(oldest.Latitude, oldest.Longitude, newest.Latitude, newest.Longitude)
	fix.Speed = geo.Distance3D(surface, newest.Altitude-oldest.Altitude) / elapsed
	if surface > 0 {
		bearing := geo.Bearing(oldest.Latitude, oldest.Longitude, newest.Latitude, newest.Longitude)
		fix.Heading = &bearing
	} else {
		fix.Heading = prev.Heading
	}
}

func (e *Estimator) classify(speed float64) model.MotionState {
	if speed > e.threshold {
		return model.MotionMoving
	}
	return model.MotionStopped
}

func baseFix(vehicle model.Vehicle, raw model.RawObservation, observedAt time.Time) model.LocationFix {
	accuracy := DefaultAccuracy
	if raw.Accuracy != nil {
		accuracy = *raw.Accuracy
	}
	fix := model.LocationFix{
		VehicleID:   vehicle.VehicleID,
		Latitude:    raw.Latitude,
		Longitude:   raw.Longitude,
		Altitude:    raw.Altitude,
		Accuracy:    accuracy,
		ObservedAt:  observedAt,
		TripID:      raw.TripID,
		RouteID:     raw.RouteID,
		DirectionID: raw.DirectionID,
		Occupancy:   raw.Occupancy,
	}
	if vehicle.DeviceHandle != nil {
		fix.DeviceHandle = *vehicle.DeviceHandle
	}
	return fix
}

func sampleOf(raw model.RawObservation, observedAt time.Time) model.Sample {
	return model.Sample{Latitude: raw.Latitude, Longitude: raw.Longitude, Altitude: raw.Altitude, ObservedAt: observedAt}
}

// pushSample appends to the bounded history window, discarding oldest first.
func pushSample(history []model.Sample, s model.Sample) []model.Sample {
	out := append(append([]model.Sample(nil), history...), s)
	if len(out) > model.HistoryWindow {
		out = out[len(out)-model.HistoryWindow:]
	}
	return out
}

func parseObservedAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: observedAt %q is not a timestamp", ErrInvalidInput, s)
	}
	return t.UTC(), nil
}
