package model

import "time"

// MotionState classifies a vehicle as moving or stopped based on smoothed speed.
type MotionState string

const (
	MotionMoving  MotionState = "moving"
	MotionStopped MotionState = "stopped"
)

// Vehicle is the logical record for a tracked bus, independent of the physical
// tracker hardware. A vehicle is either fully assigned (Assigned, DeviceHandle
// and OwnerName all set) or fully unassigned (all unset).
type Vehicle struct {
	VehicleID    string `json:"vehicleId"`
	Assigned     bool   `json:"assigned"`
	DeviceHandle *int   `json:"deviceHandle,omitempty"`
	OwnerName    string `json:"ownerName,omitempty"`
}

// Assignment is the lookup view returned for an owner.
type Assignment struct {
	VehicleID    string `json:"vehicleId"`
	DeviceHandle int    `json:"deviceHandle"`
}

// Occupancy is passthrough metadata from the device; no derivation is applied.
type Occupancy struct {
	Status  string  `json:"status,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// RawObservation is one GPS sample as submitted by a device. Altitude defaults
// to 0 and Accuracy to 5 m when absent. Speed and Heading are optional
// passthrough values; they matter only for out-of-order samples where the
// estimator skips derivation.
type RawObservation struct {
	Latitude    float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude    float64    `json:"altitude,omitempty"`
	Accuracy    *float64   `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	ObservedAt  string     `json:"observedAt" validate:"required"`
	Speed       *float64   `json:"speed,omitempty"`
	Heading     *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	TripID      string     `json:"tripId,omitempty"`
	RouteID     string     `json:"routeId,omitempty"`
	DirectionID string     `json:"directionId,omitempty"`
	Occupancy   *Occupancy `json:"occupancy,omitempty"`
}

// Sample is one raw position retained in a fix's bounded history window.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	ObservedAt time.Time `json:"observedAt"`
}

// HistoryWindow caps the per-vehicle raw sample history kept on a fix.
const HistoryWindow = 3

// LocationFix is the derived, persisted location record for a vehicle. Exactly
// one current fix exists per vehicle (latest-wins upsert).
//
// Heading is a pointer so "never derived" stays distinct from 0 degrees (due
// north). Derived reports whether Speed/Heading were computed against a previous
// fix; the low-pass filter only blends against a prior value when the prior fix
// was itself derived, so a first fix's default speed of 0 never drags down the
// first real estimate.
type LocationFix struct {
	VehicleID    string      `json:"vehicleId"`
	DeviceHandle int         `json:"deviceHandle,omitempty"`
	Latitude     float64     `json:"latitude"`
	Longitude    float64     `json:"longitude"`
	Altitude     float64     `json:"altitude"`
	Accuracy     float64     `json:"accuracy"`
	Speed        float64     `json:"speed"`
	Heading      *float64    `json:"heading"`
	MotionState  MotionState `json:"motionState"`
	Derived      bool        `json:"derived"`
	ObservedAt   time.Time   `json:"observedAt"`
	TripID       string      `json:"tripId,omitempty"`
	RouteID      string      `json:"routeId,omitempty"`
	DirectionID  string      `json:"directionId,omitempty"`
	Occupancy    *Occupancy  `json:"occupancy,omitempty"`
	History      []Sample    `json:"history,omitempty"`
}

// Subscription registers a webhook endpoint for event types.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// SubscriptionRequest is the payload to create a Subscription.
type SubscriptionRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1"`
	Secret string   `json:"secret"`
}
