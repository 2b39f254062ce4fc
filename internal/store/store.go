package store

import (
	"context"
	"errors"
	"time"

	"bustrack/internal/model"
)

// Store is the persistence interface used by the registry, the motion
// estimator and the API server.
type Store interface {
	// Vehicles
	LoadVehicle(ctx context.Context, vehicleID string) (model.Vehicle, error)
	// SaveVehicle persists an assignment mutation. Returns ErrConflict when the
	// device handle is already held by another assigned vehicle.
	SaveVehicle(ctx context.Context, v model.Vehicle) error
	// ListVehicles filters by assignment state when assigned is non-nil.
	ListVehicles(ctx context.Context, assigned *bool) ([]model.Vehicle, error)
	FindVehicleByOwner(ctx context.Context, ownerName string) (model.Vehicle, error)
	// SeedVehicles inserts the reference vehicles that do not exist yet.
	// Idempotent; safe under concurrent startup.
	SeedVehicles(ctx context.Context, vehicleIDs []string) (created int, err error)

	// Location fixes: one current fix per vehicle, latest-wins upsert.
	LoadCurrentFix(ctx context.Context, vehicleID string) (model.LocationFix, error)
	UpsertFix(ctx context.Context, fix model.LocationFix) error

	// Webhook subscriptions and deliveries
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int) error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a lost device-handle uniqueness race; the caller
	// re-samples a free handle and retries.
	ErrConflict = errors.New("conflict")
)

// WebhookDelivery is one queued outbound webhook attempt.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
