package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"bustrack/internal/model"
)

func TestMemorySeedIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	created, err := m.SeedVehicles(ctx, []string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}
	if created != 3 {
		t.Fatalf("created = %d, want 3", created)
	}
	h := 7
	if err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "B", Assigned: true, DeviceHandle: &h, OwnerName: "o"}); err != nil {
		t.Fatal(err)
	}
	created, err = m.SeedVehicles(ctx, []string{"A", "B", "C", "D"})
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Fatalf("re-seed created = %d, want 1 (only D)", created)
	}
	// Existing assignments survive a re-seed.
	v, err := m.LoadVehicle(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Assigned || v.DeviceHandle == nil || *v.DeviceHandle != 7 {
		t.Fatalf("re-seed clobbered assignment: %+v", v)
	}
}

func TestMemorySaveVehicleHandleConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.SeedVehicles(ctx, []string{"A", "B"}); err != nil {
		t.Fatal(err)
	}
	h := 3
	if err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "A", Assigned: true, DeviceHandle: &h, OwnerName: "x"}); err != nil {
		t.Fatal(err)
	}
	h2 := 3
	err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "B", Assigned: true, DeviceHandle: &h2, OwnerName: "y"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict on duplicate handle", err)
	}
	if err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "unknown"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound for unseeded vehicle", err)
	}
}

func TestMemorySaveVehicleAssignIsCompareAndSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.SeedVehicles(ctx, []string{"A"}); err != nil {
		t.Fatal(err)
	}
	h := 1
	if err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "A", Assigned: true, DeviceHandle: &h, OwnerName: "x"}); err != nil {
		t.Fatal(err)
	}
	// A second assigned write against an already assigned vehicle loses,
	// even with a different free handle.
	h2 := 2
	err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "A", Assigned: true, DeviceHandle: &h2, OwnerName: "y"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict for assigned->assigned", err)
	}
	v, err := m.LoadVehicle(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if *v.DeviceHandle != 1 || v.OwnerName != "x" {
		t.Fatalf("first assignment clobbered: %+v", v)
	}
}

func TestMemoryListVehiclesFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.SeedVehicles(ctx, []string{"A", "B", "C"}); err != nil {
		t.Fatal(err)
	}
	h := 1
	if err := m.SaveVehicle(ctx, model.Vehicle{VehicleID: "C", Assigned: true, DeviceHandle: &h, OwnerName: "o"}); err != nil {
		t.Fatal(err)
	}
	all, _ := m.ListVehicles(ctx, nil)
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	assigned := true
	got, _ := m.ListVehicles(ctx, &assigned)
	if len(got) != 1 || got[0].VehicleID != "C" {
		t.Fatalf("assigned = %+v", got)
	}
	unassigned := false
	got, _ = m.ListVehicles(ctx, &unassigned)
	if len(got) != 2 {
		t.Fatalf("unassigned = %d, want 2", len(got))
	}
}

func TestMemoryUpsertFixLatestWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.LoadCurrentFix(ctx, "A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound before first fix", err)
	}
	at := time.Now().UTC().Truncate(time.Second)
	if err := m.UpsertFix(ctx, model.LocationFix{VehicleID: "A", Latitude: 1, ObservedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertFix(ctx, model.LocationFix{VehicleID: "A", Latitude: 2, ObservedAt: at.Add(time.Second)}); err != nil {
		t.Fatal(err)
	}
	fix, err := m.LoadCurrentFix(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if fix.Latitude != 2 {
		t.Fatalf("latest fix lat = %v, want 2", fix.Latitude)
	}
}

func TestMemorySubscriptionsAndDeliveries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "https://example.com/hook", Events: []string{"fix.updated"}, Secret: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if sub.ID == "" {
		t.Fatal("subscription id not set")
	}
	subs, _ := m.GetSubscriptionsForEvent(ctx, "fix.updated")
	if len(subs) != 1 {
		t.Fatalf("matching subs = %d, want 1", len(subs))
	}
	subs, _ = m.GetSubscriptionsForEvent(ctx, "vehicle.assigned")
	if len(subs) != 0 {
		t.Fatalf("non-matching subs = %d, want 0", len(subs))
	}

	id, err := m.EnqueueWebhook(ctx, sub.ID, "fix.updated", sub.URL, "s", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due = %+v", due)
	}
	later := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500); err != nil {
		t.Fatal(err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("retry scheduled in the future must not be due, got %d", len(due))
	}

	if err := m.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSubscription(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound on double delete", err)
	}
}
