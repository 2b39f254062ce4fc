package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"

    "bustrack/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    var files []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { files = append(files, e.Name()) }
    }
    sort.Strings(files)
    for _, f := range files {
        sqlBytes, err := os.ReadFile(filepath.Join(dir, f))
        if err != nil { return err }
        if _, err := p.db.Exec(string(sqlBytes)); err != nil { return err }
    }
    return nil
}

func isUniqueViolation(err error) bool {
    var pgErr *pgconn.PgError
    return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *Postgres) LoadVehicle(ctx context.Context, vehicleID string) (model.Vehicle, error) {
    var v model.Vehicle
    var handle sql.NullInt64
    var owner sql.NullString
    row := p.db.QueryRowContext(ctx, `SELECT vehicle_id, assigned, device_handle, owner_name FROM vehicles WHERE vehicle_id=$1`, vehicleID)
    if err := row.Scan(&v.VehicleID, &v.Assigned, &handle, &owner); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return v, ErrNotFound }
        return v, err
    }
    if handle.Valid { h := int(handle.Int64); v.DeviceHandle = &h }
    v.OwnerName = owner.String
    return v, nil
}

// SaveVehicle writes the assignment fields. The partial unique index on
// device_handle (WHERE assigned) turns a lost handle race into ErrConflict;
// the NOT assigned guard makes the unassigned->assigned transition
// compare-and-set so two racing assigns cannot both land.
func (p *Postgres) SaveVehicle(ctx context.Context, v model.Vehicle) error {
    query := `UPDATE vehicles SET assigned=$1, device_handle=$2, owner_name=$3 WHERE vehicle_id=$4`
    if v.Assigned {
        query += ` AND NOT assigned`
    }
    res, err := p.db.ExecContext(ctx, query,
        v.Assigned, nullIfNilInt(v.DeviceHandle), nullIfEmpty(v.OwnerName), v.VehicleID)
    if err != nil {
        if isUniqueViolation(err) { return ErrConflict }
        return err
    }
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 {
        if v.Assigned {
            var exists bool
            if err := p.db.QueryRowContext(ctx, `SELECT true FROM vehicles WHERE vehicle_id=$1`, v.VehicleID).Scan(&exists); err == nil && exists {
                return ErrConflict
            }
        }
        return ErrNotFound
    }
    return nil
}

func (p *Postgres) ListVehicles(ctx context.Context, assigned *bool) ([]model.Vehicle, error) {
    var rows *sql.Rows
    var err error
    if assigned != nil {
        rows, err = p.db.QueryContext(ctx, `SELECT vehicle_id, assigned, device_handle, owner_name FROM vehicles WHERE assigned=$1 ORDER BY vehicle_id`, *assigned)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT vehicle_id, assigned, device_handle, owner_name FROM vehicles ORDER BY vehicle_id`)
    }
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Vehicle{}
    for rows.Next() {
        var v model.Vehicle
        var handle sql.NullInt64
        var owner sql.NullString
        if err := rows.Scan(&v.VehicleID, &v.Assigned, &handle, &owner); err != nil { return nil, err }
        if handle.Valid { h := int(handle.Int64); v.DeviceHandle = &h }
        v.OwnerName = owner.String
        out = append(out, v)
    }
    return out, rows.Err()
}

func (p *Postgres) FindVehicleByOwner(ctx context.Context, ownerName string) (model.Vehicle, error) {
    var v model.Vehicle
    var handle sql.NullInt64
    var owner sql.NullString
    row := p.db.QueryRowContext(ctx, `SELECT vehicle_id, assigned, device_handle, owner_name FROM vehicles WHERE assigned AND owner_name=$1`, ownerName)
    if err := row.Scan(&v.VehicleID, &v.Assigned, &handle, &owner); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return v, ErrNotFound }
        return v, err
    }
    if handle.Valid { h := int(handle.Int64); v.DeviceHandle = &h }
    v.OwnerName = owner.String
    return v, nil
}

func (p *Postgres) SeedVehicles(ctx context.Context, vehicleIDs []string) (int, error) {
    created := 0
    for _, id := range vehicleIDs {
        res, err := p.db.ExecContext(ctx, `INSERT INTO vehicles (vehicle_id) VALUES ($1) ON CONFLICT (vehicle_id) DO NOTHING`, id)
        if err != nil { return created, err }
        if n, err := res.RowsAffected(); err == nil { created += int(n) }
    }
    return created, nil
}

func (p *Postgres) LoadCurrentFix(ctx context.Context, vehicleID string) (model.LocationFix, error) {
    var f model.LocationFix
    var heading sql.NullFloat64
    var handle sql.NullInt64
    var tripID, routeID, directionID sql.NullString
    var occupancy, history []byte
    row := p.db.QueryRowContext(ctx, `SELECT vehicle_id, device_handle, lat, lng, altitude, accuracy, speed, heading, motion_state, derived, observed_at, trip_id, route_id, direction_id, occupancy, history
        FROM fixes WHERE vehicle_id=$1`, vehicleID)
    if err := row.Scan(&f.VehicleID, &handle, &f.Latitude, &f.Longitude, &f.Altitude, &f.Accuracy, &f.Speed, &heading, &f.MotionState, &f.Derived, &f.ObservedAt, &tripID, &routeID, &directionID, &occupancy, &history); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return f, ErrNotFound }
        return f, err
    }
    if handle.Valid { f.DeviceHandle = int(handle.Int64) }
    if heading.Valid { h := heading.Float64; f.Heading = &h }
    f.TripID = tripID.String
    f.RouteID = routeID.String
    f.DirectionID = directionID.String
    if len(occupancy) > 0 {
        var occ model.Occupancy
        if err := json.Unmarshal(occupancy, &occ); err == nil { f.Occupancy = &occ }
    }
    if len(history) > 0 {
        _ = json.Unmarshal(history, &f.History)
    }
    f.ObservedAt = f.ObservedAt.UTC()
    return f, nil
}

func (p *Postgres) UpsertFix(ctx context.Context, fix model.LocationFix) error {
    var heading any
    if fix.Heading != nil { heading = *fix.Heading }
    var occupancy any
    if fix.Occupancy != nil {
        b, err := json.Marshal(fix.Occupancy)
        if err != nil { return err }
        occupancy = b
    }
    var history any
    if len(fix.History) > 0 {
        b, err := json.Marshal(fix.History)
        if err != nil { return err }
        history = b
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO fixes (vehicle_id, device_handle, lat, lng, altitude, accuracy, speed, heading, motion_state, derived, observed_at, trip_id, route_id, direction_id, occupancy, history)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        ON CONFLICT (vehicle_id) DO UPDATE SET
            device_handle=EXCLUDED.device_handle, lat=EXCLUDED.lat, lng=EXCLUDED.lng,
            altitude=EXCLUDED.altitude, accuracy=EXCLUDED.accuracy, speed=EXCLUDED.speed,
            heading=EXCLUDED.heading, motion_state=EXCLUDED.motion_state, derived=EXCLUDED.derived,
            observed_at=EXCLUDED.observed_at, trip_id=EXCLUDED.trip_id, route_id=EXCLUDED.route_id,
            direction_id=EXCLUDED.direction_id, occupancy=EXCLUDED.occupancy, history=EXCLUDED.history`,
        fix.VehicleID, nullIfZeroInt(fix.DeviceHandle), fix.Latitude, fix.Longitude, fix.Altitude, fix.Accuracy,
        fix.Speed, heading, string(fix.MotionState), fix.Derived, fix.ObservedAt,
        nullIfEmpty(fix.TripID), nullIfEmpty(fix.RouteID), nullIfEmpty(fix.DirectionID), occupancy, history)
    return err
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE events @> $1::jsonb`, `["`+eventType+`"]`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
        _ = json.Unmarshal(events, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
        _ = json.Unmarshal(events, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`, id, subscriptionID, eventType, url, secret, payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, subscription_id::text, event_type, url, secret, payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, response_code=$1, delivered_at=now() WHERE id=$2`, responseCode, id)
        return err
    }
    next := time.Now().Add(time.Minute)
    if nextAttemptAt != nil { next = *nextAttemptAt }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='retry', attempts=attempts+1, last_error=$1, response_code=$2, next_attempt_at=$3 WHERE id=$4`,
        nullIfEmpty(lastError), responseCode, next, id)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$1, response_code=$2 WHERE id=$3`,
        nullIfEmpty(lastError), responseCode, id)
    return err
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
func nullIfNilInt(v *int) any { if v == nil { return nil }; return *v }
func nullIfZeroInt(v int) any { if v == 0 { return nil }; return v }
