package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"swiftride/internal/types"
)

var (
	ErrNotFound           = errors.New("ride not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrConflict           = errors.New("ride state conflict")
	ErrActiveRide         = errors.New("rider has an active ride")
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorizedDriver = errors.New("driver not assigned to ride")
	ErrRideNotActive      = errors.New("ride not in an active status")
	ErrWrongOTP           = errors.New("verification code mismatch")
	ErrDriverNotAvailable = errors.New("driver not available")
	ErrRoutingFailed      = errors.New("route lookup failed")
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const rideColumns = `
	id, rider_id, driver_id, status, status_version,
	pickup_address, pickup_lat, pickup_lng, dest_address, dest_lat, dest_lng,
	distance_km, duration_min,
	fare_base, fare_distance, fare_time, fare_subtotal, fare_fee, fare_total,
	fare_currency, carbon_saved_kg,
	pickup_code, otp, notes, eta_minutes,
	driver_name, driver_phone, driver_vehicle, driver_rating,
	driver_lat, driver_lng, driver_heading, driver_location_at,
	requested_at, matched_at, enroute_at, arrived_at, started_at,
	completed_at, cancelled_at, cancelled_by, cancel_reason, payment_intent_id`

func (s *Store) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, rider_id, status, status_version,
			pickup_address, pickup_lat, pickup_lng,
			dest_address, dest_lat, dest_lng,
			distance_km, duration_min,
			fare_base, fare_distance, fare_time, fare_subtotal, fare_fee,
			fare_total, fare_currency, carbon_saved_kg,
			pickup_code, otp, notes, requested_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23, $24
		)`,
		string(r.ID), string(r.RiderID), string(r.Status), r.StatusVersion,
		r.Pickup.Address, r.Pickup.Point.Lat, r.Pickup.Point.Lng,
		r.Destination.Address, r.Destination.Point.Lat, r.Destination.Point.Lng,
		r.Route.DistanceKm, r.Route.DurationMin,
		r.Fare.Base.Amount, r.Fare.Distance.Amount, r.Fare.Time.Amount,
		r.Fare.Subtotal.Amount, r.Fare.PlatformFee.Amount,
		r.Fare.Total.Amount, r.Fare.Total.Currency, r.Fare.CarbonSavedKg,
		r.PickupCode, r.OTP, r.Notes, r.RequestedAt,
	)
	if isUniqueViolation(err) {
		// The partial unique index on (rider_id) over non-terminal rides
		// closes the race the service-level existence check leaves open.
		return ErrActiveRide
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT`+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// UpdateStatus performs the compare-and-set transition: the WHERE clause on
// (status, status_version) guarantees exactly one concurrent caller wins.
// The matching timestamp column is stamped in the same statement.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, updateStatusSQL,
		string(to), string(id), string(from), version, nil, nil,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const updateStatusSQL = `
	UPDATE rides
	SET status = $1,
	    status_version = status_version + 1,
	    enroute_at   = CASE WHEN $1 = 'driver_en_route' THEN NOW() ELSE enroute_at END,
	    arrived_at   = CASE WHEN $1 = 'arrived' THEN NOW() ELSE arrived_at END,
	    started_at   = CASE WHEN $1 = 'in_progress' THEN NOW() ELSE started_at END,
	    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
	    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
	    cancelled_by = COALESCE($5, cancelled_by),
	    cancel_reason = COALESCE($6, cancel_reason)
	WHERE id = $2 AND status = $3 AND status_version = $4`

// AssignParams carries everything the matched ride needs to record.
type AssignParams struct {
	RideID        types.ID
	StatusVersion int
	DriverID      types.ID
	Snapshot      DriverSnapshot
	ETAMinutes    int
}

// AssignDriver reserves the driver and flips the ride requested->matched in
// one transaction, so a half-assigned pair can never be observed. Returns
// ErrDriverNotAvailable when the driver-side predicate loses and
// ErrConflict when the ride-side CAS loses.
func (s *Store) AssignDriver(ctx context.Context, p AssignParams) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE drivers
		SET available = FALSE, current_ride_id = $1
		WHERE id = $2
		  AND online AND available AND status = 'active'
		  AND background_check AND current_ride_id IS NULL`,
		string(p.RideID), string(p.DriverID),
	)
	if isUniqueViolation(err) {
		// Another assignment for the same ride committed first; the unique
		// index on drivers.current_ride_id rejects the second holder.
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrDriverNotAvailable
	}

	var lat, lng *float64
	if p.Snapshot.Location != nil {
		lat, lng = &p.Snapshot.Location.Lat, &p.Snapshot.Location.Lng
	}
	tag, err = tx.Exec(ctx, `
		UPDATE rides
		SET status = 'matched',
		    status_version = status_version + 1,
		    driver_id = $1,
		    matched_at = NOW(),
		    eta_minutes = $2,
		    driver_name = $3, driver_phone = $4, driver_vehicle = $5,
		    driver_rating = $6, driver_lat = $7, driver_lng = $8,
		    driver_heading = $9, driver_location_at = $10
		WHERE id = $11 AND status = 'requested' AND status_version = $12
		  AND driver_id IS NULL`,
		string(p.DriverID), p.ETAMinutes,
		p.Snapshot.Name, p.Snapshot.Phone, p.Snapshot.Vehicle,
		p.Snapshot.Rating, lat, lng, p.Snapshot.Heading, p.Snapshot.LocationAt,
		string(p.RideID), p.StatusVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}

	if err := appendEventTx(ctx, tx, &Event{
		RideID:     p.RideID,
		FromStatus: StatusRequested,
		ToStatus:   StatusMatched,
		ActorType:  "driver",
		ActorID:    &p.DriverID,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FinishAndRelease moves the ride to a terminal status and frees the
// assigned driver in the same transaction. driverID may be nil for rides
// cancelled before a match.
func (s *Store) FinishAndRelease(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID, cancelledBy, reason *string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateStatusSQL,
		string(to), string(id), string(from), version, cancelledBy, reason,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if driverID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE drivers
			SET current_ride_id = NULL, available = online
			WHERE id = $1 AND current_ride_id = $2`,
			string(*driverID), string(id),
		)
		if err != nil {
			return false, err
		}
	}

	return true, tx.Commit(ctx)
}

// RecordDriverLocation updates the in-flight position snapshot. The WHERE
// clause enforces both the assigned-driver check and the active-status
// window in one statement.
func (s *Store) RecordDriverLocation(ctx context.Context, id, driverID types.ID, pos types.Point, heading *float64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET driver_lat = $1, driver_lng = $2, driver_heading = $3,
		    driver_location_at = NOW()
		WHERE id = $4 AND driver_id = $5
		  AND status IN ('matched', 'driver_en_route', 'arrived', 'in_progress')`,
		pos.Lat, pos.Lng, heading, string(id), string(driverID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.DriverID == nil || *r.DriverID != driverID {
		return ErrUnauthorizedDriver
	}
	return ErrRideNotActive
}

func (s *Store) SetPaymentIntent(ctx context.Context, id types.ID, intentID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE rides SET payment_intent_id = $1 WHERE id = $2`,
		intentID, string(id),
	)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, idPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

func appendEventTx(ctx context.Context, tx pgx.Tx, e *Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, idPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

// HasActiveByRider enforces the one-non-terminal-ride-per-rider invariant.
func (s *Store) HasActiveByRider(ctx context.Context, riderID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rides
			WHERE rider_id = $1
			  AND status NOT IN ('completed', 'cancelled')
		)`, string(riderID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListRequested returns unassigned rides for the pull-based nearby list,
// oldest first.
func (s *Store) ListRequested(ctx context.Context, limit int) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT`+rideColumns+`
		FROM rides
		WHERE status = 'requested'
		ORDER BY requested_at ASC
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*Ride, error) {
	var r Ride
	var driverID *string
	var etaMinutes *int
	var dName, dPhone, dVehicle *string
	var dRating, dLat, dLng, dHeading *float64
	var dLocationAt *time.Time

	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &r.Status, &r.StatusVersion,
		&r.Pickup.Address, &r.Pickup.Point.Lat, &r.Pickup.Point.Lng,
		&r.Destination.Address, &r.Destination.Point.Lat, &r.Destination.Point.Lng,
		&r.Route.DistanceKm, &r.Route.DurationMin,
		&r.Fare.Base.Amount, &r.Fare.Distance.Amount, &r.Fare.Time.Amount,
		&r.Fare.Subtotal.Amount, &r.Fare.PlatformFee.Amount, &r.Fare.Total.Amount,
		&r.Fare.Total.Currency, &r.Fare.CarbonSavedKg,
		&r.PickupCode, &r.OTP, &r.Notes, &etaMinutes,
		&dName, &dPhone, &dVehicle, &dRating,
		&dLat, &dLng, &dHeading, &dLocationAt,
		&r.RequestedAt, &r.MatchedAt, &r.EnRouteAt, &r.ArrivedAt, &r.StartedAt,
		&r.CompletedAt, &r.CancelledAt, &r.CancelledBy, &r.CancelReason,
		&r.PaymentIntentID,
	)
	if err != nil {
		return nil, err
	}

	if driverID != nil {
		id := types.ID(*driverID)
		r.DriverID = &id
	}
	r.ETAMinutes = etaMinutes
	if dName != nil {
		snap := &DriverSnapshot{Name: *dName}
		if dPhone != nil {
			snap.Phone = *dPhone
		}
		if dVehicle != nil {
			snap.Vehicle = *dVehicle
		}
		if dRating != nil {
			snap.Rating = *dRating
		}
		if dLat != nil && dLng != nil {
			snap.Location = &types.Point{Lat: *dLat, Lng: *dLng}
		}
		snap.Heading = dHeading
		snap.LocationAt = dLocationAt
		r.Driver = snap
	}

	cur := r.Fare.Total.Currency
	r.Fare.Base.Currency = cur
	r.Fare.Distance.Currency = cur
	r.Fare.Time.Currency = cur
	r.Fare.Subtotal.Currency = cur
	r.Fare.PlatformFee.Currency = cur

	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
