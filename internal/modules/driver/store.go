package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swiftride/internal/types"
)

var (
	ErrNotFound        = errors.New("driver not found")
	ErrNotAvailable    = errors.New("driver not available")
	ErrAlreadyReserved = errors.New("driver already reserved")
	ErrStale           = errors.New("stale location update")
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const driverColumns = `
	id, name, phone, vehicle, rating, online, available, status,
	background_check, current_ride_id, lat, lng, heading, location_at, created_at`

func (s *Store) Create(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, name, phone, vehicle, rating, online, available, status,
			background_check, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(d.ID), d.Name, d.Phone, d.Vehicle, d.Rating,
		d.Online, d.Available, string(d.Status), d.BackgroundCheck, d.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT`+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// GetByIDs returns the drivers for the given IDs; missing IDs are skipped.
func (s *Store) GetByIDs(ctx context.Context, ids []types.ID) ([]*Driver, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT`+driverColumns+` FROM drivers WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetPresence flips the online/available flags. Going offline while holding
// a ride is allowed; the ride keeps its assignment.
func (s *Store) SetPresence(ctx context.Context, id types.ID, online, available bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET online = $1, available = ($2 AND current_ride_id IS NULL)
		WHERE id = $3`,
		online, available, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reserve atomically flips an eligible driver to busy for the given ride.
// Exactly one concurrent caller can win; the predicate is the single point
// of truth for reservation races.
func (s *Store) Reserve(ctx context.Context, id, rideID types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET available = FALSE, current_ride_id = $1
		WHERE id = $2
		  AND online AND available AND status = 'active'
		  AND background_check AND current_ride_id IS NULL`,
		string(rideID), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Distinguish "someone else holds the driver" from "driver ineligible".
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.CurrentRideID != nil {
		return ErrAlreadyReserved
	}
	return ErrNotAvailable
}

// Release clears the current ride and restores availability. Idempotent.
func (s *Store) Release(ctx context.Context, id types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers SET current_ride_id = NULL, available = online
		WHERE id = $1`,
		string(id),
	)
	return err
}

// UpdateLocation stores a heartbeat. Out-of-order timestamps are rejected
// with ErrStale so a delayed packet can never resurrect an old position.
func (s *Store) UpdateLocation(ctx context.Context, id types.ID, pos types.Point, heading *float64, recordedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET lat = $1, lng = $2, heading = $3, location_at = $4
		WHERE id = $5 AND (location_at IS NULL OR location_at <= $4)`,
		pos.Lat, pos.Lng, heading, recordedAt, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrStale
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*Driver, error) {
	var d Driver
	var currentRide *string
	var lat, lng, heading *float64
	var locationAt *time.Time

	err := row.Scan(
		&d.ID, &d.Name, &d.Phone, &d.Vehicle, &d.Rating,
		&d.Online, &d.Available, &d.Status,
		&d.BackgroundCheck, &currentRide, &lat, &lng, &heading, &locationAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if currentRide != nil {
		id := types.ID(*currentRide)
		d.CurrentRideID = &id
	}
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	d.Heading = heading
	d.LocationAt = locationAt
	return &d, nil
}
