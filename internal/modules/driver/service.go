package driver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"swiftride/internal/geo"
	"swiftride/internal/observability"
	"swiftride/internal/types"
)

var ErrBadRequest = errors.New("bad request")

// store is the persistence surface the service needs; *Store satisfies it
// and tests substitute an in-memory fake.
type store interface {
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	GetByIDs(ctx context.Context, ids []types.ID) ([]*Driver, error)
	SetPresence(ctx context.Context, id types.ID, online, available bool) error
	Reserve(ctx context.Context, id, rideID types.ID) error
	Release(ctx context.Context, id types.ID) error
	UpdateLocation(ctx context.Context, id types.ID, pos types.Point, heading *float64, recordedAt time.Time) error
}

type Service struct {
	store  store
	index  geo.Index
	logger *slog.Logger
}

func NewService(store *Store, index geo.Index, logger *slog.Logger) *Service {
	return &Service{store: store, index: index, logger: logger}
}

func newService(store store, index geo.Index, logger *slog.Logger) *Service {
	return &Service{store: store, index: index, logger: logger}
}

type OnboardCommand struct {
	Name    string
	Phone   string
	Vehicle string
}

func (s *Service) Onboard(ctx context.Context, cmd OnboardCommand) (types.ID, error) {
	if cmd.Name == "" || cmd.Phone == "" {
		return "", ErrBadRequest
	}
	d := &Driver{
		ID:        types.ID(uuid.NewString()),
		Name:      cmd.Name,
		Phone:     cmd.Phone,
		Vehicle:   cmd.Vehicle,
		Rating:    5.0,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// EligibleByIDs resolves candidate IDs from the geo index to driver records
// and drops everything that may not take a ride right now.
func (s *Service) EligibleByIDs(ctx context.Context, ids []types.ID) ([]*Driver, error) {
	all, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, d := range all {
		if d.Eligible() {
			out = append(out, d)
		}
	}
	return out, nil
}

// SetPresence updates the online/available flags and keeps the geo index in
// step: offline drivers must never surface in radius queries.
func (s *Service) SetPresence(ctx context.Context, id types.ID, online, available bool) error {
	if err := s.store.SetPresence(ctx, id, online, available); err != nil {
		return err
	}
	if online {
		observability.DriversOnline.Inc()
		if d, err := s.store.Get(ctx, id); err == nil && d.Location != nil {
			if err := s.index.Upsert(ctx, id, *d.Location); err != nil {
				s.logger.Warn("geo upsert failed", "driver_id", id, "error", err)
			}
		}
	} else {
		observability.DriversOnline.Dec()
		if err := s.index.Remove(ctx, id); err != nil {
			s.logger.Warn("geo remove failed", "driver_id", id, "error", err)
		}
	}
	return nil
}

type LocationUpdate struct {
	DriverID   types.ID
	Position   types.Point
	Heading    *float64
	RecordedAt time.Time
}

// UpdateLocation applies one heartbeat. A stale timestamp is dropped (not a
// fatal error for the caller) and never reaches the geo index.
func (s *Service) UpdateLocation(ctx context.Context, u LocationUpdate) error {
	if u.RecordedAt.IsZero() {
		u.RecordedAt = time.Now().UTC()
	}
	err := s.store.UpdateLocation(ctx, u.DriverID, u.Position, u.Heading, u.RecordedAt)
	if errors.Is(err, ErrStale) {
		observability.StaleLocationTotal.Inc()
		return ErrStale
	}
	if err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, u.DriverID, u.Position); err != nil {
		s.logger.Warn("geo upsert failed", "driver_id", u.DriverID, "error", err)
	}
	return nil
}

func (s *Service) Reserve(ctx context.Context, id, rideID types.ID) error {
	return s.store.Reserve(ctx, id, rideID)
}

func (s *Service) Release(ctx context.Context, id types.ID) error {
	return s.store.Release(ctx, id)
}
