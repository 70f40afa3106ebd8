// Package matching pairs open ride requests with nearby eligible drivers.
package matching

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"swiftride/internal/config"
	"swiftride/internal/dispatch"
	"swiftride/internal/geo"
	"swiftride/internal/modules/driver"
	"swiftride/internal/modules/ride"
	"swiftride/internal/observability"
	"swiftride/internal/types"
)

var (
	ErrNoDriversAvailable = errors.New("no drivers available")
	ErrRideTaken          = errors.New("ride already taken")
	ErrDriverTooFar       = errors.New("driver too far from pickup")
)

const (
	etaMinClampMin = 2
	etaMaxClampMin = 15
)

// driverDirectory resolves candidate IDs to driver records and checks
// operational eligibility.
type driverDirectory interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	EligibleByIDs(ctx context.Context, ids []types.ID) ([]*driver.Driver, error)
}

// rideStore is the slice of the ride store the engine needs.
type rideStore interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	AssignDriver(ctx context.Context, p ride.AssignParams) error
	ListRequested(ctx context.Context, limit int) ([]*ride.Ride, error)
}

type Service struct {
	index    geo.Index
	drivers  driverDirectory
	rides    rideStore
	notifier dispatch.Notifier
	cfg      config.MatchingConfig
	logger   *slog.Logger
}

func NewService(index geo.Index, drivers *driver.Service, rides *ride.Store, notifier dispatch.Notifier, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	return &Service{index: index, drivers: drivers, rides: rides, notifier: notifier, cfg: cfg, logger: logger}
}

func newService(index geo.Index, drivers driverDirectory, rides rideStore, notifier dispatch.Notifier, cfg config.MatchingConfig, logger *slog.Logger) *Service {
	return &Service{index: index, drivers: drivers, rides: rides, notifier: notifier, cfg: cfg, logger: logger}
}

// Candidate is an eligible driver within the search radius, nearest first.
type Candidate struct {
	Driver         *driver.Driver
	DistanceMeters float64
	ETAMinutes     int
}

// FindCandidates runs the radius query around the pickup and keeps only
// drivers the directory still considers eligible. Geo order (nearest first)
// is preserved.
func (s *Service) FindCandidates(ctx context.Context, pickup types.Point) ([]Candidate, error) {
	hits, err := s.index.Nearby(ctx, pickup, s.cfg.RadiusMeters, s.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.DriverID
	}
	eligible, err := s.drivers.EligibleByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[types.ID]*driver.Driver, len(eligible))
	for _, d := range eligible {
		byID[d.ID] = d
	}

	var out []Candidate
	for _, h := range hits {
		d, ok := byID[h.DriverID]
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Driver:         d,
			DistanceMeters: h.DistanceMeters,
			ETAMinutes:     s.eta(h.DistanceMeters),
		})
	}
	return out, nil
}

// Dispatch finds drivers for a freshly created request. Under the auto
// strategy the nearest candidate is assigned immediately, falling through to
// the next one when a reservation race is lost; under broadcast every
// candidate is offered the ride and the first Accept wins.
func (s *Service) Dispatch(ctx context.Context, r *ride.Ride) error {
	started := time.Now()
	cands, err := s.FindCandidates(ctx, r.Pickup.Point)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		observability.UnmatchedTotal.Inc()
		return ErrNoDriversAvailable
	}

	if s.cfg.Strategy == "broadcast" {
		for _, c := range cands {
			s.offer(c.Driver.ID, r, c.ETAMinutes)
		}
		return nil
	}

	for _, c := range cands {
		err := s.assign(ctx, r, c)
		if errors.Is(err, ride.ErrDriverNotAvailable) {
			continue // lost the reservation race, next candidate
		}
		if err != nil {
			return err
		}
		observability.MatchesTotal.WithLabelValues("auto").Inc()
		observability.MatchLatency.Observe(time.Since(started).Seconds())
		return nil
	}
	observability.UnmatchedTotal.Inc()
	return ErrNoDriversAvailable
}

// Accept is the driver's claim on an offered or listed ride. Exactly one
// driver wins; a repeat Accept from the winner is a no-op success, and a
// losing Accept never changes any state.
func (s *Service) Accept(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != nil {
		if *r.DriverID == driverID {
			return r, nil
		}
		return nil, ErrRideTaken
	}
	if r.Status != ride.StatusRequested {
		return nil, ErrRideTaken
	}

	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.Location == nil {
		return nil, ErrDriverTooFar
	}
	dist := d.Location.DistanceMeters(r.Pickup.Point)
	if dist > s.cfg.AcceptMaxMeters {
		return nil, ErrDriverTooFar
	}

	c := Candidate{Driver: d, DistanceMeters: dist, ETAMinutes: s.eta(dist)}
	if err := s.assign(ctx, r, c); err != nil {
		if errors.Is(err, ride.ErrConflict) {
			// Lost the CAS; re-read to distinguish our own earlier win
			// from another driver's.
			cur, gerr := s.rides.Get(ctx, rideID)
			if gerr == nil && cur.DriverID != nil && *cur.DriverID == driverID {
				return cur, nil
			}
			return nil, ErrRideTaken
		}
		return nil, err
	}
	observability.MatchesTotal.WithLabelValues(s.cfg.Strategy).Inc()

	return s.rides.Get(ctx, rideID)
}

// Decline is always acknowledged. Under broadcast the offer simply lapses
// for that driver; a repeated decline is harmless.
func (s *Service) Decline(ctx context.Context, rideID, driverID types.ID) {
	observability.DeclinesTotal.Inc()
	s.logger.Info("ride declined", "ride_id", rideID, "driver_id", driverID)
}

// NearbyRequested lists open requests whose pickup is within radiusMeters of
// pos, nearest first. This is the pull side of broadcast matching.
func (s *Service) NearbyRequested(ctx context.Context, pos types.Point, radiusMeters float64, limit int) ([]*ride.Ride, error) {
	if radiusMeters <= 0 {
		radiusMeters = s.cfg.RadiusMeters
	}
	open, err := s.rides.ListRequested(ctx, 200)
	if err != nil {
		return nil, err
	}
	type scored struct {
		r    *ride.Ride
		dist float64
	}
	var in []scored
	for _, r := range open {
		d := pos.DistanceMeters(r.Pickup.Point)
		if d <= radiusMeters {
			in = append(in, scored{r, d})
		}
	}
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j].dist < in[j-1].dist; j-- {
			in[j], in[j-1] = in[j-1], in[j]
		}
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	out := make([]*ride.Ride, len(in))
	for i, sc := range in {
		out[i] = sc.r
	}
	return out, nil
}

// assign runs the transactional driver-reserve + ride-match update and, on
// success, notifies both parties.
func (s *Service) assign(ctx context.Context, r *ride.Ride, c Candidate) error {
	d := c.Driver
	err := s.rides.AssignDriver(ctx, ride.AssignParams{
		RideID:        r.ID,
		StatusVersion: r.StatusVersion,
		DriverID:      d.ID,
		Snapshot: ride.DriverSnapshot{
			Name:       d.Name,
			Phone:      d.Phone,
			Vehicle:    d.Vehicle,
			Rating:     d.Rating,
			Location:   d.Location,
			Heading:    d.Heading,
			LocationAt: d.LocationAt,
		},
		ETAMinutes: c.ETAMinutes,
	})
	if err != nil {
		return err
	}

	ev := dispatch.Event{
		Type:   dispatch.EventRideMatched,
		RideID: r.ID,
		At:     time.Now().UTC(),
		Data: map[string]any{
			"driver_id":   d.ID,
			"driver_name": d.Name,
			"vehicle":     d.Vehicle,
			"eta_minutes": c.ETAMinutes,
			"pickup_code": r.PickupCode,
		},
	}
	s.notify("rider", func() error { return s.notifier.NotifyRider(r.RiderID, ev) })
	s.notify("driver", func() error { return s.notifier.NotifyDriver(d.ID, ev) })
	return nil
}

func (s *Service) offer(driverID types.ID, r *ride.Ride, etaMin int) {
	ev := dispatch.Event{
		Type:   dispatch.EventRideOffer,
		RideID: r.ID,
		At:     time.Now().UTC(),
		Data: map[string]any{
			"pickup":      r.Pickup,
			"destination": r.Destination,
			"fare_total":  r.Fare.Total.Amount,
			"eta_minutes": etaMin,
		},
	}
	s.notify("driver", func() error { return s.notifier.NotifyDriver(driverID, ev) })
}

func (s *Service) notify(audience string, send func() error) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		observability.NotifyFailuresTotal.WithLabelValues(audience).Inc()
		s.logger.Warn("notify failed", "audience", audience, "error", err)
	}
}

// eta converts straight-line distance to the minutes shown to the rider,
// clamped so tiny distances do not promise an instant pickup and outliers do
// not scare riders off.
func (s *Service) eta(distanceMeters float64) int {
	speed := s.cfg.AvgSpeedKmh
	if speed <= 0 {
		speed = 30
	}
	min := int(math.Round(distanceMeters / 1000.0 / speed * 60.0))
	if min < etaMinClampMin {
		return etaMinClampMin
	}
	if min > etaMaxClampMin {
		return etaMaxClampMin
	}
	return min
}
