package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"swiftride/internal/dispatch"
	"swiftride/internal/modules/pricing"
	"swiftride/internal/observability"
	"swiftride/internal/routing"
	"swiftride/internal/types"
)

// store is the persistence surface the service needs; *Store satisfies it
// and tests substitute an in-memory fake.
type store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error)
	AssignDriver(ctx context.Context, p AssignParams) error
	FinishAndRelease(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID, cancelledBy, reason *string) (bool, error)
	RecordDriverLocation(ctx context.Context, id, driverID types.ID, pos types.Point, heading *float64) error
	SetPaymentIntent(ctx context.Context, id types.ID, intentID string) error
	AppendEvent(ctx context.Context, e *Event) error
	HasActiveByRider(ctx context.Context, riderID types.ID) (bool, error)
	ListRequested(ctx context.Context, limit int) ([]*Ride, error)
}

// Payments places a hold on the fare at request time and settles it at the
// end of the trip. Optional collaborator; all calls are best effort.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerRef string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

type Service struct {
	store    store
	router   routing.Service
	fares    *pricing.Estimator
	notifier dispatch.Notifier
	payments Payments
	logger   *slog.Logger
}

func NewService(store *Store, router routing.Service, fares *pricing.Estimator, notifier dispatch.Notifier, payments Payments, logger *slog.Logger) *Service {
	return &Service{store: store, router: router, fares: fares, notifier: notifier, payments: payments, logger: logger}
}

func newService(store store, router routing.Service, fares *pricing.Estimator, notifier dispatch.Notifier, payments Payments, logger *slog.Logger) *Service {
	return &Service{store: store, router: router, fares: fares, notifier: notifier, payments: payments, logger: logger}
}

type CreateCommand struct {
	RiderID     types.ID
	Pickup      Place
	Destination Place
	Notes       string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.RiderID == "" || !validPoint(cmd.Pickup.Point) || !validPoint(cmd.Destination.Point) {
		return nil, ErrBadRequest
	}
	active, err := s.store.HasActiveByRider(ctx, cmd.RiderID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveRide
	}

	route, err := s.router.GetRoute(ctx, cmd.Pickup.Point, cmd.Destination.Point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingFailed, err)
	}

	now := time.Now().UTC()
	r := &Ride{
		ID:          types.ID(uuid.NewString()),
		RiderID:     cmd.RiderID,
		Status:      StatusRequested,
		Pickup:      cmd.Pickup,
		Destination: cmd.Destination,
		Route:       RouteInfo{DistanceKm: route.DistanceKm, DurationMin: route.DurationMin},
		Fare:        s.fares.Estimate(route.DistanceKm, route.DurationMin),
		PickupCode:  newCode(),
		OTP:         newCode(),
		Notes:       cmd.Notes,
		RequestedAt: now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RideID:     r.ID,
		FromStatus: "",
		ToStatus:   StatusRequested,
		ActorType:  "rider",
		ActorID:    &cmd.RiderID,
		CreatedAt:  now,
	})

	if s.payments != nil {
		intentID, err := s.payments.Hold(ctx, r.Fare.Total.Amount, r.Fare.Total.Currency, string(cmd.RiderID))
		if err != nil {
			s.logger.Warn("payment hold failed", "ride_id", r.ID, "error", err)
		} else if err := s.store.SetPaymentIntent(ctx, r.ID, intentID); err != nil {
			s.logger.Warn("store payment intent failed", "ride_id", r.ID, "error", err)
		} else {
			r.PaymentIntentID = &intentID
		}
	}

	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListRequested(ctx context.Context, limit int) ([]*Ride, error) {
	return s.store.ListRequested(ctx, limit)
}

// EnRoute records that the assigned driver is heading to the pickup.
func (s *Service) EnRoute(ctx context.Context, rideID, driverID types.ID) error {
	return s.progress(ctx, rideID, driverID, StatusDriverEnRoute)
}

// Arrived records that the assigned driver is at the pickup point.
func (s *Service) Arrived(ctx context.Context, rideID, driverID types.ID) error {
	return s.progress(ctx, rideID, driverID, StatusArrived)
}

// Start begins the trip. The OTP read out by the rider must match the one
// generated at request time.
func (s *Service) Start(ctx context.Context, rideID, driverID types.ID, otp string) error {
	r, err := s.authorized(ctx, rideID, driverID)
	if err != nil {
		return err
	}
	if r.OTP != otp {
		return ErrWrongOTP
	}
	return s.transition(ctx, r, driverID, StatusInProgress)
}

// Complete ends the trip, frees the driver in the same transaction, and
// settles the payment hold.
func (s *Service) Complete(ctx context.Context, rideID, driverID types.ID) error {
	r, err := s.authorized(ctx, rideID, driverID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	ok, err := s.store.FinishAndRelease(ctx, r.ID, r.Status, StatusCompleted, r.StatusVersion, r.DriverID, nil, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, StatusCompleted, "driver", &driverID)

	if s.payments != nil && r.PaymentIntentID != nil {
		if err := s.payments.Capture(ctx, *r.PaymentIntentID); err != nil {
			s.logger.Warn("payment capture failed", "ride_id", r.ID, "error", err)
		}
	}

	s.notifyRider(r.RiderID, dispatch.Event{
		Type: dispatch.EventStatusChanged, RideID: r.ID, At: time.Now().UTC(),
		Data: map[string]any{"status": StatusCompleted},
	})
	return nil
}

type CancelCommand struct {
	RideID    types.ID
	ActorType string // "rider", "driver", or "system"
	ActorID   types.ID
	Reason    string
}

// Cancel is legal from any non-terminal status. If a driver is attached the
// release happens in the same transaction as the ride transition.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return ErrInvalidTransition
	}
	ok, err := s.store.FinishAndRelease(ctx, r.ID, r.Status, StatusCancelled, r.StatusVersion, r.DriverID, &cmd.ActorType, &cmd.Reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	actorID := cmd.ActorID
	s.appendEvent(ctx, r.ID, r.Status, StatusCancelled, cmd.ActorType, &actorID)

	if s.payments != nil && r.PaymentIntentID != nil {
		if err := s.payments.Cancel(ctx, *r.PaymentIntentID); err != nil {
			s.logger.Warn("payment cancel failed", "ride_id", r.ID, "error", err)
		}
	}

	ev := dispatch.Event{
		Type: dispatch.EventRideCancelled, RideID: r.ID, At: time.Now().UTC(),
		Data: map[string]any{"by": cmd.ActorType, "reason": cmd.Reason},
	}
	s.notifyRider(r.RiderID, ev)
	if r.DriverID != nil {
		s.notifyDriver(*r.DriverID, ev)
	}
	return nil
}

// TrackingView is the rider-facing position snapshot.
type TrackingView struct {
	Status         Status       `json:"status"`
	DriverLocation *types.Point `json:"driver_location,omitempty"`
	Heading        *float64     `json:"heading,omitempty"`
	ETAMinutes     *int         `json:"eta_minutes,omitempty"`
	UpdatedAt      *time.Time   `json:"updated_at,omitempty"`
}

func (s *Service) Tracking(ctx context.Context, rideID types.ID) (TrackingView, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return TrackingView{}, err
	}
	view := TrackingView{Status: r.Status, ETAMinutes: r.ETAMinutes}
	if r.Driver != nil {
		view.DriverLocation = r.Driver.Location
		view.Heading = r.Driver.Heading
		view.UpdatedAt = r.Driver.LocationAt
	}
	return view, nil
}

// RecordDriverLocation updates the position snapshot on an active ride.
// Only the assigned driver may report, and only while the ride is between
// matched and in_progress.
func (s *Service) RecordDriverLocation(ctx context.Context, rideID, driverID types.ID, pos types.Point, heading *float64) error {
	return s.store.RecordDriverLocation(ctx, rideID, driverID, pos, heading)
}

func (s *Service) progress(ctx context.Context, rideID, driverID types.ID, to Status) error {
	r, err := s.authorized(ctx, rideID, driverID)
	if err != nil {
		return err
	}
	return s.transition(ctx, r, driverID, to)
}

func (s *Service) transition(ctx context.Context, r *Ride, driverID types.ID, to Status) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.appendEvent(ctx, r.ID, r.Status, to, "driver", &driverID)
	s.notifyRider(r.RiderID, dispatch.Event{
		Type: dispatch.EventStatusChanged, RideID: r.ID, At: time.Now().UTC(),
		Data: map[string]any{"status": to},
	})
	return nil
}

func (s *Service) authorized(ctx context.Context, rideID, driverID types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID == nil || *r.DriverID != driverID {
		return nil, ErrUnauthorizedDriver
	}
	return r, nil
}

func (s *Service) appendEvent(ctx context.Context, rideID types.ID, from, to Status, actorType string, actorID *types.ID) {
	if err := s.store.AppendEvent(ctx, &Event{
		RideID:     rideID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("append ride event failed", "ride_id", rideID, "error", err)
	}
}

// Notification failures are logged and counted, never surfaced: delivery is
// decoupled from the transactional outcome.
func (s *Service) notifyRider(riderID types.ID, ev dispatch.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRider(riderID, ev); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		observability.NotifyFailuresTotal.WithLabelValues("rider").Inc()
		s.logger.Warn("rider notify failed", "rider_id", riderID, "event", ev.Type, "error", err)
	}
}

func (s *Service) notifyDriver(driverID types.ID, ev dispatch.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyDriver(driverID, ev); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		observability.NotifyFailuresTotal.WithLabelValues("driver").Inc()
		s.logger.Warn("driver notify failed", "driver_id", driverID, "event", ev.Type, "error", err)
	}
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 && (p.Lat != 0 || p.Lng != 0)
}
