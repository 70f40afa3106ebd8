package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"swiftride/internal/config"
	"swiftride/internal/dispatch"
	"swiftride/internal/modules/pricing"
	"swiftride/internal/routing"
	"swiftride/internal/types"
)

// fakeRideStore mirrors the conditional-update semantics of the SQL store.
type fakeRideStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events []*Event
	// busy marks drivers that would fail the reservation predicate.
	busy map[types.ID]bool
}

func newFakeRideStore() *fakeRideStore {
	return &fakeRideStore{rides: make(map[types.ID]*Ride), busy: make(map[types.ID]bool)}
}

func (f *fakeRideStore) Create(_ context.Context, r *Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.rides[r.ID] = &cp
	return nil
}

func (f *fakeRideStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRideStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	return true, nil
}

func (f *fakeRideStore) AssignDriver(_ context.Context, p AssignParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[p.DriverID] {
		return ErrDriverNotAvailable
	}
	r, ok := f.rides[p.RideID]
	if !ok || r.Status != StatusRequested || r.StatusVersion != p.StatusVersion || r.DriverID != nil {
		return ErrConflict
	}
	f.busy[p.DriverID] = true
	did := p.DriverID
	r.DriverID = &did
	r.Status = StatusMatched
	r.StatusVersion++
	snap := p.Snapshot
	r.Driver = &snap
	eta := p.ETAMinutes
	r.ETAMinutes = &eta
	return nil
}

func (f *fakeRideStore) FinishAndRelease(_ context.Context, id types.ID, from, to Status, version int, driverID *types.ID, cancelledBy, reason *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	r.CancelledBy = cancelledBy
	r.CancelReason = reason
	if driverID != nil {
		delete(f.busy, *driverID)
	}
	return true, nil
}

func (f *fakeRideStore) RecordDriverLocation(_ context.Context, id, driverID types.ID, pos types.Point, heading *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[id]
	if !ok {
		return ErrNotFound
	}
	if r.DriverID == nil || *r.DriverID != driverID {
		return ErrUnauthorizedDriver
	}
	if !r.Status.Active() {
		return ErrRideNotActive
	}
	if r.Driver == nil {
		r.Driver = &DriverSnapshot{}
	}
	r.Driver.Location = &pos
	r.Driver.Heading = heading
	now := time.Now().UTC()
	r.Driver.LocationAt = &now
	return nil
}

func (f *fakeRideStore) SetPaymentIntent(_ context.Context, id types.ID, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rides[id]; ok {
		r.PaymentIntentID = &intentID
	}
	return nil
}

func (f *fakeRideStore) AppendEvent(_ context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRideStore) HasActiveByRider(_ context.Context, riderID types.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rides {
		if r.RiderID == riderID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRideStore) ListRequested(_ context.Context, limit int) ([]*Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Ride
	for _, r := range f.rides {
		if r.Status == StatusRequested {
			cp := *r
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fixedRouter struct {
	route routing.Route
	err   error
}

func (r fixedRouter) GetRoute(context.Context, types.Point, types.Point) (routing.Route, error) {
	return r.route, r.err
}

type fakePayments struct {
	mu        sync.Mutex
	holds     int
	captured  []string
	cancelled []string
	holdErr   error
}

func (p *fakePayments) Hold(_ context.Context, _ int64, _ string, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.holdErr != nil {
		return "", p.holdErr
	}
	p.holds++
	return fmt.Sprintf("pi_%d", p.holds), nil
}

func (p *fakePayments) Capture(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = append(p.captured, id)
	return nil
}

func (p *fakePayments) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, id)
	return nil
}

func testRates() config.PricingConfig {
	return config.PricingConfig{
		BaseCents:      350,
		PerKmCents:     70,
		PerMinuteCents: 25,
		PlatformFeePct: 5,
		MinimumCents:   400,
		Currency:       "USD",
		CarbonKgPerKm:  0.12,
	}
}

func newTestRideService(fs *fakeRideStore, router routing.Service, pay Payments) *Service {
	notifier := &dispatch.LogNotifier{Logger: slog.Default()}
	return newService(fs, router, pricing.NewEstimator(testRates()), notifier, pay, slog.Default())
}

var (
	pickupPt = types.Point{Lat: 1.3000, Lng: 103.8500}
	destPt   = types.Point{Lat: 1.3500, Lng: 103.9000}
)

func createCmd(rider types.ID) CreateCommand {
	return CreateCommand{
		RiderID:     rider,
		Pickup:      Place{Address: "1 Raffles Pl", Point: pickupPt},
		Destination: Place{Address: "Changi T3", Point: destPt},
	}
}

func TestCreateRide(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	pay := &fakePayments{}
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, pay)

	r, err := svc.Create(ctx, createCmd("rider-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != StatusRequested {
		t.Errorf("status = %s, want requested", r.Status)
	}
	// 350 + 8*70 + 15*25 = 1285; +5% fee = 1349
	if r.Fare.Total.Amount != 1349 {
		t.Errorf("total = %d, want 1349", r.Fare.Total.Amount)
	}
	if len(r.OTP) != 4 || len(r.PickupCode) != 4 {
		t.Errorf("expected 4-digit codes, got otp=%q pickup=%q", r.OTP, r.PickupCode)
	}
	if r.PaymentIntentID == nil {
		t.Error("expected payment hold to be recorded")
	}
	if len(fs.events) != 1 || fs.events[0].ToStatus != StatusRequested {
		t.Errorf("expected one requested event, got %+v", fs.events)
	}
}

func TestCreateRejectsSecondActiveRide(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, nil)

	if _, err := svc.Create(ctx, createCmd("rider-1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(ctx, createCmd("rider-1")); !errors.Is(err, ErrActiveRide) {
		t.Fatalf("expected ErrActiveRide, got %v", err)
	}
	// A different rider is unaffected.
	if _, err := svc.Create(ctx, createCmd("rider-2")); err != nil {
		t.Fatalf("other rider create: %v", err)
	}
}

func TestCreateSurfacesRoutingFailure(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{err: routing.ErrNoRoute}, nil)

	_, err := svc.Create(ctx, createCmd("rider-1"))
	if !errors.Is(err, ErrRoutingFailed) {
		t.Fatalf("expected ErrRoutingFailed, got %v", err)
	}
	if len(fs.rides) != 0 {
		t.Error("no ride should be persisted when routing fails")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	ctx := context.Background()
	svc := newTestRideService(newFakeRideStore(), fixedRouter{route: routing.Route{DistanceKm: 1, DurationMin: 2}}, nil)

	bad := createCmd("rider-1")
	bad.Pickup.Point = types.Point{Lat: 95, Lng: 10}
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for lat out of range, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateCommand{}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for empty command, got %v", err)
	}
}

// matchedRide seeds a ride already assigned to driverID.
func matchedRide(t *testing.T, svc *Service, fs *fakeRideStore, driverID types.ID) *Ride {
	t.Helper()
	r, err := svc.Create(context.Background(), createCmd("rider-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = fs.AssignDriver(context.Background(), AssignParams{
		RideID:        r.ID,
		StatusVersion: r.StatusVersion,
		DriverID:      driverID,
		Snapshot:      DriverSnapshot{Name: "Dana", Vehicle: "Prius"},
		ETAMinutes:    5,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, _ := fs.Get(context.Background(), r.ID)
	return got
}

func TestProgressProtocol(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, nil)
	r := matchedRide(t, svc, fs, "d1")

	if err := svc.EnRoute(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("enroute: %v", err)
	}
	// Repeating the step loses the CAS: status already moved on.
	if err := svc.EnRoute(ctx, r.ID, "d1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on repeat, got %v", err)
	}
	// Skipping arrived is illegal.
	if err := svc.Start(ctx, r.ID, "d1", r.OTP); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition skipping arrived, got %v", err)
	}
	if err := svc.Arrived(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("arrived: %v", err)
	}
	if err := svc.Start(ctx, r.ID, "d1", r.OTP); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Complete(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := fs.Get(ctx, r.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if fs.busy["d1"] {
		t.Error("driver should be released after completion")
	}
}

func TestStartRejectsWrongOTP(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, nil)
	r := matchedRide(t, svc, fs, "d1")
	if err := svc.EnRoute(ctx, r.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Arrived(ctx, r.ID, "d1"); err != nil {
		t.Fatal(err)
	}

	wrong := "0000"
	if wrong == r.OTP {
		wrong = "0001"
	}
	if err := svc.Start(ctx, r.ID, "d1", wrong); !errors.Is(err, ErrWrongOTP) {
		t.Fatalf("expected ErrWrongOTP, got %v", err)
	}
	got, _ := fs.Get(ctx, r.ID)
	if got.Status != StatusArrived {
		t.Fatalf("failed OTP must not move state, got %s", got.Status)
	}
}

func TestProgressRejectsUnassignedDriver(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, nil)
	r := matchedRide(t, svc, fs, "d1")

	if err := svc.EnRoute(ctx, r.ID, "intruder"); !errors.Is(err, ErrUnauthorizedDriver) {
		t.Fatalf("expected ErrUnauthorizedDriver, got %v", err)
	}
	if err := svc.Complete(ctx, r.ID, "intruder"); !errors.Is(err, ErrUnauthorizedDriver) {
		t.Fatalf("expected ErrUnauthorizedDriver on complete, got %v", err)
	}
}

func TestCancelReleasesDriverAndPayment(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	pay := &fakePayments{}
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, pay)
	r := matchedRide(t, svc, fs, "d1")

	err := svc.Cancel(ctx, CancelCommand{RideID: r.ID, ActorType: "rider", ActorID: "rider-1", Reason: "changed plans"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := fs.Get(ctx, r.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.CancelledBy == nil || *got.CancelledBy != "rider" {
		t.Errorf("cancelled_by = %v, want rider", got.CancelledBy)
	}
	if fs.busy["d1"] {
		t.Error("driver should be released on cancellation")
	}
	if len(pay.cancelled) != 1 {
		t.Errorf("expected 1 payment cancel, got %d", len(pay.cancelled))
	}

	// Terminal absorbs: a second cancel is rejected.
	err = svc.Cancel(ctx, CancelCommand{RideID: r.ID, ActorType: "rider", ActorID: "rider-1"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-cancel, got %v", err)
	}
}

func TestCompleteCapturesPayment(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	pay := &fakePayments{}
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, pay)
	r := matchedRide(t, svc, fs, "d1")

	for _, step := range []func() error{
		func() error { return svc.EnRoute(ctx, r.ID, "d1") },
		func() error { return svc.Arrived(ctx, r.ID, "d1") },
		func() error { return svc.Start(ctx, r.ID, "d1", r.OTP) },
		func() error { return svc.Complete(ctx, r.ID, "d1") },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	if len(pay.captured) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(pay.captured))
	}
}

func TestConcurrentCancelAndCompleteSingleWinner(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, nil)
	r := matchedRide(t, svc, fs, "d1")
	for _, step := range []func() error{
		func() error { return svc.EnRoute(ctx, r.ID, "d1") },
		func() error { return svc.Arrived(ctx, r.ID, "d1") },
		func() error { return svc.Start(ctx, r.ID, "d1", r.OTP) },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- svc.Complete(ctx, r.ID, "d1")
	}()
	go func() {
		defer wg.Done()
		results <- svc.Cancel(ctx, CancelCommand{RideID: r.ID, ActorType: "rider", ActorID: "rider-1"})
	}()
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, _ := fs.Get(ctx, r.ID)
	if !got.Status.Terminal() {
		t.Fatalf("ride should be terminal, got %s", got.Status)
	}
}

func TestTrackingView(t *testing.T) {
	ctx := context.Background()
	fs := newFakeRideStore()
	svc := newTestRideService(fs, fixedRouter{route: routing.Route{DistanceKm: 8, DurationMin: 15}}, nil)
	r := matchedRide(t, svc, fs, "d1")

	heading := 182.0
	pos := types.Point{Lat: 1.31, Lng: 103.86}
	if err := svc.RecordDriverLocation(ctx, r.ID, "d1", pos, &heading); err != nil {
		t.Fatalf("record location: %v", err)
	}
	view, err := svc.Tracking(ctx, r.ID)
	if err != nil {
		t.Fatalf("tracking: %v", err)
	}
	if view.Status != StatusMatched {
		t.Errorf("status = %s, want matched", view.Status)
	}
	if view.DriverLocation == nil || view.DriverLocation.Lat != pos.Lat {
		t.Errorf("driver location = %+v, want %+v", view.DriverLocation, pos)
	}
	if view.Heading == nil || *view.Heading != heading {
		t.Errorf("heading = %v, want %v", view.Heading, heading)
	}

	// Location updates from the wrong driver are rejected.
	if err := svc.RecordDriverLocation(ctx, r.ID, "other", pos, nil); !errors.Is(err, ErrUnauthorizedDriver) {
		t.Fatalf("expected ErrUnauthorizedDriver, got %v", err)
	}
}
