package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"locker-service/internal/clock"
	"locker-service/internal/gateway"
	"locker-service/internal/models"
	"locker-service/internal/store"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu    sync.Mutex
	calls []gateway.TransactionRequest
	err   error
}

func (g *fakeGateway) CreateTransaction(_ context.Context, req gateway.TransactionRequest) (*gateway.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Transaction{
		Token:       "tok-" + req.OrderID,
		RedirectURL: "https://pay.example/" + req.OrderID,
	}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeUsers map[string]models.User

func (f fakeUsers) Lookup(_ context.Context, userID string) (models.User, bool) {
	u, ok := f[userID]
	return u, ok
}

type fakePublisher struct {
	mu        sync.Mutex
	initiated []*models.RentalInitiatedEvent
	settled   []*models.RentalSettledEvent
	abandoned []*models.RentalAbandonedEvent
	released  []*models.OccupancyReleasedEvent
	failed    []*models.ReconcileFailedEvent
}

func (p *fakePublisher) PublishRentalInitiated(_ context.Context, e *models.RentalInitiatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiated = append(p.initiated, e)
	return nil
}

func (p *fakePublisher) PublishRentalSettled(_ context.Context, e *models.RentalSettledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = append(p.settled, e)
	return nil
}

func (p *fakePublisher) PublishRentalAbandoned(_ context.Context, e *models.RentalAbandonedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = append(p.abandoned, e)
	return nil
}

func (p *fakePublisher) PublishOccupancyReleased(_ context.Context, e *models.OccupancyReleasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, e)
	return nil
}

func (p *fakePublisher) PublishReconcileFailed(_ context.Context, e *models.ReconcileFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

func (p *fakePublisher) failedEvents() []*models.ReconcileFailedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.ReconcileFailedEvent(nil), p.failed...)
}

func (p *fakePublisher) settledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.settled)
}

// flakyStore fails the named operations a set number of times before delegating.
type flakyStore struct {
	*store.MemoryStore

	mu       sync.Mutex
	failures map[string]int

	// occupancyReadDelay stretches GetOccupancy so concurrent settlements overlap.
	occupancyReadDelay time.Duration
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore(), failures: make(map[string]int)}
}

func (f *flakyStore) failNext(op string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = times
}

func (f *flakyStore) injected(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[op] > 0 {
		f.failures[op]--
		return errors.New("injected failure: " + op)
	}
	return nil
}

func (f *flakyStore) GetPending(ctx context.Context, orderID string) (*models.PendingReservation, error) {
	if err := f.injected("get_pending"); err != nil {
		return nil, err
	}
	return f.MemoryStore.GetPending(ctx, orderID)
}

func (f *flakyStore) GetOccupancy(ctx context.Context, locationID, slotID string) (*models.ActiveOccupancy, error) {
	if f.occupancyReadDelay > 0 {
		time.Sleep(f.occupancyReadDelay)
	}
	return f.MemoryStore.GetOccupancy(ctx, locationID, slotID)
}

func (f *flakyStore) PutPending(ctx context.Context, p *models.PendingReservation) error {
	if err := f.injected("put_pending"); err != nil {
		return err
	}
	return f.MemoryStore.PutPending(ctx, p)
}

func (f *flakyStore) PutOccupancy(ctx context.Context, o *models.ActiveOccupancy) error {
	if err := f.injected("put_occupancy"); err != nil {
		return err
	}
	return f.MemoryStore.PutOccupancy(ctx, o)
}

func (f *flakyStore) DeletePending(ctx context.Context, orderID string) (bool, error) {
	if err := f.injected("delete_pending"); err != nil {
		return false, err
	}
	return f.MemoryStore.DeletePending(ctx, orderID)
}

type testEnv struct {
	svc   *RentalService
	store *flakyStore
	gw    *fakeGateway
	pub   *fakePublisher
	clock *clock.Manual
}

func newTestEnv(t *testing.T, users fakeUsers) *testEnv {
	t.Helper()

	env := &testEnv{
		store: newFlakyStore(),
		gw:    &fakeGateway{},
		pub:   &fakePublisher{},
		clock: clock.NewManual(testNow),
	}
	if users == nil {
		users = fakeUsers{}
	}

	env.svc = NewRentalService(
		env.store,
		env.gw,
		users,
		NewLocker(nil, 30*time.Second, 5*time.Second),
		env.pub,
		NewPricing(5000),
		env.clock,
		WithRetryPolicy(2, time.Millisecond),
		WithRecoveryMaxAttempts(3),
	)
	return env
}

// seedPending stores a pending reservation as InitiateReservation would.
func (e *testEnv) seedPending(t *testing.T, orderID, userID string, hours int) {
	t.Helper()

	ref, err := models.ParseOrderID(orderID)
	if err != nil {
		t.Fatalf("seed order id: %v", err)
	}
	err = e.store.MemoryStore.PutPending(context.Background(), &models.PendingReservation{
		OrderID:       orderID,
		LocationID:    ref.LocationID,
		SlotID:        ref.SlotID,
		UserID:        userID,
		DurationHours: hours,
		Amount:        int64(hours) * 5000,
		State:         models.RentalStatePending,
		CreatedAt:     e.clock.Now(),
	})
	if err != nil {
		t.Fatalf("seed pending: %v", err)
	}
}
