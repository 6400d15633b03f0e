package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"locker-service/internal/gateway"
	"locker-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrice(t *testing.T) {
	p := NewPricing(5000)

	assert.Equal(t, int64(5000), p.Price(1))
	assert.Equal(t, int64(10000), p.Price(2))
	assert.Equal(t, int64(15000), p.Price(3))
	assert.Equal(t, int64(5000), p.UnitRate())
}

func TestInitiateReservation_StoresPending(t *testing.T) {
	env := newTestEnv(t, fakeUsers{"U1": {ID: "U1", Name: "Siti", Email: "siti@example.com"}})
	ctx := context.Background()

	resp, err := env.svc.InitiateReservation(ctx, InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 2, OrderID: "A-1-1700000000-ab12",
	})
	require.NoError(t, err)

	assert.Equal(t, "tok-A-1-1700000000-ab12", resp.Token)
	assert.Equal(t, "https://pay.example/A-1-1700000000-ab12", resp.RedirectURL)
	assert.Equal(t, "A-1-1700000000-ab12", resp.OrderID)
	assert.Equal(t, int64(10000), resp.Amount)

	require.Equal(t, 1, env.gw.callCount())
	call := env.gw.calls[0]
	assert.Equal(t, int64(10000), call.Amount)
	assert.Equal(t, gateway.Customer{FirstName: "Siti", Email: "siti@example.com"}, call.Customer)

	pending, err := env.store.GetPending(ctx, "A-1-1700000000-ab12")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, models.RentalStatePending, pending.State)
	assert.Equal(t, 2, pending.DurationHours)
	assert.Equal(t, int64(10000), pending.Amount)
	assert.Equal(t, "Siti", pending.UserName)
	assert.Equal(t, testNow, pending.CreatedAt)

	require.Len(t, env.pub.initiated, 1)
	assert.Equal(t, int64(10000), env.pub.initiated[0].Amount)
}

func TestInitiateReservation_UnknownUserStillSucceeds(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.InitiateReservation(context.Background(), InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "ghost", DurationHours: 1, OrderID: "A-1-x-y",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.Customer{}, env.gw.calls[0].Customer)
}

func TestInitiateReservation_GatewayFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gw.err = &gateway.GatewayError{StatusCode: 401, Messages: []string{"unauthorized"}}

	resp, err := env.svc.InitiateReservation(context.Background(), InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 2, OrderID: "A-1-x-y",
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, models.ErrGateway))

	pending, occupancies, history := env.store.Counts()
	assert.Zero(t, pending)
	assert.Zero(t, occupancies)
	assert.Zero(t, history)
	assert.Empty(t, env.pub.initiated)
}

func TestInitiateReservation_StoreFailureAfterRetries(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.failNext("put_pending", 2)

	_, err := env.svc.InitiateReservation(context.Background(), InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 2, OrderID: "A-1-x-y",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStore))

	var storeErr *models.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "put_pending", storeErr.Op)
}

func TestInitiateReservation_TransientStoreFailureIsRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.failNext("put_pending", 1)

	_, err := env.svc.InitiateReservation(context.Background(), InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 2, OrderID: "A-1-x-y",
	})
	require.NoError(t, err)

	pending, _, _ := env.store.Counts()
	assert.Equal(t, 1, pending)
}

func TestInitiateReservation_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  InitiateRequest
	}{
		{"missing location", InitiateRequest{SlotID: "1", UserID: "U1", DurationHours: 1, OrderID: "A-1-x-y"}},
		{"missing user", InitiateRequest{LocationID: "A", SlotID: "1", DurationHours: 1, OrderID: "A-1-x-y"}},
		{"missing order id", InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 1}},
		{"zero duration", InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", OrderID: "A-1-x-y"}},
		{"negative duration", InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: -2, OrderID: "A-1-x-y"}},
		{"short order id", InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 1, OrderID: "A-1-x"}},
		{"order id for another slot", InitiateRequest{LocationID: "A", SlotID: "2", UserID: "U1", DurationHours: 1, OrderID: "A-1-x-y"}},
		{"duration above one year", InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: DefaultMaxDurationHours + 1, OrderID: "A-1-x-y"}},
		{"duration overflowing expiry", InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 3000000, OrderID: "A-1-x-y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			_, err := env.svc.InitiateReservation(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidRequest))
			assert.Zero(t, env.gw.callCount())
		})
	}
}

func TestInitiateReservation_DurationLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.svc.InitiateReservation(ctx, InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: DefaultMaxDurationHours, OrderID: "A-1-x-y",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxDurationHours)*5000, resp.Amount)

	WithMaxDurationHours(24)(env.svc)

	_, err = env.svc.InitiateReservation(ctx, InitiateRequest{
		LocationID: "A", SlotID: "2", UserID: "U1", DurationHours: 25, OrderID: "A-2-x-y",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	assert.Equal(t, 1, env.gw.callCount(), "no snap session for a rejected duration")

	_, err = env.svc.InitiateReservation(ctx, InitiateRequest{
		LocationID: "A", SlotID: "2", UserID: "U1", DurationHours: 24, OrderID: "A-2-x-z",
	})
	require.NoError(t, err)
}

func TestInitiateReservation_RejectsReusedOrderID(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req := InitiateRequest{LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 1, OrderID: "A-1-x-y"}

	_, err := env.svc.InitiateReservation(ctx, req)
	require.NoError(t, err)

	_, err = env.svc.InitiateReservation(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	assert.Equal(t, 1, env.gw.callCount())

	_, err = env.svc.Reconcile(ctx, PaymentNotification{OrderID: "A-1-x-y", TransactionStatus: "settlement"})
	require.NoError(t, err)

	_, err = env.svc.InitiateReservation(ctx, req)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest), "settled order ids cannot be reused")
}

func TestRentalStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.RentalStatus(ctx, "A-1-x-y")
	assert.True(t, errors.Is(err, models.ErrRentalNotFound))

	env.seedPending(t, "A-1-x-y", "U1", 2)
	view, err := env.svc.RentalStatus(ctx, "A-1-x-y")
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatePending, view.State)
	assert.NotNil(t, view.Pending)
	assert.Nil(t, view.History)

	_, err = env.svc.Reconcile(ctx, PaymentNotification{OrderID: "A-1-x-y", TransactionStatus: "settlement"})
	require.NoError(t, err)

	view, err = env.svc.RentalStatus(ctx, "A-1-x-y")
	require.NoError(t, err)
	assert.Equal(t, models.RentalStateSettled, view.State)
	assert.Nil(t, view.Pending)
	require.NotNil(t, view.History)
	assert.Equal(t, int64(10000), view.History.TotalPrice)
}

func TestOccupancy(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.Occupancy(ctx, "A", "1")
	assert.True(t, errors.Is(err, models.ErrOccupancyNotFound))

	env.seedPending(t, "A-1-x-y", "U1", 1)
	_, err = env.svc.Reconcile(ctx, PaymentNotification{OrderID: "A-1-x-y", TransactionStatus: "capture"})
	require.NoError(t, err)

	view, err := env.svc.Occupancy(ctx, "A", "1")
	require.NoError(t, err)
	assert.Equal(t, "A-1-x-y", view.OrderID)
	assert.False(t, view.Expired)

	env.clock.Advance(61 * time.Minute)
	view, err = env.svc.Occupancy(ctx, "A", "1")
	require.NoError(t, err)
	assert.True(t, view.Expired)
}
