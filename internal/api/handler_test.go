package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"locker-service/internal/gateway"
	"locker-service/internal/models"
	"locker-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRentals struct {
	initiateReq  service.InitiateRequest
	initiateErr  error
	notification service.PaymentNotification
	reconcileCtx context.Context
	outcome      service.Outcome
	reconcileErr error
	rental       *service.RentalView
	occupancy    *service.OccupancyView
}

func (f *fakeRentals) InitiateReservation(_ context.Context, req service.InitiateRequest) (*service.InitiateResponse, error) {
	f.initiateReq = req
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &service.InitiateResponse{
		Token:       "tok-1",
		RedirectURL: "https://pay.example/tok-1",
		OrderID:     req.OrderID,
		Amount:      int64(req.DurationHours) * 5000,
	}, nil
}

func (f *fakeRentals) Reconcile(ctx context.Context, n service.PaymentNotification) (service.Outcome, error) {
	f.notification = n
	f.reconcileCtx = ctx
	return f.outcome, f.reconcileErr
}

func (f *fakeRentals) RentalStatus(_ context.Context, orderID string) (*service.RentalView, error) {
	if f.rental == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrRentalNotFound, orderID)
	}
	return f.rental, nil
}

func (f *fakeRentals) Occupancy(_ context.Context, locationID, slotID string) (*service.OccupancyView, error) {
	if f.occupancy == nil {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrOccupancyNotFound, locationID, slotID)
	}
	return f.occupancy, nil
}

func newTestRouter(rentals RentalAPI, checks ...ReadinessCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(rentals, checks...).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSnapToken_CamelCaseBody(t *testing.T) {
	rentals := &fakeRentals{}
	router := newTestRouter(rentals)

	w := doRequest(router, http.MethodPost, "/snap-token",
		`{"locationId":"A","slotId":"1","userId":"U1","durationHours":2,"orderId":"A-1-x-y"}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "tok-1", body["token"])
	assert.Equal(t, "https://pay.example/tok-1", body["redirectUrl"])
	assert.Equal(t, "A-1-x-y", body["orderId"])
	assert.Equal(t, float64(10000), body["amount"])

	assert.Equal(t, service.InitiateRequest{
		LocationID: "A", SlotID: "1", UserID: "U1", DurationHours: 2, OrderID: "A-1-x-y",
	}, rentals.initiateReq)
}

func TestSnapToken_KioskFieldNames(t *testing.T) {
	rentals := &fakeRentals{}
	router := newTestRouter(rentals)

	w := doRequest(router, http.MethodPost, "/snap-token",
		`{"lokasi":"B","loker":"7","user_id":"U2","durasi_jam":"3","order_id":"B-7-1700-abc","gross_amount":1}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, rentals.initiateReq.DurationHours)
	assert.Equal(t, "B", rentals.initiateReq.LocationID)
	assert.Equal(t, float64(15000), decode(t, w)["amount"], "client amount is ignored")
}

func TestSnapToken_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"locationId":`},
		{"missing slot", `{"locationId":"A","userId":"U1","durationHours":2,"orderId":"A-1-x-y"}`},
		{"zero duration", `{"locationId":"A","slotId":"1","userId":"U1","durationHours":0,"orderId":"A-1-x-y"}`},
		{"fractional duration", `{"locationId":"A","slotId":"1","userId":"U1","durationHours":1.5,"orderId":"A-1-x-y"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rentals := &fakeRentals{}
			w := doRequest(newTestRouter(rentals), http.MethodPost, "/snap-token", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w), "error")
			assert.Empty(t, rentals.initiateReq.OrderID, "service must not be called")
		})
	}
}

func TestSnapToken_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", fmt.Errorf("%w: order id reused", models.ErrInvalidRequest), http.StatusBadRequest},
		{"gateway", &gateway.GatewayError{StatusCode: 401}, http.StatusInternalServerError},
		{"store", &models.StoreError{Op: "put_pending", Err: errors.New("timeout")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeRentals{initiateErr: tt.err})
			w := doRequest(router, http.MethodPost, "/snap-token",
				`{"locationId":"A","slotId":"1","userId":"U1","durationHours":2,"orderId":"A-1-x-y"}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPaymentNotification_Outcomes(t *testing.T) {
	for _, path := range []string{"/payment-notification", "/midtrans-notif"} {
		t.Run(path, func(t *testing.T) {
			rentals := &fakeRentals{outcome: service.Outcome{Settled: true}}
			router := newTestRouter(rentals)

			w := doRequest(router, http.MethodPost, path,
				`{"order_id":"A-1-x-y","transaction_status":"capture","fraud_status":"accept","gross_amount":"10000.00","status_code":"200"}`)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "ok", decode(t, w)["status"])
			assert.Equal(t, service.PaymentNotification{
				OrderID: "A-1-x-y", TransactionStatus: "capture", FraudStatus: "accept",
			}, rentals.notification)
		})
	}
}

func TestPaymentNotification_Ignored(t *testing.T) {
	rentals := &fakeRentals{outcome: service.Outcome{Reason: "status deny"}}
	w := doRequest(newTestRouter(rentals), http.MethodPost, "/payment-notification",
		`{"order_id":"A-1-x-y","transaction_status":"deny"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored(status deny)", decode(t, w)["status"])
}

func TestPaymentNotification_InternalError(t *testing.T) {
	rentals := &fakeRentals{reconcileErr: &models.StoreError{Op: "put_occupancy", Err: errors.New("timeout")}}
	w := doRequest(newTestRouter(rentals), http.MethodPost, "/payment-notification",
		`{"order_id":"A-1-x-y","transaction_status":"settlement"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "put_occupancy")
}

func TestPaymentNotification_StructurallyInvalid(t *testing.T) {
	for _, body := range []string{`not json`, `{"transaction_status":"settlement"}`, `{"order_id":"A-1-x-y"}`} {
		rentals := &fakeRentals{}
		w := doRequest(newTestRouter(rentals), http.MethodPost, "/payment-notification", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Nil(t, rentals.reconcileCtx, "service must not be called")
	}
}

func TestPaymentNotification_DetachesFromRequestCancellation(t *testing.T) {
	rentals := &fakeRentals{outcome: service.Outcome{Settled: true}}
	router := newTestRouter(rentals)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/payment-notification",
		strings.NewReader(`{"order_id":"A-1-x-y","transaction_status":"settlement"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, rentals.reconcileCtx)
	assert.NoError(t, rentals.reconcileCtx.Err())
}

func TestLookups(t *testing.T) {
	rentals := &fakeRentals{}
	router := newTestRouter(rentals)

	w := doRequest(router, http.MethodGet, "/rentals/A-1-x-y", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NONE", decode(t, w)["state"])
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/occupancies/A/1", "").Code)

	rentals.rental = &service.RentalView{OrderID: "A-1-x-y", State: models.RentalStateSettled}
	rentals.occupancy = &service.OccupancyView{
		ActiveOccupancy: &models.ActiveOccupancy{LocationID: "A", SlotID: "1", OrderID: "A-1-x-y", Status: "occupied"},
	}

	w = doRequest(router, http.MethodGet, "/rentals/A-1-x-y", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SETTLED", decode(t, w)["state"])

	w = doRequest(router, http.MethodGet, "/occupancies/A/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "A-1-x-y", body["order_id"])
	assert.Equal(t, false, body["expired"])
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := ReadinessCheck{Name: "store", Check: func(context.Context) error { return nil }}
	down := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }}

	router := newTestRouter(&fakeRentals{}, healthy)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/uptime", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ready", "").Code)

	router = newTestRouter(&fakeRentals{}, healthy, down)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/health", "").Code)
	w := doRequest(router, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["failed"], "redis")
}
