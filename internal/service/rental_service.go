package service

import (
	"context"
	"fmt"
	"time"

	"locker-service/internal/clock"
	"locker-service/internal/gateway"
	"locker-service/internal/models"
	"locker-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationStore persists the three rental collections plus the user directory.
// Absent records are returned as (nil, nil).
type ReservationStore interface {
	GetPending(ctx context.Context, orderID string) (*models.PendingReservation, error)
	PutPending(ctx context.Context, p *models.PendingReservation) error
	DeletePending(ctx context.Context, orderID string) (bool, error)
	MarkPendingAbandoned(ctx context.Context, orderID string) (bool, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PendingReservation, error)

	GetOccupancy(ctx context.Context, locationID, slotID string) (*models.ActiveOccupancy, error)
	PutOccupancy(ctx context.Context, o *models.ActiveOccupancy) error
	DeleteOccupancyIfExpired(ctx context.Context, locationID, slotID string, now time.Time) (bool, error)
	ListExpiredOccupancies(ctx context.Context, now time.Time, limit int) ([]models.ActiveOccupancy, error)

	GetHistory(ctx context.Context, orderID string) (*models.HistoryRecord, error)
	CreateHistory(ctx context.Context, h *models.HistoryRecord) (bool, error)
}

type PaymentGateway interface {
	CreateTransaction(ctx context.Context, req gateway.TransactionRequest) (*gateway.Transaction, error)
}

type UserLookup interface {
	Lookup(ctx context.Context, userID string) (models.User, bool)
}

type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (func(), error)
	LockSlot(ctx context.Context, locationID, slotID string) (func(), error)
}

// EventPublisher emits rental lifecycle events
type EventPublisher interface {
	PublishRentalInitiated(ctx context.Context, event *models.RentalInitiatedEvent) error
	PublishRentalSettled(ctx context.Context, event *models.RentalSettledEvent) error
	PublishRentalAbandoned(ctx context.Context, event *models.RentalAbandonedEvent) error
	PublishOccupancyReleased(ctx context.Context, event *models.OccupancyReleasedEvent) error
	PublishReconcileFailed(ctx context.Context, event *models.ReconcileFailedEvent) error
}

// RentalService turns snap token requests and payment notifications into rentals
type RentalService struct {
	store     ReservationStore
	gateway   PaymentGateway
	users     UserLookup
	locker    OrderLocker
	publisher EventPublisher
	pricing   Pricing
	clock     clock.Clock
	logger    *zap.Logger

	retryAttempts       int
	retryBackoff        time.Duration
	recoveryMaxAttempts int
	maxDurationHours    int
}

const (
	defaultRetryAttempts       = 3
	defaultRetryBackoff        = 50 * time.Millisecond
	defaultRecoveryMaxAttempts = 5

	// DefaultMaxDurationHours is one year.
	DefaultMaxDurationHours = 24 * 365
)

type RentalServiceOption func(*RentalService)

// WithRetryPolicy sets how often store calls are retried before failing
func WithRetryPolicy(attempts int, backoff time.Duration) RentalServiceOption {
	return func(s *RentalService) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if backoff > 0 {
			s.retryBackoff = backoff
		}
	}
}

// WithRecoveryMaxAttempts caps how many times a failed reconciliation is re-queued
func WithRecoveryMaxAttempts(n int) RentalServiceOption {
	return func(s *RentalService) {
		if n > 0 {
			s.recoveryMaxAttempts = n
		}
	}
}

// WithMaxDurationHours caps the rental length a single order may buy
func WithMaxDurationHours(h int) RentalServiceOption {
	return func(s *RentalService) {
		if h > 0 && h <= DefaultMaxDurationHours {
			s.maxDurationHours = h
		}
	}
}

// NewRentalService creates a new rental service
func NewRentalService(
	store ReservationStore,
	gw PaymentGateway,
	users UserLookup,
	locker OrderLocker,
	publisher EventPublisher,
	pricing Pricing,
	clk clock.Clock,
	opts ...RentalServiceOption,
) *RentalService {
	svc := &RentalService{
		store:               store,
		gateway:             gw,
		users:               users,
		locker:              locker,
		publisher:           publisher,
		pricing:             pricing,
		clock:               clk,
		logger:              util.GetLogger(),
		retryAttempts:       defaultRetryAttempts,
		retryBackoff:        defaultRetryBackoff,
		recoveryMaxAttempts: defaultRecoveryMaxAttempts,
		maxDurationHours:    DefaultMaxDurationHours,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// InitiateRequest asks for a snap token for one rental attempt
type InitiateRequest struct {
	LocationID    string
	SlotID        string
	UserID        string
	DurationHours int
	OrderID       string
}

// InitiateResponse is returned to the kiosk to open the payment page
type InitiateResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
}

func validateInitiate(req InitiateRequest, maxHours int) error {
	if req.LocationID == "" || req.SlotID == "" || req.UserID == "" || req.OrderID == "" {
		return fmt.Errorf("%w: locationId, slotId, userId and orderId are required", models.ErrInvalidRequest)
	}
	if req.DurationHours <= 0 {
		return fmt.Errorf("%w: durationHours must be positive, got %d", models.ErrInvalidRequest, req.DurationHours)
	}
	if req.DurationHours > maxHours {
		return fmt.Errorf("%w: durationHours must be at most %d, got %d", models.ErrInvalidRequest, maxHours, req.DurationHours)
	}

	ref, err := models.ParseOrderID(req.OrderID)
	if err != nil {
		return err
	}
	if ref.LocationID != req.LocationID || ref.SlotID != req.SlotID {
		return fmt.Errorf("%w: order id %q does not belong to %s/%s",
			models.ErrInvalidRequest, req.OrderID, req.LocationID, req.SlotID)
	}
	return nil
}

// InitiateReservation prices the rental, opens a Snap session and records the
// pending reservation. Nothing is stored when the gateway fails.
func (s *RentalService) InitiateReservation(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	ctx, span := util.StartOrderSpan(ctx, "RentalService.InitiateReservation", req.OrderID)
	defer span.End()

	if err := validateInitiate(req, s.maxDurationHours); err != nil {
		util.RentalsFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var pending *models.PendingReservation
	var history *models.HistoryRecord
	err = s.withRetry(ctx, "get_pending", func(ctx context.Context) error {
		var err error
		pending, err = s.store.GetPending(ctx, req.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = s.withRetry(ctx, "get_history", func(ctx context.Context) error {
		var err error
		history, err = s.store.GetHistory(ctx, req.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pending != nil || history != nil {
		util.RentalsFailedTotal.WithLabelValues("duplicate_order").Inc()
		return nil, fmt.Errorf("%w: order id %q already used", models.ErrInvalidRequest, req.OrderID)
	}

	amount := s.pricing.Price(req.DurationHours)

	var customer gateway.Customer
	user, found := s.users.Lookup(ctx, req.UserID)
	if found {
		customer = gateway.Customer{FirstName: user.Name, Email: user.Email}
	}

	tx, err := s.gateway.CreateTransaction(ctx, gateway.TransactionRequest{
		OrderID:  req.OrderID,
		Amount:   amount,
		Customer: customer,
	})
	if err != nil {
		util.RentalsFailedTotal.WithLabelValues("gateway").Inc()
		s.logger.Error("Failed to create snap transaction",
			zap.String("order_id", req.OrderID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return nil, err
	}

	reservation := &models.PendingReservation{
		OrderID:       req.OrderID,
		LocationID:    req.LocationID,
		SlotID:        req.SlotID,
		UserID:        req.UserID,
		DurationHours: req.DurationHours,
		Amount:        amount,
		State:         models.RentalStatePending,
		CreatedAt:     s.clock.Now(),
	}
	if found {
		reservation.UserName = user.Name
		reservation.UserEmail = user.Email
	}

	err = s.withRetry(ctx, "put_pending", func(ctx context.Context) error {
		return s.store.PutPending(ctx, reservation)
	})
	if err != nil {
		util.RentalsFailedTotal.WithLabelValues("store").Inc()
		s.logger.Error("Snap session created but pending reservation was not stored",
			zap.String("order_id", req.OrderID),
			zap.String("location_id", req.LocationID),
			zap.String("slot_id", req.SlotID),
			zap.String("user_id", req.UserID),
			zap.Int("duration_hours", req.DurationHours),
			zap.Int64("amount", amount),
			zap.Error(err))
		return nil, err
	}

	util.RentalsInitiatedTotal.Inc()
	s.logger.Info("Rental initiated",
		zap.String("order_id", req.OrderID),
		zap.String("location_id", req.LocationID),
		zap.String("slot_id", req.SlotID),
		zap.Int64("amount", amount))

	event := &models.RentalInitiatedEvent{
		BaseEvent:     s.newBaseEvent(models.EventTypeRentalInitiated),
		OrderID:       req.OrderID,
		LocationID:    req.LocationID,
		SlotID:        req.SlotID,
		UserID:        req.UserID,
		DurationHours: req.DurationHours,
		Amount:        amount,
	}
	if err := s.publisher.PublishRentalInitiated(ctx, event); err != nil {
		s.logger.Error("Failed to publish RentalInitiated event", zap.String("order_id", req.OrderID), zap.Error(err))
	}

	return &InitiateResponse{
		Token:       tx.Token,
		RedirectURL: tx.RedirectURL,
		OrderID:     req.OrderID,
		Amount:      amount,
	}, nil
}

// RentalView is the derived state of one order
type RentalView struct {
	OrderID string                     `json:"orderId"`
	State   string                     `json:"state"`
	Pending *models.PendingReservation `json:"pending,omitempty"`
	History *models.HistoryRecord      `json:"history,omitempty"`
}

// RentalStatus derives the state of an order from the pending and history records.
// A pending record wins because its deletion is the commit point.
func (s *RentalService) RentalStatus(ctx context.Context, orderID string) (*RentalView, error) {
	ctx, span := util.StartOrderSpan(ctx, "RentalService.RentalStatus", orderID)
	defer span.End()

	var pending *models.PendingReservation
	var history *models.HistoryRecord
	err := s.withRetry(ctx, "get_pending", func(ctx context.Context) error {
		var err error
		pending, err = s.store.GetPending(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = s.withRetry(ctx, "get_history", func(ctx context.Context) error {
		var err error
		history, err = s.store.GetHistory(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	view := &RentalView{OrderID: orderID, Pending: pending, History: history}
	switch {
	case pending != nil:
		view.State = pending.State
	case history != nil:
		view.State = models.RentalStateSettled
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrRentalNotFound, orderID)
	}
	return view, nil
}

// OccupancyView is the current occupant of a slot
type OccupancyView struct {
	*models.ActiveOccupancy
	Expired bool `json:"expired"`
}

// Occupancy returns the current occupant of a slot, expired or not
func (s *RentalService) Occupancy(ctx context.Context, locationID, slotID string) (*OccupancyView, error) {
	var occ *models.ActiveOccupancy
	err := s.withRetry(ctx, "get_occupancy", func(ctx context.Context) error {
		var err error
		occ, err = s.store.GetOccupancy(ctx, locationID, slotID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if occ == nil {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrOccupancyNotFound, locationID, slotID)
	}
	return &OccupancyView{ActiveOccupancy: occ, Expired: occ.Expired(s.clock.Now())}, nil
}

// withRetry runs a store call with the configured policy and tags the final failure with op
func (s *RentalService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	calls := 0
	err := util.Retry(ctx, s.retryAttempts, s.retryBackoff, func(ctx context.Context) error {
		if calls > 0 {
			util.StoreRetriesTotal.WithLabelValues(op).Inc()
		}
		calls++
		return fn(ctx)
	})
	if err != nil {
		return &models.StoreError{Op: op, Err: err}
	}
	return nil
}

func (s *RentalService) newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: s.clock.Now(),
	}
}
