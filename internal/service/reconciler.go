package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"locker-service/internal/models"
	"locker-service/internal/util"

	"go.uber.org/zap"
)

// Failure steps reported with RECONCILE_FAILED
const (
	StepLock               = "lock"
	StepSlotLock           = "slot_lock"
	StepGetPending         = "get_pending"
	StepGetHistory         = "get_history"
	StepOccupancyGuard     = "occupancy_guard"
	StepCreateHistory      = "create_history"
	StepPutOccupancy       = "put_occupancy"
	StepDeletePending      = "delete_pending"
	StepAbandonedOrderPaid = "abandoned_order_paid"
)

var errAbandonedPaid = errors.New("payment received after the rental was abandoned")

// PaymentNotification is the part of a provider webhook that drives reconciliation
type PaymentNotification struct {
	OrderID           string
	TransactionStatus string
	FraudStatus       string
}

// Outcome is the result of a handled notification. Ignored notifications are not errors.
type Outcome struct {
	Settled bool
	Reason  string
}

func ignored(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Status renders the outcome for the webhook response body
func (o Outcome) Status() string {
	if o.Settled {
		return "ok"
	}
	return fmt.Sprintf("ignored(%s)", o.Reason)
}

// Reconcile applies a payment notification. Paid notifications move the pending
// reservation into an active occupancy plus a history record; everything else
// is ignored without touching state. Safe to call repeatedly for the same order.
func (s *RentalService) Reconcile(ctx context.Context, n PaymentNotification) (Outcome, error) {
	return s.reconcile(ctx, n, 0)
}

// RetryReconcile re-drives a notification that previously failed to apply
func (s *RentalService) RetryReconcile(ctx context.Context, event *models.ReconcileFailedEvent) error {
	if event.Step == StepAbandonedOrderPaid {
		// Alert only, the pending record stays abandoned until an operator refunds or settles it.
		s.logger.Warn("Skipping recovery for abandoned rental", zap.String("order_id", event.OrderID))
		return nil
	}

	outcome, err := s.reconcile(ctx, PaymentNotification{
		OrderID:           event.OrderID,
		TransactionStatus: event.TransactionStatus,
		FraudStatus:       event.FraudStatus,
	}, event.Attempt)
	if err != nil {
		return err
	}

	s.logger.Info("Recovery reconciliation finished",
		zap.String("order_id", event.OrderID),
		zap.Int("attempt", event.Attempt),
		zap.String("outcome", outcome.Status()))
	return nil
}

func (s *RentalService) reconcile(ctx context.Context, n PaymentNotification, attempt int) (Outcome, error) {
	ctx, span := util.StartOrderSpan(ctx, "RentalService.Reconcile", n.OrderID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	ref, err := models.ParseOrderID(n.OrderID)
	if err != nil {
		s.logger.Warn("Ignoring notification with malformed order id",
			zap.String("order_id", n.OrderID),
			zap.String("transaction_status", n.TransactionStatus))
		return ignored("invalid orderId"), nil
	}

	paid := models.IsPaidStatus(n.TransactionStatus)

	unlock, err := s.locker.Lock(ctx, n.OrderID)
	if err != nil {
		if !paid {
			return s.ignoreUnpaidFailure(n, StepLock, err), nil
		}
		s.reportFailure(ctx, n, StepLock, err, attempt)
		return Outcome{}, err
	}
	defer unlock()

	var pending *models.PendingReservation
	err = s.withRetry(ctx, StepGetPending, func(ctx context.Context) error {
		var err error
		pending, err = s.store.GetPending(ctx, n.OrderID)
		return err
	})
	if err != nil {
		if !paid {
			return s.ignoreUnpaidFailure(n, StepGetPending, err), nil
		}
		s.reportFailure(ctx, n, StepGetPending, err, attempt)
		return Outcome{}, err
	}
	if pending != nil && pending.DurationHours > s.maxDurationHours {
		s.logger.Error("Pending rental duration out of range",
			zap.String("order_id", n.OrderID),
			zap.String("transaction_status", n.TransactionStatus),
			zap.Int("duration_hours", pending.DurationHours),
			zap.Int("max_duration_hours", s.maxDurationHours))
		return ignored("no pending data"), nil
	}
	if pending == nil || pending.UserID == "" || pending.DurationHours <= 0 {
		s.logger.Info("No pending rental for notification",
			zap.String("order_id", n.OrderID),
			zap.String("transaction_status", n.TransactionStatus))
		return ignored("no pending data"), nil
	}

	if !paid {
		if models.IsFailedStatus(n.TransactionStatus) {
			s.logger.Warn("Payment not completed",
				zap.String("order_id", n.OrderID),
				zap.String("transaction_status", n.TransactionStatus))
		}
		return ignored("status " + n.TransactionStatus), nil
	}

	if n.TransactionStatus == models.TransactionStatusCapture && n.FraudStatus == models.FraudStatusChallenge {
		s.logger.Warn("Captured payment flagged for fraud review",
			zap.String("order_id", n.OrderID))
		return ignored("fraud challenge"), nil
	}

	if pending.State == models.RentalStateAbandoned {
		s.logger.Error("Payment received for abandoned rental",
			zap.String("order_id", n.OrderID),
			zap.String("transaction_status", n.TransactionStatus),
			zap.String("step", StepAbandonedOrderPaid),
			zap.Int64("amount", pending.Amount),
			zap.Int("attempt", attempt))
		util.ReconcileFailuresTotal.WithLabelValues(StepAbandonedOrderPaid).Inc()
		if attempt == 0 {
			s.publishFailure(ctx, n, StepAbandonedOrderPaid, errAbandonedPaid, attempt)
		}
		return ignored("order abandoned"), nil
	}

	var existing *models.HistoryRecord
	err = s.withRetry(ctx, StepGetHistory, func(ctx context.Context) error {
		var err error
		existing, err = s.store.GetHistory(ctx, n.OrderID)
		return err
	})
	if err != nil {
		s.reportFailure(ctx, n, StepGetHistory, err, attempt)
		return Outcome{}, err
	}

	now := s.clock.Now()
	record := &models.HistoryRecord{
		OrderID:       n.OrderID,
		LocationID:    ref.LocationID,
		SlotID:        ref.SlotID,
		UserID:        pending.UserID,
		StartedAt:     now,
		DurationHours: pending.DurationHours,
		TotalPrice:    s.pricing.Price(pending.DurationHours),
	}
	if existing != nil {
		// An earlier attempt got past the first commit step.
		record = existing
	} else {
		record.UserName, record.UserEmail = s.contact(ctx, pending)
	}

	expiresAt := record.StartedAt.Add(time.Duration(record.DurationHours) * time.Hour)

	// The slot stays locked from the occupant check until the new occupancy is written.
	unlockSlot, err := s.locker.LockSlot(ctx, ref.LocationID, ref.SlotID)
	if err != nil {
		s.reportFailure(ctx, n, StepSlotLock, err, attempt)
		return Outcome{}, err
	}
	defer unlockSlot()

	var current *models.ActiveOccupancy
	err = s.withRetry(ctx, "get_occupancy", func(ctx context.Context) error {
		var err error
		current, err = s.store.GetOccupancy(ctx, ref.LocationID, ref.SlotID)
		return err
	})
	if err != nil {
		s.reportFailure(ctx, n, StepOccupancyGuard, err, attempt)
		return Outcome{}, err
	}
	if current != nil && current.OrderID != n.OrderID && !current.Expired(now) {
		err := fmt.Errorf("%w: %s/%s held by %s until %s", models.ErrSlotOccupied,
			ref.LocationID, ref.SlotID, current.OrderID, current.ExpiresAt.Format(time.RFC3339))
		s.reportFailure(ctx, n, StepOccupancyGuard, err, attempt)
		return Outcome{}, err
	}

	err = s.withRetry(ctx, StepCreateHistory, func(ctx context.Context) error {
		_, err := s.store.CreateHistory(ctx, record)
		return err
	})
	if err != nil {
		s.reportFailure(ctx, n, StepCreateHistory, err, attempt)
		return Outcome{}, err
	}

	occupancy := &models.ActiveOccupancy{
		LocationID: ref.LocationID,
		SlotID:     ref.SlotID,
		Status:     models.OccupancyStatusOccupied,
		OrderID:    n.OrderID,
		UserID:     record.UserID,
		UserName:   record.UserName,
		UserEmail:  record.UserEmail,
		StartedAt:  record.StartedAt,
		ExpiresAt:  expiresAt,
	}
	err = s.withRetry(ctx, StepPutOccupancy, func(ctx context.Context) error {
		return s.store.PutOccupancy(ctx, occupancy)
	})
	if err != nil {
		s.reportFailure(ctx, n, StepPutOccupancy, err, attempt)
		return Outcome{}, err
	}

	var deleted bool
	err = s.withRetry(ctx, StepDeletePending, func(ctx context.Context) error {
		var err error
		deleted, err = s.store.DeletePending(ctx, n.OrderID)
		return err
	})
	if err != nil {
		s.reportFailure(ctx, n, StepDeletePending, err, attempt)
		return Outcome{}, err
	}
	if !deleted {
		s.logger.Warn("Pending rental already committed by another caller",
			zap.String("order_id", n.OrderID))
		return ignored("no pending data"), nil
	}

	util.RentalsSettledTotal.Inc()
	s.logger.Info("Rental settled",
		zap.String("order_id", n.OrderID),
		zap.String("location_id", ref.LocationID),
		zap.String("slot_id", ref.SlotID),
		zap.Time("expires_at", expiresAt),
		zap.Int64("total_price", record.TotalPrice))

	event := &models.RentalSettledEvent{
		BaseEvent:  s.newBaseEvent(models.EventTypeRentalSettled),
		OrderID:    n.OrderID,
		LocationID: ref.LocationID,
		SlotID:     ref.SlotID,
		UserID:     record.UserID,
		StartedAt:  record.StartedAt,
		ExpiresAt:  expiresAt,
		TotalPrice: record.TotalPrice,
	}
	if err := s.publisher.PublishRentalSettled(ctx, event); err != nil {
		s.logger.Error("Failed to publish RentalSettled event", zap.String("order_id", n.OrderID), zap.Error(err))
	}

	return Outcome{Settled: true}, nil
}

// ignoreUnpaidFailure acknowledges a non-paid notification that hit an
// infrastructure error. Nothing would change for it, so the provider gets 200.
func (s *RentalService) ignoreUnpaidFailure(n PaymentNotification, step string, err error) Outcome {
	s.logger.Warn("Ignoring unpaid notification after failure",
		zap.String("order_id", n.OrderID),
		zap.String("transaction_status", n.TransactionStatus),
		zap.String("step", step),
		zap.Error(err))
	return ignored("status " + n.TransactionStatus)
}

// contact picks name and email from the pending record, then the directory, then "-"
func (s *RentalService) contact(ctx context.Context, p *models.PendingReservation) (string, string) {
	name, email := p.UserName, p.UserEmail
	if name == "" || email == "" {
		if user, ok := s.users.Lookup(ctx, p.UserID); ok {
			if name == "" {
				name = user.Name
			}
			if email == "" {
				email = user.Email
			}
		}
	}
	if name == "" {
		name = models.ContactUnknown
	}
	if email == "" {
		email = models.ContactUnknown
	}
	return name, email
}

// reportFailure logs a paid notification that could not be applied and queues it
// for the recovery worker while attempts remain.
func (s *RentalService) reportFailure(ctx context.Context, n PaymentNotification, step string, err error, attempt int) {
	s.logger.Error("Reconciliation failed",
		zap.String("order_id", n.OrderID),
		zap.String("transaction_status", n.TransactionStatus),
		zap.String("step", step),
		zap.Int("attempt", attempt),
		zap.Error(err))
	util.ReconcileFailuresTotal.WithLabelValues(step).Inc()

	if attempt >= s.recoveryMaxAttempts {
		s.logger.Error("Giving up automatic recovery, manual intervention required",
			zap.String("order_id", n.OrderID),
			zap.Int("attempt", attempt))
		return
	}
	s.publishFailure(ctx, n, step, err, attempt)
}

func (s *RentalService) publishFailure(ctx context.Context, n PaymentNotification, step string, err error, attempt int) {
	event := &models.ReconcileFailedEvent{
		BaseEvent:         s.newBaseEvent(models.EventTypeReconcileFailed),
		OrderID:           n.OrderID,
		TransactionStatus: n.TransactionStatus,
		FraudStatus:       n.FraudStatus,
		Step:              step,
		Error:             err.Error(),
		Attempt:           attempt + 1,
	}
	if pubErr := s.publisher.PublishReconcileFailed(ctx, event); pubErr != nil {
		s.logger.Error("Failed to publish ReconcileFailed event",
			zap.String("order_id", n.OrderID),
			zap.String("step", step),
			zap.Error(pubErr))
	}
}
