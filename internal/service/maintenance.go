package service

import (
	"context"
	"time"

	"locker-service/internal/models"
	"locker-service/internal/util"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// AbandonStale marks pending rentals older than olderThan as abandoned.
// Each order is locked so a notification in flight wins over the sweep.
func (s *RentalService) AbandonStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.AbandonStale")
	defer span.End()

	cutoff := s.clock.Now().Add(-olderThan)

	var stale []models.PendingReservation
	err := s.withRetry(ctx, "list_stale_pending", func(ctx context.Context) error {
		var err error
		stale, err = s.store.ListStalePending(ctx, cutoff, sweepBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for i := range stale {
		p := stale[i]

		marked, err := s.abandonOne(ctx, p.OrderID)
		if err != nil {
			s.logger.Warn("Failed to abandon stale rental", zap.String("order_id", p.OrderID), zap.Error(err))
			continue
		}
		if !marked {
			continue
		}

		abandoned++
		util.RentalsAbandonedTotal.Inc()
		s.logger.Info("Rental abandoned",
			zap.String("order_id", p.OrderID),
			zap.Time("created_at", p.CreatedAt))

		event := &models.RentalAbandonedEvent{
			BaseEvent:  s.newBaseEvent(models.EventTypeRentalAbandoned),
			OrderID:    p.OrderID,
			LocationID: p.LocationID,
			SlotID:     p.SlotID,
			UserID:     p.UserID,
			Amount:     p.Amount,
			CreatedAt:  p.CreatedAt,
		}
		if err := s.publisher.PublishRentalAbandoned(ctx, event); err != nil {
			s.logger.Error("Failed to publish RentalAbandoned event", zap.String("order_id", p.OrderID), zap.Error(err))
		}
	}

	return abandoned, nil
}

func (s *RentalService) abandonOne(ctx context.Context, orderID string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		return false, err
	}
	defer unlock()

	var marked bool
	err = s.withRetry(ctx, "mark_abandoned", func(ctx context.Context) error {
		var err error
		marked, err = s.store.MarkPendingAbandoned(ctx, orderID)
		return err
	})
	return marked, err
}

// ReleaseExpired clears occupancies whose rental period has ended
func (s *RentalService) ReleaseExpired(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.ReleaseExpired")
	defer span.End()

	now := s.clock.Now()

	var expired []models.ActiveOccupancy
	err := s.withRetry(ctx, "list_expired_occupancies", func(ctx context.Context) error {
		var err error
		expired, err = s.store.ListExpiredOccupancies(ctx, now, sweepBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range expired {
		o := expired[i]

		var deleted bool
		err := s.withRetry(ctx, "delete_occupancy", func(ctx context.Context) error {
			var err error
			deleted, err = s.store.DeleteOccupancyIfExpired(ctx, o.LocationID, o.SlotID, now)
			return err
		})
		if err != nil {
			s.logger.Warn("Failed to release occupancy",
				zap.String("location_id", o.LocationID),
				zap.String("slot_id", o.SlotID),
				zap.Error(err))
			continue
		}
		if !deleted {
			continue
		}

		released++
		util.OccupanciesReleasedTotal.Inc()

		event := &models.OccupancyReleasedEvent{
			BaseEvent:  s.newBaseEvent(models.EventTypeOccupancyReleased),
			LocationID: o.LocationID,
			SlotID:     o.SlotID,
			OrderID:    o.OrderID,
			UserID:     o.UserID,
			ExpiresAt:  o.ExpiresAt,
		}
		if err := s.publisher.PublishOccupancyReleased(ctx, event); err != nil {
			s.logger.Error("Failed to publish OccupancyReleased event", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}

	return released, nil
}
