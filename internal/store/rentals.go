package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"locker-service/internal/models"
)

const (
	pendingColumns   = "order_id, location_id, slot_id, user_id, duration_hours, user_name, user_email, amount, state, created_at"
	occupancyColumns = "location_id, slot_id, status, order_id, user_id, user_name, user_email, started_at, expires_at"
	historyColumns   = "order_id, location_id, slot_id, user_id, user_name, user_email, started_at, duration_hours, total_price"
)

// GetPending retrieves a pending rental by order id, nil when absent
func (s *Store) GetPending(ctx context.Context, orderID string) (*models.PendingReservation, error) {
	var p models.PendingReservation
	err := s.db.GetContext(ctx, &p,
		"SELECT "+pendingColumns+" FROM pending_rentals WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PutPending creates or replaces a pending rental
func (s *Store) PutPending(ctx context.Context, p *models.PendingReservation) error {
	query := `
		INSERT INTO pending_rentals (` + pendingColumns + `)
		VALUES (:order_id, :location_id, :slot_id, :user_id, :duration_hours, :user_name, :user_email, :amount, :state, :created_at)
		ON CONFLICT (order_id) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			slot_id = EXCLUDED.slot_id,
			user_id = EXCLUDED.user_id,
			duration_hours = EXCLUDED.duration_hours,
			user_name = EXCLUDED.user_name,
			user_email = EXCLUDED.user_email,
			amount = EXCLUDED.amount,
			state = EXCLUDED.state`

	_, err := s.db.NamedExecContext(ctx, query, p)
	return err
}

// DeletePending removes a pending rental and reports whether this call removed it
func (s *Store) DeletePending(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pending_rentals WHERE order_id = $1", orderID)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

// MarkPendingAbandoned flips a PENDING rental to ABANDONED
func (s *Store) MarkPendingAbandoned(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_rentals SET state = $1 WHERE order_id = $2 AND state = $3",
		models.RentalStateAbandoned, orderID, models.RentalStatePending)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

// ListStalePending returns PENDING rentals created before the cutoff, oldest first
func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PendingReservation, error) {
	var pending []models.PendingReservation
	err := s.db.SelectContext(ctx, &pending,
		"SELECT "+pendingColumns+" FROM pending_rentals WHERE state = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.RentalStatePending, before, limit)
	return pending, err
}

// GetOccupancy retrieves the occupancy of a slot, nil when the slot is free
func (s *Store) GetOccupancy(ctx context.Context, locationID, slotID string) (*models.ActiveOccupancy, error) {
	var o models.ActiveOccupancy
	err := s.db.GetContext(ctx, &o,
		"SELECT "+occupancyColumns+" FROM active_rentals WHERE location_id = $1 AND slot_id = $2",
		locationID, slotID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// PutOccupancy creates or replaces the occupancy of a slot
func (s *Store) PutOccupancy(ctx context.Context, o *models.ActiveOccupancy) error {
	query := `
		INSERT INTO active_rentals (` + occupancyColumns + `)
		VALUES (:location_id, :slot_id, :status, :order_id, :user_id, :user_name, :user_email, :started_at, :expires_at)
		ON CONFLICT (location_id, slot_id) DO UPDATE SET
			status = EXCLUDED.status,
			order_id = EXCLUDED.order_id,
			user_id = EXCLUDED.user_id,
			user_name = EXCLUDED.user_name,
			user_email = EXCLUDED.user_email,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at`

	_, err := s.db.NamedExecContext(ctx, query, o)
	return err
}

// DeleteOccupancyIfExpired clears a slot only while its occupancy is still expired at now
func (s *Store) DeleteOccupancyIfExpired(ctx context.Context, locationID, slotID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM active_rentals WHERE location_id = $1 AND slot_id = $2 AND expires_at <= $3",
		locationID, slotID, now)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

// ListExpiredOccupancies returns occupancies that ended at or before now
func (s *Store) ListExpiredOccupancies(ctx context.Context, now time.Time, limit int) ([]models.ActiveOccupancy, error) {
	var occupancies []models.ActiveOccupancy
	err := s.db.SelectContext(ctx, &occupancies,
		"SELECT "+occupancyColumns+" FROM active_rentals WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2",
		now, limit)
	return occupancies, err
}

// GetHistory retrieves the history record of an order, nil when absent
func (s *Store) GetHistory(ctx context.Context, orderID string) (*models.HistoryRecord, error) {
	var h models.HistoryRecord
	err := s.db.GetContext(ctx, &h,
		"SELECT "+historyColumns+" FROM rental_history WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateHistory appends a history record; an existing record for the order is kept
func (s *Store) CreateHistory(ctx context.Context, h *models.HistoryRecord) (bool, error) {
	query := `
		INSERT INTO rental_history (` + historyColumns + `)
		VALUES (:order_id, :location_id, :slot_id, :user_id, :user_name, :user_email, :started_at, :duration_hours, :total_price)
		ON CONFLICT (order_id) DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, query, h)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}
