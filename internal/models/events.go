package models

import "time"

// Event types
const (
	EventTypeRentalInitiated   = "RENTAL_INITIATED"
	EventTypeRentalSettled     = "RENTAL_SETTLED"
	EventTypeRentalAbandoned   = "RENTAL_ABANDONED"
	EventTypeOccupancyReleased = "OCCUPANCY_RELEASED"
	EventTypeReconcileFailed   = "RECONCILE_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RentalInitiatedEvent published when a snap token was issued and the rental is pending
type RentalInitiatedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	LocationID    string `json:"location_id"`
	SlotID        string `json:"slot_id"`
	UserID        string `json:"user_id"`
	DurationHours int    `json:"duration_hours"`
	Amount        int64  `json:"amount"`
}

// RentalSettledEvent published after the pending rental became an occupancy
type RentalSettledEvent struct {
	BaseEvent
	OrderID    string    `json:"order_id"`
	LocationID string    `json:"location_id"`
	SlotID     string    `json:"slot_id"`
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TotalPrice int64     `json:"total_price"`
}

// RentalAbandonedEvent published when a pending rental outlived its TTL
type RentalAbandonedEvent struct {
	BaseEvent
	OrderID    string    `json:"order_id"`
	LocationID string    `json:"location_id"`
	SlotID     string    `json:"slot_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

// OccupancyReleasedEvent published when an expired occupancy is cleared
type OccupancyReleasedEvent struct {
	BaseEvent
	LocationID string    `json:"location_id"`
	SlotID     string    `json:"slot_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ReconcileFailedEvent carries a paid notification that could not be applied.
// Money has moved for these orders, so they are re-driven by the recovery worker.
type ReconcileFailedEvent struct {
	BaseEvent
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	Step              string `json:"step"`
	Error             string `json:"error"`
	Attempt           int    `json:"attempt"`
}
