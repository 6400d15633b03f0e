package models

import "time"

// PendingReservation is a rental waiting for its payment notification.
type PendingReservation struct {
	OrderID       string    `db:"order_id" json:"order_id"`
	LocationID    string    `db:"location_id" json:"location_id"`
	SlotID        string    `db:"slot_id" json:"slot_id"`
	UserID        string    `db:"user_id" json:"user_id"`
	DurationHours int       `db:"duration_hours" json:"duration_hours"`
	UserName      string    `db:"user_name" json:"user_name,omitempty"`
	UserEmail     string    `db:"user_email" json:"user_email,omitempty"`
	Amount        int64     `db:"amount" json:"amount"`
	State         string    `db:"state" json:"state"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ActiveOccupancy is the current claim on a slot, keyed by location and slot.
type ActiveOccupancy struct {
	LocationID string    `db:"location_id" json:"location_id"`
	SlotID     string    `db:"slot_id" json:"slot_id"`
	Status     string    `db:"status" json:"status"`
	OrderID    string    `db:"order_id" json:"order_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	UserName   string    `db:"user_name" json:"user_name"`
	UserEmail  string    `db:"user_email" json:"user_email"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the occupancy has ended at now.
func (o *ActiveOccupancy) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// HistoryRecord is the immutable record of a settled rental.
type HistoryRecord struct {
	OrderID       string    `db:"order_id" json:"order_id"`
	LocationID    string    `db:"location_id" json:"location_id"`
	SlotID        string    `db:"slot_id" json:"slot_id"`
	UserID        string    `db:"user_id" json:"user_id"`
	UserName      string    `db:"user_name" json:"user_name"`
	UserEmail     string    `db:"user_email" json:"user_email"`
	StartedAt     time.Time `db:"started_at" json:"started_at"`
	DurationHours int       `db:"duration_hours" json:"duration_hours"`
	TotalPrice    int64     `db:"total_price" json:"total_price"`
}

// User is a read-only directory entry.
type User struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}

// Rental states
const (
	RentalStateNone      = "NONE"
	RentalStatePending   = "PENDING"
	RentalStateSettled   = "SETTLED"
	RentalStateAbandoned = "ABANDONED"
)

const OccupancyStatusOccupied = "occupied"

// Midtrans transaction statuses
const (
	TransactionStatusSettlement = "settlement"
	TransactionStatusCapture    = "capture"
	TransactionStatusPending    = "pending"
	TransactionStatusDeny       = "deny"
	TransactionStatusExpire     = "expire"
	TransactionStatusCancel     = "cancel"
	TransactionStatusFailure    = "failure"

	FraudStatusChallenge = "challenge"
)

// ContactUnknown fills name and email when no source knows them.
const ContactUnknown = "-"

// IsPaidStatus reports whether a transaction status means funds were received.
func IsPaidStatus(status string) bool {
	return status == TransactionStatusSettlement || status == TransactionStatusCapture
}

// IsFailedStatus reports whether the provider gave up on the transaction.
func IsFailedStatus(status string) bool {
	switch status {
	case TransactionStatusDeny, TransactionStatusExpire, TransactionStatusCancel, TransactionStatusFailure:
		return true
	}
	return false
}
