package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"locker-service/internal/service"
)

// snapTokenRequest accepts both the camelCase fields and the field names used
// by the kiosk app (lokasi, loker, user_id, durasi_jam, order_id).
// A client-supplied gross_amount is ignored; the price is computed server side.
type snapTokenRequest struct {
	LocationID    string       `json:"locationId"`
	SlotID        string       `json:"slotId"`
	UserID        string       `json:"userId"`
	DurationHours *flexibleInt `json:"durationHours"`
	OrderID       string       `json:"orderId"`

	Lokasi     string       `json:"lokasi"`
	Loker      string       `json:"loker"`
	UserIDAlt  string       `json:"user_id"`
	DurasiJam  *flexibleInt `json:"durasi_jam"`
	OrderIDAlt string       `json:"order_id"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (r *snapTokenRequest) toInitiateRequest() (service.InitiateRequest, error) {
	req := service.InitiateRequest{
		LocationID: firstNonEmpty(r.LocationID, r.Lokasi),
		SlotID:     firstNonEmpty(r.SlotID, r.Loker),
		UserID:     firstNonEmpty(r.UserID, r.UserIDAlt),
		OrderID:    firstNonEmpty(r.OrderID, r.OrderIDAlt),
	}
	switch {
	case r.DurationHours != nil:
		req.DurationHours = int(*r.DurationHours)
	case r.DurasiJam != nil:
		req.DurationHours = int(*r.DurasiJam)
	}

	var missing []string
	if req.LocationID == "" {
		missing = append(missing, "locationId")
	}
	if req.SlotID == "" {
		missing = append(missing, "slotId")
	}
	if req.UserID == "" {
		missing = append(missing, "userId")
	}
	if req.DurationHours <= 0 {
		missing = append(missing, "durationHours")
	}
	if req.OrderID == "" {
		missing = append(missing, "orderId")
	}
	if len(missing) > 0 {
		return req, fmt.Errorf("missing or invalid fields: %s", strings.Join(missing, ", "))
	}
	return req, nil
}

// flexibleInt decodes either a JSON number or a numeric string
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}

	n, err := strconv.Atoi(string(data))
	if err != nil {
		return errors.New("must be a whole number")
	}
	*f = flexibleInt(n)
	return nil
}

// paymentNotificationRequest is the subset of the Midtrans HTTP notification we read
type paymentNotificationRequest struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionStatus string `json:"transaction_status" binding:"required"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	TransactionID     string `json:"transaction_id"`
	PaymentType       string `json:"payment_type"`
}
