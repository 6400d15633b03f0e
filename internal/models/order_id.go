package models

import (
	"fmt"
	"strings"
)

const minOrderIDSegments = 4

// OrderRef is the slot encoded in an order identifier.
type OrderRef struct {
	LocationID string
	SlotID     string
}

// ParseOrderID extracts location and slot from "<location>-<slot>-<x>-<y>".
func ParseOrderID(orderID string) (OrderRef, error) {
	parts := strings.Split(orderID, "-")
	if len(parts) < minOrderIDSegments {
		return OrderRef{}, fmt.Errorf("%w: order id %q has %d segments, want at least %d",
			ErrInvalidRequest, orderID, len(parts), minOrderIDSegments)
	}
	if parts[0] == "" || parts[1] == "" {
		return OrderRef{}, fmt.Errorf("%w: order id %q has empty location or slot", ErrInvalidRequest, orderID)
	}
	return OrderRef{LocationID: parts[0], SlotID: parts[1]}, nil
}
