package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrGateway           = errors.New("payment gateway error")
	ErrStore             = errors.New("store error")
	ErrSlotOccupied      = errors.New("slot occupied by another rental")
	ErrLockBusy          = errors.New("order is being processed")
	ErrRentalNotFound    = errors.New("rental not found")
	ErrOccupancyNotFound = errors.New("occupancy not found")
)

// StoreError is a persistence failure that survived the internal retries.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
