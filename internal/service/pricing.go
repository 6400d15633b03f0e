package service

// Pricing turns a rental duration into the amount charged
type Pricing struct {
	unitRate int64
}

// NewPricing creates a calculator charging unitRate per hour
func NewPricing(unitRate int64) Pricing {
	return Pricing{unitRate: unitRate}
}

// Price returns durationHours * unitRate. Callers reject non-positive durations.
func (p Pricing) Price(durationHours int) int64 {
	return int64(durationHours) * p.unitRate
}

// UnitRate returns the hourly rate
func (p Pricing) UnitRate() int64 {
	return p.unitRate
}
