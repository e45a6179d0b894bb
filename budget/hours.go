package budget

import "github.com/shopspring/decimal"

// minutesPerHour is the single conversion constant between the two units
// the ledger exposes.
var minutesPerHour = decimal.NewFromInt(60)

// Tolerances for comparing recomputed aggregates against stored values.
// Stored documents predate the decimal representation and carry
// floating-point residue, so exact comparison would produce false
// mismatches.
var (
	HoursTolerance   = decimal.NewFromFloat(0.01)
	MinutesTolerance = decimal.NewFromFloat(0.1)
)

// HoursFromMinutes converts worked minutes into decimal hours.
func HoursFromMinutes(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(minutesPerHour)
}

// MinutesFromHours derives a minutes field from an hours field, rounded to
// the nearest whole minute. Every minutes aggregate in the tree is defined
// as this function of its hours counterpart.
func MinutesFromHours(hours decimal.Decimal) decimal.Decimal {
	return hours.Mul(minutesPerHour).Round(0)
}

// WithinHoursTolerance reports whether two hour values agree within the
// reconciliation tolerance.
func WithinHoursTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(HoursTolerance)
}

// WithinMinutesTolerance reports whether two minute values agree within the
// reconciliation tolerance.
func WithinMinutesTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MinutesTolerance)
}
