// Package cost implements the two-decimal-place loss/cost arithmetic
// required by the routing table and link measurements. Rounding to two
// decimals after every addition is part of the observable contract
// (it stabilizes the floating point accumulation the original
// implementation did with Python's round(x, 2)); this package makes
// that rounding a property of the type instead of a scattered call at
// every addition site.
package cost

import "github.com/shopspring/decimal"

// Loss is a non-negative cost, rounded to two decimal places.
type Loss struct {
	d decimal.Decimal
}

// Zero is the cost of a self-route or a not-yet-measured direct link.
var Zero = Loss{d: decimal.Zero}

// FromFloat builds a Loss from a float64, e.g. a CLI-supplied initial
// loss rate, rounding immediately to two decimal places.
func FromFloat(f float64) Loss {
	return Loss{d: decimal.NewFromFloat(f).Round(2)}
}

// Add returns l + other, rounded to two decimal places.
func (l Loss) Add(other Loss) Loss {
	return Loss{d: l.d.Add(other.d).Round(2)}
}

// Less reports whether l < other, used for the DV engine's strict
// tie-break (incumbent wins on equal cost).
func (l Loss) Less(other Loss) bool {
	return l.d.LessThan(other.d)
}

// Equal reports whether l and other carry the same rounded value.
func (l Loss) Equal(other Loss) bool {
	return l.d.Equal(other.d)
}

// Float64 returns the cost as a float64 for JSON wire encoding.
func (l Loss) Float64() float64 {
	f, _ := l.d.Float64()
	return f
}

// String renders the cost the way the routing table print contract
// expects it, e.g. "0.09".
func (l Loss) String() string {
	return l.d.StringFixed(2)
}

// MarshalJSON renders the cost as a bare JSON number.
func (l Loss) MarshalJSON() ([]byte, error) {
	return []byte(l.d.StringFixed(2)), nil
}

// UnmarshalJSON parses a bare JSON number into a rounded Loss.
func (l *Loss) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	l.d = d.Round(2)
	return nil
}
