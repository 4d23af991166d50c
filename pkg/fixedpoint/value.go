package fixedpoint

import (
	"encoding/json"
	"errors"
)

// Placeholder is what an unknown figure renders as
const Placeholder = "…"

// State distinguishes a loaded figure from one that is missing or broken
type State uint8

const (
	// Loading means the inputs are not available yet. It is the zero value.
	Loading State = iota
	// Known means the figure was computed, including a legitimate zero
	Known
	// Failed means the computation itself went wrong, e.g. a zero divisor
	Failed
)

func (s State) String() string {
	switch s {
	case Known:
		return "known"
	case Failed:
		return "failed"
	default:
		return "loading"
	}
}

// Value is an Amount that may be unknown. Arithmetic on values propagates
// the unknown state instead of coercing it to zero.
type Value struct {
	amount Amount
	state  State
	err    error
}

// Unknown returns a value whose inputs have not been loaded
func Unknown() Value {
	return Value{}
}

// Of wraps a known amount
func Of(a Amount) Value {
	return Value{amount: a, state: Known}
}

// Fail returns a value whose computation failed
func Fail(err error) Value {
	if err == nil {
		err = errors.New("unknown computation error")
	}
	return Value{state: Failed, err: err}
}

// FromResult converts an (Amount, error) pair into a value
func FromResult(a Amount, err error) Value {
	if err != nil {
		return Fail(err)
	}
	return Of(a)
}

// State returns the value state
func (v Value) State() State {
	return v.state
}

// IsKnown reports whether the figure can be displayed as a number
func (v Value) IsKnown() bool {
	return v.state == Known
}

// Amount returns the amount and whether it is known
func (v Value) Amount() (Amount, bool) {
	return v.amount, v.state == Known
}

// Err returns the computation error of a failed value
func (v Value) Err() error {
	return v.err
}

// Add returns v+o
func (v Value) Add(o Value) Value {
	return combine(v, o, func(a, b Amount) (Amount, error) { return a.Add(b), nil })
}

// Sub returns v-o
func (v Value) Sub(o Value) Value {
	return combine(v, o, func(a, b Amount) (Amount, error) { return a.Sub(b), nil })
}

// Mul returns v*o
func (v Value) Mul(o Value) Value {
	return combine(v, o, func(a, b Amount) (Amount, error) { return a.Mul(b), nil })
}

// Div returns v/o; a zero divisor yields a failed value
func (v Value) Div(o Value) Value {
	return combine(v, o, Amount.Div)
}

// Max returns the larger of two known values
func (v Value) Max(o Value) Value {
	return combine(v, o, func(a, b Amount) (Amount, error) {
		if a.Cmp(b) >= 0 {
			return a, nil
		}
		return b, nil
	})
}

// Map applies fn to a known value
func (v Value) Map(fn func(Amount) (Amount, error)) Value {
	if v.state != Known {
		return v
	}
	return FromResult(fn(v.amount))
}

// Display formats a known value and renders anything else as Placeholder
func (v Value) Display(displayDecimals int32, withCommas bool) string {
	if v.state != Known {
		return Placeholder
	}
	return v.amount.Format(displayDecimals, withCommas)
}

// MarshalJSON encodes known values as decimal strings and the rest as null
func (v Value) MarshalJSON() ([]byte, error) {
	if v.state != Known {
		return []byte("null"), nil
	}
	return json.Marshal(v.amount.String())
}

func combine(a, b Value, op func(Amount, Amount) (Amount, error)) Value {
	switch {
	case a.state == Failed:
		return a
	case b.state == Failed:
		return b
	case a.state == Loading || b.state == Loading:
		return Unknown()
	}
	return FromResult(op(a.amount, b.amount))
}
