// Package features turns hourly candles into the feature rows the
// prediction models consume.
package features

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is one optional cell. An invalid Value is "undefined", never zero.
type Value struct {
	Float float64
	Valid bool
}

func Some(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{Float: f, Valid: true}
}

func Bool(b bool) Value {
	if b {
		return Value{Float: 1, Valid: true}
	}
	return Value{Float: 0, Valid: true}
}

func (v Value) String() string {
	if !v.Valid {
		return "NaN"
	}
	return strconv.FormatFloat(v.Float, 'g', -1, 64)
}

// MarshalJSON writes undefined cells as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}
