// Package points provides exact decimal arithmetic for point balances and
// the aggregation rules that fold event contributions into them.
//
// Balances are compared for exact equality during consistency checks, so
// all arithmetic runs on decimals, never binary floating point.
package points

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// decCtx is the shared arithmetic context: 34 significant digits,
// round-half-even.
var decCtx = apd.BaseContext.WithPrecision(34) //nolint:gochecknoglobals // shared immutable context

// Amount is an exact decimal quantity of points. The zero value is 0.
type Amount struct {
	d *apd.Decimal
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// Parse converts a decimal string such as "10", "-3.5" or "0.01".
func Parse(s string) (Amount, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for statically known literals; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt64 converts an integer point count.
func FromInt64(v int64) Amount {
	return Amount{d: apd.New(v, 0)}
}

var zeroDec = apd.New(0, 0) //nolint:gochecknoglobals // read-only zero

func (a Amount) dec() *apd.Decimal {
	if a.d == nil {
		return zeroDec
	}
	return a.d
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	res := new(apd.Decimal)
	if _, err := decCtx.Add(res, a.dec(), b.dec()); err != nil {
		return Amount{}, fmt.Errorf("add: %w", err)
	}
	return Amount{d: res}, nil
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) (Amount, error) {
	res := new(apd.Decimal)
	if _, err := decCtx.Sub(res, a.dec(), b.dec()); err != nil {
		return Amount{}, fmt.Errorf("sub: %w", err)
	}
	return Amount{d: res}, nil
}

// Mul returns a * b.
func (a Amount) Mul(b Amount) (Amount, error) {
	res := new(apd.Decimal)
	if _, err := decCtx.Mul(res, a.dec(), b.dec()); err != nil {
		return Amount{}, fmt.Errorf("mul: %w", err)
	}
	return Amount{d: res}, nil
}

// Cmp returns -1, 0 or +1 comparing numeric values exactly.
func (a Amount) Cmp(b Amount) int {
	return a.dec().Cmp(b.dec())
}

// Equal reports exact numeric equality.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// IsZero reports whether the amount equals zero.
func (a Amount) IsZero() bool { return a.dec().IsZero() }

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int { return a.dec().Sign() }

// String renders the amount in plain (non-scientific) notation.
func (a Amount) String() string { return a.dec().Text('f') }

// MarshalJSON encodes the amount as a JSON string to keep it exact.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare number literal.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
