// Package fixedpoint provides checked integer arithmetic for the 18-decimal
// fixed-point unit used by every ledger quantity. All operations detect
// overflow, underflow and division by zero and fail with ErrArithmeticFault
// instead of wrapping or truncating.
package fixedpoint

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
)

// ErrArithmeticFault is returned on overflow, underflow or division by zero.
// It is always fatal to the attempted operation.
var ErrArithmeticFault = errors.New("arithmetic fault")

// Decimals is the number of fractional digits in one unit.
const Decimals = 18

var (
	// unitScale is 10^18, the raw value of 1.0.
	unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	// maxRaw caps amounts at 2^256-1. Reserves and balances far below the cap
	// keep MulDiv intermediates well inside big.Int territory; the cap exists
	// so overflow is a detected fault rather than an unbounded allocation.
	maxRaw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Amount is a non-negative 18-decimal fixed-point quantity. The zero value is
// usable and equals 0.
type Amount struct {
	raw *big.Int
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// Unit returns 1.0 (10^18 raw).
func Unit() Amount {
	return Amount{raw: new(big.Int).Set(unitScale)}
}

// FromUnits returns u whole units, i.e. u * 10^18 raw.
func FromUnits(u uint64) Amount {
	return Amount{raw: new(big.Int).Mul(new(big.Int).SetUint64(u), unitScale)}
}

// FromRawUint64 returns an amount from a raw (already scaled) uint64.
func FromRawUint64(u uint64) Amount {
	return Amount{raw: new(big.Int).SetUint64(u)}
}

// FromBigInt validates a raw big.Int as an amount. The input is copied.
func FromBigInt(raw *big.Int) (Amount, error) {
	if raw == nil {
		return Amount{}, fmt.Errorf("%w: nil value", ErrArithmeticFault)
	}
	if raw.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative value", ErrArithmeticFault)
	}
	if raw.Cmp(maxRaw) > 0 {
		return Amount{}, fmt.Errorf("%w: value exceeds maximum", ErrArithmeticFault)
	}
	return Amount{raw: new(big.Int).Set(raw)}, nil
}

// Parse parses a raw decimal integer string (18-decimal scaled).
func Parse(s string) (Amount, error) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: invalid amount %q", ErrArithmeticFault, s)
	}
	return FromBigInt(raw)
}

// MustParse parses a raw decimal string and panics on failure. Fixture helper.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// BigInt returns a copy of the raw value.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.big())
}

func (a Amount) big() *big.Int {
	if a.raw == nil {
		return big.NewInt(0)
	}
	return a.raw
}

// Add returns a+b, failing if the result would exceed the maximum.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.big(), b.big())
	if sum.Cmp(maxRaw) > 0 {
		return Amount{}, fmt.Errorf("%w: addition overflow", ErrArithmeticFault)
	}
	return Amount{raw: sum}, nil
}

// Sub returns a-b, failing on underflow. Amounts are never negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.big().Cmp(b.big()) < 0 {
		return Amount{}, fmt.Errorf("%w: subtraction underflow", ErrArithmeticFault)
	}
	return Amount{raw: new(big.Int).Sub(a.big(), b.big())}, nil
}

// MulDiv returns a*b/c with a full-width intermediate, so the product never
// overflows before the division. Rounds toward zero.
func (a Amount) MulDiv(b, c Amount) (Amount, error) {
	if c.big().Sign() == 0 {
		return Amount{}, fmt.Errorf("%w: division by zero", ErrArithmeticFault)
	}
	out := new(big.Int).Mul(a.big(), b.big())
	out.Quo(out, c.big())
	if out.Cmp(maxRaw) > 0 {
		return Amount{}, fmt.Errorf("%w: muldiv overflow", ErrArithmeticFault)
	}
	return Amount{raw: out}, nil
}

// MulUnit returns a*b scaled back down by one unit: the product of two
// fixed-point values.
func (a Amount) MulUnit(b Amount) (Amount, error) {
	return a.MulDiv(b, Unit())
}

// DivUnit returns a/b as a fixed-point value (a scaled up by one unit first).
func (a Amount) DivUnit(b Amount) (Amount, error) {
	return a.MulDiv(Unit(), b)
}

// Half returns a/2, rounding down.
func (a Amount) Half() Amount {
	return Amount{raw: new(big.Int).Rsh(a.big(), 1)}
}

// Cmp compares a and b: -1 if a<b, 0 if equal, 1 if a>b.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool {
	return a.Cmp(b) < 0
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a.big().Sign() == 0
}

// String returns the raw decimal representation.
func (a Amount) String() string {
	return a.big().String()
}

// Decimal returns the human-readable unit representation, trailing zeros
// trimmed, e.g. "1.25" for 1.25 units.
func (a Amount) Decimal() string {
	whole, frac := new(big.Int).QuoRem(a.big(), unitScale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := fmt.Sprintf("%018s", frac.String())
	for len(digits) > 1 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
	}
	return whole.String() + "." + digits
}

// MarshalJSON encodes the amount as a raw decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a raw decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
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

// Value implements driver.Valuer so amounts persist as decimal strings.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("%w: negative value", ErrArithmeticFault)
		}
		*a = Amount{raw: big.NewInt(v)}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}

// GormDataType stores amounts as text columns.
func (Amount) GormDataType() string {
	return "text"
}
