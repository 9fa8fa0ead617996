package fixedpoint

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOverflow(t *testing.T) {
	max, err := FromBigInt(new(big.Int).Set(maxRaw))
	require.NoError(t, err)

	_, err = max.Add(Unit())
	assert.ErrorIs(t, err, ErrArithmeticFault)

	// At the cap itself addition of zero still works.
	same, err := max.Add(Zero())
	require.NoError(t, err)
	assert.True(t, same.Equal(max))
}

func TestSubUnderflow(t *testing.T) {
	_, err := FromUnits(1).Sub(FromUnits(2))
	assert.ErrorIs(t, err, ErrArithmeticFault)

	diff, err := FromUnits(2).Sub(FromUnits(1))
	require.NoError(t, err)
	assert.True(t, diff.Equal(Unit()))
}

func TestMulDiv(t *testing.T) {
	// 3 * 5 / 2 = 7.5
	got, err := FromUnits(3).MulDiv(FromUnits(5), FromUnits(2))
	require.NoError(t, err)
	assert.Equal(t, "7.5", got.Decimal())

	// Rounds toward zero.
	got, err = FromRawUint64(7).MulDiv(FromRawUint64(1), FromRawUint64(2))
	require.NoError(t, err)
	assert.Equal(t, "3", got.String())

	_, err = FromUnits(1).MulDiv(FromUnits(1), Zero())
	assert.ErrorIs(t, err, ErrArithmeticFault)
}

func TestMulDivFullWidthIntermediate(t *testing.T) {
	// a*b far exceeds the cap, but a*b/c does not.
	huge, err := FromBigInt(new(big.Int).Rsh(maxRaw, 1))
	require.NoError(t, err)

	got, err := huge.MulDiv(FromUnits(4), FromUnits(4))
	require.NoError(t, err)
	assert.True(t, got.Equal(huge))
}

func TestParse(t *testing.T) {
	a, err := Parse("1500000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1.5", a.Decimal())

	_, err = Parse("-5")
	assert.ErrorIs(t, err, ErrArithmeticFault)

	_, err = Parse("not a number")
	assert.ErrorIs(t, err, ErrArithmeticFault)
}

func TestHalf(t *testing.T) {
	assert.Equal(t, "0.5", FromUnits(1).Half().Decimal())
	// Floors on odd raw values.
	assert.Equal(t, "1", FromRawUint64(3).Half().String())
}

func TestZeroValueUsable(t *testing.T) {
	var a Amount
	assert.True(t, a.IsZero())
	sum, err := a.Add(Unit())
	require.NoError(t, err)
	assert.True(t, sum.Equal(Unit()))
}

func TestJSONRoundTrip(t *testing.T) {
	in := FromUnits(42)
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `"42000000000000000000"`, string(data))

	var out Amount
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Equal(in))
}

func TestSQLValueScan(t *testing.T) {
	v, err := FromUnits(7).Value()
	require.NoError(t, err)
	assert.Equal(t, "7000000000000000000", v)

	var a Amount
	require.NoError(t, a.Scan("7000000000000000000"))
	assert.True(t, a.Equal(FromUnits(7)))

	require.NoError(t, a.Scan(nil))
	assert.True(t, a.IsZero())
}

func TestDecimal(t *testing.T) {
	assert.Equal(t, "0", Zero().Decimal())
	assert.Equal(t, "0.000000000000000001", FromRawUint64(1).Decimal())
	assert.Equal(t, "1.25", MustParse("1250000000000000000").Decimal())
}
