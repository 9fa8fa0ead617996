package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/config"
	"github.com/saiboyizhan/flip-predict-sub005/internal/database"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/market"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

func newFixture(t *testing.T) (*Service, *market.Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	locks := market.NewLocks()
	markets := market.NewService(db, locks, config.Default().Engine)
	svc := NewService(db, locks)

	for _, who := range []string{"creator", "holder"} {
		require.NoError(t, accounts.Credit(db, who, fixedpoint.FromUnits(1_000)))
	}
	return svc, markets, db
}

func activeMarket(t *testing.T, markets *market.Service) *types.Market {
	t.Helper()
	m, err := markets.CreateMarket("creator", "position test market",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(100))
	require.NoError(t, err)
	return m
}

func TestSplitMintsCompleteSet(t *testing.T) {
	svc, markets, db := newFixture(t)
	m := activeMarket(t, markets)

	pos, err := svc.SplitPosition(m.ID, "holder", fixedpoint.FromUnits(40))
	require.NoError(t, err)
	assert.True(t, pos.YesAmount.Equal(fixedpoint.FromUnits(40)))
	assert.True(t, pos.NoAmount.Equal(fixedpoint.FromUnits(40)))

	account, err := accounts.Get(db, "holder")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.FromUnits(960)))

	// The deposit backs the set inside the pool's collateral.
	pool, err := markets.GetPool(m.ID)
	require.NoError(t, err)
	assert.True(t, pool.Collateral.Equal(fixedpoint.FromUnits(140)))
}

func TestSplitThenMergeReturnsExactly(t *testing.T) {
	svc, markets, db := newFixture(t)
	m := activeMarket(t, markets)

	// An awkward odd raw value: the round trip must still be exact.
	c := fixedpoint.MustParse("12.345678901234567891")
	_, err := svc.SplitPosition(m.ID, "holder", c)
	require.NoError(t, err)
	pos, err := svc.MergePositions(m.ID, "holder", c)
	require.NoError(t, err)

	assert.True(t, pos.YesAmount.IsZero())
	assert.True(t, pos.NoAmount.IsZero())

	account, err := accounts.Get(db, "holder")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.FromUnits(1_000)))

	pool, err := markets.GetPool(m.ID)
	require.NoError(t, err)
	assert.True(t, pool.Collateral.Equal(fixedpoint.FromUnits(100)))
}

func TestMergeRequiresBothLegs(t *testing.T) {
	svc, markets, _ := newFixture(t)
	m := activeMarket(t, markets)

	_, err := svc.SplitPosition(m.ID, "holder", fixedpoint.FromUnits(10))
	require.NoError(t, err)

	_, err = svc.MergePositions(m.ID, "holder", fixedpoint.FromUnits(11))
	assert.ErrorIs(t, err, types.ErrInsufficientPosition)
}

func TestSplitRequiresBalance(t *testing.T) {
	svc, markets, _ := newFixture(t)
	m := activeMarket(t, markets)

	_, err := svc.SplitPosition(m.ID, "holder", fixedpoint.FromUnits(5_000))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestSplitMergeRejectedOnSettledMarket(t *testing.T) {
	svc, markets, _ := newFixture(t)
	m := activeMarket(t, markets)
	_, err := markets.Resolve(m.ID, types.SideYes, "oracle")
	require.NoError(t, err)

	_, err = svc.SplitPosition(m.ID, "holder", fixedpoint.FromUnits(1))
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
	_, err = svc.MergePositions(m.ID, "holder", fixedpoint.FromUnits(1))
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestGetPositionUnknownHolder(t *testing.T) {
	svc, markets, _ := newFixture(t)
	m := activeMarket(t, markets)

	pos, err := svc.GetPosition(m.ID, "stranger")
	require.NoError(t, err)
	assert.True(t, pos.YesAmount.IsZero())
	assert.True(t, pos.NoAmount.IsZero())
}

func TestDebitHelperUnderflow(t *testing.T) {
	_, markets, db := newFixture(t)
	m := activeMarket(t, markets)

	require.NoError(t, Credit(db, m.ID, "holder", types.SideYes, fixedpoint.FromUnits(3)))
	err := Debit(db, m.ID, "holder", types.SideYes, fixedpoint.FromUnits(4))
	assert.ErrorIs(t, err, types.ErrInsufficientPosition)

	// The NO leg is untouched by YES operations.
	err = Debit(db, m.ID, "holder", types.SideNo, fixedpoint.FromUnits(1))
	assert.ErrorIs(t, err, types.ErrInsufficientPosition)
}
