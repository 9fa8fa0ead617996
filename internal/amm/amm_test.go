package amm

import (
	"math/big"
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

type fixture struct {
	db      *gorm.DB
	amm     *Service
	markets *market.Service
}

func newFixture(t *testing.T, cfg config.EngineConfig) *fixture {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	locks := market.NewLocks()
	f := &fixture{
		db:      db,
		amm:     NewService(db, locks),
		markets: market.NewService(db, locks, cfg),
	}
	for _, who := range []string{"creator", "trader"} {
		require.NoError(t, accounts.Credit(db, who, fixedpoint.FromUnits(10_000)))
	}
	return f
}

func defaultEngine() config.EngineConfig {
	return config.Default().Engine
}

func (f *fixture) market(t *testing.T, units uint64) *types.Market {
	t.Helper()
	m, err := f.markets.CreateMarket("creator", "amm test market",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(units))
	require.NoError(t, err)
	return m
}

func (f *fixture) pool(t *testing.T, marketID uint) *types.AmmPool {
	t.Helper()
	pool, err := f.markets.GetPool(marketID)
	require.NoError(t, err)
	return pool
}

func product(pool *types.AmmPool) *big.Int {
	return new(big.Int).Mul(pool.YesReserve.BigInt(), pool.NoReserve.BigInt())
}

func balance(t *testing.T, db *gorm.DB, who string) fixedpoint.Amount {
	t.Helper()
	account, err := accounts.Get(db, who)
	require.NoError(t, err)
	return account.Balance
}

func TestBuyMovesPriceAndLedger(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)
	before := f.pool(t, m.ID)

	in := fixedpoint.FromUnits(30)
	result, err := f.amm.Buy(m.ID, "trader", types.SideYes, in, fixedpoint.Zero())
	require.NoError(t, err)

	// 2% of 30.
	assert.True(t, result.Fee.Equal(fixedpoint.MustParse("600000000000000000")))
	// A buy on a balanced pool yields more tokens than the net spend.
	net, err := in.Sub(result.Fee)
	require.NoError(t, err)
	assert.True(t, net.LessThan(result.TokensOut))

	after := f.pool(t, m.ID)
	assert.True(t, product(before).Cmp(product(after)) <= 0, "reserve product must not decrease")
	assert.True(t, after.YesReserve.LessThan(before.YesReserve))
	assert.True(t, before.NoReserve.LessThan(after.NoReserve))

	wantCollateral, err := before.Collateral.Add(in)
	require.NoError(t, err)
	assert.True(t, after.Collateral.Equal(wantCollateral))

	assert.True(t, balance(t, f.db, "trader").Equal(fixedpoint.FromUnits(9_970)))

	var pos types.Position
	require.NoError(t, f.db.Where("market_id = ? AND holder = ?", m.ID, "trader").First(&pos).Error)
	assert.True(t, pos.YesAmount.Equal(result.TokensOut))
	assert.True(t, pos.NoAmount.IsZero())
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)

	_, err := f.amm.Buy(m.ID, "trader", types.SideYes, fixedpoint.Zero(), fixedpoint.Zero())
	assert.ErrorIs(t, err, types.ErrZeroLiquidity)

	_, err = f.amm.Buy(m.ID, "trader", "MAYBE", fixedpoint.FromUnits(1), fixedpoint.Zero())
	assert.ErrorIs(t, err, types.ErrInvalidOrder)
}

func TestBuySlippageLeavesPoolUntouched(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)
	before := f.pool(t, m.ID)

	_, err := f.amm.Buy(m.ID, "trader", types.SideYes,
		fixedpoint.FromUnits(10), fixedpoint.FromUnits(1_000))
	assert.ErrorIs(t, err, types.ErrSlippageExceeded)

	after := f.pool(t, m.ID)
	assert.True(t, after.YesReserve.Equal(before.YesReserve))
	assert.True(t, after.NoReserve.Equal(before.NoReserve))
	assert.True(t, after.Collateral.Equal(before.Collateral))
	assert.True(t, balance(t, f.db, "trader").Equal(fixedpoint.FromUnits(10_000)))
}

func TestBuyRespectsReserveFloor(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 10)

	// Large enough to push the YES reserve under one unit.
	_, err := f.amm.Buy(m.ID, "trader", types.SideYes,
		fixedpoint.FromUnits(500), fixedpoint.Zero())
	assert.ErrorIs(t, err, types.ErrReserveDepleted)
}

func TestSellReturnsCollateral(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)

	buy, err := f.amm.Buy(m.ID, "trader", types.SideYes, fixedpoint.FromUnits(30), fixedpoint.Zero())
	require.NoError(t, err)
	mid := f.pool(t, m.ID)

	sell, err := f.amm.Sell(m.ID, "trader", types.SideYes, buy.TokensOut, fixedpoint.Zero())
	require.NoError(t, err)

	// Fees on both legs make the round trip strictly lossy.
	assert.True(t, sell.CollateralOut.LessThan(buy.CollateralIn))

	after := f.pool(t, m.ID)
	assert.True(t, product(mid).Cmp(product(after)) <= 0, "reserve product must not decrease")

	var pos types.Position
	require.NoError(t, f.db.Where("market_id = ? AND holder = ?", m.ID, "trader").First(&pos).Error)
	assert.True(t, pos.YesAmount.IsZero())
}

func TestSellRequiresPosition(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)

	_, err := f.amm.Sell(m.ID, "trader", types.SideYes, fixedpoint.FromUnits(5), fixedpoint.Zero())
	assert.ErrorIs(t, err, types.ErrInsufficientPosition)
}

func TestSellSlippage(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)

	buy, err := f.amm.Buy(m.ID, "trader", types.SideYes, fixedpoint.FromUnits(10), fixedpoint.Zero())
	require.NoError(t, err)

	_, err = f.amm.Sell(m.ID, "trader", types.SideYes, buy.TokensOut, fixedpoint.FromUnits(1_000))
	assert.ErrorIs(t, err, types.ErrSlippageExceeded)
}

func TestTradeRejectedOnSettledMarket(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 100)
	_, err := f.markets.Resolve(m.ID, types.SideYes, "oracle")
	require.NoError(t, err)

	_, err = f.amm.Buy(m.ID, "trader", types.SideYes, fixedpoint.FromUnits(1), fixedpoint.Zero())
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestBuyMathBalancedPool(t *testing.T) {
	pool := &types.AmmPool{
		YesReserve: fixedpoint.FromUnits(100),
		NoReserve:  fixedpoint.FromUnits(100),
	}

	out, newYes, newNo, err := buyMath(pool, types.SideYes, fixedpoint.FromUnits(25))
	require.NoError(t, err)

	// newNo = 125, newYes = ceil(100*100/125) = 80, out = 100+25-80 = 45.
	assert.True(t, newNo.Equal(fixedpoint.FromUnits(125)))
	assert.True(t, newYes.Equal(fixedpoint.FromUnits(80)))
	assert.True(t, out.Equal(fixedpoint.FromUnits(45)))
}

func TestSellMathInvertsBuy(t *testing.T) {
	pool := &types.AmmPool{
		YesReserve: fixedpoint.FromUnits(80),
		NoReserve:  fixedpoint.FromUnits(125),
	}

	// Selling the 45 tokens bought in TestBuyMathBalancedPool releases
	// 25 sets and restores the 100/100 reserves, modulo rounding down.
	gross, newYes, newNo, err := sellMath(pool, types.SideYes, fixedpoint.FromUnits(45))
	require.NoError(t, err)

	assert.True(t, gross.Equal(fixedpoint.FromUnits(25)))
	assert.True(t, newYes.Equal(fixedpoint.FromUnits(100)))
	assert.True(t, newNo.Equal(fixedpoint.FromUnits(100)))
}

func TestSellMathRejectsDustInput(t *testing.T) {
	pool := &types.AmmPool{
		YesReserve: fixedpoint.FromUnits(100),
		NoReserve:  fixedpoint.FromUnits(100),
	}

	// One raw token releases no complete set after rounding down.
	_, _, _, err := sellMath(pool, types.SideYes, fixedpoint.FromRawUint64(1))
	assert.ErrorIs(t, err, types.ErrReserveDepleted)
}

func TestSellRespectsReserveFloor(t *testing.T) {
	f := newFixture(t, defaultEngine())
	m := f.market(t, 10)

	// Skew the pool so the NO reserve sits just above the floor, then try a
	// YES sell big enough that burning its sets would push NO under it.
	_, err := f.amm.Buy(m.ID, "trader", types.SideNo, fixedpoint.FromUnits(80), fixedpoint.Zero())
	require.NoError(t, err)
	_, err = f.amm.Sell(m.ID, "trader", types.SideYes, fixedpoint.FromUnits(50), fixedpoint.Zero())
	assert.ErrorIs(t, err, types.ErrReserveDepleted)
}
