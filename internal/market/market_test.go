package market

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
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	svc := NewService(db, NewLocks(), config.Default().Engine)
	require.NoError(t, accounts.Credit(db, "creator", fixedpoint.FromUnits(10_000)))
	return svc, db
}

func createMarket(t *testing.T, svc *Service, units uint64) *types.Market {
	t.Helper()
	m, err := svc.CreateMarket("creator", "test market",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(units))
	require.NoError(t, err)
	return m
}

func TestCreateMarketSeedsPool(t *testing.T) {
	svc, db := newTestService(t)
	initial := fixedpoint.FromUnits(100)

	m := createMarket(t, svc, 100)
	assert.Equal(t, types.MarketActive, m.State)

	pool, err := svc.GetPool(m.ID)
	require.NoError(t, err)
	assert.True(t, pool.YesReserve.Equal(initial))
	assert.True(t, pool.NoReserve.Equal(initial))
	assert.True(t, pool.Collateral.Equal(initial))
	assert.True(t, pool.TotalLpShares.Equal(initial))

	var lp types.LpPosition
	require.NoError(t, db.Where("market_id = ? AND provider = ?", m.ID, "creator").First(&lp).Error)
	assert.True(t, lp.Shares.Equal(initial))

	account, err := accounts.Get(db, "creator")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.FromUnits(9_900)))
}

func TestCreateMarketValidation(t *testing.T) {
	svc, _ := newTestService(t)

	// Below the minimum initial liquidity.
	_, err := svc.CreateMarket("creator", "thin market",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(1))
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)

	// Expiry inside the minimum window.
	_, err = svc.CreateMarket("creator", "short market",
		time.Now().Add(10*time.Minute), fixedpoint.FromUnits(100))
	assert.ErrorIs(t, err, types.ErrCreationLimit)
}

func TestCreationCapPerDay(t *testing.T) {
	svc, _ := newTestService(t)
	limit := config.Default().Engine.CreationCapPerDay

	for i := 0; i < limit; i++ {
		createMarket(t, svc, 10)
	}
	_, err := svc.CreateMarket("creator", "one too many",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(10))
	assert.ErrorIs(t, err, types.ErrCreationLimit)
}

func TestCreateMarketInsufficientBalance(t *testing.T) {
	svc, db := newTestService(t)
	require.NoError(t, accounts.Credit(db, "pauper", fixedpoint.FromUnits(5)))

	_, err := svc.CreateMarket("pauper", "unfunded market",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(100))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestResolveIsTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMarket(t, svc, 100)

	resolved, err := svc.Resolve(m.ID, types.SideYes, "oracle")
	require.NoError(t, err)
	assert.Equal(t, types.MarketResolved, resolved.State)
	assert.Equal(t, types.SideYes, resolved.Outcome)
	assert.NotNil(t, resolved.SettledAt)

	// Terminal states admit no further transitions.
	_, err = svc.Resolve(m.ID, types.SideNo, "oracle")
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
	_, err = svc.Cancel(m.ID, "oracle")
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)
}

func TestResolveRejectsBadOutcome(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMarket(t, svc, 100)

	_, err := svc.Resolve(m.ID, "MAYBE", "oracle")
	assert.ErrorIs(t, err, types.ErrInvalidStateTransition)

	got, err := svc.GetMarket(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MarketActive, got.State)
}

func TestResolveSnapshotsWinningOutstanding(t *testing.T) {
	svc, db := newTestService(t)
	m := createMarket(t, svc, 100)

	require.NoError(t, db.Create(&types.Position{
		MarketID:  m.ID,
		Holder:    "winner",
		YesAmount: fixedpoint.FromUnits(30),
		NoAmount:  fixedpoint.FromUnits(5),
	}).Error)
	require.NoError(t, db.Create(&types.Position{
		MarketID:  m.ID,
		Holder:    "loser",
		YesAmount: fixedpoint.FromUnits(7),
		NoAmount:  fixedpoint.FromUnits(40),
	}).Error)

	resolved, err := svc.Resolve(m.ID, types.SideYes, "oracle")
	require.NoError(t, err)
	assert.True(t, resolved.WinningOutstanding.Equal(fixedpoint.FromUnits(37)))
}

func TestCancelSnapshotsRefundOutstanding(t *testing.T) {
	svc, db := newTestService(t)
	m := createMarket(t, svc, 100)

	require.NoError(t, db.Create(&types.Position{
		MarketID:  m.ID,
		Holder:    "trader",
		YesAmount: fixedpoint.FromUnits(10),
		NoAmount:  fixedpoint.FromUnits(4),
	}).Error)

	cancelled, err := svc.Cancel(m.ID, "oracle")
	require.NoError(t, err)
	// Half a unit per token, both sides alike.
	assert.True(t, cancelled.RefundOutstanding.Equal(fixedpoint.FromUnits(7)))
}

func TestSettleForceReleasesOpenOrders(t *testing.T) {
	svc, db := newTestService(t)
	m := createMarket(t, svc, 100)

	// A resting bid with cash escrow and a resting ask with token escrow.
	require.NoError(t, db.Create(&types.Order{
		OrderID:         "bid-1",
		MarketID:        m.ID,
		Trader:          "buyer",
		Side:            types.SideYes,
		Direction:       types.DirectionBuy,
		Price:           fixedpoint.MustParse("600000000000000000"),
		Size:            fixedpoint.FromUnits(10),
		Filled:          fixedpoint.Zero(),
		EscrowRemaining: fixedpoint.FromUnits(6),
		Status:          types.OrderOpen,
	}).Error)
	require.NoError(t, db.Create(&types.Order{
		OrderID:         "ask-1",
		MarketID:        m.ID,
		Trader:          "seller",
		Side:            types.SideYes,
		Direction:       types.DirectionSell,
		Price:           fixedpoint.MustParse("700000000000000000"),
		Size:            fixedpoint.FromUnits(8),
		Filled:          fixedpoint.Zero(),
		EscrowRemaining: fixedpoint.FromUnits(8),
		Status:          types.OrderOpen,
	}).Error)

	_, err := svc.Cancel(m.ID, "oracle")
	require.NoError(t, err)

	account, err := accounts.Get(db, "buyer")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.FromUnits(6)))

	var pos types.Position
	require.NoError(t, db.Where("market_id = ? AND holder = ?", m.ID, "seller").First(&pos).Error)
	assert.True(t, pos.YesAmount.Equal(fixedpoint.FromUnits(8)))

	var orders []types.Order
	require.NoError(t, db.Where("market_id = ?", m.ID).Find(&orders).Error)
	for _, o := range orders {
		assert.Equal(t, types.OrderCancelled, o.Status)
		assert.True(t, o.EscrowRemaining.IsZero())
	}
}

func TestSettleReleasedEscrowInRefundSnapshot(t *testing.T) {
	svc, db := newTestService(t)
	m := createMarket(t, svc, 100)

	// Token escrow released by the cancel must be counted by the refund
	// snapshot taken in the same transaction.
	require.NoError(t, db.Create(&types.Order{
		OrderID:         "ask-2",
		MarketID:        m.ID,
		Trader:          "seller",
		Side:            types.SideNo,
		Direction:       types.DirectionSell,
		Price:           fixedpoint.MustParse("500000000000000000"),
		Size:            fixedpoint.FromUnits(12),
		Filled:          fixedpoint.Zero(),
		EscrowRemaining: fixedpoint.FromUnits(12),
		Status:          types.OrderOpen,
	}).Error)

	cancelled, err := svc.Cancel(m.ID, "oracle")
	require.NoError(t, err)
	assert.True(t, cancelled.RefundOutstanding.Equal(fixedpoint.FromUnits(6)))
}

func TestListMarketsFiltersByState(t *testing.T) {
	svc, _ := newTestService(t)
	m1 := createMarket(t, svc, 10)
	createMarket(t, svc, 10)

	_, err := svc.Resolve(m1.ID, types.SideNo, "oracle")
	require.NoError(t, err)

	active, err := svc.ListMarkets(types.MarketActive)
	require.NoError(t, err)
	require.Len(t, active, 1)

	all, err := svc.ListMarkets("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
