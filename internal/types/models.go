package types

import (
	"time"

	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
)

// Market states.
const (
	MarketActive    = "ACTIVE"
	MarketResolved  = "RESOLVED"
	MarketCancelled = "CANCELLED"
)

// Outcome token sides.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Order directions.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Order statuses.
const (
	OrderOpen            = "OPEN"
	OrderPartiallyFilled = "PARTIALLY_FILLED"
	OrderFilled          = "FILLED"
	OrderCancelled       = "CANCELLED"
)

// Settlement record kinds.
const (
	SettlementWinnings     = "WINNINGS"
	SettlementLpClaim      = "LP_CLAIM"
	SettlementLpRefund     = "LP_REFUND"
	SettlementTraderRefund = "TRADER_REFUND"
)

// Market is a binary-outcome prediction market. IDs are monotonic. The
// engine parameters in force when the market was created are frozen onto the
// row so later configuration changes never alter a live market.
type Market struct {
	ID        uint           `gorm:"primarykey" json:"market_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title       string            `json:"title"`
	Creator     string            `gorm:"index" json:"creator"`
	EndTime     time.Time         `json:"end_time"`
	State       string            `gorm:"index" json:"state"`
	Outcome     string            `json:"outcome,omitempty"`
	CreationFee fixedpoint.Amount `json:"creation_fee"`
	FeeBps      int64             `json:"fee_bps"`
	MinReserve  fixedpoint.Amount `json:"min_reserve"`

	// Settlement snapshots, written once when the market leaves ACTIVE and
	// drained as holders claim.
	WinningOutstanding fixedpoint.Amount `json:"-"`
	RefundOutstanding  fixedpoint.Amount `json:"-"`
	SettledAt          *time.Time        `json:"settled_at,omitempty"`
}

// AmmPool is the constant-product pool backing a market. Exactly one per
// market, created atomically with it. FeeSurplus is the slice of Collateral
// that accrued from trading fees rather than from minting complete sets; it
// is the only collateral a live withdrawal may pay out beyond burned sets,
// which keeps Collateral covering every outstanding token at all times.
type AmmPool struct {
	gorm.Model    `json:"-"`
	MarketID      uint              `gorm:"uniqueIndex" json:"market_id"`
	YesReserve    fixedpoint.Amount `json:"yes_reserve"`
	NoReserve     fixedpoint.Amount `json:"no_reserve"`
	Collateral    fixedpoint.Amount `json:"collateral"`
	FeeSurplus    fixedpoint.Amount `json:"fee_surplus"`
	TotalLpShares fixedpoint.Amount `json:"total_lp_shares"`
}

// LpPosition is a provider's ownership share of a pool.
type LpPosition struct {
	gorm.Model `json:"-"`
	MarketID   uint              `gorm:"uniqueIndex:idx_lp_market_provider" json:"market_id"`
	Provider   string            `gorm:"uniqueIndex:idx_lp_market_provider" json:"provider"`
	Shares     fixedpoint.Amount `json:"shares"`
}

// Position is a holder's outcome-token balances for a market.
type Position struct {
	gorm.Model `json:"-"`
	MarketID   uint              `gorm:"uniqueIndex:idx_pos_market_holder" json:"market_id"`
	Holder     string            `gorm:"uniqueIndex:idx_pos_market_holder" json:"holder"`
	YesAmount  fixedpoint.Amount `json:"yes_amount"`
	NoAmount   fixedpoint.Amount `json:"no_amount"`
}

// Order is a resident limit order on outcome-token price. Price is a
// probability in (0,1), fixed-point. EscrowRemaining tracks the collateral
// (BUY) or tokens (SELL) still locked for the unfilled remainder.
type Order struct {
	gorm.Model      `json:"-"`
	OrderID         string            `gorm:"uniqueIndex" json:"order_id"`
	MarketID        uint              `gorm:"index" json:"market_id"`
	Trader          string            `gorm:"index" json:"trader"`
	Side            string            `json:"side"`
	Direction       string            `json:"direction"`
	Price           fixedpoint.Amount `json:"price"`
	Size            fixedpoint.Amount `json:"size"`
	Filled          fixedpoint.Amount `json:"filled"`
	EscrowRemaining fixedpoint.Amount `json:"-"`
	Status          string            `gorm:"index" json:"status"`
}

// Fill records one match between two resident orders.
type Fill struct {
	gorm.Model   `json:"-"`
	FillID       string            `gorm:"uniqueIndex" json:"fill_id"`
	MarketID     uint              `gorm:"index" json:"market_id"`
	Side         string            `json:"side"`
	TakerOrderID string            `json:"taker_order_id"`
	MakerOrderID string            `json:"maker_order_id"`
	Price        fixedpoint.Amount `json:"price"`
	Quantity     fixedpoint.Amount `json:"quantity"`
	Buyer        string            `json:"buyer"`
	Seller       string            `json:"seller"`
}

// SettlementRecord is the at-most-once payout guard: the unique index over
// (market, holder, kind) makes a second claim observable as AlreadyClaimed.
type SettlementRecord struct {
	gorm.Model `json:"-"`
	MarketID   uint              `gorm:"uniqueIndex:idx_settle_market_holder_kind" json:"market_id"`
	Holder     string            `gorm:"uniqueIndex:idx_settle_market_holder_kind" json:"holder"`
	Kind       string            `gorm:"uniqueIndex:idx_settle_market_holder_kind" json:"kind"`
	Amount     fixedpoint.Amount `json:"amount"`
	ClaimedAt  time.Time         `json:"claimed_at"`
}

// Account holds a user's collateral balance. Every cash leg of every
// operation debits or credits this table inside the operation's transaction.
type Account struct {
	gorm.Model `json:"-"`
	Address    string            `gorm:"uniqueIndex" json:"address"`
	Balance    fixedpoint.Amount `json:"balance"`
}

// Event is one entry of the durable, ordered per-market event log. Seq is
// monotonic within a market, so downstream replays are idempotent.
type Event struct {
	gorm.Model `json:"-"`
	MarketID   uint   `gorm:"uniqueIndex:idx_event_market_seq" json:"market_id"`
	Seq        uint64 `gorm:"uniqueIndex:idx_event_market_seq" json:"seq"`
	Type       string `gorm:"index" json:"type"`
	Payload    string `json:"payload"`
}

// RevenueCredit is the idempotent revenue-share ledger: one credit per trade
// id, enforced by the unique index.
type RevenueCredit struct {
	gorm.Model  `json:"-"`
	TradeID     string            `gorm:"uniqueIndex" json:"trade_id"`
	Beneficiary string            `gorm:"index" json:"beneficiary"`
	Fee         fixedpoint.Amount `json:"fee"`
	Share       fixedpoint.Amount `json:"share"`
}
