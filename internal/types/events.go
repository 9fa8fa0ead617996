package types

import "github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"

// Event types emitted to the durable log and consumed by off-ledger
// indexers (social feed, leaderboard, revenue-share distributor).
const (
	EventTradeExecuted    = "TradeExecuted"
	EventLiquidityAdded   = "LiquidityAdded"
	EventLiquidityRemoved = "LiquidityRemoved"
	EventMarketResolved   = "MarketResolved"
	EventMarketCancelled  = "MarketCancelled"
	EventWinningsClaimed  = "WinningsClaimed"
	EventLpClaimed        = "LpClaimed"
	EventLpRefunded       = "LpRefunded"
	EventTraderRefunded   = "TraderRefunded"
)

// TradeExecutedPayload covers both AMM trades and order-book fills. For AMM
// trades Venue is "AMM" and TradeID is the trade's uuid; for fills Venue is
// "BOOK" and TradeID is the fill id.
type TradeExecutedPayload struct {
	TradeID      string            `json:"trade_id"`
	Venue        string            `json:"venue"`
	Trader       string            `json:"trader"`
	Counterparty string            `json:"counterparty,omitempty"`
	Side         string            `json:"side"`
	Direction    string            `json:"direction"`
	CollateralIn fixedpoint.Amount `json:"collateral_in"`
	TokensOut    fixedpoint.Amount `json:"tokens_out"`
	Fee          fixedpoint.Amount `json:"fee"`
}

// LiquidityChangedPayload covers LiquidityAdded and LiquidityRemoved.
type LiquidityChangedPayload struct {
	Provider      string            `json:"provider"`
	Collateral    fixedpoint.Amount `json:"collateral"`
	Shares        fixedpoint.Amount `json:"shares"`
	YesOut        fixedpoint.Amount `json:"yes_out,omitempty"`
	NoOut         fixedpoint.Amount `json:"no_out,omitempty"`
	TotalLpShares fixedpoint.Amount `json:"total_lp_shares"`
}

// MarketSettledPayload covers MarketResolved and MarketCancelled.
type MarketSettledPayload struct {
	Outcome         string `json:"outcome,omitempty"`
	Resolver        string `json:"resolver"`
	OrdersCancelled int    `json:"orders_cancelled"`
}

// ClaimPayload covers the four claim/refund event types.
type ClaimPayload struct {
	ClaimID string            `json:"claim_id"`
	Holder  string            `json:"holder"`
	Kind    string            `json:"kind"`
	Amount  fixedpoint.Amount `json:"amount"`
}
