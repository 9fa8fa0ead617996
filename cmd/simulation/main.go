// Binary simulation drives the full market lifecycle against an in-memory
// ledger and prints a conservation report: every collateral unit deposited
// must end up in an account, a pool, or the burned creation fees.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/amm"
	"github.com/saiboyizhan/flip-predict-sub005/internal/config"
	"github.com/saiboyizhan/flip-predict-sub005/internal/database"
	"github.com/saiboyizhan/flip-predict-sub005/internal/events"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/liquidity"
	"github.com/saiboyizhan/flip-predict-sub005/internal/market"
	"github.com/saiboyizhan/flip-predict-sub005/internal/orderbook"
	"github.com/saiboyizhan/flip-predict-sub005/internal/position"
	"github.com/saiboyizhan/flip-predict-sub005/internal/revshare"
	"github.com/saiboyizhan/flip-predict-sub005/internal/settlement"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
	dave  = "dave"

	resolver = "oracle"
)

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

type engine struct {
	cfg        *config.Config
	markets    *market.Service
	amm        *amm.Service
	liquidity  *liquidity.Service
	positions  *position.Service
	orders     *orderbook.Service
	settlement *settlement.Service
	accounts   *accounts.Service
	processor  *events.Processor
}

func newEngine() (*engine, error) {
	db, err := database.NewTestDatabase()
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	locks := market.NewLocks()
	depth := orderbook.NewDepth()

	return &engine{
		cfg:        cfg,
		markets:    market.NewService(db, locks, cfg.Engine),
		amm:        amm.NewService(db, locks),
		liquidity:  liquidity.NewService(db, locks),
		positions:  position.NewService(db, locks),
		orders:     orderbook.NewService(db, locks, depth),
		settlement: settlement.NewService(db, locks),
		accounts:   accounts.NewService(db),
		processor: events.NewProcessor(
			events.NewDatabase(db),
			time.Second,
			revshare.NewConsumer(db, locks, uint64(cfg.Engine.RevenueSharePct)),
			orderbook.NewDepthReset(depth),
		),
	}, nil
}

func main() {
	eng, err := newEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	deposits := fixedpoint.Zero()
	for _, d := range []struct {
		who   string
		units uint64
	}{
		{alice, 1000}, {bob, 500}, {carol, 500}, {dave, 200},
	} {
		amount := fixedpoint.FromUnits(d.units)
		if _, err := eng.accounts.Deposit(d.who, amount); err != nil {
			log.Fatal().Err(err).Str("who", d.who).Msg("deposit failed")
		}
		deposits, err = deposits.Add(amount)
		if err != nil {
			log.Fatal().Err(err).Msg("deposit total overflow")
		}
	}

	resolved := eng.runResolvedLifecycle()
	cancelled := eng.runCancelledLifecycle()

	// One last drain so late trade events reach the revshare consumer.
	if err := eng.processor.Drain(); err != nil {
		log.Error().Err(err).Msg("final event drain failed")
	}

	eng.printReconciliation(deposits, resolved, cancelled)
}

// runResolvedLifecycle trades, provides liquidity, crosses book orders, then
// resolves YES and claims everything back out. Returns the market id.
func (e *engine) runResolvedLifecycle() uint {
	m, err := e.markets.CreateMarket(alice, "Will it rain in Cape Town on Saturday?",
		time.Now().Add(48*time.Hour), fixedpoint.FromUnits(100))
	if err != nil {
		log.Fatal().Err(err).Msg("create market failed")
	}
	log.Info().Uint("market_id", m.ID).Msg("market created")

	// AMM round trip
	buy, err := e.amm.Buy(m.ID, bob, types.SideYes, fixedpoint.FromUnits(30), fixedpoint.Zero())
	if err != nil {
		log.Fatal().Err(err).Msg("bob buy failed")
	}
	log.Info().
		Str("tokens_out", buy.TokensOut.Decimal()).
		Str("fee", buy.Fee.Decimal()).
		Msg("bob bought YES")

	if _, err := e.amm.Buy(m.ID, carol, types.SideNo, fixedpoint.FromUnits(20), fixedpoint.Zero()); err != nil {
		log.Fatal().Err(err).Msg("carol buy failed")
	}

	sellBack := buy.TokensOut.Half()
	sell, err := e.amm.Sell(m.ID, bob, types.SideYes, sellBack, fixedpoint.Zero())
	if err != nil {
		log.Fatal().Err(err).Msg("bob sell failed")
	}
	log.Info().Str("collateral_out", sell.CollateralOut.Decimal()).Msg("bob sold half back")

	// Split and merge are exact inverses; dave keeps 40 of each side.
	if _, err := e.positions.SplitPosition(m.ID, dave, fixedpoint.FromUnits(50)); err != nil {
		log.Fatal().Err(err).Msg("dave split failed")
	}
	if _, err := e.positions.MergePositions(m.ID, dave, fixedpoint.FromUnits(10)); err != nil {
		log.Fatal().Err(err).Msg("dave merge failed")
	}

	// Secondary LP joins, then withdraws part of the stake. A withdrawal
	// that would breach the reserve floor is halved until it fits.
	added, err := e.liquidity.AddLiquidity(m.ID, bob, fixedpoint.FromUnits(50))
	if err != nil {
		log.Fatal().Err(err).Msg("bob add liquidity failed")
	}
	withdraw := added.SharesMinted
	for {
		if _, err = e.liquidity.RemoveLiquidity(m.ID, bob, withdraw); err == nil {
			log.Info().Str("shares", withdraw.Decimal()).Msg("bob withdrew shares")
			break
		}
		if !errors.Is(err, types.ErrReserveDepleted) {
			log.Fatal().Err(err).Msg("bob remove liquidity failed")
		}
		withdraw = withdraw.Half()
	}

	// Book trade: dave offers YES from his split, bob lifts it at a higher
	// limit and pays only the resting price.
	ask, err := e.orders.PlaceOrder(m.ID, dave, types.SideYes, types.DirectionSell,
		price("0.60"), fixedpoint.FromUnits(20))
	if err != nil {
		log.Fatal().Err(err).Msg("dave ask failed")
	}
	lift, err := e.orders.PlaceOrder(m.ID, bob, types.SideYes, types.DirectionBuy,
		price("0.65"), fixedpoint.FromUnits(10))
	if err != nil {
		log.Fatal().Err(err).Msg("bob bid failed")
	}
	log.Info().Int("fills", len(lift.Fills)).Msg("book orders crossed")
	if _, err := e.orders.CancelOrder(ask.Order.OrderID, dave); err != nil {
		log.Fatal().Err(err).Msg("dave cancel failed")
	}

	// Let the revshare consumer see the AMM trades before resolution.
	if err := e.processor.Drain(); err != nil {
		log.Error().Err(err).Msg("event drain failed")
	}

	if _, err := e.markets.Resolve(m.ID, types.SideYes, resolver); err != nil {
		log.Fatal().Err(err).Msg("resolve failed")
	}
	log.Info().Uint("market_id", m.ID).Msg("market resolved YES")

	for _, holder := range []string{bob, dave} {
		record, err := e.settlement.ClaimWinnings(m.ID, holder)
		if err != nil {
			log.Fatal().Err(err).Str("holder", holder).Msg("claim failed")
		}
		log.Info().Str("holder", holder).Str("amount", record.Amount.Decimal()).Msg("winnings claimed")
	}
	// Carol holds only losing NO tokens; she settles at zero.
	zeroed, err := e.settlement.ClaimWinnings(m.ID, carol)
	if err != nil {
		log.Fatal().Err(err).Msg("carol claim failed")
	}
	log.Info().Str("amount", zeroed.Amount.Decimal()).Msg("carol settled her losing position")
	// A second claim by the same holder must bounce.
	if _, err := e.settlement.ClaimWinnings(m.ID, bob); !errors.Is(err, types.ErrAlreadyClaimed) {
		log.Fatal().Err(err).Msg("duplicate claim was not rejected")
	}

	for _, provider := range []string{alice, bob} {
		record, err := e.settlement.LpClaimAfterResolution(m.ID, provider)
		if err != nil {
			log.Fatal().Err(err).Str("provider", provider).Msg("lp claim failed")
		}
		log.Info().Str("provider", provider).Str("amount", record.Amount.Decimal()).Msg("lp claim paid")
	}

	return m.ID
}

// runCancelledLifecycle creates a second market, trades a little, cancels it
// and refunds holders at half a unit per token. Returns the market id.
func (e *engine) runCancelledLifecycle() uint {
	m, err := e.markets.CreateMarket(alice, "Will the vote pass before year end?",
		time.Now().Add(72*time.Hour), fixedpoint.FromUnits(50))
	if err != nil {
		log.Fatal().Err(err).Msg("create second market failed")
	}

	if _, err := e.amm.Buy(m.ID, carol, types.SideYes, fixedpoint.FromUnits(15), fixedpoint.Zero()); err != nil {
		log.Fatal().Err(err).Msg("carol buy failed")
	}

	// Resting order at cancellation time: its escrow must come back intact.
	if _, err := e.orders.PlaceOrder(m.ID, bob, types.SideYes, types.DirectionBuy,
		price("0.40"), fixedpoint.FromUnits(5)); err != nil {
		log.Fatal().Err(err).Msg("bob bid failed")
	}

	if _, err := e.markets.Cancel(m.ID, resolver); err != nil {
		log.Fatal().Err(err).Msg("cancel failed")
	}
	log.Info().Uint("market_id", m.ID).Msg("market cancelled, open orders released")

	record, err := e.settlement.RefundAfterCancel(m.ID, carol)
	if err != nil {
		log.Fatal().Err(err).Msg("carol refund failed")
	}
	log.Info().Str("amount", record.Amount.Decimal()).Msg("carol refunded")

	if _, err := e.settlement.LpRefundAfterCancel(m.ID, alice); err != nil {
		log.Fatal().Err(err).Msg("alice lp refund failed")
	}

	return m.ID
}

// printReconciliation renders the final balances and checks that deposits
// equal accounts plus residual pool collateral plus burned creation fees.
func (e *engine) printReconciliation(deposits fixedpoint.Amount, marketIDs ...uint) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Holder", "Balance"})

	total := fixedpoint.Zero()
	for _, who := range []string{alice, bob, carol, dave} {
		account, err := e.accounts.GetBalance(who)
		if err != nil {
			log.Fatal().Err(err).Msg("balance read failed")
		}
		table.Append([]string{who, account.Balance.Decimal()})
		if total, err = total.Add(account.Balance); err != nil {
			log.Fatal().Err(err).Msg("total overflow")
		}
	}

	burned := fixedpoint.Zero()
	for _, id := range marketIDs {
		m, err := e.markets.GetMarket(id)
		if err != nil {
			log.Fatal().Err(err).Msg("market read failed")
		}
		pool, err := e.markets.GetPool(id)
		if err != nil {
			log.Fatal().Err(err).Msg("pool read failed")
		}
		table.Append([]string{fmt.Sprintf("pool %d (%s)", id, m.State), pool.Collateral.Decimal()})
		if total, err = total.Add(pool.Collateral); err != nil {
			log.Fatal().Err(err).Msg("total overflow")
		}
		if burned, err = burned.Add(m.CreationFee); err != nil {
			log.Fatal().Err(err).Msg("fee total overflow")
		}
	}
	table.Append([]string{"burned creation fees", burned.Decimal()})
	if withFees, err := total.Add(burned); err == nil {
		total = withFees
	}

	table.SetFooter([]string{"TOTAL", total.Decimal()})
	fmt.Println()
	table.Render()

	diff := "0"
	if !total.Equal(deposits) {
		d, err := deposits.Sub(total)
		if err != nil {
			d, _ = total.Sub(deposits)
		}
		diff = d.Decimal()
	}
	log.Info().
		Str("deposited", deposits.Decimal()).
		Str("accounted", total.Decimal()).
		Str("difference", diff).
		Msg("reconciliation complete")
}

func price(units string) fixedpoint.Amount {
	var a fixedpoint.Amount
	var whole, frac uint64
	if _, err := fmt.Sscanf(units, "%d.%d", &whole, &frac); err != nil {
		log.Fatal().Str("price", units).Msg("bad price literal")
	}
	// two-digit fractions only, e.g. "0.60"
	a = fixedpoint.FromUnits(whole)
	cents, err := fixedpoint.FromUnits(frac).MulDiv(fixedpoint.Unit(), fixedpoint.FromUnits(100))
	if err != nil {
		log.Fatal().Err(err).Msg("bad price literal")
	}
	a, err = a.Add(cents)
	if err != nil {
		log.Fatal().Err(err).Msg("bad price literal")
	}
	return a
}
