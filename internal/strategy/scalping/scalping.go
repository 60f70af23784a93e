// Package scalping implements a three-stage scalping strategy: close
// profitable buy legs, re-enter closed sessions after a breakout, and
// open fresh sessions when the market allows. Every skipped opportunity
// is emitted as an Ignore action with a stable reason label so a
// backtest can audit each decision tick.
package scalping

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/exchange"
	"github.com/pourquoi/tradebot/internal/model"
	"github.com/pourquoi/tradebot/internal/state"
	"github.com/pourquoi/tradebot/internal/strategy"
)

// Ignore reason labels, stable across runs for audit tooling.
const (
	ReasonNoProfit           = "No profit"
	ReasonHoldBull           = "Hold bull"
	ReasonReentryDelay       = "Reentry delay"
	ReasonInsufficientFunds  = "Insufficient funds"
	ReasonTerminatingSession = "Terminating session"
	ReasonUnderResistance    = "Under resistance"
	ReasonEntryDelay         = "Entry delay"
	ReasonSessionCap         = "Session cap"
	ReasonBearMarket         = "Bear market"
	ReasonBelowSupport       = "Below support"
	ReasonStaleOrder         = "Stale order"
)

type marketState struct {
	// candles and trades are recent-first bounded windows.
	candles []model.CandleEvent
	trades  []model.TradeEvent
	stats   *PriceStats
	statsAt int64
}

// Strategy holds per-ticker indicator state and decides against the
// shared ledger. Decide is driven sequentially from the engine loop, so
// no internal locking is needed.
type Strategy struct {
	cfg      Config
	settings exchange.Settings
	ledger   *state.State
	markets  map[model.Ticker]*marketState
	feeRate  *decimal.Decimal
}

func New(cfg Config, settings exchange.Settings, ledger *state.State) *Strategy {
	return &Strategy{
		cfg:      cfg.withDefaults(),
		settings: settings,
		ledger:   ledger,
		markets:  map[model.Ticker]*marketState{},
	}
}

// Warmup seeds the candle window from history (oldest first, as data
// APIs return it) and computes the initial stats.
func (s *Strategy) Warmup(_ context.Context, ticker model.Ticker, candles []model.CandleEvent) {
	ms := s.market(ticker)
	ms.candles = ms.candles[:0]
	for i := len(candles) - 1; i >= 0 && len(ms.candles) < s.cfg.CandleLimit; i-- {
		ms.candles = append(ms.candles, candles[i])
	}
	ms.stats = computeStats(ms.candles, s.cfg.ClusterTolerance)
	if len(ms.candles) > 0 {
		ms.statsAt = ms.candles[0].StartTime
	}
	logs.Infof("scalping: warmed up %s with %d candles", ticker, len(ms.candles))
}

// Decide consumes one market event. Candle and trade events update the
// indicator state; book events drive a decision tick.
func (s *Strategy) Decide(ctx context.Context, event model.MarketEvent) []strategy.Action {
	switch event.Kind() {
	case model.EventCandle:
		s.onCandle(*event.Candle)
	case model.EventTrade:
		s.onTrade(*event.Trade)
	case model.EventBook:
		return s.onBook(ctx, *event.Book)
	}
	return nil
}

func (s *Strategy) market(ticker model.Ticker) *marketState {
	ms, ok := s.markets[ticker]
	if !ok {
		ms = &marketState{}
		s.markets[ticker] = ms
	}
	return ms
}

func (s *Strategy) onCandle(c model.CandleEvent) {
	ms := s.market(c.Ticker)
	if len(ms.candles) > 0 && ms.candles[0].StartTime == c.StartTime {
		ms.candles[0] = c
	} else {
		ms.candles = append([]model.CandleEvent{c}, ms.candles...)
		if len(ms.candles) > s.cfg.CandleLimit {
			ms.candles = ms.candles[:s.cfg.CandleLimit]
		}
	}
	// Stats refresh only on candle close bounds the indicator cost to
	// one recomputation per interval.
	if c.Closed && ms.statsAt != c.StartTime {
		ms.stats = computeStats(ms.candles, s.cfg.ClusterTolerance)
		ms.statsAt = c.StartTime
	}
}

func (s *Strategy) onTrade(t model.TradeEvent) {
	ms := s.market(t.Ticker)
	ms.trades = append([]model.TradeEvent{t}, ms.trades...)
	if len(ms.trades) > s.cfg.TradeLimit {
		ms.trades = ms.trades[:s.cfg.TradeLimit]
	}
}

// onBook runs one decision tick. The single-flight guard keeps at most
// one order in flight per ticker; the three stages are mutually
// exclusive by construction.
func (s *Strategy) onBook(ctx context.Context, b model.BookEvent) []strategy.Action {
	ms := s.markets[b.Ticker]
	if ms == nil || ms.stats == nil {
		return nil
	}
	if inflight, ok := s.ledger.InFlight(b.Ticker); ok {
		return s.checkStale(inflight, b.Time)
	}
	bid, bidOK := b.BestBid()
	ask, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return nil
	}
	fee := s.fees(ctx)

	buys := s.ledger.OpenBuys(b.Ticker)
	sells := s.ledger.OpenSells(b.Ticker)

	actions, fired := s.sellStage(ms, b.Ticker, buys, bid, fee, b.Time)
	if fired {
		return actions
	}
	reentry, fired := s.reentryStage(ctx, ms, b.Ticker, sells, ask, fee, b.Time)
	actions = append(actions, reentry...)
	if fired {
		return actions
	}
	if len(buys) == 0 && len(sells) == 0 {
		entry, _ := s.entryStage(ctx, ms, b.Ticker, ask, fee, b.Time)
		actions = append(actions, entry...)
	}
	return actions
}

func (s *Strategy) checkStale(o model.Order, now int64) []strategy.Action {
	if s.cfg.OrderLifetime <= 0 || o.Type != model.OrderTypeLimit || o.Status != model.StatusActive {
		return nil
	}
	if now-o.CreatedAt <= s.cfg.OrderLifetime.Milliseconds() {
		return nil
	}
	return []strategy.Action{strategy.CancelOrder{OrderID: o.ID, Reason: ReasonStaleOrder}}
}

// sellStage closes the oldest profitable buy leg at the best bid.
func (s *Strategy) sellStage(ms *marketState, ticker model.Ticker, buys []model.Order, bid, fee decimal.Decimal, now int64) ([]strategy.Action, bool) {
	var actions []strategy.Action
	portfolio := s.ledger.Portfolio()
	for _, buy := range buys {
		if !portfolio.CheckFunds(ticker.Base, buy.FilledAmount) {
			actions = append(actions, ignore(ticker, ReasonInsufficientFunds,
				fmt.Sprintf("need %s %s to close buy %s", buy.FilledAmount, ticker.Base, buy.ID)))
			continue
		}
		profit := takeProfit(buy, bid, fee)
		if profit.LessThan(s.cfg.TargetProfit) {
			actions = append(actions, ignore(ticker, ReasonNoProfit,
				fmt.Sprintf("take profit %s < target %s at bid %s", profit, s.cfg.TargetProfit, bid)))
			continue
		}
		if ms.stats.ShortTrend == TrendBull {
			actions = append(actions, ignore(ticker, ReasonHoldBull,
				fmt.Sprintf("short trend %s, letting profit run", ms.stats.ShortTrend)))
			continue
		}

		order := model.Order{
			ID:          model.NewOrderID(),
			Ticker:      ticker,
			Side:        model.SideSell,
			Type:        s.cfg.OrderType,
			Status:      model.StatusDraft,
			Amount:      buy.FilledAmount,
			FeeRate:     fee,
			SessionID:   buy.SessionID,
			PrevOrderID: buy.ID,
			CreatedAt:   now,
		}
		if order.Type == model.OrderTypeLimit {
			order.Price = bid
		}
		return append(actions, strategy.PlaceOrder{Order: order}), true
	}
	return actions, false
}

// takeProfit is the realized profit of closing the buy at sellPrice net
// of the taker fee.
func takeProfit(buy model.Order, sellPrice, fee decimal.Decimal) decimal.Decimal {
	gross := buy.FilledAmount.Mul(sellPrice).Mul(decimal.NewFromInt(1).Sub(fee))
	return gross.Sub(buy.CumulativeQuoteAmount)
}

// reentryStage buys back into a closed session once its cooldown has
// passed and the price has cleared known resistance.
func (s *Strategy) reentryStage(ctx context.Context, ms *marketState, ticker model.Ticker, sells []model.Order, ask, fee decimal.Decimal, now int64) ([]strategy.Action, bool) {
	var actions []strategy.Action
	portfolio := s.ledger.Portfolio()
	for _, sell := range sells {
		if now-sell.CreatedAt < s.cfg.ReentryDelay.Milliseconds() {
			actions = append(actions, ignore(ticker, ReasonReentryDelay,
				fmt.Sprintf("sell %s placed %dms ago", sell.ID, now-sell.CreatedAt)))
			continue
		}
		if !portfolio.CheckFunds(ticker.Quote, s.cfg.QuoteAmount) {
			actions = append(actions, ignore(ticker, ReasonInsufficientFunds,
				fmt.Sprintf("need %s %s free", s.cfg.QuoteAmount, ticker.Quote)))
			continue
		}
		profit := s.ledger.SessionProfit(sell.SessionID)
		if start, ok := s.ledger.SessionStart(sell.SessionID); ok &&
			!profit.IsNegative() && now-start > s.cfg.SessionProfitLifetime.Milliseconds() {
			actions = append(actions, ignore(ticker, ReasonTerminatingSession,
				fmt.Sprintf("session %s profit %s, age %dms", sell.SessionID, profit, now-start)))
			continue
		}
		if r, under := ms.stats.ResistanceAbove(ask); under {
			actions = append(actions, ignore(ticker, ReasonUnderResistance,
				fmt.Sprintf("ask %s under resistance %s", ask, r)))
			continue
		}

		order, err := s.buyOrder(ctx, ticker, ask, fee, now)
		if err != nil {
			actions = append(actions, ignore(ticker, ReasonInsufficientFunds, err.Error()))
			continue
		}
		order.SessionID = sell.SessionID
		order.PrevOrderID = sell.ID
		return append(actions, strategy.PlaceOrder{Order: order}), true
	}
	return actions, false
}

// entryStage opens a fresh session when no position exists at all.
func (s *Strategy) entryStage(ctx context.Context, ms *marketState, ticker model.Ticker, ask, fee decimal.Decimal, now int64) ([]strategy.Action, bool) {
	if last, ok := s.ledger.LastCompleted(ticker); ok {
		if age := now - completedAt(last); age < s.cfg.EntryDelay.Milliseconds() {
			return []strategy.Action{ignore(ticker, ReasonEntryDelay,
				fmt.Sprintf("last order completed %dms ago", age))}, false
		}
	}
	if !s.ledger.Portfolio().CheckFunds(ticker.Quote, s.cfg.QuoteAmount) {
		return []strategy.Action{ignore(ticker, ReasonInsufficientFunds,
			fmt.Sprintf("need %s %s free", s.cfg.QuoteAmount, ticker.Quote))}, false
	}
	if s.cfg.MaxSessions > 0 &&
		s.ledger.ActiveSessionCount(ticker, s.cfg.SessionWindow, now) >= s.cfg.MaxSessions {
		return []strategy.Action{ignore(ticker, ReasonSessionCap,
			fmt.Sprintf("cap %d reached", s.cfg.MaxSessions))}, false
	}
	if ms.stats.LongTrend <= TrendDown && ms.stats.ShortTrend != TrendBull {
		return []strategy.Action{ignore(ticker, ReasonBearMarket,
			fmt.Sprintf("long trend %s, short trend %s", ms.stats.LongTrend, ms.stats.ShortTrend))}, false
	}
	if ms.stats.BelowAllSupports(ask) {
		return []strategy.Action{ignore(ticker, ReasonBelowSupport,
			fmt.Sprintf("ask %s under every support", ask))}, false
	}

	order, err := s.buyOrder(ctx, ticker, ask, fee, now)
	if err != nil {
		return []strategy.Action{ignore(ticker, ReasonInsufficientFunds, err.Error())}, false
	}
	order.SessionID = model.NewSessionID()
	return []strategy.Action{strategy.PlaceOrder{Order: order}}, true
}

// buyOrder sizes a buy at quote_amount / price and quantizes it to the
// exchange's lot rules.
func (s *Strategy) buyOrder(ctx context.Context, ticker model.Ticker, price, fee decimal.Decimal, now int64) (model.Order, error) {
	order := model.Order{
		ID:        model.NewOrderID(),
		Ticker:    ticker,
		Side:      model.SideBuy,
		Type:      s.cfg.OrderType,
		Status:    model.StatusDraft,
		Amount:    s.cfg.QuoteAmount.Div(price),
		FeeRate:   fee,
		CreatedAt: now,
	}
	if order.Type == model.OrderTypeMarket {
		order.QuoteAmount = s.cfg.QuoteAmount
	} else {
		order.Price = price
	}
	if err := s.settings.AdjustOrder(ctx, &order); err != nil {
		return model.Order{}, fmt.Errorf("cannot size buy at %s: %w", price, err)
	}
	return order, nil
}

func (s *Strategy) fees(ctx context.Context) decimal.Decimal {
	if s.feeRate != nil {
		return *s.feeRate
	}
	fee, err := s.settings.Fees(ctx, nil)
	if err != nil {
		logs.Warnf("scalping: cannot fetch fees, assuming zero: %v", err)
		return decimal.Zero
	}
	s.feeRate = &fee
	return fee
}

func completedAt(o model.Order) int64 {
	if n := len(o.Trades); n > 0 {
		return o.Trades[n-1].Time
	}
	return o.CreatedAt
}

func ignore(ticker model.Ticker, reason, details string) strategy.Ignore {
	return strategy.Ignore{Ticker: ticker, Reason: reason, Details: details}
}
