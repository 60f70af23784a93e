package scalping

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pourquoi/tradebot/internal/model"
)

const (
	defaultCandleLimit = 100
	defaultTradeLimit  = 200
)

// Config tunes one scalping strategy instance. TargetProfit and
// QuoteAmount are absolute quote-currency amounts; TargetProfit is
// deliberately not a percentage of position size.
type Config struct {
	// TargetProfit is the minimum realized profit, in quote currency,
	// required to close a leg.
	TargetProfit decimal.Decimal `json:"target_profit"`
	// QuoteAmount is the quote-currency size of every entry buy.
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	// ReentryDelay is the cooldown after a sell before its session may
	// buy back in.
	ReentryDelay time.Duration `json:"reentry_delay"`
	// EntryDelay is the cooldown after the last completed order before
	// a fresh session may open.
	EntryDelay time.Duration `json:"entry_delay"`
	// SessionProfitLifetime terminates a session that is already net
	// profitable and older than this.
	SessionProfitLifetime time.Duration `json:"session_profit_lifetime"`
	// MaxSessions caps concurrently active sessions per ticker within
	// SessionWindow.
	MaxSessions   int           `json:"max_sessions"`
	SessionWindow time.Duration `json:"session_window"`
	// OrderLifetime cancels a resting limit order older than this.
	// Zero disables the check.
	OrderLifetime time.Duration `json:"order_lifetime"`
	// OrderType picks market or limit execution for emitted orders.
	OrderType model.OrderType `json:"order_type"`
	// ClusterTolerance merges support/resistance levels lying within
	// this fraction of the current price.
	ClusterTolerance decimal.Decimal `json:"cluster_tolerance"`
	CandleLimit      int             `json:"candle_limit"`
	TradeLimit       int             `json:"trade_limit"`
}

func (c Config) withDefaults() Config {
	if c.CandleLimit <= 0 {
		c.CandleLimit = defaultCandleLimit
	}
	if c.TradeLimit <= 0 {
		c.TradeLimit = defaultTradeLimit
	}
	if c.OrderType == "" {
		c.OrderType = model.OrderTypeMarket
	}
	return c
}
