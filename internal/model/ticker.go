package model

import "fmt"

// Ticker identifies a market as a (base, quote) symbol pair.
// It is a value type; two tickers are equal when both fields match.
type Ticker struct {
	Base  string `json:"b"`
	Quote string `json:"q"`
}

// NewTicker builds a ticker from its base and quote symbols.
func NewTicker(base, quote string) Ticker {
	return Ticker{Base: base, Quote: quote}
}

// ParseTicker splits a concatenated symbol like "BTCUSDT" assuming a
// three-letter base and a three- or four-letter quote.
func ParseTicker(symbol string) (Ticker, error) {
	switch len(symbol) {
	case 6, 7:
		return Ticker{Base: symbol[:3], Quote: symbol[3:]}, nil
	default:
		return Ticker{}, fmt.Errorf("cannot parse ticker symbol %q", symbol)
	}
}

// String returns the concatenated symbol.
func (t Ticker) String() string {
	return t.Base + t.Quote
}

// IsZero reports whether the ticker is unset.
func (t Ticker) IsZero() bool {
	return t.Base == "" && t.Quote == ""
}
