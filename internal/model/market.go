package model

import "time"

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Bullish reports whether the bar closed above its open.
func (c OHLCV) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the bar closed below its open.
func (c OHLCV) Bearish() bool { return c.Close < c.Open }

// MarketData holds the candle series of one symbol across the timeframes a
// cycle evaluates. Series are oldest-first.
type MarketData struct {
	Symbol    string
	Signal    []OHLCV
	Trend     []OHLCV
	MTF       []OHLCV
	FetchedAt time.Time
}

// Last returns the newest bar of the signal series.
func (m *MarketData) Last() (OHLCV, bool) {
	if m == nil || len(m.Signal) == 0 {
		return OHLCV{}, false
	}
	return m.Signal[len(m.Signal)-1], true
}
