// Package exchange is the boundary to the venue: candles, balance, orders
// and positions. Every failure is classified into one of the sentinel errors
// in errors.go.
package exchange

import (
	"context"

	"BreakoutSentinel/internal/model"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
)

// OrderRequest is a market order. Side is the direction of the trade itself:
// Long buys, Short sells.
type OrderRequest struct {
	Symbol     string
	Side       model.Direction
	Quantity   float64
	Type       OrderType
	ReduceOnly bool
}

// StopRequest is a reduce-only stop-market order protecting a position.
type StopRequest struct {
	Symbol    string
	Side      model.Direction
	Quantity  float64
	StopPrice float64
}

// PositionInfo is the exchange's view of one open position.
type PositionInfo struct {
	Symbol     string
	Direction  model.Direction
	Size       float64
	EntryPrice float64
}

// Exchange is the set of venue calls the engine depends on.
type Exchange interface {
	Name() string
	GetBalance(ctx context.Context) (float64, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceStopOrder(ctx context.Context, req StopRequest) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOpenPositions(ctx context.Context) ([]PositionInfo, error)
}

// Rounder is implemented by exchanges that know a symbol's lot precision.
type Rounder interface {
	RoundQuantity(symbol string, qty float64) float64
}

// RoundQuantity rounds qty with ex's lot precision when it has one.
func RoundQuantity(ex Exchange, symbol string, qty float64) float64 {
	if r, ok := ex.(Rounder); ok {
		return r.RoundQuantity(symbol, qty)
	}
	return qty
}
