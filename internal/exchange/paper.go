package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"BreakoutSentinel/internal/model"
)

// CandleSource supplies market data to the paper exchange.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error)
}

// Paper simulates a futures account in memory. Market orders fill at the
// last known close; stop orders fill when a later candle trades through
// them. Candles come from an optional source or from SetCandles.
type Paper struct {
	mu        sync.Mutex
	source    CandleSource
	balance   float64
	candles   map[string][]model.OHLCV
	prices    map[string]float64
	positions map[string]PositionInfo
	stops     map[string]StopRequest
	failures  map[string][]error
	filters   map[string]Filters
	orders    []OrderRequest
}

// NewPaper creates a simulated account holding balance in the quote asset.
func NewPaper(balance float64, source CandleSource) *Paper {
	return &Paper{
		source:    source,
		balance:   balance,
		candles:   make(map[string][]model.OHLCV),
		prices:    make(map[string]float64),
		positions: make(map[string]PositionInfo),
		stops:     make(map[string]StopRequest),
		failures:  make(map[string][]error),
		filters:   make(map[string]Filters),
	}
}

func (p *Paper) Name() string { return "paper" }

// Operation names accepted by FailNext.
const (
	OpBalance   = "balance"
	OpCandles   = "candles"
	OpOrder     = "order"
	OpStop      = "stop"
	OpCancel    = "cancel"
	OpPositions = "positions"
)

// FailNext queues err as the result of the next call to op.
func (p *Paper) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

func (p *Paper) failLocked(op string) error {
	q := p.failures[op]
	if len(q) == 0 {
		return nil
	}
	p.failures[op] = q[1:]
	return q[0]
}

func candleKey(symbol, timeframe string) string { return symbol + "|" + timeframe }

// SetCandles installs the series returned for symbol and timeframe. The last
// bar becomes the fill price and is checked against resting stops.
func (p *Paper) SetCandles(symbol, timeframe string, bars []model.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[candleKey(symbol, timeframe)] = bars
	if len(bars) > 0 {
		p.observeLocked(symbol, bars[len(bars)-1])
	}
}

// SetFilters installs order-size limits for symbol, which RoundQuantity and
// CheckMinimum then honour like a live venue would.
func (p *Paper) SetFilters(symbol string, f Filters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters[symbol] = f
}

func (p *Paper) RoundQuantity(symbol string, qty float64) float64 {
	p.mu.Lock()
	f := p.filters[symbol]
	p.mu.Unlock()
	return f.Floor(qty)
}

func (p *Paper) CheckMinimum(symbol string, qty, price float64) error {
	p.mu.Lock()
	f := p.filters[symbol]
	p.mu.Unlock()
	return f.Check(qty, price)
}

// Orders returns the market orders filled so far.
func (p *Paper) Orders() []OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderRequest(nil), p.orders...)
}

// Stops returns the resting stop orders by id.
func (p *Paper) Stops() map[string]StopRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]StopRequest, len(p.stops))
	for id, s := range p.stops {
		out[id] = s
	}
	return out
}

func (p *Paper) GetBalance(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLocked(OpBalance); err != nil {
		return 0, err
	}
	return p.balance, nil
}

func (p *Paper) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	p.mu.Lock()
	if err := p.failLocked(OpCandles); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	bars, ok := p.candles[candleKey(symbol, timeframe)]
	p.mu.Unlock()

	if !ok && p.source != nil {
		fetched, err := p.source.GetCandles(ctx, symbol, timeframe, limit)
		if err != nil {
			return nil, err
		}
		bars = fetched
		if len(bars) > 0 {
			p.mu.Lock()
			p.observeLocked(symbol, bars[len(bars)-1])
			p.mu.Unlock()
		}
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]model.OHLCV(nil), bars...), nil
}

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLocked(OpOrder); err != nil {
		return "", err
	}
	if req.Quantity <= 0 {
		return "", &Error{Op: OpOrder, Kind: ErrRejected, Err: fmt.Errorf("quantity %.8f", req.Quantity)}
	}
	price, ok := p.prices[req.Symbol]
	if !ok {
		return "", &Error{Op: OpOrder, Kind: ErrRejected, Err: fmt.Errorf("no price for %s", req.Symbol)}
	}
	pos, held := p.positions[req.Symbol]
	if req.ReduceOnly && (!held || pos.Direction == req.Side) {
		return "", &Error{Op: OpOrder, Kind: ErrRejected, Err: errors.New("reduce-only order would increase position")}
	}
	p.fillLocked(req.Symbol, req.Side, req.Quantity, price)
	p.orders = append(p.orders, req)
	return uuid.NewString(), nil
}

func (p *Paper) PlaceStopOrder(_ context.Context, req StopRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLocked(OpStop); err != nil {
		return "", err
	}
	if req.Quantity <= 0 || req.StopPrice <= 0 {
		return "", &Error{Op: OpStop, Kind: ErrRejected, Err: fmt.Errorf("invalid stop %+v", req)}
	}
	id := uuid.NewString()
	p.stops[id] = req
	return id, nil
}

func (p *Paper) CancelOrder(_ context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLocked(OpCancel); err != nil {
		return err
	}
	s, ok := p.stops[orderID]
	if !ok || s.Symbol != symbol {
		return &Error{Op: OpCancel, Kind: ErrRejected, Err: fmt.Errorf("unknown order %s", orderID)}
	}
	delete(p.stops, orderID)
	return nil
}

func (p *Paper) GetOpenPositions(_ context.Context) ([]PositionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLocked(OpPositions); err != nil {
		return nil, err
	}
	out := make([]PositionInfo, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// observeLocked records the bar's close as the fill price and triggers any
// stop the bar traded through.
func (p *Paper) observeLocked(symbol string, bar model.OHLCV) {
	p.prices[symbol] = bar.Close
	for id, s := range p.stops {
		if s.Symbol != symbol {
			continue
		}
		hit := (s.Side == model.Short && bar.Low <= s.StopPrice) ||
			(s.Side == model.Long && bar.High >= s.StopPrice)
		if !hit {
			continue
		}
		delete(p.stops, id)
		if pos, ok := p.positions[symbol]; ok && pos.Direction != s.Side {
			p.fillLocked(symbol, s.Side, s.Quantity, s.StopPrice)
		}
	}
}

// fillLocked applies a trade of qty on side at price, realizing PnL on the
// part that reduces an existing position.
func (p *Paper) fillLocked(symbol string, side model.Direction, qty, price float64) {
	pos, held := p.positions[symbol]
	if !held {
		p.positions[symbol] = PositionInfo{Symbol: symbol, Direction: side, Size: qty, EntryPrice: price}
		return
	}
	size := decimal.NewFromFloat(pos.Size)
	q := decimal.NewFromFloat(qty)
	if pos.Direction == side {
		total := size.Add(q)
		entry := size.Mul(decimal.NewFromFloat(pos.EntryPrice)).Add(q.Mul(decimal.NewFromFloat(price))).Div(total)
		pos.Size = total.InexactFloat64()
		pos.EntryPrice = entry.InexactFloat64()
		p.positions[symbol] = pos
		return
	}
	closed := decimal.Min(size, q)
	pnl := decimal.NewFromFloat(price - pos.EntryPrice).Mul(closed).Mul(decimal.NewFromFloat(pos.Direction.Sign()))
	p.balance += pnl.InexactFloat64()
	remaining := size.Sub(closed)
	if remaining.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
		return
	}
	pos.Size = remaining.InexactFloat64()
	p.positions[symbol] = pos
}
