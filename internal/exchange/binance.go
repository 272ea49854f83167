package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"BreakoutSentinel/internal/model"
)

const quoteAsset = "USDT"

// BinanceOptions configures the USDT-margined futures adapter.
type BinanceOptions struct {
	APIKey            string
	APISecret         string
	Testnet           bool
	RequestsPerSecond float64
	Leverage          int          // applied per symbol before its first entry
	BaseURL           string       // overrides the venue endpoint
	HTTPClient        *http.Client // overrides the transport
}

type precision struct {
	quantity int32
	price    int32
	filters  Filters
}

// Binance talks to Binance USDT-M futures through go-binance.
type Binance struct {
	client  *futures.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
	leverage int

	mu        sync.RWMutex
	precision map[string]precision
	leveraged map[string]bool
}

// NewBinance builds the adapter. Market data works without keys.
func NewBinance(opts BinanceOptions, log zerolog.Logger) *Binance {
	futures.UseTestnet = opts.Testnet
	client := futures.NewClient(opts.APIKey, opts.APISecret)
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Binance{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		log:       log.With().Str("component", "binance").Logger(),
		leverage:  opts.Leverage,
		precision: make(map[string]precision),
		leveraged: make(map[string]bool),
	}
}

func (b *Binance) Name() string { return "binance" }

// wait blocks on the local limiter. A context that cannot wait long enough
// counts as throttling, since nothing was sent.
func (b *Binance) wait(ctx context.Context, op string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Kind: ErrRateLimited, Err: err}
	}
	return nil
}

// LoadPrecision caches quantity and price precision for every symbol, along
// with its LOT_SIZE and MIN_NOTIONAL filters.
func (b *Binance) LoadPrecision(ctx context.Context) error {
	if err := b.wait(ctx, "exchange info"); err != nil {
		return err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return classify("exchange info", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range info.Symbols {
		s := &info.Symbols[i]
		b.precision[s.Symbol] = precision{
			quantity: int32(s.QuantityPrecision),
			price:    int32(s.PricePrecision),
			filters:  symbolFilters(s),
		}
	}
	b.log.Info().Int("symbols", len(info.Symbols)).Msg("loaded symbol precision")
	return nil
}

func symbolFilters(s *futures.Symbol) Filters {
	var f Filters
	if lot := s.LotSizeFilter(); lot != nil {
		f.StepSize = parseOr0(lot.StepSize)
		f.MinQty = parseOr0(lot.MinQuantity)
	}
	if mn := s.MinNotionalFilter(); mn != nil {
		f.MinNotional = parseOr0(mn.Notional)
	}
	return f
}

func parseOr0(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func (b *Binance) lookup(symbol string) (precision, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.precision[symbol]
	return p, ok
}

// RoundQuantity truncates qty to the symbol's lot step and precision.
func (b *Binance) RoundQuantity(symbol string, qty float64) float64 {
	p, ok := b.lookup(symbol)
	if !ok {
		return qty
	}
	return decimal.NewFromFloat(p.filters.Floor(qty)).Truncate(p.quantity).InexactFloat64()
}

// CheckMinimum refuses orders under the symbol's minimum quantity or
// notional. Symbols without cached filters pass.
func (b *Binance) CheckMinimum(symbol string, qty, price float64) error {
	p, ok := b.lookup(symbol)
	if !ok {
		return nil
	}
	return p.filters.Check(qty, price)
}

// EnsureLeverage sets the configured leverage on symbol once per process.
func (b *Binance) EnsureLeverage(ctx context.Context, symbol string) error {
	if b.leverage <= 0 {
		return nil
	}
	b.mu.RLock()
	done := b.leveraged[symbol]
	b.mu.RUnlock()
	if done {
		return nil
	}
	if err := b.wait(ctx, "leverage"); err != nil {
		return err
	}
	if _, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(b.leverage).Do(ctx); err != nil {
		return classify("leverage", err)
	}
	b.mu.Lock()
	b.leveraged[symbol] = true
	b.mu.Unlock()
	b.log.Info().Str("symbol", symbol).Int("leverage", b.leverage).Msg("leverage set")
	return nil
}

func (b *Binance) formatQuantity(symbol string, qty float64) string {
	if p, ok := b.lookup(symbol); ok {
		return decimal.NewFromFloat(p.filters.Floor(qty)).Truncate(p.quantity).String()
	}
	return decimal.NewFromFloat(qty).String()
}

func (b *Binance) formatPrice(symbol string, price float64) string {
	d := decimal.NewFromFloat(price)
	if p, ok := b.lookup(symbol); ok {
		d = d.Round(p.price)
	}
	return d.String()
}

func side(d model.Direction) futures.SideType {
	if d == model.Short {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func (b *Binance) GetBalance(ctx context.Context) (float64, error) {
	if err := b.wait(ctx, "balance"); err != nil {
		return 0, err
	}
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, classify("balance", err)
	}
	for _, bal := range balances {
		if bal.Asset != quoteAsset {
			continue
		}
		v, err := strconv.ParseFloat(bal.Balance, 64)
		if err != nil {
			return 0, classify("balance", fmt.Errorf("parse %q: %w", bal.Balance, err))
		}
		return v, nil
	}
	return 0, nil
}

func (b *Binance) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	if err := b.wait(ctx, "klines"); err != nil {
		return nil, err
	}
	klines, err := b.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("klines", err)
	}
	bars := make([]model.OHLCV, 0, len(klines))
	for _, k := range klines {
		bar := model.OHLCV{Time: time.UnixMilli(k.OpenTime).UTC()}
		for _, f := range []struct {
			dst *float64
			src string
		}{
			{&bar.Open, k.Open}, {&bar.High, k.High}, {&bar.Low, k.Low}, {&bar.Close, k.Close}, {&bar.Volume, k.Volume},
		} {
			v, err := strconv.ParseFloat(f.src, 64)
			if err != nil {
				return nil, classify("klines", fmt.Errorf("parse %q: %w", f.src, err))
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := b.wait(ctx, "order"); err != nil {
		return "", err
	}
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(b.formatQuantity(req.Symbol, req.Quantity))
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", classify("order", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (b *Binance) PlaceStopOrder(ctx context.Context, req StopRequest) (string, error) {
	if err := b.wait(ctx, "stop order"); err != nil {
		return "", err
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side(req.Side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(b.formatPrice(req.Symbol, req.StopPrice)).
		Quantity(b.formatQuantity(req.Symbol, req.Quantity)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return "", classify("stop order", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &Error{Op: "cancel", Kind: ErrRejected, Err: fmt.Errorf("order id %q: %w", orderID, err)}
	}
	if err := b.wait(ctx, "cancel"); err != nil {
		return err
	}
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return classify("cancel", err)
	}
	return nil
}

func (b *Binance) GetOpenPositions(ctx context.Context) ([]PositionInfo, error) {
	if err := b.wait(ctx, "positions"); err != nil {
		return nil, err
	}
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify("positions", err)
	}
	var out []PositionInfo
	for _, r := range risks {
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		info := PositionInfo{Symbol: r.Symbol, Direction: model.Long, Size: amt, EntryPrice: entry}
		if amt < 0 {
			info.Direction = model.Short
			info.Size = -amt
		}
		out = append(out, info)
	}
	return out, nil
}
