package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/model"
)

// Timeframes names the three series a cycle reads.
type Timeframes struct {
	Signal string
	Trend  string
	MTF    string
}

// Collector fetches the candle series of a symbol through the exchange
// boundary, retrying transient failures.
type Collector struct {
	ex         exchange.Exchange
	policy     exchange.RetryPolicy
	timeframes Timeframes
	limit      int
	log        zerolog.Logger
}

// NewCollector creates a Collector for the timeframes configured in cfg.
func NewCollector(ex exchange.Exchange, cfg *config.Config, log zerolog.Logger) *Collector {
	return &Collector{
		ex:     ex,
		policy: exchange.PolicyFromConfig(cfg),
		timeframes: Timeframes{
			Signal: cfg.TimeframeSignal,
			Trend:  cfg.TimeframeTrend,
			MTF:    cfg.TimeframeMTF,
		},
		limit: cfg.CandleLimit,
		log:   log.With().Str("component", "collector").Logger(),
	}
}

func (c *Collector) fetch(ctx context.Context, symbol, timeframe string) ([]model.OHLCV, error) {
	return exchange.Call(ctx, c.policy, exchange.Idempotent, func(ctx context.Context) ([]model.OHLCV, error) {
		return c.ex.GetCandles(ctx, symbol, timeframe, c.limit)
	})
}

// Collect fetches the signal, trend and higher-timeframe series for symbol.
// A missing higher-timeframe series is tolerated; the others are required.
func (c *Collector) Collect(ctx context.Context, symbol string) (*model.MarketData, error) {
	signal, err := c.fetch(ctx, symbol, c.timeframes.Signal)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", c.timeframes.Signal, err)
	}
	trend, err := c.fetch(ctx, symbol, c.timeframes.Trend)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", c.timeframes.Trend, err)
	}
	mtf, err := c.fetch(ctx, symbol, c.timeframes.MTF)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("higher timeframe unavailable, treating as aligned")
		mtf = nil
	}
	return &model.MarketData{
		Symbol:    symbol,
		Signal:    signal,
		Trend:     trend,
		MTF:       mtf,
		FetchedAt: time.Now(),
	}, nil
}

// CollectSignal fetches only the signal series, which is all position
// monitoring needs.
func (c *Collector) CollectSignal(ctx context.Context, symbol string) (*model.MarketData, error) {
	signal, err := c.fetch(ctx, symbol, c.timeframes.Signal)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles: %w", c.timeframes.Signal, err)
	}
	return &model.MarketData{Symbol: symbol, Signal: signal, FetchedAt: time.Now()}, nil
}
