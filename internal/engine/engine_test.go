package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BreakoutSentinel/internal/collector"
	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/portfolio"
	"BreakoutSentinel/internal/risk"
	"BreakoutSentinel/internal/scanner"
	"BreakoutSentinel/internal/statestore"
)

const symbol = "BTCUSDT"

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureNotifier) Notify(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	return nil
}

type capturePublisher struct {
	mu    sync.Mutex
	snaps []model.Snapshot
}

func (c *capturePublisher) Publish(s model.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

type harness struct {
	engine *Engine
	paper  *exchange.Paper
	book   *portfolio.Book
	note   *captureNotifier
	pub    *capturePublisher
}

func newHarness(t *testing.T, tweak func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Symbols = []string{"BTC/USDT"}
	cfg.UseScannerSymbols = false
	cfg.EnableMarketFilter = false
	cfg.EnableMTFConfirmation = false
	cfg.MaxRetry = 1
	cfg.RetryDelay = 0
	if tweak != nil {
		tweak(cfg)
	}

	log := zerolog.Nop()
	store, err := statestore.NewFileStore(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)

	paper := exchange.NewPaper(10000, nil)
	book := portfolio.NewBook(store, risk.ParamsFromConfig(cfg), log)
	note := &captureNotifier{}
	pub := &capturePublisher{}
	eng := New(cfg, Deps{
		Exchange:  paper,
		Collector: collector.NewCollector(paper, cfg, log),
		Scanner:   scanner.NewReader(cfg, log),
		Book:      book,
		Notifier:  note,
		Publisher: pub,
	}, log)
	return &harness{engine: eng, paper: paper, book: book, note: note, pub: pub}
}

func (h *harness) setBars(bars []model.OHLCV) {
	for _, tf := range []string{"1h", "1d"} {
		h.paper.SetCandles(symbol, tf, bars)
	}
}

func flatBars(n int) []model.OHLCV {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.OHLCV, n)
	for i := range bars {
		bars[i] = model.OHLCV{Time: start.Add(time.Duration(i) * time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
	}
	return bars
}

// breakoutBars is a flat range closed by a bullish bar on 5× volume.
func breakoutBars() []model.OHLCV {
	bars := flatBars(59)
	last := bars[len(bars)-1].Time.Add(time.Hour)
	return append(bars, model.OHLCV{Time: last, Open: 100, High: 106, Low: 99.5, Close: 105, Volume: 5000})
}

func withBar(bars []model.OHLCV, b model.OHLCV) []model.OHLCV {
	b.Time = bars[len(bars)-1].Time.Add(time.Hour)
	return append(append([]model.OHLCV(nil), bars...), b)
}

func (h *harness) enter(t *testing.T) model.Position {
	t.Helper()
	h.setBars(breakoutBars())
	require.NoError(t, h.engine.RunCycle(context.Background()))
	pos, ok := h.book.Get(symbol)
	require.True(t, ok, "expected an open position after the breakout cycle")
	return pos
}

func TestRunCycle_OpensBreakoutWithHardStop(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	assert.Equal(t, model.Long, pos.Direction)
	assert.Equal(t, model.StrategyVolumeBreakout, pos.Strategy)
	assert.Equal(t, 105.0, pos.EntryPrice)
	assert.Equal(t, model.StageOpen, pos.Stage)
	assert.Less(t, pos.InitialStop, 99.0, "stop sits below the swing low by an ATR buffer")
	assert.InDelta(t, pos.EntryPrice-pos.InitialStop, pos.RiskUnit, 1e-9)

	ledger := h.book.Ledger()
	assert.LessOrEqual(t, ledger.TotalRiskFraction, 0.01+1e-9)
	assert.Greater(t, ledger.TotalRiskFraction, 0.0)

	orders := h.paper.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, model.Long, orders[0].Side)
	assert.InDelta(t, pos.CurrentSize, orders[0].Quantity, 1e-9)

	stops := h.paper.Stops()
	require.Len(t, stops, 1)
	stop := stops[pos.StopOrderID]
	assert.Equal(t, model.Short, stop.Side)
	assert.Equal(t, pos.CurrentStop, stop.StopPrice)
	assert.False(t, pos.StopOrderStale)

	require.NotEmpty(t, h.pub.snaps)
	snap := h.pub.snaps[len(h.pub.snaps)-1]
	assert.Len(t, snap.Positions, 1)
	assert.Len(t, snap.Signals, 1)
	assert.Equal(t, "static", snap.Source)
	assert.Equal(t, snap, h.engine.Snapshot())

	h.note.mu.Lock()
	defer h.note.mu.Unlock()
	require.NotEmpty(t, h.note.msgs)
	assert.Contains(t, h.note.msgs[0], "Entry")
}

func TestRunCycle_HeldSymbolIsNotReentered(t *testing.T) {
	h := newHarness(t, nil)
	h.enter(t)
	require.NoError(t, h.engine.RunCycle(context.Background()))
	assert.Len(t, h.paper.Orders(), 1)
}

func TestRunCycle_AdvancesToBreakevenAndMovesStop(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)
	oldStopID := pos.StopOrderID

	h.setBars(withBar(breakoutBars(), model.OHLCV{Open: 105, High: 117, Low: 104, Close: 116, Volume: 1500}))
	require.NoError(t, h.engine.RunCycle(context.Background()))

	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, model.StageBreakeven, next.Stage)
	assert.InDelta(t, pos.PriceAtR(0.3), next.CurrentStop, 1e-9)
	assert.Equal(t, pos.CurrentSize, next.CurrentSize)

	stops := h.paper.Stops()
	require.Len(t, stops, 1, "old stop is cancelled once the new one rests")
	_, oldStillThere := stops[oldStopID]
	assert.False(t, oldStillThere)
	assert.Equal(t, next.CurrentStop, stops[next.StopOrderID].StopPrice)
}

func TestRunCycle_StopFilledOnExchangeClosesPosition(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	// The bar trades through the resting stop, which the paper venue fills.
	h.setBars(withBar(breakoutBars(), model.OHLCV{Open: 105, High: 105, Low: 90, Close: 91, Volume: 1000}))
	require.NoError(t, h.engine.RunCycle(context.Background()))

	_, ok := h.book.Get(symbol)
	assert.False(t, ok)
	assert.Empty(t, h.paper.Stops())
	assert.Len(t, h.paper.Orders(), 1, "a filled stop needs no market order")

	bal, err := h.paper.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000-pos.CurrentSize*pos.RiskUnit, bal, 1e-6)
}

func TestRunCycle_StopRejectedAfterEntryIsReplacedNextCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.FailNext(exchange.OpStop, &exchange.Error{Op: exchange.OpStop, Kind: exchange.ErrRejected, Err: errors.New("stop price would trigger")})

	pos := h.enter(t)
	assert.True(t, pos.StopOrderStale)
	assert.Empty(t, pos.StopOrderID)
	assert.Empty(t, h.paper.Stops())

	require.NoError(t, h.engine.RunCycle(context.Background()))
	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.False(t, next.StopOrderStale)
	require.Len(t, h.paper.Stops(), 1)
	assert.Equal(t, next.CurrentStop, h.paper.Stops()[next.StopOrderID].StopPrice)
}

func TestRunCycle_RejectedEntryReleasesReservation(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.FailNext(exchange.OpOrder, &exchange.Error{Op: exchange.OpOrder, Kind: exchange.ErrRejected, Err: errors.New("insufficient margin")})
	h.setBars(breakoutBars())

	require.NoError(t, h.engine.RunCycle(context.Background()))

	assert.Empty(t, h.book.Positions())
	assert.Zero(t, h.book.Ledger().TotalRisk)
	assert.False(t, h.book.Held(symbol))
	assert.Empty(t, h.paper.Stops())
}

func TestRunCycle_BalanceFailureSkipsEntries(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.FailNext(exchange.OpBalance, &exchange.Error{Op: exchange.OpBalance, Kind: exchange.ErrConnectivity, Err: errors.New("timeout")})
	h.setBars(breakoutBars())

	require.NoError(t, h.engine.RunCycle(context.Background()))
	assert.Empty(t, h.paper.Orders())
}

func TestRunCycle_ShortsDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.TradingDirection = "short" })
	h.setBars(breakoutBars())
	require.NoError(t, h.engine.RunCycle(context.Background()))
	assert.Empty(t, h.paper.Orders())
}

func TestCloseAll(t *testing.T) {
	h := newHarness(t, nil)
	h.enter(t)

	assert.Equal(t, 1, h.engine.CloseAll(context.Background()))
	assert.Empty(t, h.book.Positions())
	assert.Empty(t, h.paper.Stops())
	infos, err := h.paper.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)

	assert.Equal(t, 0, h.engine.CloseAll(context.Background()))
}

func TestRunCycle_ReconcileAdoptsSmallerExchangeSize(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	// Someone reduced the position by hand.
	_, err := h.paper.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: symbol, Side: model.Short, Quantity: pos.CurrentSize / 2, Type: exchange.OrderMarket, ReduceOnly: true,
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunCycle(context.Background()))
	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.InDelta(t, pos.CurrentSize/2, next.CurrentSize, 1e-9)
	assert.False(t, next.StopOrderStale, "stop is re-placed for the remaining size")
	require.Len(t, h.paper.Stops(), 1)
	assert.InDelta(t, next.CurrentSize, h.paper.Stops()[next.StopOrderID].Quantity, 1e-9)
}

// partialBar lifts price past 1.5R so one tick reaches PARTIAL_1.
var partialBar = model.OHLCV{Open: 105, High: 122, Low: 104, Close: 121, Volume: 1500}

func TestRunCycle_PartialExit(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	h.setBars(withBar(breakoutBars(), partialBar))
	require.NoError(t, h.engine.RunCycle(context.Background()))

	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, model.StagePartial1, next.Stage)
	assert.InDelta(t, pos.InitialSize*0.7, next.CurrentSize, 1e-9)
	assert.InDelta(t, pos.PriceAtR(0.5), next.CurrentStop, 1e-9)

	orders := h.paper.Orders()
	require.Len(t, orders, 2)
	assert.True(t, orders[1].ReduceOnly)
	assert.InDelta(t, pos.InitialSize*0.3, orders[1].Quantity, 1e-9)
	require.Len(t, h.paper.Stops(), 1)
	assert.InDelta(t, next.CurrentSize, h.paper.Stops()[next.StopOrderID].Quantity, 1e-9)
}

func TestRunCycle_RejectedPartialKeepsStageAndTightensLocally(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	h.setBars(withBar(breakoutBars(), partialBar))
	h.paper.FailNext(exchange.OpOrder, &exchange.Error{Op: exchange.OpOrder, Kind: exchange.ErrRejected, Err: errors.New("reduce only rejected")})
	require.NoError(t, h.engine.RunCycle(context.Background()))

	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, model.StageOpen, next.Stage)
	assert.Equal(t, pos.CurrentSize, next.CurrentSize)
	assert.InDelta(t, pos.PriceAtR(0.5), next.CurrentStop, 1e-9)
	assert.True(t, next.StopOrderStale)
}

func TestRunCycle_UncertainPartialAssumesFilled(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	h.setBars(withBar(breakoutBars(), partialBar))
	h.paper.FailNext(exchange.OpOrder, &exchange.Error{Op: exchange.OpOrder, Kind: exchange.ErrConnectivity, Err: errors.New("read timeout")})
	require.NoError(t, h.engine.RunCycle(context.Background()))

	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, model.StagePartial1, next.Stage)
	assert.InDelta(t, pos.InitialSize*0.7, next.CurrentSize, 1e-9)

	h.note.mu.Lock()
	defer h.note.mu.Unlock()
	found := false
	for _, m := range h.note.msgs {
		if containsAll(m, "outcome unknown") {
			found = true
		}
	}
	assert.True(t, found, "operator is alerted about the unknown outcome")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestRunCycle_PartialExitFollowsLotRounding(t *testing.T) {
	// The notional cap binds at 2.35 lots of 0.1, so the entry is 2.3 and
	// the 30% partial of 0.69 goes out as 0.6.
	h := newHarness(t, func(c *config.Config) {
		c.Leverage = 1
		c.MaxPositionPercent = 0.024675
	})
	h.paper.SetFilters(symbol, exchange.Filters{StepSize: 0.1})
	pos := h.enter(t)
	require.InDelta(t, 2.3, pos.InitialSize, 1e-9)

	h.setBars(withBar(breakoutBars(), partialBar))
	require.NoError(t, h.engine.RunCycle(context.Background()))

	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, model.StagePartial1, next.Stage)

	orders := h.paper.Orders()
	require.Len(t, orders, 2)
	assert.InDelta(t, 0.6, orders[1].Quantity, 1e-9)

	infos, err := h.paper.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.InDelta(t, 1.7, infos[0].Size, 1e-9)
	assert.InDelta(t, infos[0].Size, next.CurrentSize, 1e-9, "book matches the exchange")

	require.Len(t, h.paper.Stops(), 1)
	assert.InDelta(t, infos[0].Size, h.paper.Stops()[next.StopOrderID].Quantity, 1e-9, "hard stop covers the whole position")

	// Nothing to reconcile on the next pass.
	require.NoError(t, h.engine.RunCycle(context.Background()))
	again, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.InDelta(t, next.CurrentSize, again.CurrentSize, 1e-9)
	assert.False(t, again.StopOrderStale)
}

func TestRunCycle_PartialBelowOneLotKeepsStage(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Leverage = 1
		c.MaxPositionPercent = 0.024675
	})
	pos := h.enter(t)
	// After entry the venue moves to whole lots, so 30% of the position no
	// longer makes one.
	h.paper.SetFilters(symbol, exchange.Filters{StepSize: 1})

	h.setBars(withBar(breakoutBars(), partialBar))
	require.NoError(t, h.engine.RunCycle(context.Background()))

	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, model.StageOpen, next.Stage)
	assert.Equal(t, pos.CurrentSize, next.CurrentSize)
	assert.InDelta(t, pos.PriceAtR(0.5), next.CurrentStop, 1e-9)
	assert.Len(t, h.paper.Orders(), 1)
}

func TestRunCycle_UndersizedEntryIsRefused(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetFilters(symbol, exchange.Filters{MinNotional: 1e7})
	h.setBars(breakoutBars())

	require.NoError(t, h.engine.RunCycle(context.Background()))

	assert.Empty(t, h.paper.Orders())
	assert.Empty(t, h.book.Positions())
	assert.Zero(t, h.book.Ledger().TotalRisk)
	assert.False(t, h.book.Held(symbol))
}

func TestRunCycle_ReconcileAlertsOnLargerExchangeSize(t *testing.T) {
	h := newHarness(t, nil)
	pos := h.enter(t)

	// Someone added to the position by hand.
	_, err := h.paper.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: symbol, Side: model.Long, Quantity: pos.CurrentSize, Type: exchange.OrderMarket,
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunCycle(context.Background()))
	next, ok := h.book.Get(symbol)
	require.True(t, ok)
	assert.Equal(t, pos.CurrentSize, next.CurrentSize, "the book never grows on its own")

	h.note.mu.Lock()
	defer h.note.mu.Unlock()
	found := false
	for _, m := range h.note.msgs {
		if containsAll(m, "exchange holds", "book holds") {
			found = true
		}
	}
	assert.True(t, found, "operator is alerted about the larger exchange size")
}
