// Package engine runs the trading cycle: reconcile, evaluate candidates,
// admit entries, advance open positions and publish a snapshot.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"BreakoutSentinel/internal/calculator"
	"BreakoutSentinel/internal/collector"
	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/filter"
	"BreakoutSentinel/internal/lifecycle"
	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/notifier"
	"BreakoutSentinel/internal/portfolio"
	"BreakoutSentinel/internal/recorder"
	"BreakoutSentinel/internal/risk"
	"BreakoutSentinel/internal/scanner"
	"BreakoutSentinel/internal/strategy"
)

const recentSignals = 50

// Publisher receives the snapshot of each finished cycle. It must not block.
type Publisher interface {
	Publish(snap model.Snapshot)
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Exchange  exchange.Exchange
	Collector *collector.Collector
	Scanner   *scanner.Reader
	Book      *portfolio.Book
	Recorder  recorder.Recorder
	Notifier  notifier.Notifier
	Publisher Publisher
}

// Engine owns one trading loop. RunCycle and CloseAll are serialized.
type Engine struct {
	cfg  *config.Config
	ex   exchange.Exchange
	col  *collector.Collector
	scan *scanner.Reader
	book *portfolio.Book
	rec  recorder.Recorder
	note notifier.Notifier
	pub  Publisher

	calc    calculator.Params
	strat   strategy.Params
	filt    filter.Params
	regimes filter.Regimes
	risk    risk.Params
	life    lifecycle.Params
	policy  exchange.RetryPolicy

	cycleMu sync.Mutex

	mu         sync.Mutex
	last       model.Snapshot
	signals    []model.ScoredSignal
	thresholds map[string]model.ThresholdState
	prices     map[string]float64

	now func() time.Time
	log zerolog.Logger
}

// New wires an Engine from cfg and deps. Nil Recorder, Notifier and
// Publisher are replaced by no-ops.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Engine {
	l := log.With().Str("component", "engine").Logger()
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewLogNotifier(log)
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	return &Engine{
		cfg:        cfg,
		ex:         deps.Exchange,
		col:        deps.Collector,
		scan:       deps.Scanner,
		book:       deps.Book,
		rec:        deps.Recorder,
		note:       deps.Notifier,
		pub:        deps.Publisher,
		calc:       calculator.ParamsFromConfig(cfg),
		strat:      strategy.ParamsFromConfig(cfg),
		filt:       filter.ParamsFromConfig(cfg),
		regimes:    filter.RegimesFromConfig(cfg),
		risk:       risk.ParamsFromConfig(cfg),
		life:       lifecycle.ParamsFromConfig(cfg),
		policy:     exchange.PolicyFromConfig(cfg),
		thresholds: make(map[string]model.ThresholdState),
		prices:     make(map[string]float64),
		now:        time.Now,
		log:        l,
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.Snapshot) {}

// Restore loads persisted positions into the book and reconciles them
// against the exchange on the next cycle.
func (e *Engine) Restore(ctx context.Context) error {
	n, err := e.book.Restore(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		e.log.Info().Int("positions", n).Msg("restored open positions")
	}
	return nil
}

// RunCycle executes one full cycle. Per-symbol failures are logged and
// journaled; only cancellation of ctx is returned.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cycleID := uuid.NewString()
	started := e.now()
	log := e.log.With().Str("cycle", cycleID[:8]).Logger()

	balanceOK := e.refreshBalance(ctx, log)
	stopFilled := e.reconcile(ctx, cycleID, log)
	open := e.book.Positions()

	candidates, source := e.scan.Candidates()
	var signals, entries atomic.Int32
	if balanceOK {
		g := new(errgroup.Group)
		g.SetLimit(e.parallel())
		for _, c := range candidates {
			c := c // per-iteration copy (go 1.21 loop semantics)
			if e.book.Held(c.Symbol) {
				continue
			}
			g.Go(func() error {
				sig, entered := e.evaluate(ctx, cycleID, c)
				if sig {
					signals.Add(1)
				}
				if entered {
					entries.Add(1)
				}
				return nil
			})
		}
		g.Wait()
	} else {
		log.Warn().Msg("balance unavailable, skipping entries this cycle")
	}

	g := new(errgroup.Group)
	g.SetLimit(e.parallel())
	for _, pos := range open {
		pos := pos // per-iteration copy (go 1.21 loop semantics)
		filled := stopFilled[pos.Symbol]
		g.Go(func() error {
			e.monitor(ctx, cycleID, pos, filled)
			return nil
		})
	}
	g.Wait()

	snap := e.buildSnapshot(cycleID, candidates, source)
	e.pub.Publish(snap)

	dur := e.now().Sub(started)
	if err := e.rec.RecordCycle(&recorder.CycleEvent{
		CycleID:       cycleID,
		StartedAt:     started,
		Duration:      dur,
		Source:        string(source),
		Candidates:    len(candidates),
		Signals:       int(signals.Load()),
		Entries:       int(entries.Load()),
		OpenPositions: len(snap.Positions),
		RiskFraction:  snap.Ledger.TotalRiskFraction,
		Balance:       snap.Balance,
	}); err != nil {
		log.Error().Err(err).Msg("record cycle")
	}

	log.Info().
		Str("source", string(source)).
		Int("candidates", len(candidates)).
		Int32("signals", signals.Load()).
		Int32("entries", entries.Load()).
		Int("positions", len(snap.Positions)).
		Float64("risk", snap.Ledger.TotalRiskFraction).
		Dur("took", dur).
		Msg("cycle complete")
	return ctx.Err()
}

func (e *Engine) parallel() int {
	if e.cfg.MaxParallelSymbols > 0 {
		return e.cfg.MaxParallelSymbols
	}
	return 1
}

// refreshBalance updates the book's balance snapshot. On failure the last
// snapshot stays and the caller skips entries.
func (e *Engine) refreshBalance(ctx context.Context, log zerolog.Logger) bool {
	bal, err := exchange.Call(ctx, e.policy, exchange.Idempotent, e.ex.GetBalance)
	if err != nil {
		log.Error().Err(err).Msg("refresh balance")
		return false
	}
	e.book.SetBalance(bal)
	return bal > 0
}

// Snapshot returns the snapshot of the last finished cycle.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Positions returns the live open positions.
func (e *Engine) Positions() []model.Position { return e.book.Positions() }

// Ledger returns the live risk ledger.
func (e *Engine) Ledger() model.RiskLedger { return e.book.Ledger() }

func (e *Engine) buildSnapshot(cycleID string, candidates []scanner.Candidate, source scanner.Source) model.Snapshot {
	syms := make([]string, len(candidates))
	for i, c := range candidates {
		syms[i] = c.Symbol
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	thresholds := make(map[string]model.ThresholdState, len(e.thresholds))
	for k, v := range e.thresholds {
		thresholds[k] = v
	}
	snap := model.Snapshot{
		CycleID:    cycleID,
		Time:       e.now(),
		Balance:    e.book.Balance(),
		Candidates: syms,
		Source:     string(source),
		Positions:  e.book.Positions(),
		Signals:    append([]model.ScoredSignal(nil), e.signals...),
		Ledger:     e.book.Ledger(),
		Thresholds: thresholds,
	}
	e.last = snap
	return snap
}

func (e *Engine) rememberSignal(sig model.ScoredSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, sig)
	if n := len(e.signals); n > recentSignals {
		e.signals = append([]model.ScoredSignal(nil), e.signals[n-recentSignals:]...)
	}
}

func (e *Engine) rememberPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

func (e *Engine) rememberThreshold(symbol string, ts model.ThresholdState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds[symbol] = ts
}

// alert logs, journals and notifies an operator-facing problem.
func (e *Engine) alert(ctx context.Context, symbol, msg string) {
	e.log.Error().Str("symbol", symbol).Msg(msg)
	if err := e.rec.RecordAlert(&recorder.AlertEvent{Level: "error", Symbol: symbol, Message: msg}); err != nil {
		e.log.Error().Err(err).Msg("record alert")
	}
	e.notify(ctx, notifier.FormatAlert(symbol, msg))
}

func (e *Engine) notify(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := e.note.Notify(ctx, text); err != nil {
		e.log.Warn().Err(err).Msg("notify")
	}
}

// CloseAll exits every open position at market and cancels its hard stop.
// It waits for a running cycle to finish and returns how many positions were
// closed. Calling it with nothing open is a no-op.
func (e *Engine) CloseAll(ctx context.Context) int {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cycleID := "closeall-" + uuid.NewString()[:8]
	closed := 0
	for _, pos := range e.book.Positions() {
		price := e.lastPrice(pos.Symbol, pos)
		if data, err := e.col.CollectSignal(ctx, pos.Symbol); err == nil && len(data.Signal) > 0 {
			price = data.Signal[len(data.Signal)-1].Close
		}

		now := e.now()
		next := pos
		next.Stage = model.StageClosed
		next.CurrentSize = 0
		next.TrailingActive = false
		next.ExitReason = model.ExitManual
		next.ExitPrice = price
		next.ClosedAt = now
		next.UpdatedAt = now

		actions := []model.Action{{
			Kind:   model.ActionClose,
			Symbol: pos.Symbol,
			Side:   pos.Direction.Opposite(),
			Qty:    pos.CurrentSize,
			Reason: model.ExitManual,
		}}
		if pos.StopOrderID != "" {
			actions = append(actions, model.Action{Kind: model.ActionCancelStop, Symbol: pos.Symbol, OrderID: pos.StopOrderID})
		}

		stored := e.book.Update(ctx, e.execute(ctx, cycleID, pos, next, actions))
		if !stored.Closed() {
			continue
		}
		closed++
		e.journalPosition(cycleID, stored, model.Action{Kind: model.ActionClose, Price: price, Reason: model.ExitManual}, "")
		e.notify(ctx, notifier.FormatExit(stored))
	}
	if closed > 0 {
		e.log.Info().Int("closed", closed).Msg("closed all positions")
	}
	return closed
}
