package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"BreakoutSentinel/internal/calculator"
	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/filter"
	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/notifier"
	"BreakoutSentinel/internal/recorder"
	"BreakoutSentinel/internal/risk"
	"BreakoutSentinel/internal/scanner"
	"BreakoutSentinel/internal/strategy"
)

// directionHint maps the scanner's side vocabulary to a direction.
func directionHint(s string) (model.Direction, bool) {
	switch s {
	case "long", "buy", "bullish":
		return model.Long, true
	case "short", "sell", "bearish":
		return model.Short, true
	}
	return "", false
}

// evaluate runs the entry pipeline for one candidate. It reports whether a
// signal was scored and whether a position was opened.
func (e *Engine) evaluate(ctx context.Context, cycleID string, c scanner.Candidate) (signaled, entered bool) {
	log := e.log.With().Str("symbol", c.Symbol).Logger()

	data, err := e.col.Collect(ctx, c.Symbol)
	if err != nil {
		log.Warn().Err(err).Msg("collect market data")
		return false, false
	}
	sigInd, err := calculator.Compute(data.Signal, e.calc)
	if err != nil {
		log.Debug().Err(err).Msg("signal timeframe")
		return false, false
	}
	trendInd, err := calculator.Compute(data.Trend, e.calc)
	if err != nil {
		log.Debug().Err(err).Msg("trend timeframe")
		return false, false
	}

	e.rememberPrice(c.Symbol, sigInd.Price)

	sig, ok := strategy.Detect(c.Symbol, sigInd, e.strat)
	if !ok {
		return false, false
	}
	if hint, ok := directionHint(c.Direction); ok && hint != sig.Direction {
		log.Debug().Str("signal", string(sig.Direction)).Str("scanner", string(hint)).Msg("direction disagrees with scanner")
		return false, false
	}

	ts := filter.Thresholds(trendInd, e.regimes)
	e.rememberThreshold(c.Symbol, ts)
	sig.ADXValue = trendInd.ADXValue
	sig.MTFAligned = !e.cfg.EnableMTFConfirmation ||
		strategy.MTFAligned(data.MTF, sig.Direction, e.cfg.MTFEMAFast, e.cfg.MTFEMASlow)
	scored := strategy.Score(sig, e.strat)

	journal := func(outcome, detail string) {
		if err := e.rec.RecordSignal(&recorder.SignalEvent{
			CycleID: cycleID, Signal: scored, Regime: ts.Regime, Outcome: outcome, Detail: detail,
		}); err != nil {
			log.Error().Err(err).Msg("record signal")
		}
	}

	if err := filter.Check(trendInd, ts, e.filt); err != nil {
		log.Debug().Err(err).Str("regime", string(ts.Regime)).Msg("market filter")
		journal(recorder.OutcomeFiltered, err.Error())
		return false, false
	}
	e.rememberSignal(scored)
	log.Info().
		Str("strategy", string(sig.Strategy)).
		Str("direction", string(sig.Direction)).
		Str("grade", string(sig.VolumeGrade)).
		Int("score", scored.Score).
		Str("tier", string(scored.Tier)).
		Msg("signal")

	pos, orderID, err := e.enter(ctx, c, scored)
	switch {
	case err == nil:
		journal(recorder.OutcomeEntered, "")
	case errors.Is(err, risk.ErrRiskBudgetExceeded), errors.Is(err, risk.ErrInvalidStop):
		log.Info().Err(err).Msg("entry refused")
		journal(recorder.OutcomeRefused, err.Error())
		return true, false
	case errors.Is(err, exchange.ErrRejected):
		log.Warn().Err(err).Msg("entry rejected by exchange")
		journal(recorder.OutcomeRejected, err.Error())
		return true, false
	default:
		log.Error().Err(err).Msg("entry failed")
		journal(recorder.OutcomeFailed, err.Error())
		return true, false
	}

	if err := e.rec.RecordEntry(&recorder.EntryEvent{CycleID: cycleID, Position: pos, OrderID: orderID}); err != nil {
		log.Error().Err(err).Msg("record entry")
	}
	e.notify(ctx, notifier.FormatEntry(pos, scored))
	if pos.StopOrderStale {
		e.alert(ctx, pos.Symbol, "hard stop placement failed after entry; local stop enforced until re-placed")
	}
	return true, true
}

// enter sizes, admits and executes one entry. The reservation is released
// unless the position is committed.
func (e *Engine) enter(ctx context.Context, c scanner.Candidate, sig model.ScoredSignal) (model.Position, string, error) {
	stop := risk.InitialStop(sig.Signal, e.risk.ATRMultiplier)
	balance := e.book.Balance()
	size, err := risk.Size(balance, sig.EntryPrice, stop, sig.SizeMultiplier, e.risk)
	if err != nil {
		return model.Position{}, "", err
	}
	size = exchange.RoundQuantity(e.ex, c.Symbol, size)
	if size <= 0 {
		return model.Position{}, "", fmt.Errorf("%w: size rounds to zero", risk.ErrRiskBudgetExceeded)
	}
	if err := exchange.CheckMinimum(e.ex, c.Symbol, size, sig.EntryPrice); err != nil {
		return model.Position{}, "", fmt.Errorf("%w: %w", risk.ErrRiskBudgetExceeded, err)
	}
	if err := exchange.Do(ctx, e.policy, exchange.Idempotent, func(ctx context.Context) error {
		return exchange.EnsureLeverage(ctx, e.ex, c.Symbol)
	}); err != nil {
		return model.Position{}, "", fmt.Errorf("set leverage: %w", err)
	}
	riskUnit := math.Abs(sig.EntryPrice - stop)

	id, err := e.book.Reserve(risk.Candidate{Symbol: c.Symbol, Group: c.Group, Risk: size * riskUnit})
	if err != nil {
		return model.Position{}, "", err
	}
	committed := false
	defer func() {
		if !committed {
			e.book.Release(id)
		}
	}()

	orderID, err := exchange.Call(ctx, e.policy, exchange.NotExecuted, func(ctx context.Context) (string, error) {
		return e.ex.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:   c.Symbol,
			Side:     sig.Direction,
			Quantity: size,
			Type:     exchange.OrderMarket,
		})
	})
	if err != nil {
		if !exchange.Uncertain(err) {
			return model.Position{}, "", fmt.Errorf("market entry: %w", err)
		}
		filled, ok := e.confirmEntry(ctx, c.Symbol, sig.Direction)
		if !ok {
			return model.Position{}, "", fmt.Errorf("market entry: %w", err)
		}
		e.log.Warn().Err(err).Str("symbol", c.Symbol).Float64("size", filled).Msg("entry outcome unknown, exchange shows a position")
		size = filled
	}

	now := e.now()
	pos := model.Position{
		Symbol:      c.Symbol,
		Group:       c.Group,
		Direction:   sig.Direction,
		Strategy:    sig.Strategy,
		Tier:        sig.Tier,
		EntryPrice:  sig.EntryPrice,
		EntryTime:   now,
		InitialStop: stop,
		RiskUnit:    riskUnit,
		InitialSize: size,
		CurrentSize: size,
		CurrentStop: stop,
		Stage:       model.StageOpen,
		UpdatedAt:   now,
	}

	if e.cfg.UseHardStopLoss {
		stopID, err := e.placeStop(ctx, pos.Symbol, pos.Direction.Opposite(), size, stop)
		if err != nil {
			e.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("place hard stop")
			pos.StopOrderStale = true
		}
		pos.StopOrderID = stopID
	}

	e.book.Commit(ctx, id, pos)
	committed = true
	return pos, orderID, nil
}

// confirmEntry asks the exchange whether an entry whose outcome is unknown
// opened a position.
func (e *Engine) confirmEntry(ctx context.Context, symbol string, dir model.Direction) (float64, bool) {
	infos, err := exchange.Call(ctx, e.policy, exchange.Idempotent, e.ex.GetOpenPositions)
	if err != nil {
		return 0, false
	}
	for _, info := range infos {
		if exchange.NormalizeSymbol(info.Symbol) == symbol && info.Direction == dir && info.Size > 0 {
			return info.Size, true
		}
	}
	return 0, false
}

func (e *Engine) placeStop(ctx context.Context, symbol string, side model.Direction, qty, price float64) (string, error) {
	return exchange.Call(ctx, e.policy, exchange.Idempotent, func(ctx context.Context) (string, error) {
		return e.ex.PlaceStopOrder(ctx, exchange.StopRequest{
			Symbol:    symbol,
			Side:      side,
			Quantity:  qty,
			StopPrice: price,
		})
	})
}
