package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/calculator"
	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/lifecycle"
	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/notifier"
)

// sizeEpsilon absorbs lot rounding when comparing local and exchange sizes.
const sizeEpsilon = 1e-9

// reconcile compares the book with the exchange. A position the exchange no
// longer holds is reported as a filled stop; a smaller exchange size is
// adopted. A larger exchange size is only alerted, since the book never adds
// to a position on its own. When the exchange cannot be read nothing changes.
func (e *Engine) reconcile(ctx context.Context, cycleID string, log zerolog.Logger) map[string]bool {
	local := e.book.Positions()
	if len(local) == 0 {
		return nil
	}
	infos, err := exchange.Call(ctx, e.policy, exchange.Idempotent, e.ex.GetOpenPositions)
	if err != nil {
		log.Error().Err(err).Msg("fetch exchange positions, skipping reconcile")
		return nil
	}
	remote := make(map[string]exchange.PositionInfo, len(infos))
	for _, info := range infos {
		remote[exchange.NormalizeSymbol(info.Symbol)] = info
	}

	filled := make(map[string]bool)
	for _, pos := range local {
		info, ok := remote[pos.Symbol]
		switch {
		case !ok || info.Size <= sizeEpsilon:
			log.Info().Str("symbol", pos.Symbol).Msg("position gone from exchange, treating as stop fill")
			filled[pos.Symbol] = true
		case info.Direction != pos.Direction:
			e.alert(ctx, pos.Symbol, fmt.Sprintf("exchange holds a %s position, book holds %s", info.Direction, pos.Direction))
		case info.Size < pos.CurrentSize-sizeEpsilon:
			log.Warn().Str("symbol", pos.Symbol).
				Float64("local", pos.CurrentSize).Float64("exchange", info.Size).
				Msg("adopting smaller exchange size")
			next := pos
			next.CurrentSize = info.Size
			if pos.StopOrderID != "" {
				next.StopOrderStale = true
			}
			e.book.Update(ctx, next)
			e.journalPosition(cycleID, next, model.Action{Kind: model.ActionReduce, Qty: pos.CurrentSize - info.Size}, "reconciled")
		case info.Size > pos.CurrentSize+sizeEpsilon:
			e.alert(ctx, pos.Symbol, fmt.Sprintf("exchange holds %g, book holds %g; the hard stop covers only the book size", info.Size, pos.CurrentSize))
		}
	}
	return filled
}

// monitor advances one open position by one tick and applies the result.
func (e *Engine) monitor(ctx context.Context, cycleID string, pos model.Position, stopFilled bool) {
	log := e.log.With().Str("symbol", pos.Symbol).Logger()

	// Reconcile may have shrunk the position since the cycle started.
	if cur, ok := e.book.Get(pos.Symbol); ok {
		pos = cur
	} else {
		return
	}

	snap := lifecycle.Snapshot{Time: e.now(), StopFilled: stopFilled, Price: pos.CurrentStop}
	if !stopFilled {
		data, err := e.col.CollectSignal(ctx, pos.Symbol)
		if err != nil {
			log.Warn().Err(err).Msg("collect market data, position not advanced")
			return
		}
		bars := data.Signal
		if len(bars) == 0 {
			log.Warn().Msg("no candles, position not advanced")
			return
		}
		snap.Price = bars[len(bars)-1].Close
		e.rememberPrice(pos.Symbol, snap.Price)
		snap.Recent = bars[:len(bars)-1]
		if ind, err := calculator.Compute(bars, e.calc); err == nil {
			snap.ATR = ind.ATRValue
		} else {
			log.Debug().Err(err).Msg("no ATR, trailing paused")
		}
	}

	next, actions := lifecycle.Advance(pos, snap, e.life)
	if next.StopOrderStale && !next.Closed() && !hasKind(actions, model.ActionMoveStop) && e.cfg.UseHardStopLoss {
		actions = append(actions, model.Action{
			Kind:    model.ActionMoveStop,
			Symbol:  next.Symbol,
			Side:    next.Direction.Opposite(),
			Qty:     next.CurrentSize,
			Price:   next.CurrentStop,
			OrderID: next.StopOrderID,
		})
	}
	if len(actions) == 0 && next.Stage == pos.Stage && !next.Closed() {
		return
	}

	applied := e.execute(ctx, cycleID, pos, next, actions)
	stored := e.book.Update(ctx, applied)
	if stored.Closed() {
		log.Info().Str("reason", string(stored.ExitReason)).Float64("r", stored.R(stored.ExitPrice)).Msg("position closed")
		e.journalPosition(cycleID, stored, model.Action{Kind: model.ActionClose, Price: stored.ExitPrice, Reason: stored.ExitReason}, "")
		e.notify(ctx, notifier.FormatExit(stored))
	} else if stored.Stage != pos.Stage {
		log.Info().Str("from", pos.Stage.String()).Str("to", stored.Stage.String()).Float64("stop", stored.CurrentStop).Msg("stage advanced")
	}
}

func hasKind(actions []model.Action, kind model.ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}
