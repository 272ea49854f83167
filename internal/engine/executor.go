package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/notifier"
	"BreakoutSentinel/internal/recorder"
)

// execute performs the actions of one transition from prev to next and
// returns the state that should be stored. Failures resolve toward the side
// that keeps risk smallest:
//   - a rejected market order, or a partial that rounds to zero lots, keeps
//     prev's size and stage, with the tighter of the two stops enforced locally;
//   - a sent reduce sets the size from the rounded quantity, so the book and
//     the hard stop match what the exchange holds;
//   - a market order with an unknown outcome on reduce adopts next, since the
//     smaller size is the conservative assumption, and reconcile corrects it;
//   - a market close with an unknown outcome keeps the position and its hard
//     stop, and reconcile closes it once the exchange shows it flat;
//   - a failed stop update marks the stop stale so the next tick re-places it.
func (e *Engine) execute(ctx context.Context, cycleID string, prev, next model.Position, actions []model.Action) model.Position {
	for _, act := range actions {
		switch act.Kind {
		case model.ActionReduce:
			qty := exchange.RoundQuantity(e.ex, act.Symbol, act.Qty)
			if qty <= 0 {
				e.journalPosition(cycleID, prev, act, "partial size rounds to zero")
				return keepPrevious(prev, next)
			}
			err := e.marketReduce(ctx, act.Symbol, act.Side, qty)
			if err != nil && !exchange.Uncertain(err) {
				e.journalPosition(cycleID, prev, act, err.Error())
				e.alert(ctx, act.Symbol, fmt.Sprintf("partial exit rejected: %v", err))
				return keepPrevious(prev, next)
			}
			// The book follows what was sent, not the unrounded target.
			next.CurrentSize = decimal.NewFromFloat(prev.CurrentSize).Sub(decimal.NewFromFloat(qty)).InexactFloat64()
			act.Qty = qty
			if err != nil {
				e.journalPosition(cycleID, next, act, err.Error())
				e.alert(ctx, act.Symbol, fmt.Sprintf("partial exit outcome unknown, assuming filled: %v", err))
			} else {
				e.journalPosition(cycleID, next, act, "")
			}
			e.notify(ctx, notifier.FormatAction(next, model.Action{Kind: act.Kind, Qty: qty, Price: e.lastPrice(act.Symbol, next)}))

		case model.ActionMoveStop:
			if !e.cfg.UseHardStopLoss {
				continue
			}
			act.Qty = next.CurrentSize
			next = e.moveStop(ctx, cycleID, next, act)

		case model.ActionClose:
			qty := exchange.RoundQuantity(e.ex, act.Symbol, act.Qty)
			if qty <= 0 {
				// Nothing tradable is left; the dust is the exchange's to clear.
				continue
			}
			err := e.marketReduce(ctx, act.Symbol, act.Side, qty)
			if err != nil {
				e.journalPosition(cycleID, prev, act, err.Error())
				if exchange.Uncertain(err) {
					e.alert(ctx, act.Symbol, fmt.Sprintf("exit (%s) outcome unknown, keeping hard stop until the exchange confirms: %v", act.Reason, err))
				} else {
					e.alert(ctx, act.Symbol, fmt.Sprintf("exit (%s) rejected: %v", act.Reason, err))
				}
				return keepPrevious(prev, next)
			}

		case model.ActionCancelStop:
			if act.OrderID == "" {
				continue
			}
			if err := e.cancelStop(ctx, act.Symbol, act.OrderID); err != nil {
				e.log.Warn().Err(err).Str("symbol", act.Symbol).Str("order", act.OrderID).Msg("cancel stop after exit")
				e.journalPosition(cycleID, next, act, err.Error())
			}
			next.StopOrderID = ""
		}
	}
	return next
}

// keepPrevious is prev with the tighter of the two stops. A stop tighter than
// the one resting at the exchange is marked stale so it gets re-placed.
func keepPrevious(prev, next model.Position) model.Position {
	out := prev
	if next.CurrentStop > 0 && prev.Tighter(next.CurrentStop) {
		out.CurrentStop = next.CurrentStop
		if out.StopOrderID != "" {
			out.StopOrderStale = true
		}
	}
	return out
}

// moveStop replaces the hard stop: the new order is placed before the old
// one is cancelled, so the position is never unprotected.
func (e *Engine) moveStop(ctx context.Context, cycleID string, pos model.Position, act model.Action) model.Position {
	qty := exchange.RoundQuantity(e.ex, act.Symbol, act.Qty)
	newID, err := e.placeStop(ctx, act.Symbol, act.Side, qty, act.Price)
	if err != nil {
		pos.StopOrderStale = true
		e.journalPosition(cycleID, pos, act, err.Error())
		e.alert(ctx, act.Symbol, fmt.Sprintf("stop update to %.6g failed, local stop enforced: %v", act.Price, err))
		return pos
	}
	if act.OrderID != "" && act.OrderID != newID {
		if err := e.cancelStop(ctx, act.Symbol, act.OrderID); err != nil {
			e.log.Warn().Err(err).Str("symbol", act.Symbol).Str("order", act.OrderID).Msg("cancel replaced stop")
		}
	}
	pos.StopOrderID = newID
	pos.StopOrderStale = false
	e.journalPosition(cycleID, pos, act, "")
	return pos
}

func (e *Engine) marketReduce(ctx context.Context, symbol string, side model.Direction, qty float64) error {
	_, err := exchange.Call(ctx, e.policy, exchange.NotExecuted, func(ctx context.Context) (string, error) {
		return e.ex.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			Type:       exchange.OrderMarket,
			ReduceOnly: true,
		})
	})
	return err
}

func (e *Engine) cancelStop(ctx context.Context, symbol, orderID string) error {
	return exchange.Do(ctx, e.policy, exchange.Idempotent, func(ctx context.Context) error {
		return e.ex.CancelOrder(ctx, symbol, orderID)
	})
}

// lastPrice is the most recent price the engine knows for symbol.
func (e *Engine) lastPrice(symbol string, pos model.Position) float64 {
	if pos.ExitPrice > 0 {
		return pos.ExitPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.prices[symbol]; ok {
		return p
	}
	return pos.EntryPrice
}

func (e *Engine) journalPosition(cycleID string, pos model.Position, act model.Action, errText string) {
	price := act.Price
	if price == 0 {
		price = pos.ExitPrice
	}
	if err := e.rec.RecordPositionEvent(&recorder.PositionEvent{
		CycleID: cycleID,
		Symbol:  pos.Symbol,
		Kind:    act.Kind,
		Stage:   pos.Stage,
		Price:   price,
		Qty:     act.Qty,
		Size:    pos.CurrentSize,
		Stop:    pos.CurrentStop,
		Reason:  act.Reason,
		Err:     errText,
	}); err != nil {
		e.log.Error().Err(err).Msg("record position event")
	}
}
