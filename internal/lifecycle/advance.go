// Package lifecycle implements the exit state machine shared by every
// position, whatever its entry strategy or tier.
//
//	OPEN → BREAKEVEN → PARTIAL_1 → PARTIAL_2_TRAILING → CLOSED
//
// Any stage may jump to CLOSED on a stop fill, a local stop breach, a
// structure break or a timeout. Advance is pure; the caller executes the
// returned actions at the exchange.
package lifecycle

import (
	"math"
	"time"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/model"
)

// R levels of the exit procedure.
const (
	breakevenR     = 1.0
	breakevenLockR = 0.3
	firstPartialR  = 1.5
	firstLockR     = 0.5
	secondPartialR = 2.5
	secondLockR    = 1.5
	timeoutMaxR    = 1.5
)

// dust is the size below which a remainder counts as nothing.
const dust = 1e-12

// Params is the lifecycle view of the configuration.
type Params struct {
	FirstPartialPct  float64
	SecondPartialPct float64
	TrailingATRMult  float64
	MaxHold          time.Duration

	StructureBreak   bool
	StructureCandles int
	StructurePct     float64
}

// ParamsFromConfig extracts Params from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		FirstPartialPct:  cfg.FirstPartialPct,
		SecondPartialPct: cfg.SecondPartialPct,
		TrailingATRMult:  cfg.APlusTrailingATRMult,
		MaxHold:          cfg.MaxHold(),
		StructureBreak:   cfg.EnableStructureBreakExit,
		StructureCandles: cfg.StructureBreakCandles,
		StructurePct:     cfg.StructureBreakPct,
	}
}

// Snapshot is the market state one tick is evaluated against.
type Snapshot struct {
	Price float64
	ATR   float64
	Time  time.Time
	// Recent holds the closed candles before the current one, oldest-first.
	Recent []model.OHLCV
	// StopFilled is set when the exchange no longer holds the position,
	// meaning the hard stop executed.
	StopFilled bool
}

// Advance evaluates one tick for pos and returns its next state together with
// the exchange actions the transition requires. Evaluating the returned
// position again with the same snapshot yields no actions.
func Advance(pos model.Position, snap Snapshot, p Params) (model.Position, []model.Action) {
	if pos.Closed() {
		return pos, nil
	}

	switch {
	case snap.StopFilled:
		return closeOut(pos, snap, model.ExitStopFilled)
	case pos.StopBreached(snap.Price):
		return closeOut(pos, snap, model.ExitStopHit)
	case p.StructureBreak && structureBroken(pos, snap, p):
		return closeOut(pos, snap, model.ExitStructureBreak)
	}

	r := pos.R(snap.Price)
	if !pos.EntryTime.IsZero() && p.MaxHold > 0 && snap.Time.Sub(pos.EntryTime) > p.MaxHold && r < timeoutMaxR {
		return closeOut(pos, snap, model.ExitTimeout)
	}

	next := pos
	stop := pos.CurrentStop
	tighten := func(candidate float64) {
		if next.Direction == model.Short {
			if candidate < stop || stop <= 0 {
				stop = candidate
			}
			return
		}
		if candidate > stop {
			stop = candidate
		}
	}

	var reduce float64
	if next.Stage == model.StageOpen && r >= breakevenR {
		next.Stage = model.StageBreakeven
		tighten(next.PriceAtR(breakevenLockR))
	}
	if next.Stage == model.StageBreakeven && r >= firstPartialR {
		next.Stage = model.StagePartial1
		reduce += next.InitialSize * p.FirstPartialPct / 100
		tighten(next.PriceAtR(firstLockR))
	}
	if next.Stage == model.StagePartial1 && r >= secondPartialR {
		next.Stage = model.StagePartial2Trailing
		next.TrailingActive = true
		reduce += next.InitialSize * p.SecondPartialPct / 100
		tighten(next.PriceAtR(secondLockR))
	}
	if next.TrailingActive && snap.ATR > 0 {
		tighten(snap.Price - next.Direction.Sign()*snap.ATR*p.TrailingATRMult)
	}

	var actions []model.Action
	if reduce > 0 {
		reduce = math.Min(reduce, next.CurrentSize)
		if next.CurrentSize-reduce <= dust {
			next.CurrentStop = stop
			return closeOut(next, snap, model.ExitPartials)
		}
		next.CurrentSize -= reduce
		actions = append(actions, model.Action{
			Kind:   model.ActionReduce,
			Symbol: next.Symbol,
			Side:   next.Direction.Opposite(),
			Qty:    reduce,
		})
	}
	if stop != next.CurrentStop || reduce > 0 {
		next.CurrentStop = stop
		actions = append(actions, model.Action{
			Kind:    model.ActionMoveStop,
			Symbol:  next.Symbol,
			Side:    next.Direction.Opposite(),
			Qty:     next.CurrentSize,
			Price:   stop,
			OrderID: next.StopOrderID,
		})
	}
	if len(actions) > 0 {
		next.UpdatedAt = snap.Time
	}
	return next, actions
}

// closeOut moves pos to CLOSED. A filled hard stop needs no further orders;
// every other reason exits the remainder at market and cancels the stop.
func closeOut(pos model.Position, snap Snapshot, reason model.ExitReason) (model.Position, []model.Action) {
	var actions []model.Action
	next := pos
	next.ExitPrice = snap.Price
	if reason == model.ExitStopFilled {
		next.ExitPrice = pos.CurrentStop
	} else {
		if pos.CurrentSize > dust {
			actions = append(actions, model.Action{
				Kind:   model.ActionClose,
				Symbol: pos.Symbol,
				Side:   pos.Direction.Opposite(),
				Qty:    pos.CurrentSize,
				Reason: reason,
			})
		}
		if pos.StopOrderID != "" {
			actions = append(actions, model.Action{
				Kind:    model.ActionCancelStop,
				Symbol:  pos.Symbol,
				OrderID: pos.StopOrderID,
			})
		}
	}
	next.Stage = model.StageClosed
	next.CurrentSize = 0
	next.TrailingActive = false
	next.ExitReason = reason
	next.ClosedAt = snap.Time
	next.UpdatedAt = snap.Time
	return next, actions
}

// structureBroken reports whether price has left the range of the last
// StructureCandles candles against the position by at least StructurePct.
func structureBroken(pos model.Position, snap Snapshot, p Params) bool {
	recent := snap.Recent
	if len(recent) == 0 || p.StructureCandles <= 0 {
		return false
	}
	if len(recent) > p.StructureCandles {
		recent = recent[len(recent)-p.StructureCandles:]
	}
	if pos.Direction == model.Short {
		high := math.Inf(-1)
		for _, c := range recent {
			high = math.Max(high, c.High)
		}
		return snap.Price >= high*(1+p.StructurePct)
	}
	low := math.Inf(1)
	for _, c := range recent {
		low = math.Min(low, c.Low)
	}
	return snap.Price <= low*(1-p.StructurePct)
}
