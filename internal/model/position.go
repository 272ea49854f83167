package model

import (
	"fmt"
	"time"
)

// Stage is the exit state of a position. Its order is the order of progress.
type Stage int

const (
	StageOpen Stage = iota
	StageBreakeven
	StagePartial1
	StagePartial2Trailing
	StageClosed
)

var stageNames = [...]string{"OPEN", "BREAKEVEN", "PARTIAL_1", "PARTIAL_2_TRAILING", "CLOSED"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopFilled     ExitReason = "stop_filled"
	ExitStopHit        ExitReason = "stop_hit"
	ExitStructureBreak ExitReason = "structure_break"
	ExitTimeout        ExitReason = "timeout"
	ExitPartials       ExitReason = "partials_exhausted"
	ExitManual         ExitReason = "manual"
)

// Position is one open (or just closed) position and its exit state.
type Position struct {
	Symbol    string    `json:"symbol"`
	Group     string    `json:"group"`
	Direction Direction `json:"direction"`
	Strategy  Strategy  `json:"strategy"`
	Tier      Tier      `json:"tier"`

	EntryPrice  float64   `json:"entry_price"`
	EntryTime   time.Time `json:"entry_time"`
	InitialStop float64   `json:"initial_stop"`
	RiskUnit    float64   `json:"risk_unit"`

	InitialSize float64 `json:"initial_size"`
	CurrentSize float64 `json:"current_size"`
	CurrentStop float64 `json:"current_stop"`

	Stage          Stage  `json:"stage"`
	TrailingActive bool   `json:"trailing_active"`
	StopOrderID    string `json:"stop_order_id,omitempty"`
	StopOrderStale bool   `json:"stop_order_stale,omitempty"`

	ExitReason ExitReason `json:"exit_reason,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ClosedAt   time.Time  `json:"closed_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Closed reports whether the position reached its terminal stage.
func (p Position) Closed() bool { return p.Stage == StageClosed }

// R returns the open profit at price in multiples of the risk unit.
func (p Position) R(price float64) float64 {
	if p.RiskUnit <= 0 {
		return 0
	}
	return p.Direction.Sign() * (price - p.EntryPrice) / p.RiskUnit
}

// PriceAtR returns the price that sits r risk units from entry in the
// position's favor.
func (p Position) PriceAtR(r float64) float64 {
	return p.EntryPrice + p.Direction.Sign()*r*p.RiskUnit
}

// Tighter reports whether candidate is a tighter stop than the current one.
func (p Position) Tighter(candidate float64) bool {
	if p.Direction == Short {
		return candidate < p.CurrentStop
	}
	return candidate > p.CurrentStop
}

// StopBreached reports whether price is at or through the current stop.
func (p Position) StopBreached(price float64) bool {
	if p.CurrentStop <= 0 {
		return false
	}
	if p.Direction == Short {
		return price >= p.CurrentStop
	}
	return price <= p.CurrentStop
}

// OpenRisk is the loss still at stake if the current stop fills. A stop in
// the profit zone carries none.
func (p Position) OpenRisk() float64 {
	if p.Closed() {
		return 0
	}
	loss := p.Direction.Sign() * (p.EntryPrice - p.CurrentStop) * p.CurrentSize
	if loss < 0 {
		return 0
	}
	return loss
}
