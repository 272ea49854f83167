package recorder

import (
	"time"

	"BreakoutSentinel/internal/model"
)

// Signal outcomes.
const (
	OutcomeEntered  = "entered"
	OutcomeFiltered = "filtered"
	OutcomeRefused  = "risk_refused"
	OutcomeRejected = "exchange_rejected"
	OutcomeFailed   = "failed"
)

// SignalEvent records a detected signal and what became of it.
type SignalEvent struct {
	CycleID string
	Signal  model.ScoredSignal
	Regime  model.Regime
	Outcome string
	Detail  string
}

// EntryEvent records an opened position.
type EntryEvent struct {
	CycleID  string
	Position model.Position
	OrderID  string
}

// PositionEvent records a lifecycle step applied to a position.
type PositionEvent struct {
	CycleID string
	Symbol  string
	Kind    model.ActionKind
	Stage   model.Stage
	Price   float64
	Qty     float64
	Size    float64
	Stop    float64
	Reason  model.ExitReason
	Err     string
}

// CycleEvent summarizes one engine cycle.
type CycleEvent struct {
	CycleID       string
	StartedAt     time.Time
	Duration      time.Duration
	Source        string
	Candidates    int
	Signals       int
	Entries       int
	OpenPositions int
	RiskFraction  float64
	Balance       float64
}

// AlertEvent records an operator alert.
type AlertEvent struct {
	Level   string
	Symbol  string
	Message string
}

// Recorder persists the trading journal for later analysis.
type Recorder interface {
	RecordSignal(evt *SignalEvent) error
	RecordEntry(evt *EntryEvent) error
	RecordPositionEvent(evt *PositionEvent) error
	RecordCycle(evt *CycleEvent) error
	RecordAlert(evt *AlertEvent) error
	Close() error
}
