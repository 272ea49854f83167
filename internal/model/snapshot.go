package model

import "time"

// RiskLedger is the aggregate open risk derived from the live positions.
type RiskLedger struct {
	Balance           float64            `json:"balance"`
	PerPosition       map[string]float64 `json:"per_position"`
	TotalRisk         float64            `json:"total_risk"`
	TotalRiskFraction float64            `json:"total_risk_fraction"`
	GroupCounts       map[string]int     `json:"group_counts"`
}

// Snapshot is the read-only view handed to observers after each cycle.
type Snapshot struct {
	CycleID    string                    `json:"cycle_id"`
	Time       time.Time                 `json:"time"`
	Balance    float64                   `json:"balance"`
	Candidates []string                  `json:"candidates"`
	Source     string                    `json:"source"`
	Positions  []Position                `json:"positions"`
	Signals    []ScoredSignal            `json:"signals"`
	Ledger     RiskLedger                `json:"ledger"`
	Thresholds map[string]ThresholdState `json:"thresholds"`
}
