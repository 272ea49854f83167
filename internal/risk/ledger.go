package risk

import (
	"fmt"

	"BreakoutSentinel/internal/model"
)

// tolerance absorbs float rounding at the total-risk boundary.
const tolerance = 1e-9

// Candidate is an entry that is being admitted but not yet filled.
type Candidate struct {
	Symbol string
	Group  string
	Risk   float64 // size × risk unit, in account currency
}

// BuildLedger derives the aggregate risk view from the live positions and the
// pending candidates. Nothing is carried over between calls.
func BuildLedger(positions []model.Position, pending []Candidate, balance float64) model.RiskLedger {
	l := model.RiskLedger{
		Balance:     balance,
		PerPosition: make(map[string]float64, len(positions)+len(pending)),
		GroupCounts: make(map[string]int),
	}
	for _, p := range positions {
		if p.Closed() {
			continue
		}
		r := p.OpenRisk()
		l.PerPosition[p.Symbol] = r
		l.GroupCounts[p.Group]++
		l.TotalRisk += r
	}
	for _, c := range pending {
		l.PerPosition[c.Symbol] = c.Risk
		l.GroupCounts[c.Group]++
		l.TotalRisk += c.Risk
	}
	if balance > 0 {
		l.TotalRiskFraction = l.TotalRisk / balance
	}
	return l
}

// CheckEntry applies the admission gates to a candidate against ledger.
func CheckEntry(l model.RiskLedger, c Candidate, p Params) error {
	if _, held := l.PerPosition[c.Symbol]; held {
		return fmt.Errorf("%w: %s already has a position", ErrRiskBudgetExceeded, c.Symbol)
	}
	if n := l.GroupCounts[c.Group]; n >= p.MaxPositionsPerGroup {
		return fmt.Errorf("%w: group %s holds %d of %d positions",
			ErrRiskBudgetExceeded, c.Group, n, p.MaxPositionsPerGroup)
	}
	if l.Balance <= 0 {
		return fmt.Errorf("%w: no balance", ErrRiskBudgetExceeded)
	}
	projected := c.Risk / l.Balance
	if l.TotalRiskFraction+projected > p.MaxTotalRisk+tolerance {
		return fmt.Errorf("%w: total %.4f + new %.4f exceeds %.4f",
			ErrRiskBudgetExceeded, l.TotalRiskFraction, projected, p.MaxTotalRisk)
	}
	return nil
}
