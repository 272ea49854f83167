package notifier

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"

	"BreakoutSentinel/internal/model"
)

var tagRe = regexp.MustCompile(`</?[a-z]+>`)

func stripTags(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, ""))
}

func arrow(d model.Direction) string {
	if d == model.Short {
		return "🔻 SHORT"
	}
	return "🔺 LONG"
}

// FormatEntry formats an opened position.
func FormatEntry(pos model.Position, sig model.ScoredSignal) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚀 <b>Entry</b> %s | %s\n\n", html.EscapeString(pos.Symbol), arrow(pos.Direction)))
	b.WriteString(fmt.Sprintf("Strategy: %s\n", sig.Strategy))
	b.WriteString(fmt.Sprintf("Entry: %.6g | Stop: %.6g\n", pos.EntryPrice, pos.CurrentStop))
	b.WriteString(fmt.Sprintf("Size: %.6g | Risk unit: %.6g\n", pos.InitialSize, pos.RiskUnit))
	b.WriteString(fmt.Sprintf("Tier %s (score %d, ×%.2f)\n", sig.Tier, sig.Score, sig.SizeMultiplier))
	for _, f := range sig.Factors {
		b.WriteString(fmt.Sprintf("  %s: +%d %s\n", f.Name, f.Points, html.EscapeString(f.Commentary)))
	}
	return b.String()
}

// FormatAction formats one applied lifecycle action.
func FormatAction(pos model.Position, act model.Action) string {
	sym := html.EscapeString(pos.Symbol)
	switch act.Kind {
	case model.ActionReduce:
		return fmt.Sprintf("✂️ <b>Partial</b> %s | closed %.6g @ %.6g\nStage: %s | left %.6g | R %.2f",
			sym, act.Qty, act.Price, pos.Stage, pos.CurrentSize, pos.R(act.Price))
	case model.ActionMoveStop:
		return fmt.Sprintf("🛡 <b>Stop moved</b> %s → %.6g (%s)", sym, act.Price, pos.Stage)
	case model.ActionClose:
		return FormatExit(pos)
	default:
		return ""
	}
}

// FormatExit formats a closed position.
func FormatExit(pos model.Position) string {
	icon := "🏁"
	r := pos.R(pos.ExitPrice)
	if r < 0 {
		icon = "🛑"
	}
	held := pos.ClosedAt.Sub(pos.EntryTime).Round(time.Minute)
	return fmt.Sprintf("%s <b>Exit</b> %s | %s\nReason: %s\nEntry %.6g → Exit %.6g | R %.2f | held %s",
		icon, html.EscapeString(pos.Symbol), arrow(pos.Direction), pos.ExitReason,
		pos.EntryPrice, pos.ExitPrice, r, held)
}

// FormatAlert formats an operator alert.
func FormatAlert(symbol, message string) string {
	if symbol == "" {
		return fmt.Sprintf("⚠️ <b>Alert</b>\n%s", html.EscapeString(message))
	}
	return fmt.Sprintf("⚠️ <b>Alert</b> %s\n%s", html.EscapeString(symbol), html.EscapeString(message))
}

// FormatPositions lists open positions sorted by symbol.
func FormatPositions(positions []model.Position) string {
	if len(positions) == 0 {
		return "📭 No open positions"
	}
	sorted := append([]model.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📂 <b>Open positions</b> (%d)\n\n", len(sorted)))
	for _, p := range sorted {
		b.WriteString(fmt.Sprintf("%s %s\n", html.EscapeString(p.Symbol), arrow(p.Direction)))
		b.WriteString(fmt.Sprintf("  entry %.6g | stop %.6g | size %.6g/%.6g\n",
			p.EntryPrice, p.CurrentStop, p.CurrentSize, p.InitialSize))
		b.WriteString(fmt.Sprintf("  stage %s | tier %s | since %s\n",
			p.Stage, p.Tier, p.EntryTime.Format("01-02 15:04")))
		if p.StopOrderStale {
			b.WriteString("  ⚠️ stop order out of sync\n")
		}
	}
	return b.String()
}

// FormatRisk formats the risk ledger against the configured ceiling.
func FormatRisk(l model.RiskLedger, maxTotal float64) string {
	var b strings.Builder
	b.WriteString("⚖️ <b>Risk</b>\n\n")
	b.WriteString(fmt.Sprintf("Balance: %.2f\n", l.Balance))
	b.WriteString(fmt.Sprintf("Open risk: %.2f (%.2f%% of %.2f%%)\n",
		l.TotalRisk, l.TotalRiskFraction*100, maxTotal*100))

	syms := make([]string, 0, len(l.PerPosition))
	for s := range l.PerPosition {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		b.WriteString(fmt.Sprintf("  %s: %.2f\n", html.EscapeString(s), l.PerPosition[s]))
	}

	groups := make([]string, 0, len(l.GroupCounts))
	for g := range l.GroupCounts {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		b.WriteString(fmt.Sprintf("  group %s: %d\n", html.EscapeString(g), l.GroupCounts[g]))
	}
	return b.String()
}

// FormatStatus summarizes the latest cycle.
func FormatStatus(snap model.Snapshot) string {
	var b strings.Builder
	b.WriteString("📊 <b>BreakoutSentinel</b>\n\n")
	if snap.CycleID == "" {
		b.WriteString("No cycle has run yet\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Last cycle: %s (%s)\n", snap.Time.Format("2006-01-02 15:04:05"), snap.CycleID[:min(8, len(snap.CycleID))]))
	b.WriteString(fmt.Sprintf("Balance: %.2f\n", snap.Balance))
	b.WriteString(fmt.Sprintf("Candidates: %d (%s)\n", len(snap.Candidates), snap.Source))
	b.WriteString(fmt.Sprintf("Signals: %d | Positions: %d\n", len(snap.Signals), len(snap.Positions)))
	b.WriteString(fmt.Sprintf("Open risk: %.2f%%\n", snap.Ledger.TotalRiskFraction*100))
	return b.String()
}
