package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"BreakoutSentinel/internal/model"
)

func TestFormatPositions(t *testing.T) {
	assert.Equal(t, "📭 No open positions", FormatPositions(nil))

	out := FormatPositions([]model.Position{
		{Symbol: "SOL/USDT", Direction: model.Short, EntryPrice: 150, CurrentStop: 155, CurrentSize: 1, InitialSize: 1},
		{Symbol: "BTC/USDT", Direction: model.Long, EntryPrice: 100, CurrentStop: 95, CurrentSize: 2, InitialSize: 2, StopOrderStale: true},
	})
	assert.Contains(t, out, "(2)")
	assert.Less(t, strings.Index(out, "BTC/USDT"), strings.Index(out, "SOL/USDT"))
	assert.Contains(t, out, "out of sync")
}

func TestFormatExit(t *testing.T) {
	entry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pos := model.Position{
		Symbol: "BTC/USDT", Direction: model.Long, EntryPrice: 100, RiskUnit: 5,
		ExitPrice: 95, ExitReason: model.ExitStopFilled, EntryTime: entry, ClosedAt: entry.Add(3 * time.Hour),
	}
	out := FormatExit(pos)
	assert.Contains(t, out, "🛑")
	assert.Contains(t, out, "R -1.00")
	assert.Contains(t, out, "stop_filled")
	assert.Contains(t, out, "3h0m0s")
}

func TestFormatAlert_Escapes(t *testing.T) {
	out := FormatAlert("BTC/USDT", "size <0>")
	assert.Contains(t, out, "size &lt;0&gt;")
	assert.Equal(t, "⚠️ Alert BTC/USDT\nsize <0>", stripTags(out))
}

func TestFormatRisk(t *testing.T) {
	out := FormatRisk(model.RiskLedger{
		Balance:           10000,
		PerPosition:       map[string]float64{"BTC/USDT": 100},
		TotalRisk:         100,
		TotalRiskFraction: 0.01,
		GroupCounts:       map[string]int{"layer1": 1},
	}, 0.05)
	assert.Contains(t, out, "1.00% of 5.00%")
	assert.Contains(t, out, "group layer1: 1")
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, split("short", 10))
	parts := split("aaaa\nbbbb\ncccc\n", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc\n"}, parts)
	parts = split("0123456789abc", 5)
	assert.Equal(t, []string{"01234", "56789", "abc"}, parts)
}
