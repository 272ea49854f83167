package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BreakoutSentinel/internal/model"
)

type fakeRunner struct {
	cycles  atomic.Int32
	closed  atomic.Int32
	block   chan struct{}
	running atomic.Int32
	maxRun  atomic.Int32
}

func (f *fakeRunner) RunCycle(ctx context.Context) error {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxRun.Load()
		if n <= m || f.maxRun.CompareAndSwap(m, n) {
			break
		}
	}
	f.cycles.Add(1)
	if f.block != nil {
		<-f.block
	}
	return nil
}

func (f *fakeRunner) CloseAll(context.Context) int {
	f.closed.Add(1)
	return 2
}

func (f *fakeRunner) Snapshot() model.Snapshot {
	return model.Snapshot{CycleID: "abcdef0123", Time: time.Now(), Balance: 1234.5}
}

func (f *fakeRunner) Positions() []model.Position { return nil }

func (f *fakeRunner) Ledger() model.RiskLedger {
	return model.RiskLedger{Balance: 1000, TotalRisk: 10, TotalRiskFraction: 0.01}
}

func TestHandleCommand(t *testing.T) {
	runner := &fakeRunner{}
	var stopped sync.WaitGroup
	stopped.Add(1)
	s := New(context.Background(), runner, time.Minute, 0.05, stopped.Done, zerolog.Nop())

	assert.Contains(t, s.HandleCommand(context.Background(), "/status"), "Balance: 1234.50")
	assert.Contains(t, s.HandleCommand(context.Background(), "/positions"), "No open positions")
	assert.Contains(t, s.HandleCommand(context.Background(), "/risk@sentinel_bot"), "1.00% of 5.00%")
	assert.Equal(t, "✅ Closed 2 position(s)", s.HandleCommand(context.Background(), "/closeall"))
	assert.EqualValues(t, 1, runner.closed.Load())
	assert.Equal(t, help, s.HandleCommand(context.Background(), "hello"))

	assert.Equal(t, "🛑 Stopping", s.HandleCommand(context.Background(), "/STOP"))
	stopped.Wait()
}

func TestRegister_RejectsSubSecondInterval(t *testing.T) {
	s := New(context.Background(), &fakeRunner{}, 500*time.Millisecond, 0.05, nil, zerolog.Nop())
	assert.Error(t, s.Register())
}

func TestScheduler_SkipsOverlappingCycles(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(context.Background(), runner, time.Second, 0.05, nil, zerolog.Nop())
	require.NoError(t, s.Register())
	s.Start()

	require.Eventually(t, func() bool { return runner.cycles.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	time.Sleep(2500 * time.Millisecond)
	assert.EqualValues(t, 1, runner.maxRun.Load(), "cycles never overlap")
	assert.EqualValues(t, 1, runner.cycles.Load(), "ticks during a running cycle are skipped")

	close(runner.block)
	s.Stop()
}

func TestRunNow_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	s := New(ctx, runner, time.Minute, 0.05, nil, zerolog.Nop())
	s.RunNow()
	assert.Zero(t, runner.cycles.Load())
}
