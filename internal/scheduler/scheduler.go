package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/notifier"
)

// Runner is the engine surface the scheduler drives.
type Runner interface {
	RunCycle(ctx context.Context) error
	CloseAll(ctx context.Context) int
	Snapshot() model.Snapshot
	Positions() []model.Position
	Ledger() model.RiskLedger
}

// Scheduler triggers engine cycles on a fixed cadence. A cycle that is still
// running when the next one is due causes that tick to be skipped.
type Scheduler struct {
	cron         *cron.Cron
	runner       Runner
	interval     time.Duration
	maxTotalRisk float64
	ctx          context.Context
	shutdown     func()
	log          zerolog.Logger
}

// New creates a Scheduler. shutdown is called when the operator asks the
// process to stop.
func New(ctx context.Context, runner Runner, interval time.Duration, maxTotalRisk float64, shutdown func(), log zerolog.Logger) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	cl := cron.PrintfLogger(&l)
	return &Scheduler{
		cron:         cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner:       runner,
		interval:     interval,
		maxTotalRisk: maxTotalRisk,
		ctx:          ctx,
		shutdown:     shutdown,
		log:          l,
	}
}

// Register adds the cycle job.
func (s *Scheduler) Register() error {
	if s.interval < time.Second {
		return fmt.Errorf("check interval %s is below one second", s.interval)
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.runCycle); err != nil {
		return fmt.Errorf("register cycle task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop stops scheduling and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow executes one cycle immediately.
func (s *Scheduler) RunNow() {
	s.runCycle()
}

func (s *Scheduler) runCycle() {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.runner.RunCycle(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("cycle interrupted")
	}
}

const help = "Commands:\n• /status\n• /positions\n• /risk\n• /closeall\n• /stop"

// HandleCommand processes an operator command and returns the reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/status":
		return notifier.FormatStatus(s.runner.Snapshot())
	case "/positions":
		return notifier.FormatPositions(s.runner.Positions())
	case "/risk":
		return notifier.FormatRisk(s.runner.Ledger(), s.maxTotalRisk)
	case "/closeall":
		n := s.runner.CloseAll(ctx)
		return fmt.Sprintf("✅ Closed %d position(s)", n)
	case "/stop":
		if s.shutdown != nil {
			go s.shutdown()
		}
		return "🛑 Stopping"
	default:
		return help
	}
}
