package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/collector"
	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/engine"
	"BreakoutSentinel/internal/exchange"
	"BreakoutSentinel/internal/logger"
	"BreakoutSentinel/internal/notifier"
	"BreakoutSentinel/internal/portfolio"
	"BreakoutSentinel/internal/recorder"
	"BreakoutSentinel/internal/risk"
	"BreakoutSentinel/internal/scanner"
	"BreakoutSentinel/internal/scheduler"
	"BreakoutSentinel/internal/statestore"
	"BreakoutSentinel/internal/telemetry"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfgPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := logger.New("info", false)
		bootLog.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("exchange", cfg.Exchange.Name).Strs("symbols", cfg.Symbols).Msg("BreakoutSentinel starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := newExchange(ctx, cfg, log)

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite journal failed, using noop")
		} else {
			rec = sr
		}
	}
	defer rec.Close()

	store := newStore(cfg, log)
	defer store.Close()

	var note notifier.Notifier = notifier.NewLogNotifier(log)
	var tg *notifier.Telegram
	if cfg.Telegram.BotToken != "" {
		tg, err = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Warn().Err(err).Msg("telegram unavailable, notifications go to the log")
		} else {
			note = tg
		}
	}

	hub := telemetry.NewHub(log)
	book := portfolio.NewBook(store, risk.ParamsFromConfig(cfg), log)
	eng := engine.New(cfg, engine.Deps{
		Exchange:  ex,
		Collector: collector.NewCollector(ex, cfg, log),
		Scanner:   scanner.NewReader(cfg, log),
		Book:      book,
		Recorder:  rec,
		Notifier:  note,
		Publisher: hub,
	}, log)
	if err := eng.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore positions")
	}

	var srv *telemetry.Server
	if cfg.Telemetry.ListenAddr != "" {
		srv = telemetry.NewServer(cfg.Telemetry.ListenAddr, hub, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("telemetry server")
			}
		}()
	}

	done := make(chan struct{})
	var once sync.Once
	requestStop := func() { once.Do(func() { close(done) }) }

	sched := scheduler.New(ctx, eng, cfg.Interval(), cfg.MaxTotalRisk, requestStop, log)
	if err := sched.Register(); err != nil {
		log.Fatal().Err(err).Msg("register cycle task")
	}
	sched.Start()
	go sched.RunNow()

	if tg != nil {
		go tg.StartPolling(ctx, sched.HandleCommand)
	}

	log.Info().Msg("BreakoutSentinel is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		log.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case <-done:
		log.Info().Msg("stop requested by operator")
	}

	// Let the running cycle finish before closing anything.
	sched.Stop()
	if cfg.CloseOnShutdown {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		n := eng.CloseAll(closeCtx)
		closeCancel()
		log.Info().Int("closed", n).Msg("positions closed on shutdown")
	}
	cancel()

	if srv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
		shutCancel()
	}
	log.Info().Msg("BreakoutSentinel stopped")
}

// newExchange builds the live Binance adapter, or the paper venue fed by
// Binance public market data.
func newExchange(ctx context.Context, cfg *config.Config, log zerolog.Logger) exchange.Exchange {
	bn := exchange.NewBinance(exchange.BinanceOptions{
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Testnet:           cfg.Exchange.Testnet,
		RequestsPerSecond: cfg.Exchange.RequestsPerS,
		Leverage:          int(cfg.Leverage),
	}, log)
	if cfg.Exchange.Name == "paper" {
		log.Info().Float64("balance", cfg.Exchange.PaperBalance).Msg("paper trading")
		return exchange.NewPaper(cfg.Exchange.PaperBalance, bn)
	}
	pctx, pcancel := context.WithTimeout(ctx, cfg.Timeout())
	defer pcancel()
	if err := bn.LoadPrecision(pctx); err != nil {
		log.Warn().Err(err).Msg("load symbol precision, quantities will not be rounded")
	}
	return bn
}

// newStore prefers Redis when configured and falls back to the state file.
func newStore(cfg *config.Config, log zerolog.Logger) statestore.Store {
	if cfg.State.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
		})
		rs := statestore.NewRedisStore(client, log)
		if rs.Available() {
			return rs
		}
		log.Warn().Str("addr", cfg.State.RedisAddr).Msg("redis unreachable, using state file")
		rs.Close()
	}
	fs, err := statestore.NewFileStore(cfg.State.File)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.State.File).Msg("open state file")
	}
	return fs
}
