package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder writes the trading journal to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the journal database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log.With().Str("component", "recorder").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite journal opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			cycle_id         TEXT,
			symbol           TEXT NOT NULL,
			direction        TEXT,
			strategy         TEXT,
			entry_price      REAL,
			stop_price       REAL,
			atr              REAL,
			volume_grade     TEXT,
			volume_ratio     REAL,
			adx              REAL,
			mtf_aligned      INTEGER,
			candle_confirmed INTEGER,
			score            INTEGER,
			tier             TEXT,
			regime           TEXT,
			outcome          TEXT,
			detail           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,

		`CREATE TABLE IF NOT EXISTS entries (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			cycle_id     TEXT,
			symbol       TEXT NOT NULL,
			grp          TEXT,
			direction    TEXT,
			strategy     TEXT,
			tier         TEXT,
			entry_price  REAL,
			initial_stop REAL,
			risk_unit    REAL,
			size         REAL,
			order_id     TEXT,
			stop_id      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(timestamp)`,

		`CREATE TABLE IF NOT EXISTS position_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			cycle_id  TEXT,
			symbol    TEXT NOT NULL,
			kind      TEXT,
			stage     TEXT,
			price     REAL,
			qty       REAL,
			size      REAL,
			stop      REAL,
			reason    TEXT,
			error     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_events_ts ON position_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_position_events_symbol ON position_events(symbol)`,

		`CREATE TABLE IF NOT EXISTS cycles (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			cycle_id       TEXT NOT NULL,
			duration_ms    INTEGER,
			source         TEXT,
			candidates     INTEGER,
			signals        INTEGER,
			entries        INTEGER,
			open_positions INTEGER,
			risk_fraction  REAL,
			balance        REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(timestamp)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			level     TEXT,
			symbol    TEXT,
			message   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *SQLiteRecorder) RecordSignal(evt *SignalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := evt.Signal
	_, err := r.db.Exec(`INSERT INTO signals
		(timestamp, cycle_id, symbol, direction, strategy, entry_price, stop_price, atr,
		 volume_grade, volume_ratio, adx, mtf_aligned, candle_confirmed,
		 score, tier, regime, outcome, detail)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.CycleID, s.Symbol, string(s.Direction), string(s.Strategy),
		s.EntryPrice, s.StopPrice, s.ATR,
		string(s.VolumeGrade), s.VolumeRatio, s.ADXValue,
		boolInt(s.MTFAligned), boolInt(s.CandleConfirmed),
		s.Score, string(s.Tier), string(evt.Regime), evt.Outcome, evt.Detail,
	)
	return err
}

func (r *SQLiteRecorder) RecordEntry(evt *EntryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := evt.Position
	_, err := r.db.Exec(`INSERT INTO entries
		(timestamp, cycle_id, symbol, grp, direction, strategy, tier,
		 entry_price, initial_stop, risk_unit, size, order_id, stop_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.CycleID, p.Symbol, p.Group, string(p.Direction),
		string(p.Strategy), string(p.Tier),
		p.EntryPrice, p.InitialStop, p.RiskUnit, p.InitialSize, evt.OrderID, p.StopOrderID,
	)
	return err
}

func (r *SQLiteRecorder) RecordPositionEvent(evt *PositionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO position_events
		(timestamp, cycle_id, symbol, kind, stage, price, qty, size, stop, reason, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.CycleID, evt.Symbol, string(evt.Kind), evt.Stage.String(),
		evt.Price, evt.Qty, evt.Size, evt.Stop, string(evt.Reason), evt.Err,
	)
	return err
}

func (r *SQLiteRecorder) RecordCycle(evt *CycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO cycles
		(timestamp, cycle_id, duration_ms, source, candidates, signals, entries,
		 open_positions, risk_fraction, balance)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		evt.StartedAt.Unix(), evt.CycleID, evt.Duration.Milliseconds(), evt.Source,
		evt.Candidates, evt.Signals, evt.Entries,
		evt.OpenPositions, evt.RiskFraction, evt.Balance,
	)
	return err
}

func (r *SQLiteRecorder) RecordAlert(evt *AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO alerts (timestamp, level, symbol, message) VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.Level, evt.Symbol, evt.Message,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite journal")
	return r.db.Close()
}
