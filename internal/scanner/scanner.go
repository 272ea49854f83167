// Package scanner reads the ranked candidate list written by the external
// market scanner and falls back to the static symbol list when that list is
// missing, empty or stale.
package scanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/config"
	"BreakoutSentinel/internal/exchange"
)

// Source tells where a candidate list came from.
type Source string

const (
	SourceScanner Source = "scanner"
	SourceStatic  Source = "static"
)

// ErrStale means the scanner output is older than the allowed age.
var ErrStale = errors.New("scanner result is stale")

// Entry is one row of the scanner output.
type Entry struct {
	Symbol           string  `json:"symbol"`
	Direction        string  `json:"direction"`
	SignalSide       string  `json:"signal_side"`
	Score            float64 `json:"score"`
	CorrelationGroup string  `json:"correlation_group"`
	Sector           string  `json:"sector"`
}

// Result is the scanner output document.
type Result struct {
	ScanTime   string  `json:"scan_time"`
	HotSymbols []Entry `json:"hot_symbols"`
}

// Candidate is a symbol to evaluate this cycle.
type Candidate struct {
	Symbol    string
	Group     string
	Direction string
	Score     float64
}

// Reader resolves the candidate list for a cycle.
type Reader struct {
	enabled bool
	path    string
	maxAge  time.Duration
	static  []string
	groups  map[string]string
	now     func() time.Time
	log     zerolog.Logger
}

// NewReader creates a Reader from cfg.
func NewReader(cfg *config.Config, log zerolog.Logger) *Reader {
	groups := make(map[string]string, len(cfg.SymbolGroups))
	for s, g := range cfg.SymbolGroups {
		groups[exchange.NormalizeSymbol(s)] = g
	}
	return &Reader{
		enabled: cfg.UseScannerSymbols,
		path:    cfg.ScannerJSONPath,
		maxAge:  cfg.ScannerMaxAge(),
		static:  cfg.Symbols,
		groups:  groups,
		now:     time.Now,
		log:     log.With().Str("component", "scanner").Logger(),
	}
}

// Candidates returns the scanner list when it is enabled, present and fresh,
// and the static list otherwise.
func (r *Reader) Candidates() ([]Candidate, Source) {
	if !r.enabled {
		return r.Static(), SourceStatic
	}
	res, err := r.Load()
	if err != nil {
		r.log.Warn().Err(err).Msg("using static symbols")
		return r.Static(), SourceStatic
	}
	out := r.fromResult(res)
	if len(out) == 0 {
		r.log.Warn().Msg("scanner returned no symbols, using static symbols")
		return r.Static(), SourceStatic
	}
	return out, SourceScanner
}

// Static returns the configured symbol list.
func (r *Reader) Static() []Candidate {
	out := make([]Candidate, 0, len(r.static))
	seen := make(map[string]bool, len(r.static))
	for _, s := range r.static {
		sym := exchange.NormalizeSymbol(s)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, Candidate{Symbol: sym, Group: r.group(sym, "")})
	}
	return out
}

// Load reads and validates the scanner file. It returns ErrStale when the
// scan is older than the allowed age or carries no usable timestamp.
func (r *Reader) Load() (*Result, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read scanner result: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse scanner result: %w", err)
	}
	scanned, err := parseScanTime(res.ScanTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStale, err)
	}
	if age := r.now().Sub(scanned); age > r.maxAge {
		return nil, fmt.Errorf("%w: scanned %s ago", ErrStale, age.Round(time.Second))
	}
	return &res, nil
}

func (r *Reader) fromResult(res *Result) []Candidate {
	entries := append([]Entry(nil), res.HotSymbols...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })

	out := make([]Candidate, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		sym := exchange.NormalizeSymbol(e.Symbol)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		dir := strings.ToLower(e.Direction)
		if dir == "" {
			dir = strings.ToLower(e.SignalSide)
		}
		group := e.CorrelationGroup
		if group == "" {
			group = r.group(sym, e.Sector)
		}
		out = append(out, Candidate{Symbol: sym, Group: group, Direction: dir, Score: e.Score})
	}
	return out
}

// group resolves a symbol's group: the configured map first, then the
// scanner's sector, then "other".
func (r *Reader) group(symbol, sector string) string {
	if g, ok := r.groups[symbol]; ok && g != "" {
		return g
	}
	if sector != "" {
		return strings.ToLower(sector)
	}
	return "other"
}

var scanTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseScanTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing scan_time")
	}
	s = strings.Replace(s, "Z", "+00:00", 1)
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized scan_time %q", s)
}
