package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/model"
	"BreakoutSentinel/internal/risk"
	"BreakoutSentinel/internal/statestore"
)

// Book is the shared open-position set and balance snapshot. Every mutation
// goes through its mutex; entry admission is a reserve/commit pair so that
// concurrent entries see each other's projected risk.
type Book struct {
	mu        sync.Mutex
	positions map[string]model.Position
	pending   map[string]risk.Candidate
	balance   float64
	params    risk.Params
	store     statestore.Store
	log       zerolog.Logger
}

// NewBook creates an empty Book persisting through store.
func NewBook(store statestore.Store, params risk.Params, log zerolog.Logger) *Book {
	return &Book{
		positions: make(map[string]model.Position),
		pending:   make(map[string]risk.Candidate),
		params:    params,
		store:     store,
		log:       log.With().Str("component", "portfolio").Logger(),
	}
}

// Restore loads the open positions kept by the store.
func (b *Book) Restore(ctx context.Context) (int, error) {
	stored, err := b.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range stored {
		if p.Closed() {
			continue
		}
		b.positions[p.Symbol] = p
		n++
	}
	return n, nil
}

// SetBalance replaces the balance snapshot.
func (b *Book) SetBalance(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = v
}

// Balance returns the balance snapshot.
func (b *Book) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// Held reports whether symbol has an open position or a pending entry.
func (b *Book) Held(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[symbol]; ok {
		return true
	}
	for _, c := range b.pending {
		if c.Symbol == symbol {
			return true
		}
	}
	return false
}

// Get returns the open position for symbol.
func (b *Book) Get(symbol string) (model.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	return p, ok
}

// Positions returns a copy of the open positions ordered by symbol.
func (b *Book) Positions() []model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked()
}

// Ledger derives the current risk view, pending entries included.
func (b *Book) Ledger() model.RiskLedger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledgerLocked()
}

// Reserve admits a candidate against the risk gates and holds its slot until
// Commit or Release. It returns risk.ErrRiskBudgetExceeded when refused.
func (b *Book) Reserve(c risk.Candidate) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := risk.CheckEntry(b.ledgerLocked(), c, b.params); err != nil {
		return "", err
	}
	id := uuid.NewString()
	b.pending[id] = c
	return id, nil
}

// Release drops a reservation whose entry did not happen.
func (b *Book) Release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

// Commit turns a reservation into an open position.
func (b *Book) Commit(ctx context.Context, id string, pos model.Position) {
	b.mu.Lock()
	delete(b.pending, id)
	pos.UpdatedAt = time.Now()
	b.positions[pos.Symbol] = pos
	b.mu.Unlock()

	if err := b.store.Save(ctx, pos); err != nil {
		b.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to save position state")
	}
}

// Update stores the next state of an open position and returns what was
// actually stored. Size can only shrink, the stop can only tighten and the
// stage can only advance; a regression is clamped to the conservative side.
// A closed position leaves the book.
func (b *Book) Update(ctx context.Context, next model.Position) model.Position {
	b.mu.Lock()
	prev, ok := b.positions[next.Symbol]
	if ok {
		next = conservative(prev, next, b.log)
	}
	next.UpdatedAt = time.Now()
	if next.Closed() {
		delete(b.positions, next.Symbol)
	} else {
		b.positions[next.Symbol] = next
	}
	b.mu.Unlock()

	var err error
	if next.Closed() {
		err = b.store.Delete(ctx, next.Symbol)
	} else {
		err = b.store.Save(ctx, next)
	}
	if err != nil {
		b.log.Error().Err(err).Str("symbol", next.Symbol).Msg("failed to persist position state")
	}
	return next
}

func conservative(prev, next model.Position, log zerolog.Logger) model.Position {
	if next.CurrentSize > prev.CurrentSize {
		log.Error().Str("symbol", next.Symbol).
			Float64("prev", prev.CurrentSize).Float64("next", next.CurrentSize).
			Msg("size increase refused, keeping smaller size")
		next.CurrentSize = prev.CurrentSize
	}
	if next.CurrentStop != prev.CurrentStop && !prev.Tighter(next.CurrentStop) {
		log.Error().Str("symbol", next.Symbol).
			Float64("prev", prev.CurrentStop).Float64("next", next.CurrentStop).
			Msg("stop loosening refused, keeping tighter stop")
		next.CurrentStop = prev.CurrentStop
	}
	if next.Stage < prev.Stage {
		next.Stage = prev.Stage
		next.TrailingActive = prev.TrailingActive
	}
	return next
}

func (b *Book) ledgerLocked() model.RiskLedger {
	pending := make([]risk.Candidate, 0, len(b.pending))
	for _, c := range b.pending {
		pending = append(pending, c)
	}
	return risk.BuildLedger(b.sortedLocked(), pending, b.balance)
}

func (b *Book) sortedLocked() []model.Position {
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
