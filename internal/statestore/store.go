// Package statestore persists open positions so that a restart can resume
// managing them.
package statestore

import (
	"context"

	"BreakoutSentinel/internal/model"
)

// Store keeps the latest state of every open position.
type Store interface {
	Save(ctx context.Context, pos model.Position) error
	Delete(ctx context.Context, symbol string) error
	Load(ctx context.Context) ([]model.Position, error)
	Close() error
}
