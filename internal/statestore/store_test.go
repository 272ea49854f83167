package statestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BreakoutSentinel/internal/model"
)

func samplePosition(symbol string) model.Position {
	return model.Position{
		Symbol:      symbol,
		Group:       "layer1",
		Direction:   model.Short,
		Strategy:    model.StrategyFalseBreakout,
		Tier:        model.TierA,
		EntryPrice:  100,
		EntryTime:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		InitialStop: 105,
		RiskUnit:    5,
		InitialSize: 4,
		CurrentSize: 2.8,
		CurrentStop: 97.5,
		Stage:       model.StagePartial1,
		StopOrderID: "991",
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "positions.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, samplePosition("ETHUSDT")))
	require.NoError(t, s.Save(ctx, samplePosition("BTCUSDT")))
	require.NoError(t, s.Delete(ctx, "ETHUSDT"))
	require.NoError(t, s.Delete(ctx, "UNKNOWN"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"stage": "PARTIAL_1"`)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, samplePosition("BTCUSDT"), got[0])
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestRedisStore_UnreachableUsesCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewRedisStore(client, zerolog.Nop())
	defer s.Close()
	assert.False(t, s.Available())

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, samplePosition("BTCUSDT")))
	require.NoError(t, s.Save(ctx, samplePosition("SOLUSDT")))
	require.NoError(t, s.Delete(ctx, "SOLUSDT"))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.False(t, s.Available())
}
