package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BreakoutSentinel/internal/model"
)

var fastPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, Timeout: time.Second}

func TestCall_RetryPolicies(t *testing.T) {
	connErr := &Error{Op: "test", Kind: ErrConnectivity, Err: errors.New("reset by peer")}
	limitErr := &Error{Op: "test", Kind: ErrRateLimited, Err: errors.New("slow down")}
	rejectErr := &Error{Op: "test", Kind: ErrRejected, Err: errors.New("margin")}

	tests := []struct {
		name      string
		retry     func(error) bool
		failures  []error
		wantCalls int32
		wantErr   error
	}{
		{"idempotent recovers from connectivity", Idempotent, []error{connErr, connErr}, 3, nil},
		{"idempotent gives up after max attempts", Idempotent, []error{limitErr, limitErr, limitErr, limitErr}, 3, ErrRateLimited},
		{"not executed retries throttling", NotExecuted, []error{limitErr}, 2, nil},
		{"not executed stops on unknown outcome", NotExecuted, []error{connErr}, 1, ErrConnectivity},
		{"rejection is never retried", Idempotent, []error{rejectErr}, 1, ErrRejected},
	}

	for _, tt := range tests {
		tt := tt // per-iteration copy (go 1.21 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			got, err := Call(context.Background(), fastPolicy, tt.retry, func(context.Context) (string, error) {
				n := calls.Add(1)
				if int(n) <= len(tt.failures) {
					return "", tt.failures[n-1]
				}
				return "ok", nil
			})
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "ok", got)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCall_PerAttemptTimeout(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 1, Timeout: 20 * time.Millisecond}
	err := Do(context.Background(), p, Idempotent, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("x", nil))
	assert.ErrorIs(t, classify("x", &common.APIError{Code: -1003, Message: "too many"}), ErrRateLimited)
	assert.ErrorIs(t, classify("x", &common.APIError{Code: -1015, Message: "too many orders"}), ErrRateLimited)
	assert.ErrorIs(t, classify("x", &common.APIError{Code: -2019, Message: "margin is insufficient"}), ErrRejected)
	assert.ErrorIs(t, classify("x", errors.New("i/o timeout")), ErrConnectivity)

	already := &Error{Op: "y", Kind: ErrRejected, Err: errors.New("no")}
	assert.Same(t, already, classify("x", already))

	assert.True(t, Retryable(classify("x", errors.New("eof"))))
	assert.True(t, Uncertain(classify("x", errors.New("eof"))))
	assert.False(t, Uncertain(classify("x", &common.APIError{Code: -1003})))
}

func TestNormalizeSymbol(t *testing.T) {
	for in, want := range map[string]string{
		"BTC/USDT":      "BTCUSDT",
		"BTC/USDT:USDT": "BTCUSDT",
		" ethusdt ":     "ETHUSDT",
		"SOLUSDT":       "SOLUSDT",
	} {
		assert.Equal(t, want, NormalizeSymbol(in), in)
	}
}

func TestPaper_OrdersAndStops(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000, nil)
	p.SetCandles("BTCUSDT", "1h", []model.OHLCV{{Open: 99, High: 101, Low: 98, Close: 100}})

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: model.Short, Quantity: 1, ReduceOnly: true})
	assert.ErrorIs(t, err, ErrRejected, "reduce-only without a position")

	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: model.Long, Quantity: 2, Type: OrderMarket})
	require.NoError(t, err)
	stopID, err := p.PlaceStopOrder(ctx, StopRequest{Symbol: "BTCUSDT", Side: model.Short, Quantity: 2, StopPrice: 95})
	require.NoError(t, err)
	assert.Contains(t, p.Stops(), stopID)

	positions, err := p.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, model.Long, positions[0].Direction)
	assert.Equal(t, 2.0, positions[0].Size)

	// A bar trading through the stop fills it at the stop price.
	p.SetCandles("BTCUSDT", "1h", []model.OHLCV{{Open: 99, High: 99, Low: 94, Close: 96}})
	positions, err = p.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Empty(t, p.Stops())

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9990, bal, 1e-9)

	assert.ErrorIs(t, p.CancelOrder(ctx, "BTCUSDT", stopID), ErrRejected)
}

func TestPaper_FailNextAndSource(t *testing.T) {
	ctx := context.Background()
	src := NewPaper(0, nil)
	src.SetCandles("ETHUSDT", "4h", []model.OHLCV{{Close: 1}, {Close: 2}, {Close: 3}})

	p := NewPaper(500, src)
	bars, err := p.GetCandles(ctx, "ETHUSDT", "4h", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 3.0, bars[1].Close)

	injected := &Error{Op: OpBalance, Kind: ErrConnectivity, Err: errors.New("down")}
	p.FailNext(OpBalance, injected)
	_, err = p.GetBalance(ctx)
	assert.ErrorIs(t, err, ErrConnectivity)
	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500.0, bal)

	// The fetched close is the fill price.
	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: model.Short, Quantity: 1})
	require.NoError(t, err)
	positions, _ := p.GetOpenPositions(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, 3.0, positions[0].EntryPrice)
}

// fakeFutures serves the subset of the futures REST API the adapter uses.
func fakeFutures(t *testing.T, leverageCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/klines"):
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "1h", r.URL.Query().Get("interval"))
			fmt.Fprint(w, `[
				[1700000000000,"100.0","101.5","99.0","101.0","1200.5",1700003599999,"0",10,"0","0","0"],
				[1700003600000,"101.0","103.0","100.5","102.5","1800.0",1700007199999,"0",12,"0","0","0"]
			]`)
		case strings.HasSuffix(r.URL.Path, "/balance"):
			fmt.Fprint(w, `[{"accountAlias":"x","asset":"BNB","balance":"3.0"},{"accountAlias":"x","asset":"USDT","balance":"2500.75"}]`)
		case strings.HasSuffix(r.URL.Path, "/exchangeInfo"):
			fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","pricePrecision":1,"quantityPrecision":3,"filters":[
				{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
				{"filterType":"MIN_NOTIONAL","notional":"5"}
			]}]}`)
		case strings.HasSuffix(r.URL.Path, "/leverage") && r.Method == http.MethodPost:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "5", r.Form.Get("leverage"))
			leverageCalls.Add(1)
			fmt.Fprintf(w, `{"symbol":%q,"leverage":5,"maxNotionalValue":"1000000"}`, r.Form.Get("symbol"))
		case strings.HasSuffix(r.URL.Path, "/positionRisk"):
			fmt.Fprint(w, `[
				{"symbol":"BTCUSDT","positionAmt":"-0.250","entryPrice":"101.0"},
				{"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0.0"}
			]`)
		case strings.HasSuffix(r.URL.Path, "/order") && r.Method == http.MethodPost:
			if err := r.ParseForm(); err == nil && r.Form.Get("quantity") == "0.123" {
				fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":4242}`)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1015,"msg":"Too many new orders"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":-1000,"msg":"unknown path"}`)
		}
	}))
}

func TestBinance_AgainstFakeAPI(t *testing.T) {
	srv := fakeFutures(t, new(atomic.Int32))
	defer srv.Close()

	b := NewBinance(BinanceOptions{
		APIKey:            "key",
		APISecret:         "secret",
		RequestsPerSecond: 100,
		BaseURL:           srv.URL,
		HTTPClient:        srv.Client(),
	}, zerolog.Nop())
	ctx := context.Background()

	bars, err := b.GetCandles(ctx, "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 102.5, bars[1].Close)
	assert.Equal(t, 1200.5, bars[0].Volume)
	assert.Equal(t, time.UnixMilli(1700003600000).UTC(), bars[1].Time)

	bal, err := b.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2500.75, bal)

	require.NoError(t, b.LoadPrecision(ctx))
	assert.Equal(t, 0.123, b.RoundQuantity("BTCUSDT", 0.12389))
	assert.Equal(t, 0.12389, b.RoundQuantity("XRPUSDT", 0.12389))

	positions, err := b.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, model.Short, positions[0].Direction)
	assert.Equal(t, 0.25, positions[0].Size)

	id, err := b.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: model.Long, Quantity: 0.12389, Type: OrderMarket})
	require.NoError(t, err)
	assert.Equal(t, "4242", id)

	_, err = b.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: model.Long, Quantity: 5, Type: OrderMarket})
	assert.ErrorIs(t, err, ErrRateLimited)

	assert.ErrorIs(t, b.CancelOrder(ctx, "BTCUSDT", "not-a-number"), ErrRejected)
}

func TestBinance_LeverageAndMinimums(t *testing.T) {
	var leverageCalls atomic.Int32
	srv := fakeFutures(t, &leverageCalls)
	defer srv.Close()

	b := NewBinance(BinanceOptions{
		APIKey:            "key",
		APISecret:         "secret",
		RequestsPerSecond: 100,
		Leverage:          5,
		BaseURL:           srv.URL,
		HTTPClient:        srv.Client(),
	}, zerolog.Nop())
	ctx := context.Background()

	// Before exchange info is loaded nothing is known, so nothing is refused.
	assert.NoError(t, b.CheckMinimum("BTCUSDT", 0.0001, 100))

	require.NoError(t, b.LoadPrecision(ctx))
	assert.ErrorIs(t, b.CheckMinimum("BTCUSDT", 0.0005, 100000), ErrBelowMinimum, "under LOT_SIZE minQty")
	assert.ErrorIs(t, b.CheckMinimum("BTCUSDT", 0.04, 100), ErrBelowMinimum, "4 USDT notional")
	assert.NoError(t, b.CheckMinimum("BTCUSDT", 0.05, 100))
	assert.NoError(t, b.CheckMinimum("XRPUSDT", 0.0001, 1))

	require.NoError(t, EnsureLeverage(ctx, b, "BTCUSDT"))
	require.NoError(t, EnsureLeverage(ctx, b, "BTCUSDT"))
	assert.Equal(t, int32(1), leverageCalls.Load(), "leverage is set once per symbol")
	require.NoError(t, b.EnsureLeverage(ctx, "ETHUSDT"))
	assert.Equal(t, int32(2), leverageCalls.Load())
}

func TestFilters(t *testing.T) {
	f := Filters{StepSize: 0.1, MinQty: 0.1, MinNotional: 5}
	assert.InDelta(t, 2.1, f.Floor(2.19), 1e-12)
	assert.InDelta(t, 7.3, f.Floor(7.3), 1e-12)
	assert.Equal(t, 0.0, f.Floor(0.09))
	assert.Equal(t, 2.19, Filters{}.Floor(2.19))

	assert.ErrorIs(t, f.Check(0.05, 1000), ErrBelowMinimum)
	assert.ErrorIs(t, f.Check(0.2, 20), ErrBelowMinimum)
	assert.NoError(t, f.Check(0.3, 20))
	assert.NoError(t, Filters{}.Check(0.0001, 0.01))
}

func TestPaper_Filters(t *testing.T) {
	p := NewPaper(1000, nil)
	assert.Equal(t, 0.123, RoundQuantity(p, "BTCUSDT", 0.123))

	p.SetFilters("BTCUSDT", Filters{StepSize: 0.1, MinNotional: 5})
	assert.InDelta(t, 0.1, RoundQuantity(p, "BTCUSDT", 0.123), 1e-12)
	assert.ErrorIs(t, CheckMinimum(p, "BTCUSDT", 0.1, 40), ErrBelowMinimum)
	assert.NoError(t, CheckMinimum(p, "BTCUSDT", 0.2, 40))
	assert.NoError(t, EnsureLeverage(context.Background(), p, "BTCUSDT"), "paper accounts have no leverage setting")
}
