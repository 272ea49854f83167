package exchange

import (
	"errors"

	"github.com/adshao/go-binance/v2/common"
)

var (
	// ErrConnectivity covers transport failures and timeouts. The outcome of
	// an order that failed this way is unknown.
	ErrConnectivity = errors.New("exchange connectivity error")
	// ErrRateLimited means the venue refused the request before executing it.
	ErrRateLimited = errors.New("exchange rate limited")
	// ErrRejected means the venue refused the request on its merits.
	ErrRejected = errors.New("rejected by exchange")
)

// Binance error codes that signal throttling.
const (
	codeTooManyRequests = -1003
	codeTooManyOrders   = -1015
)

// Error wraps a classified failure with the operation that caused it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string { return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error() }

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// classify maps a raw client error onto the taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var kind error
	var apiErr *common.APIError
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrRejected), errors.Is(err, ErrConnectivity):
		return err
	case errors.As(err, &apiErr):
		if apiErr.Code == codeTooManyRequests || apiErr.Code == codeTooManyOrders {
			kind = ErrRateLimited
		} else {
			kind = ErrRejected
		}
	default:
		// transport failures, timeouts and unreadable responses
		kind = ErrConnectivity
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Retryable reports whether err may succeed on a plain retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnectivity) || errors.Is(err, ErrRateLimited)
}

// Uncertain reports whether an order that returned err may still have been
// executed by the venue.
func Uncertain(err error) bool {
	return errors.Is(err, ErrConnectivity)
}
