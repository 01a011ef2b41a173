package domain

import (
	"errors"
	"fmt"
)

// NetworkError represents a transport-level failure talking to the exchange
// (dial, timeout, broken body). The relay never retries these itself.
type NetworkError struct {
	Op      string // Operation that failed (e.g., "GET /api/mix/v1/market/contracts")
	Err     error  // Underlying error
	Timeout bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport failure of op.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// IsTimeout reports whether err was caused by an exchange call running past its deadline.
func IsTimeout(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) && ne.Timeout {
		return true
	}
	return false
}

// ConfigError represents an invalid configuration field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnsupportedSymbol: the ticker does not normalize to a quote-currency pair.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")

	// ErrSymbolResolution: the ticker normalized but no listed contract matches it.
	ErrSymbolResolution = errors.New("symbol resolution failed")

	// ErrAccountQueryFailed is returned when the equity or position fetch fails.
	ErrAccountQueryFailed = errors.New("account query failed")

	// ErrInvalidMarketData is returned for a missing or non-positive last price.
	ErrInvalidMarketData = errors.New("invalid market data")

	// ErrEnvironmentMismatch marks an exchange rejection caused by sandbox/live routing
	// that the negotiator could not resolve by flipping.
	ErrEnvironmentMismatch = errors.New("environment mismatch")

	// ErrOrderRejected is returned when the exchange refuses an order.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientEquity is returned when the margin account has nothing to size from.
	ErrInsufficientEquity = errors.New("insufficient equity")

	// ErrUnauthorized is returned when the webhook secret does not match.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownAction is returned for a missing or unrecognized alert action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// SymbolError carries the offending external ticker.
type SymbolError struct {
	Symbol string
	Err    error // ErrUnsupportedSymbol or ErrSymbolResolution
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Symbol)
}

func (e *SymbolError) Unwrap() error {
	return e.Err
}

// ActionError carries an enumerated reason for a rejected alert action.
type ActionError struct {
	Reason string // "missing_action" or "unknown_action"
	Action string
}

func (e *ActionError) Error() string {
	if e.Action == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Action)
}

func (e *ActionError) Unwrap() error {
	return ErrUnknownAction
}

// exchangeFailure is implemented by transport errors that carry the raw exchange reply.
type exchangeFailure interface {
	HTTPStatus() int
	ExchangeCode() string
	RawBody() string
}

// ExchangeError is an exchange-side failure surfaced to the caller with the
// exchange's own diagnostic text.
type ExchangeError struct {
	Kind   error // one of the Err* sentinels above
	Op     string
	Status int
	Code   string
	Body   string
	Err    error
}

// NewExchangeError classifies err under kind, lifting status/code/body out of
// the transport error when it has them.
func NewExchangeError(kind error, op string, err error) *ExchangeError {
	e := &ExchangeError{Kind: kind, Op: op, Err: err}
	var ef exchangeFailure
	if errors.As(err, &ef) {
		e.Status = ef.HTTPStatus()
		e.Code = ef.ExchangeCode()
		e.Body = ef.RawBody()
	}
	return e
}

func (e *ExchangeError) Error() string {
	msg := e.Kind.Error() + ": " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Body != "" {
		msg += " body=" + e.Body
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
