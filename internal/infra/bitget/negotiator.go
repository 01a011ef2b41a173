package bitget

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/infra"
)

// ModeStore persists the calibrated mode so a restart does not re-learn it.
type ModeStore interface {
	SaveMode(ctx context.Context, mode domain.EnvironmentMode) error
}

// Negotiator owns the process-wide environment mode. When the exchange answers
// with an environment-mismatch rejection it flips to the other sandbox strategy
// and retries the call exactly once. The flip is sticky.
type Negotiator struct {
	mode     atomic.Int32
	codes    map[string]struct{}
	messages []string
	store    ModeStore
	metrics  *infra.Metrics
	logger   *slog.Logger

	// noAltHost: no dedicated sandbox host is configured, so header mode has
	// nowhere safe to flip to.
	noAltHost bool
}

// mismatchError is a mismatch rejection the negotiator could not resolve.
// The exchange's own error stays reachable for diagnostics.
type mismatchError struct {
	err error
}

func (e *mismatchError) Error() string { return e.err.Error() }

func (e *mismatchError) Unwrap() []error { return []error{domain.ErrEnvironmentMismatch, e.err} }

// NewNegotiator starts in initial. codes are exchange error codes and messages
// are case-insensitive substrings that both signal a mismatch.
func NewNegotiator(initial domain.EnvironmentMode, codes, messages []string) *Negotiator {
	n := &Negotiator{
		codes:  make(map[string]struct{}, len(codes)),
		logger: slog.Default().With("module", "env_negotiator"),
	}
	n.mode.Store(int32(initial))
	for _, c := range codes {
		n.codes[c] = struct{}{}
	}
	for _, m := range messages {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			n.messages = append(n.messages, m)
		}
	}
	return n
}

// WithStore attaches mode persistence.
func (n *Negotiator) WithStore(store ModeStore) *Negotiator {
	n.store = store
	return n
}

// WithMetrics attaches flip counting.
func (n *Negotiator) WithMetrics(m *infra.Metrics) *Negotiator {
	n.metrics = m
	return n
}

// WithoutAltHost disables flipping into sandbox_alt_host. Without a sandbox
// host that mode would route to the production host with no marker header.
func (n *Negotiator) WithoutAltHost() *Negotiator {
	n.noAltHost = true
	return n
}

// Current returns the mode new requests use.
func (n *Negotiator) Current() domain.EnvironmentMode {
	return domain.EnvironmentMode(n.mode.Load())
}

// IsMismatch reports whether err is the exchange's environment-mismatch rejection.
func (n *Negotiator) IsMismatch(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if _, ok := n.codes[apiErr.Code]; ok && apiErr.Code != "" {
		return true
	}
	msg := strings.ToLower(apiErr.Msg)
	for _, m := range n.messages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Execute runs call under the current mode. On a mismatch it flips and runs it
// once more. A mismatch that cannot be resolved comes back matching
// domain.ErrEnvironmentMismatch and still unwraps to the exchange error.
func (n *Negotiator) Execute(ctx context.Context, call func(ctx context.Context, mode domain.EnvironmentMode) error) error {
	mode := n.Current()
	err := call(ctx, mode)
	if err == nil || !n.IsMismatch(err) {
		return err
	}

	alt, ok := mode.Alternate()
	if !ok {
		// Live has nowhere to flip to.
		return &mismatchError{err: err}
	}
	if alt == domain.ModeSandboxAltHost && n.noAltHost {
		n.logger.Warn("Environment mismatch but no sandbox host configured, not flipping",
			slog.String("mode", mode.String()),
			slog.Any("error", err))
		return &mismatchError{err: err}
	}

	// Only the caller that still sees the old mode flips; concurrent
	// mismatches observed under the same mode result in a single flip.
	if n.mode.CompareAndSwap(int32(mode), int32(alt)) {
		n.metrics.RecordEnvironmentFlip()
		n.logger.Warn("Environment mismatch, switching sandbox strategy",
			slog.String("from", mode.String()),
			slog.String("to", alt.String()),
			slog.Any("error", err))
		if n.store != nil {
			if serr := n.store.SaveMode(context.WithoutCancel(ctx), alt); serr != nil {
				n.logger.Warn("Failed to persist environment mode", slog.Any("error", serr))
			}
		}
	}

	if err = call(ctx, alt); err != nil && n.IsMismatch(err) {
		return &mismatchError{err: err}
	}
	return err
}
