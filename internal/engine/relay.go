package engine

import (
	"context"
	"fmt"
	"log/slog"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/execution"
	"bitget_relay/internal/infra"

	"github.com/shopspring/decimal"
)

// Resolver maps an external ticker to an instrument.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (domain.Instrument, error)
}

// Accounts reads live account state.
type Accounts interface {
	AvailableEquity(ctx context.Context) (domain.Equity, error)
	PositionSize(ctx context.Context, inst domain.Instrument) (long, short decimal.Decimal, err error)
}

// Sizer computes open quantity.
type Sizer interface {
	ComputeOpenQuantity(ctx context.Context, inst domain.Instrument, equity, leverage, fraction decimal.Decimal) (decimal.Decimal, error)
}

// Submitter places orders.
type Submitter interface {
	Submit(ctx context.Context, inst domain.Instrument, dir domain.Direction, intent domain.Intent, qty decimal.Decimal) (domain.OrderResult, error)
	DryRun() bool
}

// ModeReporter exposes the current environment mode.
type ModeReporter interface {
	Mode() domain.EnvironmentMode
}

// Result is the outcome of one alert.
type Result struct {
	OK           bool                 `json:"ok"`
	Msg          string               `json:"msg,omitempty"`
	Symbol       string               `json:"symbol,omitempty"`
	Quantity     string               `json:"quantity,omitempty"`
	Env          string               `json:"env,omitempty"`
	DryRun       bool                 `json:"dry_run,omitempty"`
	EquitySource domain.EquitySource  `json:"equity_source,omitempty"`
	Duplicate    bool                 `json:"duplicate,omitempty"`
	Orders       []domain.OrderResult `json:"orders,omitempty"`
}

// Sizing holds the account-wide sizing policy.
type Sizing struct {
	Leverage    decimal.Decimal
	Utilization decimal.Decimal
}

// Relay runs one alert through resolution, the gate, sizing or position
// lookup, and dispatch.
type Relay struct {
	catalog  Resolver
	gate     *execution.Gate
	accounts Accounts
	sizer    Sizer
	orders   Submitter
	mode     ModeReporter
	sizing   Sizing
	metrics  *infra.Metrics
	logger   *slog.Logger
}

func NewRelay(catalog Resolver, gate *execution.Gate, accounts Accounts, sizer Sizer, orders Submitter, mode ModeReporter, sizing Sizing, metrics *infra.Metrics) *Relay {
	return &Relay{
		catalog:  catalog,
		gate:     gate,
		accounts: accounts,
		sizer:    sizer,
		orders:   orders,
		mode:     mode,
		sizing:   sizing,
		metrics:  metrics,
		logger:   slog.Default().With("module", "relay"),
	}
}

// Handle executes alert. A flat position on close and a duplicate inside the
// cooldown are successful no-ops, not errors.
func (r *Relay) Handle(ctx context.Context, alert domain.Alert) (res Result, err error) {
	action, err := domain.ParseAction(alert.Action, alert.Side)
	if err != nil {
		r.metrics.RecordAlert("invalid", "rejected")
		return Result{}, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", p), slog.String("symbol", alert.Symbol))
			err = fmt.Errorf("internal error handling %s", action)
		}
		r.metrics.RecordAlert(action.String(), outcome(res, err))
	}()

	if alert.Symbol == "" {
		return Result{}, &domain.SymbolError{Symbol: alert.Symbol, Err: domain.ErrUnsupportedSymbol}
	}

	inst, err := r.catalog.Resolve(ctx, alert.Symbol)
	if err != nil {
		return Result{}, err
	}

	res = Result{Symbol: inst.ID, DryRun: r.orders.DryRun()}

	admitted, err := r.gate.Admit(ctx, inst.ID)
	if err != nil {
		return res, fmt.Errorf("cooldown check for %s: %w", inst.ID, err)
	}
	if !admitted {
		r.logger.Info("Duplicate alert suppressed", slog.String("symbol", inst.ID), slog.String("action", action.String()))
		res.OK, res.Duplicate, res.Msg = true, true, "duplicate suppressed"
		res.Env = r.mode.Mode().String()
		return res, nil
	}

	err = r.gate.WithLock(inst.ID, func() error {
		if action.Intent == domain.IntentOpen {
			return r.open(ctx, inst, action.Side, &res)
		}
		return r.close(ctx, inst, action.Side, &res)
	})
	res.Env = r.mode.Mode().String()
	if err != nil {
		r.logger.Warn("Alert failed",
			slog.String("symbol", inst.ID),
			slog.String("action", action.String()),
			slog.Any("error", err))
		return res, err
	}
	res.OK = true
	return res, nil
}

func (r *Relay) open(ctx context.Context, inst domain.Instrument, side domain.PositionSide, res *Result) error {
	equity, err := r.accounts.AvailableEquity(ctx)
	if err != nil {
		return err
	}
	res.EquitySource = equity.Source

	qty, err := r.sizer.ComputeOpenQuantity(ctx, inst, equity.Amount, r.sizing.Leverage, r.sizing.Utilization)
	if err != nil {
		return err
	}
	res.Quantity = qty.String()

	order, err := r.orders.Submit(ctx, inst, side.OpenDirection(), domain.IntentOpen, qty)
	if err != nil {
		return err
	}
	res.Orders = append(res.Orders, order)
	return nil
}

// close sizes from the live position only, so a close never exceeds what is open.
// Without a side it closes every side that is open.
func (r *Relay) close(ctx context.Context, inst domain.Instrument, side domain.PositionSide, res *Result) error {
	long, short, err := r.accounts.PositionSize(ctx, inst)
	if err != nil {
		return err
	}

	type leg struct {
		side domain.PositionSide
		qty  decimal.Decimal
	}
	var legs []leg
	if (side == "" || side == domain.SideLong) && long.IsPositive() {
		legs = append(legs, leg{domain.SideLong, long})
	}
	if (side == "" || side == domain.SideShort) && short.IsPositive() {
		legs = append(legs, leg{domain.SideShort, short})
	}

	if len(legs) == 0 {
		switch side {
		case domain.SideLong:
			res.Msg = "no long position"
		case domain.SideShort:
			res.Msg = "no short position"
		default:
			res.Msg = "no position"
		}
		res.Quantity = "0"
		return nil
	}

	total := decimal.Zero
	for _, l := range legs {
		order, err := r.orders.Submit(ctx, inst, l.side.CloseDirection(), domain.IntentClose, l.qty)
		if err != nil {
			return err
		}
		res.Orders = append(res.Orders, order)
		total = total.Add(l.qty)
	}
	res.Quantity = total.String()
	return nil
}

func outcome(res Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Duplicate:
		return "duplicate"
	case len(res.Orders) == 0:
		return "no_position"
	default:
		return "ok"
	}
}
