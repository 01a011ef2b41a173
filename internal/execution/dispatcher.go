package execution

import (
	"context"
	"log/slog"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderPlacer is the exchange side of order submission.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
	Mode() domain.EnvironmentMode
}

// Dispatcher builds and submits market orders.
type Dispatcher struct {
	placer     OrderPlacer
	marginCoin string
	dryRun     bool
	metrics    *infra.Metrics
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. With dryRun set nothing reaches the exchange.
func NewDispatcher(placer OrderPlacer, marginCoin string, dryRun bool, metrics *infra.Metrics) *Dispatcher {
	if marginCoin == "" {
		marginCoin = "USDT"
	}
	return &Dispatcher{
		placer:     placer,
		marginCoin: marginCoin,
		dryRun:     dryRun,
		metrics:    metrics,
		logger:     slog.Default().With("module", "dispatcher"),
	}
}

// DryRun reports whether orders are simulated.
func (d *Dispatcher) DryRun() bool {
	return d.dryRun
}

// Submit places one market order. Close intents are always reduce-only.
// An exchange refusal comes back as ErrOrderRejected carrying the raw reply.
func (d *Dispatcher) Submit(ctx context.Context, inst domain.Instrument, dir domain.Direction, intent domain.Intent, qty decimal.Decimal) (domain.OrderResult, error) {
	req := domain.OrderRequest{
		Instrument: inst,
		Direction:  dir,
		Intent:     intent,
		Quantity:   qty,
		MarginCoin: d.marginCoin,
		ClientOID:  uuid.NewString(),
	}
	result := domain.OrderResult{
		InstrumentID: inst.ID,
		Direction:    dir,
		Intent:       intent,
		Quantity:     qty,
		ReduceOnly:   req.ReduceOnly(),
		ClientOID:    req.ClientOID,
		DryRun:       d.dryRun,
	}

	if d.dryRun {
		d.logger.Info("Dry run order",
			slog.String("symbol", inst.ID),
			slog.String("side", string(dir)),
			slog.String("intent", string(intent)),
			slog.String("qty", qty.String()))
		d.metrics.RecordOrder(string(dir), string(intent), "dry_run")
		return result, nil
	}

	ack, err := d.placer.PlaceOrder(ctx, req)
	if err != nil {
		if domain.IsTimeout(err) {
			return result, err
		}
		return result, domain.NewExchangeError(domain.ErrOrderRejected, "place order "+inst.ID, err)
	}
	d.metrics.RecordOrder(string(dir), string(intent), d.placer.Mode().String())

	result.OrderID = ack.OrderID
	if ack.ClientOID != "" {
		result.ClientOID = ack.ClientOID
	}
	result.Raw = ack.Raw
	if ack.OrderID == "" {
		// 주문은 접수됨: 재전송하면 포지션이 두 배가 됨
		d.logger.Warn("Order accepted without order id, check the exchange by client_oid",
			slog.String("symbol", inst.ID),
			slog.String("client_oid", result.ClientOID))
	}

	d.logger.Info("Order placed",
		slog.String("symbol", inst.ID),
		slog.String("side", string(dir)),
		slog.String("intent", string(intent)),
		slog.String("qty", qty.String()),
		slog.String("order_id", ack.OrderID),
		slog.String("client_oid", result.ClientOID))
	return result, nil
}
