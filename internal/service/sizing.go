package service

import (
	"context"
	"fmt"
	"time"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceSource yields the last trade price of an instrument.
type PriceSource interface {
	LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error)
}

// TickerGateway is the public ticker endpoint.
type TickerGateway interface {
	FetchLastPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error)
}

// RESTPrice reads the ticker over REST on every call.
type RESTPrice struct {
	gw TickerGateway
}

func NewRESTPrice(gw TickerGateway) *RESTPrice {
	return &RESTPrice{gw: gw}
}

func (p *RESTPrice) LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	price, err := p.gw.FetchLastPrice(ctx, inst.ID)
	if err != nil {
		return decimal.Zero, domain.NewExchangeError(domain.ErrInvalidMarketData, "fetch ticker "+inst.ID, err)
	}
	return price, nil
}

// PriceFeed is a streamed price cache.
type PriceFeed interface {
	Price(instrumentID string) (decimal.Decimal, time.Time, bool)
}

// StreamPrice uses the streamed price while it is younger than maxAge and
// falls back otherwise.
type StreamPrice struct {
	feed     PriceFeed
	fallback PriceSource
	maxAge   time.Duration
	now      func() time.Time
}

func NewStreamPrice(feed PriceFeed, fallback PriceSource, maxAge time.Duration) *StreamPrice {
	return &StreamPrice{feed: feed, fallback: fallback, maxAge: maxAge, now: time.Now}
}

func (p *StreamPrice) LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	if price, at, ok := p.feed.Price(inst.ID); ok && p.now().Sub(at) <= p.maxAge {
		return price, nil
	}
	return p.fallback.LastPrice(ctx, inst)
}

// SizingEngine derives open quantity from account state (full-seed sizing).
type SizingEngine struct {
	prices PriceSource
}

func NewSizingEngine(prices PriceSource) *SizingEngine {
	return &SizingEngine{prices: prices}
}

// ComputeOpenQuantity returns equity*fraction*leverage / lastPrice, floored to
// the instrument precision and raised to its minimum size. A minimum finer
// than the precision is rounded up so the result stays on the size grid.
func (e *SizingEngine) ComputeOpenQuantity(ctx context.Context, inst domain.Instrument, equity, leverage, fraction decimal.Decimal) (decimal.Decimal, error) {
	if !equity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrInsufficientEquity, equity)
	}
	if !leverage.IsPositive() || !fraction.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid sizing parameters: leverage=%s fraction=%s", leverage, fraction)
	}

	price, err := e.prices.LastPrice(ctx, inst)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: last price %s for %s", domain.ErrInvalidMarketData, price, inst.ID)
	}

	notional := equity.Mul(fraction).Mul(leverage)
	qty := inst.FloorQuantity(notional.Div(price))
	if qty.LessThan(inst.MinQuantity) {
		qty = inst.MinQuantity.RoundCeil(inst.Precision)
	}
	return qty, nil
}
