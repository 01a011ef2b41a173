package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Direction is the order side sent to the exchange.
type Direction string

// Intent says whether an order opens exposure or reduces it.
type Intent string

// PositionSide is the side of an open position.
type PositionSide string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"

	IntentOpen  Intent = "open"
	IntentClose Intent = "close"

	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// OpenDirection is the order direction that opens a position on this side.
func (s PositionSide) OpenDirection() Direction {
	if s == SideShort {
		return DirectionSell
	}
	return DirectionBuy
}

// CloseDirection is the order direction that reduces a position on this side.
func (s PositionSide) CloseDirection() Direction {
	if s == SideShort {
		return DirectionBuy
	}
	return DirectionSell
}

// ClosedSide is the position side an order in this direction reduces.
func (d Direction) ClosedSide() PositionSide {
	if d == DirectionBuy {
		return SideShort
	}
	return SideLong
}

// OrderRequest is a market order ready for the exchange.
type OrderRequest struct {
	Instrument Instrument
	Direction  Direction
	Intent     Intent
	Quantity   decimal.Decimal
	MarginCoin string
	ClientOID  string
}

// ReduceOnly is true for every close; a close must never grow or flip a position.
func (r OrderRequest) ReduceOnly() bool {
	return r.Intent == IntentClose
}

// OrderAck is the exchange's acknowledgment of an accepted order.
type OrderAck struct {
	OrderID   string
	ClientOID string
	Raw       json.RawMessage // full response body, untouched
}

// OrderResult is what the dispatcher reports back for one submitted order.
type OrderResult struct {
	InstrumentID string          `json:"symbol"`
	Direction    Direction       `json:"side"`
	Intent       Intent          `json:"intent"`
	Quantity     decimal.Decimal `json:"quantity"`
	ReduceOnly   bool            `json:"reduce_only"`
	OrderID      string          `json:"order_id,omitempty"`
	ClientOID    string          `json:"client_oid"`
	DryRun       bool            `json:"dry_run"`
	Raw          json.RawMessage `json:"exchange,omitempty"`
}
