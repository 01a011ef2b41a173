package domain

import "github.com/shopspring/decimal"

// Instrument is a tradable contract as listed by the exchange.
// Values are immutable once fetched; the catalog swaps whole snapshots.
type Instrument struct {
	ID          string          `json:"id"`        // e.g. "BAKEUSDT_UMCBL" (v1) or "BAKEUSDT" (v2)
	Precision   int32           `json:"precision"` // digits after the decimal point for size
	MinQuantity decimal.Decimal `json:"min_quantity"`
}

// FloorQuantity truncates q to the instrument's size precision.
func (i Instrument) FloorQuantity(q decimal.Decimal) decimal.Decimal {
	return q.RoundFloor(i.Precision)
}
