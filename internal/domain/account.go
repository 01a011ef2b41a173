package domain

import "github.com/shopspring/decimal"

// EquitySource tells a real exchange reading apart from the test-only fallback.
type EquitySource string

const (
	EquityFromExchange EquitySource = "exchange"
	EquityFromFallback EquitySource = "fallback"
)

// Equity is the margin available for sizing new positions.
type Equity struct {
	Amount decimal.Decimal
	Coin   string
	Source EquitySource
}

// IsFallback reports whether Amount was substituted rather than read.
func (e Equity) IsFallback() bool {
	return e.Source == EquityFromFallback
}

// MarginAccount is one margin-coin row of the account listing.
// Has* flags separate an absent field from a literal zero.
type MarginAccount struct {
	Coin         string
	Available    decimal.Decimal
	HasAvailable bool
	Equity       decimal.Decimal
	HasEquity    bool
}

// PositionRecord is one side of an open position.
type PositionRecord struct {
	HoldSide PositionSide
	Total    decimal.Decimal
}
