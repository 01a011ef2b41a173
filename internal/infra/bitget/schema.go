package bitget

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
)

// APIVersion selects one of the two incompatible mix-contract API generations.
type APIVersion string

const (
	V1 APIVersion = "v1"
	V2 APIVersion = "v2"
)

// FieldMap names the JSON keys (and two literal values) that differ between
// generations. Any of them can be overridden from config.
type FieldMap struct {
	Symbol         string
	VolumePlace    string
	MinTradeNum    string
	SymbolStatus   string
	LastPrice      string
	MarginCoin     string
	Available      string
	Equity         string
	HoldSide       string
	Total          string
	OrderID        string
	ClientOID      string
	ProductType    string // query/body value, not a key
	ContractSuffix string // appended to the normalized base, e.g. "_UMCBL"
}

// Endpoints are request paths for one generation.
type Endpoints struct {
	Contracts  string
	Ticker     string
	Accounts   string
	Position   string
	PlaceOrder string
}

var (
	v1Fields = FieldMap{
		Symbol:         "symbol",
		VolumePlace:    "volumePlace",
		MinTradeNum:    "minTradeNum",
		SymbolStatus:   "symbolStatus",
		LastPrice:      "last",
		MarginCoin:     "marginCoin",
		Available:      "available",
		Equity:         "equity",
		HoldSide:       "holdSide",
		Total:          "total",
		OrderID:        "orderId",
		ClientOID:      "clientOid",
		ProductType:    "umcbl",
		ContractSuffix: "_UMCBL",
	}
	v1Paths = Endpoints{
		Contracts:  "/api/mix/v1/market/contracts",
		Ticker:     "/api/mix/v1/market/ticker",
		Accounts:   "/api/mix/v1/account/accounts",
		Position:   "/api/mix/v1/position/singlePosition-v2",
		PlaceOrder: "/api/mix/v1/order/placeOrder",
	}

	v2Fields = FieldMap{
		Symbol:         "symbol",
		VolumePlace:    "volumePlace",
		MinTradeNum:    "minTradeNum",
		SymbolStatus:   "symbolStatus",
		LastPrice:      "lastPr",
		MarginCoin:     "marginCoin",
		Available:      "available",
		Equity:         "accountEquity",
		HoldSide:       "holdSide",
		Total:          "total",
		OrderID:        "orderId",
		ClientOID:      "clientOid",
		ProductType:    "USDT-FUTURES",
		ContractSuffix: "",
	}
	v2Paths = Endpoints{
		Contracts:  "/api/v2/mix/market/contracts",
		Ticker:     "/api/v2/mix/market/ticker",
		Accounts:   "/api/v2/mix/account/accounts",
		Position:   "/api/v2/mix/position/single-position",
		PlaceOrder: "/api/v2/mix/order/place-order",
	}
)

// Schema is the version adapter: request shapes and response field mapping
// for one API generation. Callers never branch on the version themselves.
type Schema struct {
	Version      APIVersion
	Fields       FieldMap
	Paths        Endpoints
	positionMode string // hedge | one_way
	marginMode   string // crossed | isolated
}

// NewSchema builds the adapter for version, applying per-key overrides
// (config keys such as "available" or "last_price").
func NewSchema(version string, overrides map[string]string, positionMode, marginMode string) (*Schema, error) {
	s := &Schema{positionMode: positionMode, marginMode: marginMode}
	switch APIVersion(strings.ToLower(version)) {
	case V1:
		s.Version, s.Fields, s.Paths = V1, v1Fields, v1Paths
	case V2:
		s.Version, s.Fields, s.Paths = V2, v2Fields, v2Paths
	default:
		return nil, fmt.Errorf("unsupported api version %q", version)
	}
	if s.positionMode == "" {
		s.positionMode = "hedge"
	}
	if s.marginMode == "" {
		s.marginMode = "crossed"
	}

	for key, val := range overrides {
		target := s.fieldByKey(key)
		if target == nil {
			return nil, fmt.Errorf("unknown field override %q", key)
		}
		*target = val
	}
	return s, nil
}

func (s *Schema) fieldByKey(key string) *string {
	switch strings.ToLower(key) {
	case "symbol":
		return &s.Fields.Symbol
	case "volume_place":
		return &s.Fields.VolumePlace
	case "min_trade_num":
		return &s.Fields.MinTradeNum
	case "symbol_status":
		return &s.Fields.SymbolStatus
	case "last_price":
		return &s.Fields.LastPrice
	case "margin_coin":
		return &s.Fields.MarginCoin
	case "available":
		return &s.Fields.Available
	case "equity":
		return &s.Fields.Equity
	case "hold_side":
		return &s.Fields.HoldSide
	case "total":
		return &s.Fields.Total
	case "order_id":
		return &s.Fields.OrderID
	case "client_oid":
		return &s.Fields.ClientOID
	case "product_type":
		return &s.Fields.ProductType
	case "contract_suffix":
		return &s.Fields.ContractSuffix
	}
	return nil
}

// --- Queries ---

func (s *Schema) ContractsQuery() url.Values {
	return url.Values{"productType": {s.Fields.ProductType}}
}

func (s *Schema) TickerQuery(instrumentID string) url.Values {
	q := url.Values{"symbol": {instrumentID}}
	if s.Version == V2 {
		q.Set("productType", s.Fields.ProductType)
	}
	return q
}

func (s *Schema) AccountsQuery() url.Values {
	return url.Values{"productType": {s.Fields.ProductType}}
}

func (s *Schema) PositionQuery(instrumentID, marginCoin string) url.Values {
	q := url.Values{"symbol": {instrumentID}, "marginCoin": {marginCoin}}
	if s.Version == V2 {
		q.Set("productType", s.Fields.ProductType)
	}
	return q
}

// --- Order bodies ---
// Struct field order is the wire order; the signature covers these bytes.

type v1OrderBody struct {
	Symbol     string `json:"symbol"`
	MarginCoin string `json:"marginCoin"`
	Size       string `json:"size"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
	ClientOid  string `json:"clientOid,omitempty"`
}

type v2OrderBody struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	TradeSide   string `json:"tradeSide,omitempty"`
	OrderType   string `json:"orderType"`
	ReduceOnly  string `json:"reduceOnly,omitempty"`
	ClientOid   string `json:"clientOid,omitempty"`
}

// OrderBody builds the market order payload for req.
func (s *Schema) OrderBody(req domain.OrderRequest) any {
	size := req.Quantity.String()

	if s.Version == V1 {
		body := v1OrderBody{
			Symbol:     req.Instrument.ID,
			MarginCoin: req.MarginCoin,
			Size:       size,
			OrderType:  "market",
			ClientOid:  req.ClientOID,
		}
		if s.positionMode == "one_way" {
			body.Side = string(req.Direction) + "_single"
			body.ReduceOnly = req.ReduceOnly()
			return body
		}
		switch {
		case req.Intent == domain.IntentOpen:
			body.Side = "open_" + string(sideOpenedBy(req.Direction))
		default:
			body.Side = "close_" + string(req.Direction.ClosedSide())
		}
		return body
	}

	body := v2OrderBody{
		Symbol:      req.Instrument.ID,
		ProductType: s.Fields.ProductType,
		MarginMode:  s.marginMode,
		MarginCoin:  req.MarginCoin,
		Size:        size,
		Side:        string(req.Direction),
		OrderType:   "market",
		ClientOid:   req.ClientOID,
	}
	if s.positionMode == "one_way" {
		if req.ReduceOnly() {
			body.ReduceOnly = "YES"
		}
		return body
	}
	body.TradeSide = string(req.Intent)
	if req.Intent == domain.IntentClose {
		// 헤지 모드 청산: side는 포지션 방향 (롱 청산 = buy)
		body.Side = string(req.Direction.ClosedSide().OpenDirection())
	}
	return body
}

func sideOpenedBy(d domain.Direction) domain.PositionSide {
	if d == domain.DirectionSell {
		return domain.SideShort
	}
	return domain.SideLong
}

// --- Parsers ---

type row map[string]json.RawMessage

func (r row) str(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// numbers and other scalars keep their literal text
	return strings.Trim(string(raw), `"`)
}

// dec reads a decimal that may be quoted or bare. "" and null count as absent.
func (r row) dec(key string) (decimal.Decimal, bool, error) {
	raw, ok := r[key]
	if !ok {
		return decimal.Zero, false, nil
	}
	switch strings.TrimSpace(string(raw)) {
	case "null", `""`:
		return decimal.Zero, false, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, false, fmt.Errorf("field %s: %w", key, err)
	}
	return d, true, nil
}

// rows accepts both a list and a single object.
func rows(data json.RawMessage) ([]row, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var one row
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, err
		}
		return []row{one}, nil
	}
	var many []row
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// ParseContracts maps the contract listing to instruments, skipping delisted ones.
func (s *Schema) ParseContracts(data json.RawMessage) ([]domain.Instrument, error) {
	list, err := rows(data)
	if err != nil {
		return nil, fmt.Errorf("decode contracts: %w", err)
	}
	out := make([]domain.Instrument, 0, len(list))
	for _, r := range list {
		id := r.str(s.Fields.Symbol)
		if id == "" {
			continue
		}
		if strings.EqualFold(r.str(s.Fields.SymbolStatus), "off") {
			continue
		}
		inst := domain.Instrument{ID: id}
		if vp := r.str(s.Fields.VolumePlace); vp != "" {
			p, err := strconv.Atoi(vp)
			if err != nil || p < 0 {
				return nil, fmt.Errorf("contract %s: invalid %s %q", id, s.Fields.VolumePlace, vp)
			}
			inst.Precision = int32(p)
		}
		minQty, _, err := r.dec(s.Fields.MinTradeNum)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", id, err)
		}
		inst.MinQuantity = minQty
		out = append(out, inst)
	}
	return out, nil
}

// ParseLastPrice reads the last trade price from a ticker reply.
func (s *Schema) ParseLastPrice(data json.RawMessage) (decimal.Decimal, error) {
	list, err := rows(data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	if len(list) == 0 {
		return decimal.Zero, errors.New("empty ticker")
	}
	price, ok, err := list[0].dec(s.Fields.LastPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("ticker has no %s", s.Fields.LastPrice)
	}
	return price, nil
}

// ParseAccounts reads one row per margin coin.
func (s *Schema) ParseAccounts(data json.RawMessage) ([]domain.MarginAccount, error) {
	list, err := rows(data)
	if err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make([]domain.MarginAccount, 0, len(list))
	for _, r := range list {
		acc := domain.MarginAccount{Coin: strings.ToUpper(r.str(s.Fields.MarginCoin))}
		if acc.Available, acc.HasAvailable, err = r.dec(s.Fields.Available); err != nil {
			return nil, err
		}
		if acc.Equity, acc.HasEquity, err = r.dec(s.Fields.Equity); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// ParsePositions reads per-side totals. Rows without a recognised side are ignored.
func (s *Schema) ParsePositions(data json.RawMessage) ([]domain.PositionRecord, error) {
	list, err := rows(data)
	if err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]domain.PositionRecord, 0, len(list))
	for _, r := range list {
		var side domain.PositionSide
		switch strings.ToLower(r.str(s.Fields.HoldSide)) {
		case "long", "buy":
			side = domain.SideLong
		case "short", "sell":
			side = domain.SideShort
		default:
			continue
		}
		total, _, err := r.dec(s.Fields.Total)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PositionRecord{HoldSide: side, Total: total.Abs()})
	}
	return out, nil
}

// ParseOrderAck reads the order id pair out of a place-order reply.
func (s *Schema) ParseOrderAck(data json.RawMessage) (domain.OrderAck, error) {
	list, err := rows(data)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("decode order ack: %w", err)
	}
	if len(list) == 0 {
		return domain.OrderAck{}, errors.New("empty order ack")
	}
	return domain.OrderAck{
		OrderID:   list[0].str(s.Fields.OrderID),
		ClientOID: list[0].str(s.Fields.ClientOID),
	}, nil
}
