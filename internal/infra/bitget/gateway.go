package bitget

import (
	"context"
	"encoding/json"
	"log/slog"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
)

// Gateway exposes the exchange calls the relay needs, typed through a Schema.
// Errors are returned as-is from the client (*APIError, *domain.NetworkError);
// classification into the relay's taxonomy happens in the services.
type Gateway struct {
	client *Client
	schema *Schema
	logger *slog.Logger
}

func NewGateway(client *Client, schema *Schema) *Gateway {
	return &Gateway{client: client, schema: schema, logger: slog.Default().With("module", "bitget_gateway")}
}

// ContractSuffix is appended to a normalized base ticker to form an instrument id.
func (g *Gateway) ContractSuffix() string {
	return g.schema.Fields.ContractSuffix
}

// APIVersion is the configured generation, used to key persisted snapshots.
func (g *Gateway) APIVersion() string {
	return string(g.schema.Version)
}

// Mode is the environment mode requests currently use.
func (g *Gateway) Mode() domain.EnvironmentMode {
	return g.client.Mode()
}

func (g *Gateway) FetchContracts(ctx context.Context) ([]domain.Instrument, error) {
	resp, err := g.client.Get(ctx, g.schema.Paths.Contracts, g.schema.ContractsQuery())
	if err != nil {
		return nil, err
	}
	return g.schema.ParseContracts(resp.Data)
}

// FetchLastPrice reads the public ticker.
func (g *Gateway) FetchLastPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	resp, err := g.client.Get(ctx, g.schema.Paths.Ticker, g.schema.TickerQuery(instrumentID))
	if err != nil {
		return decimal.Zero, err
	}
	return g.schema.ParseLastPrice(resp.Data)
}

func (g *Gateway) FetchAccounts(ctx context.Context) ([]domain.MarginAccount, error) {
	resp, err := g.client.Get(ctx, g.schema.Paths.Accounts, g.schema.AccountsQuery())
	if err != nil {
		return nil, err
	}
	return g.schema.ParseAccounts(resp.Data)
}

func (g *Gateway) FetchPositions(ctx context.Context, instrumentID, marginCoin string) ([]domain.PositionRecord, error) {
	resp, err := g.client.Get(ctx, g.schema.Paths.Position, g.schema.PositionQuery(instrumentID, marginCoin))
	if err != nil {
		return nil, err
	}
	return g.schema.ParsePositions(resp.Data)
}

// PlaceOrder submits a market order. The ack carries the full response body.
// A success envelope means the order is live even when its data cannot be
// read; that ack comes back with an empty OrderID and the request's clientOid.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	resp, err := g.client.Post(ctx, g.schema.Paths.PlaceOrder, g.schema.OrderBody(req))
	if err != nil {
		return domain.OrderAck{}, err
	}
	ack, err := g.schema.ParseOrderAck(resp.Data)
	if err != nil {
		g.logger.Warn("Order accepted but ack unreadable",
			slog.String("symbol", req.Instrument.ID),
			slog.String("client_oid", req.ClientOID),
			slog.Any("error", err))
		ack = domain.OrderAck{}
	}
	if ack.ClientOID == "" {
		ack.ClientOID = req.ClientOID
	}
	ack.Raw = json.RawMessage(resp.Body)
	return ack, nil
}
