package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountGateway is the signed account side of the exchange.
type AccountGateway interface {
	FetchAccounts(ctx context.Context) ([]domain.MarginAccount, error)
	FetchPositions(ctx context.Context, instrumentID, marginCoin string) ([]domain.PositionRecord, error)
}

// AccountClient reads equity and positions fresh on every call. Nothing is cached.
type AccountClient struct {
	gw          AccountGateway
	marginCoins []string
	fallback    decimal.Decimal
	logger      *slog.Logger
}

// NewAccountClient walks marginCoins in order when reading equity. A positive
// fallback replaces a failed equity read; config only allows it in dry-run.
func NewAccountClient(gw AccountGateway, marginCoins []string, fallback decimal.Decimal) *AccountClient {
	coins := make([]string, 0, len(marginCoins))
	for _, c := range marginCoins {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			coins = append(coins, c)
		}
	}
	if len(coins) == 0 {
		coins = []string{"USDT"}
	}
	return &AccountClient{
		gw:          gw,
		marginCoins: coins,
		fallback:    fallback,
		logger:      slog.Default().With("module", "account"),
	}
}

// MarginCoin is the coin orders and position queries are made in.
func (a *AccountClient) MarginCoin() string {
	return a.marginCoins[0]
}

// AvailableEquity returns the margin available for new positions. It prefers
// the "available" figure over "equity", and the first configured coin that
// holds a positive amount.
func (a *AccountClient) AvailableEquity(ctx context.Context) (domain.Equity, error) {
	accounts, err := a.gw.FetchAccounts(ctx)
	if err != nil {
		if a.fallback.IsPositive() {
			a.logger.Warn("Account query failed, using configured fallback equity",
				slog.Any("error", err),
				slog.String("fallback", a.fallback.String()))
			return domain.Equity{Amount: a.fallback, Coin: a.marginCoins[0], Source: domain.EquityFromFallback}, nil
		}
		return domain.Equity{}, domain.NewExchangeError(domain.ErrAccountQueryFailed, "fetch accounts", err)
	}

	byCoin := make(map[string]domain.MarginAccount, len(accounts))
	for _, acc := range accounts {
		byCoin[acc.Coin] = acc
	}

	var first *domain.Equity
	for _, coin := range a.marginCoins {
		acc, ok := byCoin[coin]
		if !ok {
			continue
		}
		amount, ok := usable(acc)
		if !ok {
			continue
		}
		eq := domain.Equity{Amount: amount, Coin: coin, Source: domain.EquityFromExchange}
		if amount.IsPositive() {
			return eq, nil
		}
		if first == nil {
			first = &eq
		}
	}

	if first == nil {
		return domain.Equity{}, domain.NewExchangeError(domain.ErrAccountQueryFailed, "fetch accounts",
			fmt.Errorf("no margin account for %s", strings.Join(a.marginCoins, "/")))
	}
	return *first, fmt.Errorf("%w: %s %s", domain.ErrInsufficientEquity, first.Amount, first.Coin)
}

func usable(acc domain.MarginAccount) (decimal.Decimal, bool) {
	if acc.HasAvailable {
		return acc.Available, true
	}
	if acc.HasEquity {
		return acc.Equity, true
	}
	return decimal.Zero, false
}

// PositionSize returns the open long and short totals for inst. No position
// record means flat, (0, 0). A failed query is an error, never zero.
func (a *AccountClient) PositionSize(ctx context.Context, inst domain.Instrument) (long, short decimal.Decimal, err error) {
	records, err := a.gw.FetchPositions(ctx, inst.ID, a.MarginCoin())
	if err != nil {
		return decimal.Zero, decimal.Zero, domain.NewExchangeError(domain.ErrAccountQueryFailed, "fetch positions "+inst.ID, err)
	}

	long, short = decimal.Zero, decimal.Zero
	for _, r := range records {
		switch r.HoldSide {
		case domain.SideLong:
			long = long.Add(r.Total)
		case domain.SideShort:
			short = short.Add(r.Total)
		}
	}
	return long, short, nil
}
