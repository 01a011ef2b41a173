package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/infra"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const defaultQuote = "USDT"

// ContractSource lists the tradable contracts.
type ContractSource interface {
	FetchContracts(ctx context.Context) ([]domain.Instrument, error)
	ContractSuffix() string
	APIVersion() string
}

// SnapshotStore keeps the last listing that loaded successfully.
type SnapshotStore interface {
	SaveInstruments(ctx context.Context, apiVersion string, instruments []domain.Instrument) error
	LoadInstruments(ctx context.Context, apiVersion string) ([]domain.Instrument, error)
}

type contractSet struct {
	byID   map[string]domain.Instrument
	sorted []string
}

// Catalog resolves external tickers to exchange instruments.
// The listing is shared across instruments, fetched lazily and kept for ttl.
type Catalog struct {
	source ContractSource
	store  SnapshotStore
	ttl    time.Duration
	quote  string

	mu          sync.RWMutex
	set         *contractSet
	refreshedAt time.Time

	sf      singleflight.Group
	now     func() time.Time
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewCatalog creates a catalog. store may be nil.
func NewCatalog(source ContractSource, store SnapshotStore, ttl time.Duration, metrics *infra.Metrics) *Catalog {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Catalog{
		source:  source,
		store:   store,
		ttl:     ttl,
		quote:   defaultQuote,
		now:     time.Now,
		metrics: metrics,
		logger:  slog.Default().With("module", "catalog"),
	}
}

var (
	perpTrailing = []string{".PERP", ".P"}
	perpTokens   = []string{"-PERP", "_PERP", "PERPETUAL", "PERP"}
	perpPhrases  = []string{"PERPETUAL MIX CONTRACT", "PERPETUAL CONTRACT"}
)

// Normalize turns an external ticker ("BITGET:BAKEUSDT.P") into its base
// pair ("BAKEUSDT"). The result always ends in the quote currency.
func Normalize(symbol string) (string, error) {
	return normalize(symbol, defaultQuote)
}

func normalize(symbol, quote string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}

	// Stripping can expose another suffix ("X.P.P"); repeat until stable.
	for {
		next := s
		for {
			stripped := stripPerp(next)
			if stripped == next {
				break
			}
			next = stripped
		}
		next = stripNonAlnum(next)
		if next == s {
			break
		}
		s = next
	}

	if !strings.HasSuffix(s, quote) || len(s) == len(quote) {
		return "", &domain.SymbolError{Symbol: symbol, Err: domain.ErrUnsupportedSymbol}
	}
	return s, nil
}

func stripPerp(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range perpPhrases {
		if strings.HasSuffix(s, p) {
			s = strings.TrimSpace(strings.TrimSuffix(s, p))
		}
	}
	for _, suf := range perpTrailing {
		if strings.HasSuffix(s, suf) {
			s = strings.TrimSuffix(s, suf)
			break
		}
	}
	for _, tok := range perpTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return s
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve maps an external ticker to a listed instrument. An exact
// base+suffix match wins; otherwise the first listed id (in sorted order)
// starting with the base is used.
func (c *Catalog) Resolve(ctx context.Context, symbol string) (domain.Instrument, error) {
	base, err := normalize(symbol, c.quote)
	if err != nil {
		return domain.Instrument{}, err
	}

	set, err := c.contracts(ctx)
	if err != nil {
		return domain.Instrument{}, err
	}

	candidate := base + c.source.ContractSuffix()
	if inst, ok := set.byID[candidate]; ok {
		return inst, nil
	}

	for _, id := range set.sorted {
		if strings.HasPrefix(id, base) {
			c.logger.Info("Resolved symbol by prefix",
				slog.String("symbol", symbol),
				slog.String("candidate", candidate),
				slog.String("instrument", id))
			return set.byID[id], nil
		}
	}

	return domain.Instrument{}, &domain.SymbolError{Symbol: symbol, Err: domain.ErrSymbolResolution}
}

// Refresh forces a fetch regardless of age. The previous listing stays in
// place if it fails.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("contracts", func() (any, error) {
		return nil, c.fetch(context.WithoutCancel(ctx))
	})
	return err
}

// Len reports how many instruments are loaded.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil {
		return 0
	}
	return len(c.set.byID)
}

func (c *Catalog) contracts(ctx context.Context) (*contractSet, error) {
	c.mu.RLock()
	set, at := c.set, c.refreshedAt
	c.mu.RUnlock()
	if set != nil && !at.IsZero() && c.now().Sub(at) < c.ttl {
		return set, nil
	}

	err := c.Refresh(ctx)
	if err == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.set, nil
	}

	if set != nil {
		c.metrics.RecordCatalogRefresh("stale")
		c.logger.Warn("Contract refresh failed, serving stale listing",
			slog.Any("error", err),
			slog.Time("refreshed_at", at))
		return set, nil
	}

	if restored := c.restore(ctx); restored != nil {
		return restored, nil
	}

	c.metrics.RecordCatalogRefresh("error")
	if domain.IsTimeout(err) {
		return nil, err
	}
	return nil, domain.NewExchangeError(domain.ErrSymbolResolution, "fetch contracts", err)
}

func (c *Catalog) fetch(ctx context.Context) error {
	instruments, err := c.source.FetchContracts(ctx)
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return errors.New("exchange returned an empty contract listing")
	}

	c.install(instruments, c.now())
	c.metrics.RecordCatalogRefresh("ok")
	c.logger.Debug("Contract listing refreshed", slog.Int("count", len(instruments)))

	if c.store != nil {
		if err := c.store.SaveInstruments(ctx, c.source.APIVersion(), instruments); err != nil {
			c.logger.Warn("Failed to save contract snapshot", slog.Any("error", err))
		}
	}
	return nil
}

// restore loads the persisted listing. It is installed without a refresh
// time so the next resolution tries the exchange again.
func (c *Catalog) restore(ctx context.Context) *contractSet {
	if c.store == nil {
		return nil
	}
	v, _, _ := c.sf.Do("snapshot", func() (any, error) {
		instruments, err := c.store.LoadInstruments(context.WithoutCancel(ctx), c.source.APIVersion())
		if err != nil {
			c.logger.Warn("Failed to load contract snapshot", slog.Any("error", err))
			return nil, err
		}
		if len(instruments) == 0 {
			return nil, nil
		}
		c.metrics.RecordCatalogRefresh("snapshot")
		c.logger.Warn("Exchange unreachable, using stored contract snapshot", slog.Int("count", len(instruments)))
		return c.install(instruments, time.Time{}), nil
	})
	set, _ := v.(*contractSet)
	return set
}

func (c *Catalog) install(instruments []domain.Instrument, at time.Time) *contractSet {
	set := &contractSet{
		byID:   make(map[string]domain.Instrument, len(instruments)),
		sorted: make([]string, 0, len(instruments)),
	}
	for _, inst := range instruments {
		if inst.MinQuantity.IsNegative() {
			inst.MinQuantity = decimal.Zero
		}
		if _, dup := set.byID[inst.ID]; !dup {
			set.sorted = append(set.sorted, inst.ID)
		}
		set.byID[inst.ID] = inst
	}
	sort.Strings(set.sorted)

	c.mu.Lock()
	c.set = set
	c.refreshedAt = at
	c.mu.Unlock()
	return set
}
