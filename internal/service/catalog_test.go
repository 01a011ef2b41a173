package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bitget_relay/internal/domain"

	"github.com/shopspring/decimal"
)

type fakeContracts struct {
	mu     sync.Mutex
	calls  atomic.Int32
	list   []domain.Instrument
	err    error
	delay  time.Duration
	suffix string
}

func (f *fakeContracts) FetchContracts(ctx context.Context) ([]domain.Instrument, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, f.err
}

func (f *fakeContracts) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeContracts) ContractSuffix() string { return f.suffix }
func (f *fakeContracts) APIVersion() string     { return "v1" }

type memSnapshots struct {
	saved map[string][]domain.Instrument
}

func (m *memSnapshots) SaveInstruments(_ context.Context, v string, list []domain.Instrument) error {
	if m.saved == nil {
		m.saved = map[string][]domain.Instrument{}
	}
	m.saved[v] = list
	return nil
}

func (m *memSnapshots) LoadInstruments(_ context.Context, v string) ([]domain.Instrument, error) {
	return m.saved[v], nil
}

func v1Listing() []domain.Instrument {
	return []domain.Instrument{
		{ID: "BAKEUSDT_UMCBL", Precision: 1, MinQuantity: decimal.NewFromInt(1)},
		{ID: "BTCUSDT_UMCBL", Precision: 3, MinQuantity: decimal.RequireFromString("0.001")},
		{ID: "ETHUSDT_DMCBL", Precision: 2, MinQuantity: decimal.RequireFromString("0.01")},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"BITGET:BAKEUSDT.P", "BAKEUSDT", false},
		{" bitget:bakeusdt.p ", "BAKEUSDT", false},
		{"BTCUSDT.PERP", "BTCUSDT", false},
		{"BTC-PERP-USDT", "BTCUSDT", false},
		{"BTCUSDT_PERP", "BTCUSDT", false},
		{"BTCUSDTPERPETUAL", "BTCUSDT", false},
		{"BTCUSDT Perpetual Mix Contract", "BTCUSDT", false},
		{"BTC/USDT", "BTCUSDT", false},
		{"BINANCE:ETH-USDT", "ETHUSDT", false},
		{"BTCUSD", "", true},
		{"USDT", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnsupportedSymbol) {
					t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"BITGET:BAKEUSDT.P", "BTCUSDT.P.P", "btc_perp_usdt", "ETHUSDT.PERP",
		"XRP-USDT PERPETUAL MIX CONTRACT", "1000PEPEUSDT.P",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil || twice != once {
			t.Errorf("not idempotent for %q: %q -> %q (%v)", in, once, twice, err)
		}
	}
}

func TestCatalog_Resolve(t *testing.T) {
	src := &fakeContracts{list: v1Listing(), suffix: "_UMCBL"}
	c := NewCatalog(src, nil, time.Minute, nil)

	inst, err := c.Resolve(context.Background(), "BITGET:BAKEUSDT.P")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inst.ID != "BAKEUSDT_UMCBL" || inst.Precision != 1 {
		t.Errorf("unexpected instrument %+v", inst)
	}

	// suffix drift: ETH is only listed under another suffix
	inst, err = c.Resolve(context.Background(), "ETHUSDT")
	if err != nil || inst.ID != "ETHUSDT_DMCBL" {
		t.Errorf("prefix fallback failed: %+v %v", inst, err)
	}

	_, err = c.Resolve(context.Background(), "DOGEUSDT")
	if !errors.Is(err, domain.ErrSymbolResolution) {
		t.Errorf("expected ErrSymbolResolution, got %v", err)
	}

	_, err = c.Resolve(context.Background(), "DOGEUSD")
	if !errors.Is(err, domain.ErrUnsupportedSymbol) {
		t.Errorf("expected ErrUnsupportedSymbol, got %v", err)
	}

	if n := src.calls.Load(); n != 1 {
		t.Errorf("listing should be fetched once within ttl, got %d", n)
	}
}

func TestCatalog_TTL(t *testing.T) {
	src := &fakeContracts{list: v1Listing(), suffix: "_UMCBL"}
	c := NewCatalog(src, nil, time.Minute, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_, _ = c.Resolve(context.Background(), "BTCUSDT")
	now = now.Add(59 * time.Second)
	_, _ = c.Resolve(context.Background(), "BTCUSDT")
	if src.calls.Load() != 1 {
		t.Fatalf("expected cache hit before ttl, got %d fetches", src.calls.Load())
	}
	now = now.Add(2 * time.Second)
	_, _ = c.Resolve(context.Background(), "BTCUSDT")
	if src.calls.Load() != 2 {
		t.Errorf("expected refetch after ttl, got %d fetches", src.calls.Load())
	}
}

func TestCatalog_SingleFlight(t *testing.T) {
	src := &fakeContracts{list: v1Listing(), suffix: "_UMCBL", delay: 50 * time.Millisecond}
	c := NewCatalog(src, nil, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(context.Background(), "BTCUSDT"); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := src.calls.Load(); n != 1 {
		t.Errorf("concurrent misses should share one fetch, got %d", n)
	}
}

func TestCatalog_ServeStaleOnFailure(t *testing.T) {
	src := &fakeContracts{list: v1Listing(), suffix: "_UMCBL"}
	c := NewCatalog(src, nil, time.Minute, nil)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	if _, err := c.Resolve(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	src.setErr(errors.New("exchange down"))
	now = now.Add(2 * time.Minute)

	inst, err := c.Resolve(context.Background(), "BTCUSDT")
	if err != nil || inst.ID != "BTCUSDT_UMCBL" {
		t.Errorf("expected stale listing, got %+v %v", inst, err)
	}

	// forced refresh reports the failure but keeps the listing
	if err := c.Refresh(context.Background()); err == nil {
		t.Error("forced refresh should surface the fetch error")
	}
	if c.Len() != 3 {
		t.Errorf("listing lost after failed refresh, len = %d", c.Len())
	}
}

func TestCatalog_SnapshotFallback(t *testing.T) {
	store := &memSnapshots{}

	// first process run saves the listing
	ok := &fakeContracts{list: v1Listing(), suffix: "_UMCBL"}
	if err := NewCatalog(ok, store, time.Minute, nil).Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.saved["v1"]) != 3 {
		t.Fatalf("snapshot not saved: %+v", store.saved)
	}

	// restart with the exchange unreachable
	down := &fakeContracts{err: errors.New("dial tcp: refused"), suffix: "_UMCBL"}
	c := NewCatalog(down, store, time.Minute, nil)
	inst, err := c.Resolve(context.Background(), "BITGET:BAKEUSDT.P")
	if err != nil || inst.ID != "BAKEUSDT_UMCBL" {
		t.Errorf("expected snapshot resolution, got %+v %v", inst, err)
	}
}

func TestCatalog_NoDataIsExchangeError(t *testing.T) {
	src := &fakeContracts{err: errors.New("exchange down"), suffix: "_UMCBL"}
	c := NewCatalog(src, nil, time.Minute, nil)

	_, err := c.Resolve(context.Background(), "BTCUSDT")
	var exErr *domain.ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *domain.ExchangeError, got %v", err)
	}
}
