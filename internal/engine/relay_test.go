package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/execution"

	"github.com/shopspring/decimal"
)

type stubCatalog struct{}

func (stubCatalog) Resolve(_ context.Context, symbol string) (domain.Instrument, error) {
	switch symbol {
	case "BITGET:BTCUSDT", "BTCUSDT":
		return domain.Instrument{ID: "BTCUSDT_UMCBL", Precision: 3, MinQuantity: decimal.RequireFromString("0.001")}, nil
	case "BITGET:BAKEUSDT.P":
		return domain.Instrument{ID: "BAKEUSDT_UMCBL", Precision: 1, MinQuantity: decimal.NewFromInt(1)}, nil
	}
	return domain.Instrument{}, &domain.SymbolError{Symbol: symbol, Err: domain.ErrSymbolResolution}
}

type stubAccounts struct {
	equity      domain.Equity
	equityErr   error
	long, short decimal.Decimal
	posErr      error
}

func (s *stubAccounts) AvailableEquity(context.Context) (domain.Equity, error) {
	return s.equity, s.equityErr
}

func (s *stubAccounts) PositionSize(context.Context, domain.Instrument) (decimal.Decimal, decimal.Decimal, error) {
	return s.long, s.short, s.posErr
}

type stubSizer struct{ qty decimal.Decimal }

func (s stubSizer) ComputeOpenQuantity(context.Context, domain.Instrument, decimal.Decimal, decimal.Decimal, decimal.Decimal) (decimal.Decimal, error) {
	return s.qty, nil
}

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []domain.OrderResult
	err   error
}

func (s *recordingSubmitter) Submit(_ context.Context, inst domain.Instrument, dir domain.Direction, intent domain.Intent, qty decimal.Decimal) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := domain.OrderResult{InstrumentID: inst.ID, Direction: dir, Intent: intent, Quantity: qty, ReduceOnly: intent == domain.IntentClose}
	if s.err != nil {
		return r, s.err
	}
	s.calls = append(s.calls, r)
	return r, nil
}

func (s *recordingSubmitter) DryRun() bool { return false }

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixedMode domain.EnvironmentMode

func (m fixedMode) Mode() domain.EnvironmentMode { return domain.EnvironmentMode(m) }

func newTestRelay(acc *stubAccounts, sub *recordingSubmitter, cooldown time.Duration) *Relay {
	return NewRelay(stubCatalog{}, execution.NewGate(cooldown, nil), acc, stubSizer{qty: decimal.NewFromInt(5000)}, sub,
		fixedMode(domain.ModeSandboxHeader),
		Sizing{Leverage: decimal.NewFromInt(10), Utilization: decimal.NewFromInt(1)}, nil)
}

func TestRelay_Open(t *testing.T) {
	acc := &stubAccounts{equity: domain.Equity{Amount: decimal.NewFromInt(1000), Coin: "USDT", Source: domain.EquityFromExchange}}
	sub := &recordingSubmitter{}
	r := newTestRelay(acc, sub, 0)

	res, err := r.Handle(context.Background(), domain.Alert{Action: "enter_short", Symbol: "BITGET:BAKEUSDT.P"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.OK || res.Symbol != "BAKEUSDT_UMCBL" || res.Quantity != "5000" || res.Env != "sandbox_header" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.EquitySource != domain.EquityFromExchange {
		t.Errorf("equity source = %s", res.EquitySource)
	}
	if len(sub.calls) != 1 || sub.calls[0].Direction != domain.DirectionSell || sub.calls[0].Intent != domain.IntentOpen {
		t.Errorf("unexpected orders %+v", sub.calls)
	}
}

func TestRelay_CloseWithNoPosition(t *testing.T) {
	tests := []struct {
		action string
		side   string
		msg    string
	}{
		{"exit_long", "", "no long position"},
		{"exit_short", "", "no short position"},
		{"close", "", "no position"},
		{"flat", "", "no position"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			sub := &recordingSubmitter{}
			r := newTestRelay(&stubAccounts{}, sub, 0)

			res, err := r.Handle(context.Background(), domain.Alert{Action: tt.action, Side: tt.side, Symbol: "BITGET:BTCUSDT"})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if !res.OK || res.Msg != tt.msg {
				t.Errorf("got ok=%v msg=%q, want %q", res.OK, res.Msg, tt.msg)
			}
			if sub.count() != 0 {
				t.Error("no order may be submitted for a flat position")
			}
		})
	}
}

func TestRelay_CloseUsesPositionSize(t *testing.T) {
	acc := &stubAccounts{long: decimal.RequireFromString("0.75"), short: decimal.RequireFromString("0.2")}
	sub := &recordingSubmitter{}
	r := newTestRelay(acc, sub, 0)

	res, err := r.Handle(context.Background(), domain.Alert{Action: "exit_long", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sub.calls) != 1 {
		t.Fatalf("expected one close order, got %d", len(sub.calls))
	}
	o := sub.calls[0]
	if o.Direction != domain.DirectionSell || !o.ReduceOnly || !o.Quantity.Equal(acc.long) {
		t.Errorf("close long must sell the full long size reduce-only: %+v", o)
	}
	if res.Quantity != "0.75" {
		t.Errorf("quantity = %s", res.Quantity)
	}
}

func TestRelay_SidelessCloseInspectsPosition(t *testing.T) {
	// only a short is open: closing must buy, never assume long
	acc := &stubAccounts{long: decimal.Zero, short: decimal.NewFromInt(3)}
	sub := &recordingSubmitter{}
	r := newTestRelay(acc, sub, 0)

	if _, err := r.Handle(context.Background(), domain.Alert{Action: "close", Symbol: "BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	if len(sub.calls) != 1 || sub.calls[0].Direction != domain.DirectionBuy || !sub.calls[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("unexpected orders %+v", sub.calls)
	}
}

func TestRelay_ConcurrentDuplicates(t *testing.T) {
	acc := &stubAccounts{equity: domain.Equity{Amount: decimal.NewFromInt(1000), Source: domain.EquityFromExchange}}
	sub := &recordingSubmitter{}
	r := newTestRelay(acc, sub, 3*time.Second)

	var wg sync.WaitGroup
	results := make(chan Result, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Handle(context.Background(), domain.Alert{Action: "enter_long", Symbol: "BTCUSDT"})
			if err != nil {
				t.Errorf("Handle: %v", err)
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	if sub.count() != 1 {
		t.Errorf("expected exactly one exchange mutation, got %d", sub.count())
	}
	dups := 0
	for res := range results {
		if res.Duplicate {
			dups++
		}
	}
	if dups != 4 {
		t.Errorf("expected 4 suppressed duplicates, got %d", dups)
	}
}

func TestRelay_Errors(t *testing.T) {
	t.Run("unknown action", func(t *testing.T) {
		r := newTestRelay(&stubAccounts{}, &recordingSubmitter{}, 0)
		_, err := r.Handle(context.Background(), domain.Alert{Action: "buy_the_dip", Symbol: "BTCUSDT"})
		var ae *domain.ActionError
		if !errors.As(err, &ae) || ae.Reason != "unknown_action" {
			t.Errorf("expected unknown_action, got %v", err)
		}
	})

	t.Run("unresolvable symbol", func(t *testing.T) {
		sub := &recordingSubmitter{}
		r := newTestRelay(&stubAccounts{}, sub, 0)
		_, err := r.Handle(context.Background(), domain.Alert{Action: "enter_long", Symbol: "NOPEUSDT"})
		if !errors.Is(err, domain.ErrSymbolResolution) || sub.count() != 0 {
			t.Errorf("expected ErrSymbolResolution without orders, got %v", err)
		}
	})

	t.Run("account failure aborts", func(t *testing.T) {
		sub := &recordingSubmitter{}
		acc := &stubAccounts{equityErr: domain.NewExchangeError(domain.ErrAccountQueryFailed, "fetch accounts", errors.New("500"))}
		r := newTestRelay(acc, sub, 0)
		res, err := r.Handle(context.Background(), domain.Alert{Action: "enter_long", Symbol: "BTCUSDT"})
		if !errors.Is(err, domain.ErrAccountQueryFailed) || sub.count() != 0 || res.OK {
			t.Errorf("expected abort, got %+v %v", res, err)
		}
	})

	t.Run("order rejected", func(t *testing.T) {
		sub := &recordingSubmitter{err: domain.NewExchangeError(domain.ErrOrderRejected, "place order", errors.New("40762"))}
		acc := &stubAccounts{long: decimal.NewFromInt(1)}
		r := newTestRelay(acc, sub, 0)
		_, err := r.Handle(context.Background(), domain.Alert{Action: "exit_long", Symbol: "BTCUSDT"})
		if !errors.Is(err, domain.ErrOrderRejected) {
			t.Errorf("expected ErrOrderRejected, got %v", err)
		}
	})
}
