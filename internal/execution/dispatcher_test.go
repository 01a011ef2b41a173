package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/infra/bitget"

	"github.com/shopspring/decimal"
)

type fakePlacer struct {
	calls []domain.OrderRequest
	ack   domain.OrderAck
	err   error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.calls = append(f.calls, req)
	return f.ack, f.err
}

func (f *fakePlacer) Mode() domain.EnvironmentMode { return domain.ModeSandboxHeader }

type rejection struct{}

func (rejection) Error() string        { return "bitget api error" }
func (rejection) HTTPStatus() int      { return 400 }
func (rejection) ExchangeCode() string { return "40762" }
func (rejection) RawBody() string {
	return `{"code":"40762","msg":"The order amount exceeds the balance"}`
}

var bake = domain.Instrument{ID: "BAKEUSDT_UMCBL", Precision: 1, MinQuantity: decimal.NewFromInt(1)}

func TestDispatcher_Submit(t *testing.T) {
	placer := &fakePlacer{ack: domain.OrderAck{OrderID: "1001", Raw: json.RawMessage(`{"code":"00000"}`)}}
	d := NewDispatcher(placer, "USDT", false, nil)

	res, err := d.Submit(context.Background(), bake, domain.DirectionSell, domain.IntentClose, decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(placer.calls) != 1 {
		t.Fatalf("expected one exchange call, got %d", len(placer.calls))
	}
	req := placer.calls[0]
	if !req.ReduceOnly() || req.MarginCoin != "USDT" || req.ClientOID == "" {
		t.Errorf("unexpected request %+v", req)
	}
	if !res.ReduceOnly || res.OrderID != "1001" || res.ClientOID != req.ClientOID || string(res.Raw) != `{"code":"00000"}` {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDispatcher_ClientOIDUnique(t *testing.T) {
	placer := &fakePlacer{}
	d := NewDispatcher(placer, "", false, nil)
	for i := 0; i < 2; i++ {
		_, _ = d.Submit(context.Background(), bake, domain.DirectionBuy, domain.IntentOpen, decimal.NewFromInt(1))
	}
	if placer.calls[0].ClientOID == placer.calls[1].ClientOID {
		t.Error("each order needs its own clientOid")
	}
	if placer.calls[0].ReduceOnly() {
		t.Error("opens are not reduce-only")
	}
}

func TestDispatcher_DryRun(t *testing.T) {
	placer := &fakePlacer{}
	d := NewDispatcher(placer, "USDT", true, nil)

	res, err := d.Submit(context.Background(), bake, domain.DirectionBuy, domain.IntentOpen, decimal.NewFromInt(5000))
	if err != nil {
		t.Fatal(err)
	}
	if len(placer.calls) != 0 {
		t.Error("dry run must not reach the exchange")
	}
	if !res.DryRun || res.InstrumentID != bake.ID || !res.Quantity.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("unexpected dry-run result %+v", res)
	}
}

func TestDispatcher_RejectedVerbatim(t *testing.T) {
	placer := &fakePlacer{err: rejection{}}
	d := NewDispatcher(placer, "USDT", false, nil)

	_, err := d.Submit(context.Background(), bake, domain.DirectionBuy, domain.IntentOpen, decimal.NewFromInt(1))
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	var exErr *domain.ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *domain.ExchangeError, got %T", err)
	}
	want := rejection{}.RawBody()
	if exErr.Status != 400 || exErr.Body != want {
		t.Errorf("raw reply not preserved: %+v", exErr)
	}
}

func TestDispatcher_AcceptedOrderWithUnreadableAck(t *testing.T) {
	var placed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		placed.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":null}`))
	}))
	defer srv.Close()

	neg := bitget.NewNegotiator(domain.ModeLive, []string{"40099"}, nil)
	client := bitget.NewClient(bitget.ClientConfig{RestURL: srv.URL, AccessKey: "k", SecretKey: "s", Passphrase: "p"}, neg, nil)
	schema, err := bitget.NewSchema("v1", nil, "hedge", "crossed")
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(bitget.NewGateway(client, schema), "USDT", false, nil)

	res, err := d.Submit(context.Background(), domain.Instrument{ID: "BTCUSDT_UMCBL", Precision: 3}, domain.DirectionBuy, domain.IntentOpen, decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("accepted order reported as failure: %v", err)
	}
	if placed.Load() != 1 {
		t.Errorf("exchange saw %d orders, want 1", placed.Load())
	}
	if res.OrderID != "" || res.ClientOID == "" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Raw) == 0 {
		t.Error("raw exchange reply should be kept")
	}
}
