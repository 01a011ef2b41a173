package bitget

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bitget_relay/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstId   string `json:"instId"`
}

type tickerMessage struct {
	Action string       `json:"action"`
	Arg    subscribeArg `json:"arg"`
	Data   []tickerData `json:"data"`
	Ts     int64        `json:"ts"`
}

type tickerData struct {
	InstId string `json:"instId"`
	LastPr string `json:"lastPr"`
}

type tick struct {
	price decimal.Decimal
	at    time.Time
}

// TickerStream keeps the latest futures ticker price per instrument from the
// public websocket. It is an optional fast path; REST stays authoritative.
type TickerStream struct {
	wsURL    string
	instType string
	symbols  []string // base ids without contract suffix

	mu     sync.RWMutex
	prices map[string]tick

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewTickerStream subscribes to symbols (instrument ids or bare bases) on wsURL.
func NewTickerStream(wsURL string, symbols []string) *TickerStream {
	bases := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if b := streamKey(s); b != "" {
			bases = append(bases, b)
		}
	}
	return &TickerStream{
		wsURL:    wsURL,
		instType: "USDT-FUTURES",
		symbols:  bases,
		prices:   make(map[string]tick),
		now:      time.Now,
		logger:   slog.Default().With("module", "ticker_stream"),
	}
}

// streamKey maps "BTCUSDT_UMCBL" and "btcusdt" to "BTCUSDT".
func streamKey(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[:i]
	}
	return id
}

// Price returns the last streamed price for instrumentID and when it arrived.
func (s *TickerStream) Price(instrumentID string) (decimal.Decimal, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.prices[streamKey(instrumentID)]
	return t.price, t.at, ok
}

// Connect starts the background connection loop. It returns immediately.
func (s *TickerStream) Connect(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

func (s *TickerStream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			s.logger.Warn("Ticker stream connection failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retryCount = 0
		s.readLoop(ctx)
	}
}

func (s *TickerStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return err
	}

	go s.pingLoop(ctx, conn)
	s.logger.Info("Ticker stream connected", slog.Int("symbols", len(s.symbols)))
	return nil
}

func (s *TickerStream) subscribe() error {
	if len(s.symbols) == 0 {
		return nil
	}
	args := make([]subscribeArg, 0, len(s.symbols))
	for _, id := range s.symbols {
		args = append(args, subscribeArg{InstType: s.instType, Channel: "ticker", InstId: id})
	}
	b, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: args})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, b)
}

func (s *TickerStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.RLock()
			current := s.conn
			s.connMu.RUnlock()
			if current != conn {
				return
			}
			_ = s.write(websocket.TextMessage, []byte("ping"))
		}
	}
}

func (s *TickerStream) write(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if s.conn == nil {
		return errors.New("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *TickerStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return
		}
		if string(msg) == "pong" {
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *TickerStream) handleMessage(msg []byte) {
	var m tickerMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return
	}
	if m.Arg.Channel != "ticker" || len(m.Data) == 0 {
		return
	}

	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range m.Data {
		price, err := decimal.NewFromString(d.LastPr)
		if err != nil || !price.IsPositive() {
			continue
		}
		s.prices[streamKey(d.InstId)] = tick{price: price, at: at}
	}
}

func (s *TickerStream) closeConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close stops the loop and waits for it.
func (s *TickerStream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
