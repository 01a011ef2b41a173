package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/engine"
	"bitget_relay/internal/infra"
)

const maxBodyBytes = 64 << 10

// AlertHandler executes a parsed alert.
type AlertHandler interface {
	Handle(ctx context.Context, alert domain.Alert) (engine.Result, error)
}

type response struct {
	engine.Result
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Handler is the inbound HTTP surface of the relay.
type Handler struct {
	relay   AlertHandler
	token   string
	mode    engine.ModeReporter
	dryRun  bool
	service string
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewHandler creates the handler. An empty token disables authentication.
func NewHandler(relay AlertHandler, token string, mode engine.ModeReporter, dryRun bool, service string, metrics *infra.Metrics) *Handler {
	h := &Handler{
		relay:   relay,
		token:   token,
		mode:    mode,
		dryRun:  dryRun,
		service: service,
		metrics: metrics,
		logger:  slog.Default().With("module", "webhook"),
	}
	if token == "" {
		h.logger.Warn("Webhook token not configured, accepting unauthenticated alerts")
	}
	return h
}

// Routes registers the webhook, status, health and metrics endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", h.handleWebhook)
	mux.HandleFunc("POST /tv", h.handleWebhook)
	mux.HandleFunc("GET /{$}", h.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	return mux
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": h.service,
		"env":     h.mode.Mode().String(),
		"sandbox": h.mode.Mode().IsSandbox(),
		"dry_run": h.dryRun,
	})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	queryToken := r.URL.Query().Get("token")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, http.StatusBadRequest, "invalid_body", err, engine.Result{})
		return
	}

	alert, parseErr := parseAlert(raw)
	if !h.authorized(queryToken, alert.Secret) {
		h.logger.Warn("Rejected webhook with bad token", slog.String("remote", r.RemoteAddr))
		h.fail(w, http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized, engine.Result{})
		return
	}
	if parseErr != nil {
		h.fail(w, http.StatusBadRequest, "invalid_json", parseErr, engine.Result{})
		return
	}
	if strings.TrimSpace(alert.Symbol) == "" {
		h.fail(w, http.StatusBadRequest, "missing_symbol", errors.New("symbol required"), engine.Result{})
		return
	}

	h.logger.Info("Alert received",
		slog.String("action", alert.Action),
		slog.String("side", alert.Side),
		slog.String("symbol", alert.Symbol),
		slog.String("tag", alert.Tag))

	res, err := h.relay.Handle(r.Context(), alert)
	if err != nil {
		status, reason := classify(err)
		h.fail(w, status, reason, err, res)
		return
	}
	writeJSON(w, http.StatusOK, response{Result: res})
}

func (h *Handler) authorized(queryToken, bodySecret string) bool {
	if h.token == "" {
		return true
	}
	return constantTimeEqual(queryToken, h.token) || constantTimeEqual(bodySecret, h.token)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) fail(w http.ResponseWriter, status int, reason string, err error, res engine.Result) {
	res.OK = false
	if status >= 500 {
		h.logger.Error("Alert failed", slog.Int("status", status), slog.String("reason", reason), slog.Any("error", err))
	}
	writeJSON(w, status, response{Result: res, Error: err.Error(), Reason: reason})
}

// classify maps the error taxonomy to an HTTP status and enumerated reason.
func classify(err error) (int, string) {
	var actionErr *domain.ActionError
	var exchangeErr *domain.ExchangeError

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &actionErr):
		return http.StatusBadRequest, actionErr.Reason
	case domain.IsTimeout(err):
		return http.StatusGatewayTimeout, "exchange_timeout"
	case errors.As(err, &exchangeErr):
		return http.StatusBadGateway, exchangeReason(exchangeErr.Kind)
	case errors.Is(err, domain.ErrUnsupportedSymbol):
		return http.StatusBadRequest, "unsupported_symbol"
	case errors.Is(err, domain.ErrSymbolResolution):
		return http.StatusBadRequest, "symbol_not_found"
	case errors.Is(err, domain.ErrInsufficientEquity):
		return http.StatusBadRequest, "insufficient_equity"
	case errors.Is(err, domain.ErrInvalidMarketData):
		return http.StatusBadGateway, "invalid_market_data"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func exchangeReason(kind error) string {
	switch {
	case errors.Is(kind, domain.ErrAccountQueryFailed):
		return "account_query_failed"
	case errors.Is(kind, domain.ErrOrderRejected):
		return "order_rejected"
	case errors.Is(kind, domain.ErrInvalidMarketData):
		return "market_data_failed"
	case errors.Is(kind, domain.ErrSymbolResolution):
		return "catalog_unavailable"
	default:
		return "exchange_error"
	}
}

// parseAlert decodes the body, unwrapping the signal-platform envelope
// {"strategy":{"order":{"alert_message":"<json>"}}} when present.
// Scalar fields are accepted as strings or numbers.
func parseAlert(raw []byte) (domain.Alert, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.Alert{}, fmt.Errorf("invalid JSON body: %w", err)
	}

	if msg, ok := envelopeMessage(body); ok {
		var inner map[string]any
		if err := json.Unmarshal([]byte(msg), &inner); err != nil {
			return domain.Alert{}, fmt.Errorf("invalid alert_message: %w", err)
		}
		// outer secret still counts if the inner payload has none
		if _, has := inner["secret"]; !has {
			if s, ok := body["secret"]; ok {
				inner["secret"] = s
			}
		}
		body = inner
	}

	return domain.Alert{
		Action: field(body, "action"),
		Side:   field(body, "side"),
		Symbol: field(body, "symbol"),
		Price:  field(body, "price"),
		Time:   field(body, "time"),
		Tag:    field(body, "tag"),
		Secret: field(body, "secret"),
	}, nil
}

func envelopeMessage(body map[string]any) (string, bool) {
	strategy, ok := body["strategy"].(map[string]any)
	if !ok {
		return "", false
	}
	order, ok := strategy["order"].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := order["alert_message"].(string)
	return msg, ok && strings.TrimSpace(msg) != ""
}

func field(body map[string]any, key string) string {
	switch v := body[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
